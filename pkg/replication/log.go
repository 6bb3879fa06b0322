package replication

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// MetricsLogName is the file inside the log directory that receives snapshots
const MetricsLogName = "metrics.jsonl"

// SnapshotLog appends one JSON line per snapshot. The file is opened in append
// mode and existing lines are never rewritten.
type SnapshotLog struct {
	path string
	file *os.File
	mu   sync.Mutex
	n    int64
}

// OpenSnapshotLog opens (creating if needed) dir/metrics.jsonl
func OpenSnapshotLog(dir string) (*SnapshotLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(dir, MetricsLogName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics log: %w", err)
	}
	return &SnapshotLog{path: path, file: f}, nil
}

// Append writes s as a single line in one write call
func (l *SnapshotLog) Append(s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("failed to append snapshot: %w", err)
	}
	l.n++
	return nil
}

// Path returns the log file location
func (l *SnapshotLog) Path() string { return l.path }

// Count returns how many snapshots this handle appended
func (l *SnapshotLog) Count() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

// Close syncs and closes the file
func (l *SnapshotLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return fmt.Errorf("failed to sync metrics log: %w", err)
	}
	return l.file.Close()
}
