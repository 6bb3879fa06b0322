package health

import (
	"context"
	"strings"
	"time"

	"github.com/koval-yurko/db-scales/pkg/replication"
)

// LatestSnapshot returns the most recent snapshot and whether one exists
type LatestSnapshot func() (replication.Snapshot, bool)

// DatabaseCheck reports whether a database answers a ping
func DatabaseCheck(name string, ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{Name: name}

		if err := ping(ctx); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		} else {
			check.Status = StatusHealthy
			check.Message = "Connected"
		}

		return check
	}
}

func snapshotDetails(s replication.Snapshot) map[string]any {
	return map[string]any{
		"byte_lag":          s.ByteLagOrZero(),
		"replay_lag_s":      s.ReplayLag().Seconds(),
		"replication_state": s.StateString(),
		"slot_active":       s.SlotIsActive(),
		"in_sync":           s.IsInSync,
		"snapshot_time":     s.Timestamp,
	}
}

// ReplicationCheck grades the latest snapshot. A snapshot older than maxAge
// means the monitor loop has stalled and is reported as degraded.
func ReplicationCheck(latest LatestSnapshot, maxAge time.Duration) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{Name: "replication"}

		s, ok := latest()
		if !ok {
			check.Status = StatusUnhealthy
			check.Message = "No snapshot collected yet"
			return check
		}
		check.Details = snapshotDetails(s)

		switch {
		case !s.IsHealthy && len(s.Warnings) > 0:
			check.Status = StatusUnhealthy
			check.Message = strings.Join(s.Warnings, "; ")
		case !s.IsHealthy:
			check.Status = StatusUnhealthy
			check.Message = "Replication is not streaming into a standby in recovery"
		case maxAge > 0 && time.Since(s.Timestamp) > maxAge:
			check.Status = StatusDegraded
			check.Message = "Snapshot is stale"
		default:
			check.Status = StatusHealthy
			check.Message = "Replication healthy"
		}

		return check
	}
}

// SyncCheck is ready only while the latest snapshot is in sync
func SyncCheck(latest LatestSnapshot) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{Name: "in_sync"}

		s, ok := latest()
		if !ok {
			check.Status = StatusUnhealthy
			check.Message = "No snapshot collected yet"
			return check
		}
		check.Details = snapshotDetails(s)

		if s.IsInSync {
			check.Status = StatusHealthy
			check.Message = "Standby is in sync"
		} else {
			check.Status = StatusUnhealthy
			check.Message = "Standby is not in sync"
		}

		return check
	}
}
