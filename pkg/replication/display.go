package replication

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")).Bold(true)
	badStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAA00"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

const rule = "================================================================================"

// FormatBytes renders a byte count with a binary unit, or N/A
func FormatBytes(b *int64) string {
	if b == nil {
		return "N/A"
	}
	v := *b
	switch {
	case v < 1024:
		return fmt.Sprintf("%d B", v)
	case v < 1024*1024:
		return fmt.Sprintf("%.2f KB", float64(v)/1024)
	case v < 1024*1024*1024:
		return fmt.Sprintf("%.2f MB", float64(v)/(1024*1024))
	default:
		return fmt.Sprintf("%.2f GB", float64(v)/(1024*1024*1024))
	}
}

// FormatSeconds renders a lag in ms below one second, s below a minute, else min
func FormatSeconds(s *float64) string {
	if s == nil {
		return "N/A"
	}
	v := *s
	switch {
	case v < 1:
		return fmt.Sprintf("%.0f ms", v*1000)
	case v < 60:
		return fmt.Sprintf("%.2f s", v)
	default:
		return fmt.Sprintf("%.2f min", v/60)
	}
}

func orNA[T any](p *T) string {
	if p == nil {
		return "N/A"
	}
	return fmt.Sprint(*p)
}

func withCommas(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// Display renders s for a console
func Display(s Snapshot) string {
	status := badStyle.Render("✗ UNHEALTHY")
	if s.IsHealthy {
		status = okStyle.Render("✓ HEALTHY")
	}
	sync := dimStyle.Render("○ NO")
	if s.IsInSync {
		sync = okStyle.Render("✓ YES")
	}

	walBytes := "N/A"
	if s.PrimaryWALBytes != nil {
		walBytes = withCommas(*s.PrimaryWALBytes)
	}

	slot := "inactive"
	if s.SlotIsActive() {
		slot = "active"
	}

	lines := []string{
		"",
		rule,
		"Replication Monitor - " + s.Timestamp.Format("2006-01-02T15:04:05.000000"),
		rule,
		"Status: " + status,
		"In Sync: " + sync,
		"",
		"Primary WAL Position: " + orNA(s.PrimaryWALLSN),
		"Primary WAL Bytes: " + walBytes,
		"",
		"Replica in Recovery: " + orNA(s.StandbyInRecovery),
		"Replica Receive LSN: " + orNA(s.StandbyReceiveLSN),
		"Replica Replay LSN: " + orNA(s.StandbyReplayLSN),
		"",
		"Replication State: " + orNA(s.StreamState),
		"Sync State: " + orNA(s.SyncState),
		"",
		"Lag Metrics:",
		"  Byte Lag: " + FormatBytes(s.ByteLag),
		"  Write Lag: " + FormatSeconds(s.WriteLagSeconds),
		"  Flush Lag: " + FormatSeconds(s.FlushLagSeconds),
		"  Replay Lag: " + FormatSeconds(s.ReplayLagSeconds),
		"",
		fmt.Sprintf("Replication Slot: %s (%s)", orNA(s.SlotName), slot),
	}

	if len(s.Warnings) > 0 {
		lines = append(lines, "", "Warnings:")
		for _, w := range s.Warnings {
			lines = append(lines, warnStyle.Render("  ! "+w))
		}
	}
	lines = append(lines, rule, "")

	return strings.Join(lines, "\n")
}
