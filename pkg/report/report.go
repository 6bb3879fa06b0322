// Package report renders and publishes the outcome of a cutover run.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/koval-yurko/db-scales/pkg/cutover"
	"github.com/koval-yurko/db-scales/pkg/replication"
)

// FinalMetrics is the replication state read after the run finished
type FinalMetrics struct {
	InRecovery       *bool    `json:"replica_is_in_recovery"`
	ByteLag          *int64   `json:"byte_lag"`
	ReplayLagSeconds *float64 `json:"replay_lag_seconds"`
	State            *string  `json:"replication_state"`
	Healthy          bool     `json:"is_healthy"`
	InSync           bool     `json:"is_in_sync"`
	Warnings         []string `json:"warnings"`
}

// Report is the structured outcome of one run
type Report struct {
	RunID     string               `json:"run_id"`
	Status    string               `json:"status"`
	Start     time.Time            `json:"start"`
	End       time.Time            `json:"end"`
	Duration  time.Duration        `json:"duration"`
	DryRun    bool                 `json:"dry_run"`
	AbortedAt cutover.Step         `json:"aborted_at,omitempty"`
	Error     string               `json:"error,omitempty"`
	Steps     []cutover.StepResult `json:"steps"`

	// Final is nil when the last read failed; Unavailable then says why
	Final       *FinalMetrics `json:"final_metrics,omitempty"`
	Unavailable string        `json:"final_metrics_unavailable,omitempty"`
}

// Generate builds a report. It never fails; a missing snapshot becomes an
// explicit unavailable marker.
func Generate(run cutover.Run, final *replication.Snapshot, finalErr error) Report {
	r := Report{
		RunID:     run.ID,
		Status:    run.Status(),
		Start:     run.Start,
		End:       run.End,
		Duration:  run.Duration(),
		DryRun:    run.DryRun,
		AbortedAt: run.AbortedAt,
		Error:     run.Error,
		Steps:     run.Steps,
	}

	switch {
	case final != nil:
		snap := final.Clone()
		r.Final = &FinalMetrics{
			InRecovery:       snap.StandbyInRecovery,
			ByteLag:          snap.ByteLag,
			ReplayLagSeconds: snap.ReplayLagSeconds,
			State:            snap.StreamState,
			Healthy:          snap.IsHealthy,
			InSync:           snap.IsInSync,
			Warnings:         snap.Warnings,
		}
	case finalErr != nil:
		r.Unavailable = finalErr.Error()
	default:
		r.Unavailable = "no snapshot taken"
	}
	return r
}

// FileName is the timestamped name the report is saved under
func (r Report) FileName() string {
	return "cutover_report_" + r.Start.Format("20060102_150405") + ".txt"
}

const rule = "================================================================================"

func show[T any](p *T) string {
	if p == nil {
		return "None"
	}
	return fmt.Sprint(*p)
}

// Render produces the human-readable text form
func (r Report) Render() string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	status := "✗ FAILED"
	if r.Status == "SUCCESS" {
		status = "✓ SUCCESS"
	}

	line("")
	line(rule)
	line("CUTOVER REPORT")
	line(rule)
	line("Run ID: %s", r.RunID)
	line("Status: %s", status)
	line("Start Time: %s", r.Start.Format(time.RFC3339Nano))
	line("End Time: %s", r.End.Format(time.RFC3339Nano))
	line("Duration: %.2f seconds", r.Duration.Seconds())
	line("Dry Run: %t", r.DryRun)
	if r.AbortedAt != "" {
		line("Aborted At: %s", r.AbortedAt)
		line("Error: %s", r.Error)
	}

	line("")
	line("Steps:")
	for _, s := range r.Steps {
		outcome := string(s.Outcome)
		if s.Outcome == cutover.OutcomeNonFatalFailure {
			outcome += " (non-fatal, run continued)"
		}
		if s.Detail != "" {
			line("  %-22s %s - %s", s.Step, outcome, s.Detail)
		} else {
			line("  %-22s %s", s.Step, outcome)
		}
		for _, issue := range s.Issues {
			line("      - %s", issue)
		}
	}

	line("")
	line("Final Metrics:")
	if r.Final == nil {
		line("  unavailable: %s", r.Unavailable)
	} else {
		line("  Replica in Recovery: %s", show(r.Final.InRecovery))
		line("  Byte Lag: %s", show(r.Final.ByteLag))
		replay := "None"
		if r.Final.ReplayLagSeconds != nil {
			replay = fmt.Sprintf("%.3fs", *r.Final.ReplayLagSeconds)
		}
		line("  Replay Lag: %s", replay)
		line("  Replication State: %s", show(r.Final.State))
		line("  Healthy: %t, In Sync: %t", r.Final.Healthy, r.Final.InSync)
		for _, w := range r.Final.Warnings {
			line("  ! %s", w)
		}
	}
	line(rule)

	return b.String()
}
