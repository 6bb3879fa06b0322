package replication

import (
	"fmt"
	"slices"
	"time"

	"github.com/koval-yurko/db-scales/pkg/config"
	"github.com/koval-yurko/db-scales/pkg/metrics"
)

// StateStreaming is the pg_stat_replication state of a healthy WAL sender
const StateStreaming = "streaming"

// Observation is the raw data read from both servers for one poll. Pointer
// fields are nil when the server reported NULL or the row was absent.
type Observation struct {
	PrimaryWALLSN   *string `json:"primary_wal_lsn"`
	PrimaryWALBytes *int64  `json:"primary_wal_position_bytes"`

	StandbyInRecovery *bool   `json:"replica_is_in_recovery"`
	StandbyReceiveLSN *string `json:"replica_last_wal_receive_lsn"`
	StandbyReplayLSN  *string `json:"replica_last_wal_replay_lsn"`
	// StandbyError is set when the standby could not be queried
	StandbyError string `json:"replica_error,omitempty"`

	// StreamFound is false when pg_stat_replication had no row for the channel
	StreamFound bool    `json:"stream_found"`
	SentLSN     *string `json:"sent_lsn"`
	WriteLSN    *string `json:"write_lsn"`
	FlushLSN    *string `json:"flush_lsn"`
	ReplayLSN   *string `json:"replay_lsn"`

	WriteLagSeconds  *float64 `json:"write_lag_seconds"`
	FlushLagSeconds  *float64 `json:"flush_lag_seconds"`
	ReplayLagSeconds *float64 `json:"replay_lag_seconds"`
	ByteLag          *int64   `json:"byte_lag"`

	SlotName          *string `json:"slot_name"`
	SlotActive        *bool   `json:"slot_active"`
	SlotRetainedBytes *int64  `json:"slot_retained_bytes"`

	StreamState *string `json:"replication_state"`
	SyncState   *string `json:"sync_state"`
}

// Snapshot is an Observation plus the health verdict derived from it. Copies
// share pointer fields and Warnings; use Clone before handing one to code
// that may outlive or modify it.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Observation

	IsHealthy bool     `json:"is_healthy"`
	IsInSync  bool     `json:"is_in_sync"`
	Warnings  []string `json:"warnings"`
}

// NewSnapshot derives health and sync flags from obs using th
func NewSnapshot(at time.Time, obs Observation, th config.WarningThresholds) Snapshot {
	warnings := make([]string, 0, 4)

	if obs.StandbyError != "" {
		warnings = append(warnings, "Standby unreachable: "+obs.StandbyError)
	}
	if !obs.StreamFound {
		warnings = append(warnings, "No active replication connection found")
	}
	if obs.ByteLag != nil && *obs.ByteLag > th.Warn.Bytes {
		warnings = append(warnings, fmt.Sprintf("High byte lag: %.2f MB", float64(*obs.ByteLag)/(1024*1024)))
	}
	if obs.ReplayLagSeconds != nil && *obs.ReplayLagSeconds > th.Warn.ReplayLag.Seconds() {
		warnings = append(warnings, fmt.Sprintf("High replay lag: %.2f seconds", *obs.ReplayLagSeconds))
	}
	if obs.SlotActive == nil || !*obs.SlotActive {
		warnings = append(warnings, "Replication slot is not active")
	}

	healthy := len(warnings) == 0 &&
		obs.StreamState != nil && *obs.StreamState == StateStreaming &&
		obs.StandbyInRecovery != nil && *obs.StandbyInRecovery

	inSync := healthy &&
		(obs.ByteLag == nil || *obs.ByteLag < th.InSync.Bytes) &&
		(obs.ReplayLagSeconds == nil || *obs.ReplayLagSeconds < th.InSync.ReplayLag.Seconds())

	return Snapshot{
		Timestamp:   at,
		Observation: obs,
		IsHealthy:   healthy,
		IsInSync:    inSync,
		Warnings:    warnings,
	}
}

// Clone returns a deep copy that shares no memory with s
func (s Snapshot) Clone() Snapshot {
	out := s
	o := &out.Observation
	o.PrimaryWALLSN = clonePtr(s.PrimaryWALLSN)
	o.PrimaryWALBytes = clonePtr(s.PrimaryWALBytes)
	o.StandbyInRecovery = clonePtr(s.StandbyInRecovery)
	o.StandbyReceiveLSN = clonePtr(s.StandbyReceiveLSN)
	o.StandbyReplayLSN = clonePtr(s.StandbyReplayLSN)
	o.SentLSN = clonePtr(s.SentLSN)
	o.WriteLSN = clonePtr(s.WriteLSN)
	o.FlushLSN = clonePtr(s.FlushLSN)
	o.ReplayLSN = clonePtr(s.ReplayLSN)
	o.WriteLagSeconds = clonePtr(s.WriteLagSeconds)
	o.FlushLagSeconds = clonePtr(s.FlushLagSeconds)
	o.ReplayLagSeconds = clonePtr(s.ReplayLagSeconds)
	o.ByteLag = clonePtr(s.ByteLag)
	o.SlotName = clonePtr(s.SlotName)
	o.SlotActive = clonePtr(s.SlotActive)
	o.SlotRetainedBytes = clonePtr(s.SlotRetainedBytes)
	o.StreamState = clonePtr(s.StreamState)
	o.SyncState = clonePtr(s.SyncState)
	out.Warnings = slices.Clone(s.Warnings)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ByteLagOrZero treats an unreported byte lag as zero
func (s Snapshot) ByteLagOrZero() int64 {
	if s.ByteLag == nil {
		return 0
	}
	return *s.ByteLag
}

// ReplayLag returns the replay lag, treating NULL (idle sender) as zero
func (s Snapshot) ReplayLag() time.Duration {
	if s.ReplayLagSeconds == nil {
		return 0
	}
	return time.Duration(*s.ReplayLagSeconds * float64(time.Second))
}

// InRecovery reports whether the standby positively answered that it is in recovery
func (s Snapshot) InRecovery() bool {
	return s.StandbyInRecovery != nil && *s.StandbyInRecovery
}

// Streaming reports whether the WAL sender is in the streaming state
func (s Snapshot) Streaming() bool {
	return s.StreamState != nil && *s.StreamState == StateStreaming
}

// SlotIsActive reports whether the replication slot is in use
func (s Snapshot) SlotIsActive() bool {
	return s.SlotActive != nil && *s.SlotActive
}

// StateString returns the stream state or "none"
func (s Snapshot) StateString() string {
	if s.StreamState == nil {
		return "none"
	}
	return *s.StreamState
}

// Sample converts the snapshot to its exported gauges
func (s Snapshot) Sample() metrics.ReplicationSample {
	return metrics.ReplicationSample{
		PrimaryWALBytes:   s.PrimaryWALBytes,
		ByteLag:           s.ByteLag,
		WriteLagSeconds:   s.WriteLagSeconds,
		FlushLagSeconds:   s.FlushLagSeconds,
		ReplayLagSeconds:  s.ReplayLagSeconds,
		SlotRetainedBytes: s.SlotRetainedBytes,
		Healthy:           s.IsHealthy,
		InSync:            s.IsInSync,
		Warnings:          len(s.Warnings),
	}
}
