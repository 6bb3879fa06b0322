package replication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/koval-yurko/db-scales/pkg/config"
	"github.com/koval-yurko/db-scales/pkg/logging"
	"github.com/koval-yurko/db-scales/pkg/metrics"
	"github.com/koval-yurko/db-scales/pkg/pgexec"
)

// Collector reads replication state from the primary and the standby
type Collector struct {
	primary     pgexec.QueryExecutor
	standby     pgexec.QueryExecutor
	replication config.ReplicationConfig
	thresholds  config.WarningThresholds
	now         func() time.Time
	logger      logging.Logger
	metrics     *metrics.Registry
}

// NewCollector creates a collector for the configured replication channel
func NewCollector(primary, standby pgexec.QueryExecutor, cfg config.Config, logger logging.Logger) *Collector {
	return &Collector{
		primary:     primary,
		standby:     standby,
		replication: cfg.Replication,
		thresholds:  cfg.Warning,
		now:         time.Now,
		logger:      logger.With(logging.Component("collector")),
	}
}

// WithClock overrides the timestamp source; used in tests
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

// WithMetrics exports every collection to reg
func (c *Collector) WithMetrics(reg *metrics.Registry) *Collector {
	c.metrics = reg
	return c
}

// Collect reads a fresh snapshot. Any primary-side failure is returned as an
// error. A standby failure is folded into the snapshot as a warning with nil
// recovery fields, never returned.
func (c *Collector) Collect(ctx context.Context) (Snapshot, error) {
	start := time.Now()
	snap, err := c.collect(ctx)
	if c.metrics != nil {
		c.metrics.RecordCollection(err, time.Since(start))
		if err == nil {
			c.metrics.UpdateReplication(snap.Sample())
		}
	}
	return snap, err
}

func (c *Collector) collect(ctx context.Context) (Snapshot, error) {
	var obs Observation

	if err := c.readPrimaryWAL(ctx, &obs); err != nil {
		return Snapshot{}, err
	}
	if err := c.readStreamStats(ctx, &obs); err != nil {
		return Snapshot{}, err
	}
	if err := c.readSlot(ctx, &obs); err != nil {
		return Snapshot{}, err
	}
	c.readStandby(ctx, &obs)

	snap := NewSnapshot(c.now(), obs, c.thresholds)
	c.logger.Debug("snapshot collected",
		logging.Bool("healthy", snap.IsHealthy),
		logging.Bool("in_sync", snap.IsInSync),
		logging.Int64("byte_lag", snap.ByteLagOrZero()),
		logging.Float64("replay_lag_s", snap.ReplayLag().Seconds()),
		logging.Count(len(snap.Warnings)),
	)
	return snap, nil
}

type rowDecoder struct {
	row pgexec.Row
	err error
}

func (d *rowDecoder) str(col string) *string {
	v, err := d.row.String(col)
	d.err = errors.Join(d.err, err)
	return v
}

func (d *rowDecoder) i64(col string) *int64 {
	v, err := d.row.Int64(col)
	d.err = errors.Join(d.err, err)
	return v
}

func (d *rowDecoder) f64(col string) *float64 {
	v, err := d.row.Float64(col)
	d.err = errors.Join(d.err, err)
	return v
}

func (d *rowDecoder) boolean(col string) *bool {
	v, err := d.row.Bool(col)
	d.err = errors.Join(d.err, err)
	return v
}

func (c *Collector) readPrimaryWAL(ctx context.Context, obs *Observation) error {
	row, err := pgexec.QueryRow(ctx, c.primary, primaryWALQuery)
	if err != nil {
		return fmt.Errorf("failed to read primary WAL position: %w", err)
	}
	if row == nil {
		return nil
	}
	d := &rowDecoder{row: row}
	obs.PrimaryWALLSN = d.str("current_wal_lsn")
	obs.PrimaryWALBytes = d.i64("wal_position_bytes")
	if d.err != nil {
		return fmt.Errorf("failed to decode primary WAL position: %w", d.err)
	}
	return nil
}

func (c *Collector) readStreamStats(ctx context.Context, obs *Observation) error {
	row, err := pgexec.QueryRow(ctx, c.primary, streamStatsQuery, c.replication.ApplicationName)
	if err != nil {
		return fmt.Errorf("failed to read replication stats: %w", err)
	}
	if row == nil {
		return nil
	}
	d := &rowDecoder{row: row}
	obs.StreamFound = true
	obs.StreamState = d.str("state")
	obs.SyncState = d.str("sync_state")
	obs.SentLSN = d.str("sent_lsn")
	obs.WriteLSN = d.str("write_lsn")
	obs.FlushLSN = d.str("flush_lsn")
	obs.ReplayLSN = d.str("replay_lsn")
	obs.WriteLagSeconds = d.f64("write_lag_seconds")
	obs.FlushLagSeconds = d.f64("flush_lag_seconds")
	obs.ReplayLagSeconds = d.f64("replay_lag_seconds")
	obs.ByteLag = d.i64("byte_lag")
	if d.err != nil {
		return fmt.Errorf("failed to decode replication stats: %w", d.err)
	}
	return nil
}

func (c *Collector) readSlot(ctx context.Context, obs *Observation) error {
	row, err := pgexec.QueryRow(ctx, c.primary, slotQuery, c.replication.SlotName)
	if err != nil {
		return fmt.Errorf("failed to read replication slot: %w", err)
	}
	if row == nil {
		return nil
	}
	d := &rowDecoder{row: row}
	obs.SlotName = d.str("slot_name")
	obs.SlotActive = d.boolean("active")
	obs.SlotRetainedBytes = d.i64("retained_bytes")
	if d.err != nil {
		return fmt.Errorf("failed to decode replication slot: %w", d.err)
	}
	return nil
}

func (c *Collector) readStandby(ctx context.Context, obs *Observation) {
	row, err := pgexec.QueryRow(ctx, c.standby, standbyStatusQuery)
	if err == nil && row != nil {
		d := &rowDecoder{row: row}
		inRecovery := d.boolean("is_in_recovery")
		receive := d.str("last_wal_receive_lsn")
		replay := d.str("last_wal_replay_lsn")
		if d.err == nil {
			obs.StandbyInRecovery = inRecovery
			obs.StandbyReceiveLSN = receive
			obs.StandbyReplayLSN = replay
			return
		}
		err = d.err
	}
	if err == nil {
		err = errors.New("empty recovery status")
	}
	c.logger.Warn("could not query standby", logging.Target("standby"), logging.Error(err))
	obs.StandbyError = err.Error()
}
