// Package syncgate decides when replication has been close enough to the
// primary, for long enough, to start a cutover.
package syncgate

import (
	"context"
	"errors"
	"time"

	"github.com/koval-yurko/db-scales/pkg/config"
	"github.com/koval-yurko/db-scales/pkg/logging"
	"github.com/koval-yurko/db-scales/pkg/metrics"
	"github.com/koval-yurko/db-scales/pkg/poll"
	"github.com/koval-yurko/db-scales/pkg/replication"
)

// SnapshotSource produces a fresh snapshot per call
type SnapshotSource interface {
	Collect(ctx context.Context) (replication.Snapshot, error)
}

// Result describes a finished wait
type Result struct {
	Synced      bool
	Polls       int
	Elapsed     time.Duration
	Consecutive int
	// Last is the final snapshot evaluated, nil if none was collected
	Last *replication.Snapshot
}

// Gate requires a run of consecutive passing samples. It keeps the streak
// between polls of one wait; every wait starts from zero.
type Gate struct {
	source      SnapshotSource
	thresholds  config.LagThresholds
	required    int
	consecutive int
	clock       poll.Clock
	logger      logging.Logger
	metrics     *metrics.Registry
}

// New creates a gate that needs config.ConsecutiveRequired passes within th
func New(source SnapshotSource, th config.LagThresholds, logger logging.Logger) *Gate {
	return &Gate{
		source:     source,
		thresholds: th,
		required:   config.ConsecutiveRequired,
		clock:      poll.RealClock(),
		logger:     logger.With(logging.Component("syncgate")),
	}
}

// WithClock replaces the wall clock
func (g *Gate) WithClock(c poll.Clock) *Gate {
	g.clock = c
	return g
}

// WithMetrics records every sample in reg
func (g *Gate) WithMetrics(reg *metrics.Registry) *Gate {
	g.metrics = reg
	return g
}

// Required returns the number of consecutive passes needed
func (g *Gate) Required() int { return g.required }

// Passes reports whether one snapshot is within the gate's thresholds. A
// missing lag value counts as zero, but a snapshot without a replication
// stream never passes.
func (g *Gate) Passes(s replication.Snapshot) bool {
	if !s.StreamFound {
		return false
	}
	return s.ByteLagOrZero() <= g.thresholds.Bytes && s.ReplayLag() <= g.thresholds.ReplayLag
}

// WaitUntilSynced polls until the streak reaches the required count. It
// returns a poll.TimeoutError when maxWait elapses first and the collector's
// error if a snapshot cannot be read.
func (g *Gate) WaitUntilSynced(ctx context.Context, maxWait, interval time.Duration) (Result, error) {
	g.consecutive = 0
	var last *replication.Snapshot

	g.logger.Info("waiting for replication sync",
		logging.Duration("max_wait", maxWait),
		logging.Duration("interval", interval),
		logging.Int64("max_byte_lag", g.thresholds.Bytes),
		logging.Duration("max_replay_lag", g.thresholds.ReplayLag),
	)

	res, err := poll.Until(ctx, g.clock, interval, maxWait, func(ctx context.Context, a poll.Attempt) (bool, error) {
		snap, err := g.source.Collect(ctx)
		if err != nil {
			g.record("error")
			return false, err
		}
		last = &snap
		return g.evaluate(snap, a), nil
	})

	out := Result{
		Synced:      err == nil,
		Polls:       res.Polls,
		Elapsed:     res.Elapsed,
		Consecutive: g.consecutive,
		Last:        last,
	}
	switch {
	case err == nil:
		g.logger.Info("replication is consistently in sync", logging.Elapsed(res.Elapsed), logging.Count(res.Polls))
	case errors.Is(err, poll.ErrTimeout):
		g.logger.Error("sync wait timed out", logging.Elapsed(res.Elapsed), logging.Duration("max_wait", maxWait))
	default:
		g.logger.Error("sync wait failed", logging.Error(err))
	}
	return out, err
}

func (g *Gate) evaluate(s replication.Snapshot, a poll.Attempt) bool {
	fields := []logging.Field{
		logging.Elapsed(a.Elapsed),
		logging.Int64("byte_lag", s.ByteLagOrZero()),
		logging.Float64("replay_lag_s", s.ReplayLag().Seconds()),
	}

	if !g.Passes(s) {
		if g.consecutive > 0 {
			g.logger.Warn("lost sync, resetting counter", logging.Int("streak", g.consecutive))
		}
		g.consecutive = 0
		g.record("fail")
		g.logger.Info("not in sync", fields...)
		return false
	}

	g.consecutive++
	g.record("pass")
	g.logger.Info("in sync", append(fields, logging.Int("streak", g.consecutive), logging.Int("required", g.required))...)
	return g.consecutive >= g.required
}

func (g *Gate) record(result string) {
	if g.metrics != nil {
		g.metrics.RecordSyncSample(result, g.consecutive)
	}
}
