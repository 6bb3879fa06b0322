// Package monitor runs the continuous replication watch and serves its state
// over HTTP.
package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/koval-yurko/db-scales/pkg/logging"
	"github.com/koval-yurko/db-scales/pkg/metrics"
	"github.com/koval-yurko/db-scales/pkg/poll"
	"github.com/koval-yurko/db-scales/pkg/replication"
)

// SnapshotSource produces one replication snapshot per call
type SnapshotSource interface {
	Collect(ctx context.Context) (replication.Snapshot, error)
}

// Monitor collects a snapshot every interval until stopped
type Monitor struct {
	source   SnapshotSource
	interval time.Duration
	store    *replication.SnapshotLog
	clock    poll.Clock
	logger   logging.Logger
	notify   func(replication.Snapshot)
	onError  func(error)
	metrics  *metrics.Registry
	started  time.Time

	latest     atomic.Pointer[replication.Snapshot]
	iterations atomic.Int64
	failures   atomic.Int64
}

// New creates a monitor polling source every interval
func New(source SnapshotSource, interval time.Duration, logger logging.Logger) *Monitor {
	return &Monitor{
		source:   source,
		interval: interval,
		clock:    poll.RealClock(),
		logger:   logger.With(logging.Component("monitor")),
		started:  time.Now(),
	}
}

// WithMetrics counts loop passes in reg
func (m *Monitor) WithMetrics(reg *metrics.Registry) *Monitor {
	m.metrics = reg
	return m
}

// WithClock replaces the wall clock
func (m *Monitor) WithClock(c poll.Clock) *Monitor {
	m.clock = c
	return m
}

// WithLog appends every snapshot to l
func (m *Monitor) WithLog(l *replication.SnapshotLog) *Monitor {
	m.store = l
	return m
}

// OnSnapshot registers fn to receive each collected snapshot. fn runs on the
// monitor goroutine.
func (m *Monitor) OnSnapshot(fn func(replication.Snapshot)) *Monitor {
	m.notify = fn
	return m
}

// OnError registers fn to receive each collection failure
func (m *Monitor) OnError(fn func(error)) *Monitor {
	m.onError = fn
	return m
}

// Latest returns the most recent successful snapshot
func (m *Monitor) Latest() (replication.Snapshot, bool) {
	s := m.latest.Load()
	if s == nil {
		return replication.Snapshot{}, false
	}
	return s.Clone(), true
}

// Iterations counts loop passes, including failed collections
func (m *Monitor) Iterations() int64 { return m.iterations.Load() }

// Failures counts collections that returned an error
func (m *Monitor) Failures() int64 { return m.failures.Load() }

// Run loops until ctx is done or, when duration is positive, until duration
// has elapsed after a completed pass. A failed collection is logged and the
// loop keeps going.
func (m *Monitor) Run(ctx context.Context, duration time.Duration) {
	start := m.clock.Now()
	m.logger.Info("starting replication monitoring",
		logging.Duration("interval", m.interval),
		logging.Duration("duration", duration),
	)
	defer func() {
		m.logger.Info("monitoring completed", logging.Int64("iterations", m.Iterations()))
	}()

	for ctx.Err() == nil {
		m.iterations.Add(1)
		m.pass(ctx)

		if duration > 0 && m.clock.Now().Sub(start) >= duration {
			m.logger.Info("monitoring duration reached", logging.Duration("duration", duration))
			return
		}
		if err := m.clock.Sleep(ctx, m.interval); err != nil {
			m.logger.Info("monitoring stopped")
			return
		}
	}
}

func (m *Monitor) pass(ctx context.Context) {
	snap, err := m.source.Collect(ctx)
	if m.metrics != nil {
		m.metrics.RecordMonitorIteration(err, m.started)
	}
	if err != nil {
		m.failures.Add(1)
		m.logger.Error("collection failed", logging.Error(err))
		if m.onError != nil {
			m.onError(err)
		}
		return
	}
	m.latest.Store(&snap)

	if m.store != nil {
		if err := m.store.Append(snap); err != nil {
			m.logger.Error("failed to save snapshot", logging.Path(m.store.Path()), logging.Error(err))
		}
	}
	if m.notify != nil {
		m.notify(snap)
	}
}
