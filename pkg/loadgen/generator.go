// Package loadgen produces a steady mixed write load against the primary so
// replication lag can be observed under traffic.
package loadgen

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/koval-yurko/db-scales/pkg/config"
	"github.com/koval-yurko/db-scales/pkg/logging"
	"github.com/koval-yurko/db-scales/pkg/metrics"
	"github.com/koval-yurko/db-scales/pkg/pgexec"
)

// StatsInterval is how often totals are logged
const StatsInterval = 10 * time.Second

// Stats are cumulative operation counters
type Stats struct {
	Inserts int64 `json:"inserts"`
	Updates int64 `json:"updates"`
	Deletes int64 `json:"deletes"`
	Errors  int64 `json:"errors"`
}

// Total counts successful operations
func (s Stats) Total() int64 { return s.Inserts + s.Updates + s.Deletes }

type counters struct {
	inserts, updates, deletes, errors atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Inserts: c.inserts.Load(),
		Updates: c.updates.Load(),
		Deletes: c.deletes.Load(),
		Errors:  c.errors.Load(),
	}
}

// Generator issues weighted writes at a target rate
type Generator struct {
	exec     pgexec.QueryExecutor
	cfg      config.LoadConfig
	rnd      *source
	stats    counters
	interval time.Duration
	logger   logging.Logger
	metrics  *metrics.Registry
}

// New creates a generator writing through exec
func New(exec pgexec.QueryExecutor, cfg config.LoadConfig, logger logging.Logger) *Generator {
	return &Generator{
		exec:     exec,
		cfg:      cfg,
		rnd:      newSource(uint64(time.Now().UnixNano())),
		interval: StatsInterval,
		logger:   logger.With(logging.Component("loadgen")),
	}
}

// WithSeed makes the operation mix reproducible
func (g *Generator) WithSeed(seed uint64) *Generator {
	g.rnd = newSource(seed)
	return g
}

// WithMetrics counts every operation in reg
func (g *Generator) WithMetrics(reg *metrics.Registry) *Generator {
	g.metrics = reg
	return g
}

// WithStatsInterval overrides StatsInterval
func (g *Generator) WithStatsInterval(d time.Duration) *Generator {
	g.interval = d
	return g
}

// Stats returns the current totals
func (g *Generator) Stats() Stats { return g.stats.snapshot() }

// Run dispatches operations until ctx is done. The dispatcher and the stats
// reporter share ctx as their stop signal; in-flight operations finish
// before Run returns. Operation errors are counted, never returned.
func (g *Generator) Run(ctx context.Context) error {
	pool, err := NewWorkerPool(ctx, g.cfg.Workers, g.logger)
	if err != nil {
		return err
	}

	g.logger.Info("starting write load",
		logging.Int("ops_per_second", g.cfg.OperationsPerSecond),
		logging.Int("workers", g.cfg.Workers),
	)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer pool.Close()
		return g.dispatch(ctx, pool)
	})
	eg.Go(func() error {
		return g.report(ctx)
	})

	err = eg.Wait()
	g.logStats("write load stopped")
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (g *Generator) dispatch(ctx context.Context, pool *WorkerPool) error {
	every := time.Second / time.Duration(max(g.cfg.OperationsPerSecond, 1))
	if every <= 0 {
		every = time.Microsecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			kind := g.rnd.kind()
			fn := pick(g.rnd, opsByKind[kind])
			pool.Submit(ctx, func(ctx context.Context) { g.execute(ctx, kind, fn) })
		}
	}
}

func (g *Generator) execute(ctx context.Context, kind Kind, fn op) {
	start := time.Now()
	err := fn(ctx, g.exec, g.rnd)
	if errors.Is(err, errNoRows) {
		err = nil
	}
	if g.metrics != nil {
		g.metrics.RecordLoadOperation(string(kind), err, time.Since(start))
	}
	if err != nil {
		g.stats.errors.Add(1)
		g.logger.Error("operation failed", logging.String("kind", string(kind)), logging.Error(err))
		return
	}
	switch kind {
	case KindInsert:
		g.stats.inserts.Add(1)
	case KindUpdate:
		g.stats.updates.Add(1)
	case KindDelete:
		g.stats.deletes.Add(1)
	}
}

func (g *Generator) report(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.logStats("write load stats")
		}
	}
}

func (g *Generator) logStats(msg string) {
	s := g.Stats()
	g.logger.Info(msg,
		logging.Int64("total", s.Total()),
		logging.Int64("inserts", s.Inserts),
		logging.Int64("updates", s.Updates),
		logging.Int64("deletes", s.Deletes),
		logging.Int64("errors", s.Errors),
	)
}
