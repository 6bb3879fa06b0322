// Package promotion turns a streaming standby into a writable primary.
package promotion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koval-yurko/db-scales/pkg/config"
	"github.com/koval-yurko/db-scales/pkg/logging"
	"github.com/koval-yurko/db-scales/pkg/metrics"
	"github.com/koval-yurko/db-scales/pkg/pgexec"
	"github.com/koval-yurko/db-scales/pkg/poll"
	"github.com/koval-yurko/db-scales/pkg/replication"
)

// PromoteQuery asks the standby to finish recovery
const PromoteQuery = "SELECT pg_promote()"

// Result describes a finished promotion
type Result struct {
	Polls   int
	Elapsed time.Duration
}

// Driver issues the promote command at most once and then waits for the
// standby to report that recovery has ended.
type Driver struct {
	standby  pgexec.QueryExecutor
	timeout  time.Duration
	interval time.Duration
	clock    poll.Clock
	logger   logging.Logger
	metrics  *metrics.Registry

	mu        sync.Mutex
	attempted bool
}

// NewDriver creates a driver against the standby using cfg's promotion bounds
func NewDriver(standby pgexec.QueryExecutor, cfg config.CutoverConfig, logger logging.Logger) *Driver {
	return &Driver{
		standby:  standby,
		timeout:  cfg.PromoteTimeout,
		interval: cfg.PromotePoll,
		clock:    poll.RealClock(),
		logger:   logger.With(logging.Component("promotion"), logging.Target("standby")),
	}
}

// WithClock replaces the wall clock
func (d *Driver) WithClock(c poll.Clock) *Driver {
	d.clock = c
	return d
}

// WithMetrics records the wait duration in reg
func (d *Driver) WithMetrics(reg *metrics.Registry) *Driver {
	d.metrics = reg
	return d
}

// Attempted reports whether Promote has issued the command
func (d *Driver) Attempted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempted
}

// Promote sends pg_promote and polls the recovery flag until it clears. A
// failed command wraps ErrRejected; running out of time wraps ErrTimeout.
func (d *Driver) Promote(ctx context.Context) (Result, error) {
	d.mu.Lock()
	if d.attempted {
		d.mu.Unlock()
		return Result{}, ErrAlreadyAttempted
	}
	d.attempted = true
	d.mu.Unlock()

	d.logger.Info("issuing promotion command")
	if err := pgexec.Exec(context.WithoutCancel(ctx), d.standby, PromoteQuery); err != nil {
		d.logger.Error("promotion command failed", logging.Error(err))
		return Result{}, fmt.Errorf("%w: %w", ErrRejected, err)
	}

	res, err := poll.Until(ctx, d.clock, d.interval, d.timeout, func(ctx context.Context, a poll.Attempt) (bool, error) {
		row, err := pgexec.QueryRow(ctx, d.standby, replication.RecoveryQuery)
		if err != nil {
			return false, err
		}
		inRecovery, err := row.Bool("is_in_recovery")
		if err != nil {
			return false, err
		}
		if inRecovery != nil && !*inRecovery {
			return true, nil
		}
		d.logger.Info("waiting for promotion to complete", logging.Elapsed(a.Elapsed))
		return false, nil
	})

	out := Result{Polls: res.Polls, Elapsed: res.Elapsed}
	switch {
	case err == nil:
		d.logger.Info("standby promoted to primary", logging.Elapsed(res.Elapsed))
		if d.metrics != nil {
			d.metrics.RecordPromotionWait(res.Elapsed)
		}
		return out, nil
	case errors.Is(err, poll.ErrTimeout):
		d.logger.Error("promotion timed out", logging.Duration("bound", d.timeout))
		return out, fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		d.logger.Error("promotion status check failed", logging.Error(err))
		return out, err
	}
}
