package cutover

import (
	"context"
	"sync"
	"time"

	"github.com/koval-yurko/db-scales/pkg/config"
	"github.com/koval-yurko/db-scales/pkg/pgexec"
	"github.com/koval-yurko/db-scales/pkg/pgexec/pgexectest"
	"github.com/koval-yurko/db-scales/pkg/promotion"
	"github.com/koval-yurko/db-scales/pkg/replication"
	"github.com/koval-yurko/db-scales/pkg/syncgate"
)

func ptr[T any](v T) *T { return &v }

func snapshot(mutate func(o *replication.Observation)) replication.Snapshot {
	obs := replication.Observation{
		StandbyInRecovery: ptr(true),
		StreamFound:       true,
		StreamState:       ptr(replication.StateStreaming),
		ByteLag:           ptr(int64(0)),
		SlotName:          ptr("replica_slot"),
		SlotActive:        ptr(true),
	}
	if mutate != nil {
		mutate(&obs)
	}
	return replication.NewSnapshot(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), obs, config.Default().Warning)
}

// fakeCollector answers from fn, or returns snap when fn is nil. Calls for
// which hang returns true block until ctx is done.
type fakeCollector struct {
	mu    sync.Mutex
	snap  replication.Snapshot
	fn    func(call int) (replication.Snapshot, error)
	hang  func(call int) bool
	calls int
}

func (c *fakeCollector) Collect(ctx context.Context) (replication.Snapshot, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	c.mu.Unlock()
	if c.hang != nil && c.hang(n) {
		<-ctx.Done()
		return replication.Snapshot{}, ctx.Err()
	}
	if c.fn != nil {
		return c.fn(n)
	}
	return c.snap, nil
}

type fakeGate struct {
	calls   int
	maxWait time.Duration
	every   time.Duration
	err     error
}

func (g *fakeGate) WaitUntilSynced(ctx context.Context, maxWait, interval time.Duration) (syncgate.Result, error) {
	g.calls++
	g.maxWait, g.every = maxWait, interval
	if g.err != nil {
		return syncgate.Result{}, g.err
	}
	return syncgate.Result{Synced: true, Polls: 3, Consecutive: 3, Elapsed: 10 * time.Second}, nil
}

type fakePromoter struct {
	calls int
	err   error
	panic bool
}

func (p *fakePromoter) Promote(ctx context.Context) (promotion.Result, error) {
	p.calls++
	if p.panic {
		panic("promotion blew up")
	}
	return promotion.Result{Polls: 2, Elapsed: time.Second}, p.err
}

type reportCall struct {
	run         Run
	final       *replication.Snapshot
	finalErr    error
	ctxErr      error
	hasDeadline bool
}

type fakeReporter struct {
	calls []reportCall
}

func (r *fakeReporter) Report(ctx context.Context, run Run, final *replication.Snapshot, finalErr error) {
	_, hasDeadline := ctx.Deadline()
	r.calls = append(r.calls, reportCall{
		run:         run,
		final:       final,
		finalErr:    finalErr,
		ctxErr:      ctx.Err(),
		hasDeadline: hasDeadline,
	})
}

func primaryExec() *pgexectest.Executor {
	return pgexectest.New("primary").
		On("SELECT 1", pgexectest.Rows(pgexec.Row{"?column?": int32(1)})).
		On("ALTER SYSTEM", pgexectest.Rows()).
		On("pg_reload_conf", pgexectest.Rows())
}

func standbyExec(inRecovery bool) *pgexectest.Executor {
	return pgexectest.New("standby").
		On("SELECT 1", pgexectest.Rows(pgexec.Row{"?column?": int32(1)})).
		On("pg_is_in_recovery", pgexectest.Rows(pgexec.Row{"is_in_recovery": inRecovery})).
		On("audit_log", pgexectest.Rows()).
		On("COUNT(*)", pgexectest.Rows(pgexec.Row{"users": int64(1000), "products": int64(500), "orders": int64(2000)}))
}
