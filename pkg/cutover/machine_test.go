package cutover

import (
	"context"
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koval-yurko/db-scales/pkg/config"
	"github.com/koval-yurko/db-scales/pkg/logging"
	"github.com/koval-yurko/db-scales/pkg/metrics"
	"github.com/koval-yurko/db-scales/pkg/pgexec"
	"github.com/koval-yurko/db-scales/pkg/pgexec/pgexectest"
	"github.com/koval-yurko/db-scales/pkg/poll"
	"github.com/koval-yurko/db-scales/pkg/poll/polltest"
	"github.com/koval-yurko/db-scales/pkg/promotion"
	"github.com/koval-yurko/db-scales/pkg/replication"
	"github.com/koval-yurko/db-scales/pkg/syncgate"
)

type harness struct {
	cfg       config.Config
	primary   *pgexectest.Executor
	standby   *pgexectest.Executor
	collector *fakeCollector
	gate      *fakeGate
	promoter  *fakePromoter
	reporter  *fakeReporter
	clock     *polltest.Clock
	metrics   *metrics.Registry
}

func newHarness(dryRun bool) *harness {
	cfg := config.Default()
	cfg.Cutover.DryRun = dryRun
	return &harness{
		cfg:       cfg,
		primary:   primaryExec(),
		standby:   standbyExec(dryRun),
		collector: &fakeCollector{snap: snapshot(nil)},
		gate:      &fakeGate{},
		promoter:  &fakePromoter{},
		reporter:  &fakeReporter{},
		clock:     polltest.NewClock(),
		metrics:   metrics.NewRegistry(),
	}
}

func (h *harness) machine() *Machine {
	return New(h.cfg, Deps{
		Primary:   h.primary,
		Standby:   h.standby,
		Collector: h.collector,
		Gate:      h.gate,
		Promoter:  h.promoter,
		Reporter:  h.reporter,
		Clock:     h.clock,
		Logger:    logging.NewNopLogger(),
		Metrics:   h.metrics,
	})
}

func outcomes(run Run) map[Step]Outcome {
	out := make(map[Step]Outcome, len(run.Steps))
	for _, sr := range run.Steps {
		out[sr.Step] = sr.Outcome
	}
	return out
}

func stepNames(run Run) []Step {
	names := make([]Step, len(run.Steps))
	for i, sr := range run.Steps {
		names[i] = sr.Step
	}
	return names
}

func (h *harness) assertReportedOnce(t *testing.T, run Run) reportCall {
	t.Helper()
	require.Len(t, h.reporter.calls, 1)
	assert.Equal(t, run, h.reporter.calls[0].run)
	assert.Equal(t, 1, h.primary.Closed())
	assert.Equal(t, 1, h.standby.Closed())
	assert.Equal(t, Sequence, stepNames(run))
	return h.reporter.calls[0]
}

func TestExecute_LiveSuccess(t *testing.T) {
	h := newHarness(false)

	run := h.machine().Execute(context.Background())

	assert.True(t, run.Success)
	assert.Equal(t, "SUCCESS", run.Status())
	assert.Empty(t, run.AbortedAt)
	for _, sr := range run.Steps {
		assert.Equal(t, OutcomeOK, sr.Outcome, sr.Step)
	}
	call := h.assertReportedOnce(t, run)
	require.NotNil(t, call.final)
	assert.NoError(t, call.finalErr)

	assert.Equal(t, 1, h.gate.calls)
	assert.Equal(t, 300*time.Second, h.gate.maxWait)
	assert.Equal(t, 5*time.Second, h.gate.every)
	assert.Equal(t, 1, h.promoter.calls)

	primaryWrites := h.primary.WriteCalls()
	require.Len(t, primaryWrites, 2)
	assert.Equal(t, ReadOnlyQuery, primaryWrites[0].Query)
	assert.Equal(t, ReloadConfigQuery, primaryWrites[1].Query)
	standbyWrites := h.standby.WriteCalls()
	require.Len(t, standbyWrites, 1)
	assert.Equal(t, TestWriteQuery, standbyWrites[0].Query)

	// settle delay before the final verification
	assert.Contains(t, h.clock.Sleeps(), 2*time.Second)

	validate, ok := run.Result(StepValidateNewPrimary)
	require.True(t, ok)
	assert.Contains(t, validate.Detail, "users=1000")
	assert.Equal(t, config.ConsecutiveRequired, run.Thresholds.ConsecutiveRequired)
	assert.NotEmpty(t, run.ID)
}

func TestExecute_DryRunIssuesNoWrites(t *testing.T) {
	h := newHarness(true)

	run := h.machine().Execute(context.Background())

	assert.True(t, run.Success)
	assert.True(t, run.DryRun)
	o := outcomes(run)
	assert.Equal(t, OutcomeOK, o[StepFreezeWrites])
	assert.Equal(t, OutcomeOK, o[StepPromote])
	assert.Equal(t, OutcomeOK, o[StepDemoteOldPrimary])
	assert.Equal(t, OutcomeOK, o[StepValidateNewPrimary])

	assert.Empty(t, h.primary.WriteCalls())
	assert.Empty(t, h.standby.WriteCalls())
	assert.Equal(t, 0, h.promoter.calls)
	assert.Equal(t, 0, h.primary.CountContaining("ALTER SYSTEM"))
	h.assertReportedOnce(t, run)
}

func TestExecute_PrerequisitesFailureSkipsSyncWait(t *testing.T) {
	h := newHarness(false)
	h.collector.snap = snapshot(func(o *replication.Observation) { o.SlotActive = ptr(false) })

	run := h.machine().Execute(context.Background())

	assert.False(t, run.Success)
	assert.Equal(t, "FAILED", run.Status())
	assert.Equal(t, StepPrerequisites, run.AbortedAt)
	assert.Equal(t, 0, h.gate.calls)

	pre, _ := run.Result(StepPrerequisites)
	assert.Equal(t, OutcomeFatalFailure, pre.Outcome)
	assert.Equal(t, []string{"Replication slot is not active"}, pre.Issues)

	o := outcomes(run)
	for _, s := range []Step{StepSyncWait, StepFreezeWrites, StepFinalVerify, StepPromote, StepValidateNewPrimary, StepDemoteOldPrimary} {
		assert.Equal(t, OutcomeSkipped, o[s], s)
	}
	assert.Equal(t, OutcomeOK, o[StepReport])
	h.assertReportedOnce(t, run)
}

func TestExecute_PrerequisitesCollectsEveryIssue(t *testing.T) {
	h := newHarness(false)
	down := func(target string) error {
		return &pgexec.ConnectivityError{Target: target, Addr: "localhost", Err: errors.New("connection refused")}
	}
	h.primary.On("SELECT 1", pgexectest.Fail(down("primary")))
	h.standby.On("SELECT 1", pgexectest.Fail(down("standby")))
	h.collector.snap = snapshot(func(o *replication.Observation) {
		o.StandbyInRecovery = ptr(false)
		o.StreamState = ptr("catchup")
		o.SlotActive = nil
	})

	run := h.machine().Execute(context.Background())

	pre, _ := run.Result(StepPrerequisites)
	require.Len(t, pre.Issues, 5)
	assert.Contains(t, pre.Issues[0], "Cannot connect to primary")
	assert.Contains(t, pre.Issues[1], "Cannot connect to replica")
	assert.Equal(t, "Replica is not in recovery mode", pre.Issues[2])
	assert.Equal(t, "Replication state is catchup, expected 'streaming'", pre.Issues[3])
	assert.Equal(t, "Replication slot is not active", pre.Issues[4])
	assert.Contains(t, run.Error, "5 issues found")
	assert.Equal(t, 0, h.gate.calls)
}

func TestExecute_PrerequisitesPrimaryMetricsFailure(t *testing.T) {
	h := newHarness(false)
	h.collector.fn = func(call int) (replication.Snapshot, error) {
		return replication.Snapshot{}, errors.New("primary WAL query failed")
	}

	run := h.machine().Execute(context.Background())

	pre, _ := run.Result(StepPrerequisites)
	require.Len(t, pre.Issues, 1)
	assert.Contains(t, pre.Issues[0], "Cannot read replication status")

	call := h.assertReportedOnce(t, run)
	assert.Nil(t, call.final)
	assert.Error(t, call.finalErr)
	rep, _ := run.Result(StepReport)
	assert.Contains(t, rep.Detail, "final metrics unavailable")
}

func TestExecute_SyncWaitTimeout(t *testing.T) {
	h := newHarness(false)
	h.gate.err = &poll.TimeoutError{Waited: 305 * time.Second, Bound: 300 * time.Second, Polls: 61}

	run := h.machine().Execute(context.Background())

	assert.False(t, run.Success)
	assert.Equal(t, StepSyncWait, run.AbortedAt)
	sw, _ := run.Result(StepSyncWait)
	assert.Contains(t, sw.Detail, "failed to achieve replication sync")
	assert.Equal(t, 0, h.promoter.calls)
	h.assertReportedOnce(t, run)
}

func TestExecute_FinalVerifyStricterThanGate(t *testing.T) {
	h := newHarness(false)
	h.collector.snap = snapshot(func(o *replication.Observation) { o.ByteLag = ptr(int64(1)) })
	gate := syncgate.New(h.collector, h.cfg.SyncGate, logging.NewNopLogger()).WithClock(h.clock)

	m := h.machine()
	m.Gate = gate
	run := m.Execute(context.Background())

	o := outcomes(run)
	assert.Equal(t, OutcomeOK, o[StepSyncWait])
	assert.Equal(t, OutcomeFatalFailure, o[StepFinalVerify])
	assert.Equal(t, StepFinalVerify, run.AbortedAt)
	assert.ErrorContains(t, errors.New(run.Error), "final sync verification failed")
	assert.Equal(t, 0, h.promoter.calls)
	h.assertReportedOnce(t, run)
}

func TestExecute_FinalVerifyReplayBoundIsStrict(t *testing.T) {
	h := newHarness(false)
	h.collector.snap = snapshot(func(o *replication.Observation) { o.ReplayLagSeconds = ptr(0.1) })

	run := h.machine().Execute(context.Background())

	assert.Equal(t, StepFinalVerify, run.AbortedAt)
}

func TestExecute_PanicStillReports(t *testing.T) {
	h := newHarness(false)
	h.promoter.panic = true

	run := h.machine().Execute(context.Background())

	assert.False(t, run.Success)
	assert.Equal(t, StepPromote, run.AbortedAt)
	assert.Contains(t, run.Error, "unexpected error")
	assert.Contains(t, run.Error, "promotion blew up")
	o := outcomes(run)
	assert.Equal(t, OutcomeFatalFailure, o[StepPromote])
	assert.Equal(t, OutcomeSkipped, o[StepValidateNewPrimary])
	assert.Equal(t, OutcomeSkipped, o[StepDemoteOldPrimary])
	h.assertReportedOnce(t, run)
}

func TestExecute_PanicAndFinalReadFailure(t *testing.T) {
	h := newHarness(false)
	h.promoter.panic = true
	h.collector.fn = func(call int) (replication.Snapshot, error) {
		if call >= 3 {
			return replication.Snapshot{}, errors.New("primary gone")
		}
		return snapshot(nil), nil
	}

	run := h.machine().Execute(context.Background())

	call := h.assertReportedOnce(t, run)
	assert.Nil(t, call.final)
	assert.EqualError(t, call.finalErr, "primary gone")
	assert.False(t, run.Success)
}

func TestExecute_PromotionRejected(t *testing.T) {
	h := newHarness(false)
	h.promoter.err = promotion.ErrRejected

	run := h.machine().Execute(context.Background())

	assert.Equal(t, StepPromote, run.AbortedAt)
	assert.Equal(t, 1, h.promoter.calls)
	assert.Empty(t, h.primary.WriteCalls())
}

func TestExecute_StillInRecoveryAfterPromote(t *testing.T) {
	h := newHarness(false)
	h.standby = standbyExec(true)

	run := h.machine().Execute(context.Background())

	assert.Equal(t, StepValidateNewPrimary, run.AbortedAt)
	assert.Contains(t, run.Error, ErrStillInRecovery.Error())
	assert.Empty(t, h.standby.WriteCalls())
}

func TestExecute_DemotionFailureIsNonFatal(t *testing.T) {
	h := newHarness(false)
	h.primary.On("ALTER SYSTEM", pgexectest.Fail(&pgexec.QueryError{Target: "primary", Err: errors.New("permission denied")}))

	run := h.machine().Execute(context.Background())

	assert.True(t, run.Success)
	assert.Empty(t, run.AbortedAt)
	demote, _ := run.Result(StepDemoteOldPrimary)
	assert.Equal(t, OutcomeNonFatalFailure, demote.Outcome)
	assert.Contains(t, demote.Detail, "permission denied")
	assert.Equal(t, 0, h.primary.CountContaining("pg_reload_conf"))
	h.assertReportedOnce(t, run)
}

func TestExecute_InterruptedStillReports(t *testing.T) {
	h := newHarness(false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := h.machine().Execute(ctx)

	assert.False(t, run.Success)
	assert.Equal(t, StepPrerequisites, run.AbortedAt)
	assert.Contains(t, run.Error, poll.ErrInterrupted.Error())
	call := h.assertReportedOnce(t, run)
	// the final read ignores the cancelled context
	assert.NotNil(t, call.final)
	assert.Empty(t, h.primary.Calls())
}

func TestExecute_RecordsMetrics(t *testing.T) {
	h := newHarness(true)

	h.machine().Execute(context.Background())

	var m dto.Metric
	c, err := h.metrics.CutoverRunsTotal.GetMetricWithLabelValues("dry_run", "success")
	require.NoError(t, err)
	require.NoError(t, c.Write(&m))
	assert.Equal(t, 1.0, m.Counter.GetValue())

	s, err := h.metrics.CutoverStepsTotal.GetMetricWithLabelValues("PROMOTE", "ok")
	require.NoError(t, err)
	require.NoError(t, s.Write(&m))
	assert.Equal(t, 1.0, m.Counter.GetValue())
}

// End-to-end over the real collector, gate and driver with scripted servers
func TestExecute_RealComponents(t *testing.T) {
	cfg := config.Default()
	clock := polltest.NewClock()

	primary := primaryExec().
		On("wal_position_bytes", pgexectest.Rows(pgexec.Row{"current_wal_lsn": "0/5000000", "wal_position_bytes": int64(83886080)})).
		On("pg_stat_replication", pgexectest.Rows(pgexec.Row{"state": "streaming", "sync_state": "async", "byte_lag": int64(0)})).
		On("pg_replication_slots", pgexectest.Rows(pgexec.Row{"slot_name": "replica_slot", "active": true}))
	standby := standbyExec(true).
		On("pg_promote", pgexectest.Rows()).
		On("pg_is_in_recovery", pgexectest.Sequence(
			// prerequisites, sync gate x3, final verify, then the driver polls
			pgexectest.Rows(pgexec.Row{"is_in_recovery": true}),
			pgexectest.Rows(pgexec.Row{"is_in_recovery": true}),
			pgexectest.Rows(pgexec.Row{"is_in_recovery": true}),
			pgexectest.Rows(pgexec.Row{"is_in_recovery": true}),
			pgexectest.Rows(pgexec.Row{"is_in_recovery": true}),
			pgexectest.Rows(pgexec.Row{"is_in_recovery": true}),
			pgexectest.Rows(pgexec.Row{"is_in_recovery": false}),
		))

	log := logging.NewNopLogger()
	collector := replication.NewCollector(primary, standby, cfg, log)
	reporter := &fakeReporter{}
	m := New(cfg, Deps{
		Primary:   primary,
		Standby:   standby,
		Collector: collector,
		Gate:      syncgate.New(collector, cfg.SyncGate, log).WithClock(clock),
		Promoter:  promotion.NewDriver(standby, cfg.Cutover, log).WithClock(clock),
		Reporter:  reporter,
		Clock:     clock,
		Logger:    log,
	})

	run := m.Execute(context.Background())

	require.True(t, run.Success, run.Error)
	assert.Equal(t, 1, standby.CountContaining("pg_promote"))
	require.Len(t, reporter.calls, 1)
	require.NotNil(t, reporter.calls[0].final)
	assert.False(t, reporter.calls[0].final.InRecovery())
	// three sync polls 5s apart, 2s settle, one 1s promotion poll
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 2 * time.Second, time.Second}, clock.Sleeps())
}

func TestExecute_SlotInactiveEveryPoll(t *testing.T) {
	cfg := config.Default()
	clock := polltest.NewClock()
	primary := primaryExec().
		On("wal_position_bytes", pgexectest.Rows(pgexec.Row{"current_wal_lsn": "0/5000000", "wal_position_bytes": int64(83886080)})).
		On("pg_stat_replication", pgexectest.Rows(pgexec.Row{"state": "streaming", "byte_lag": int64(0)})).
		On("pg_replication_slots", pgexectest.Rows(pgexec.Row{"slot_name": "replica_slot", "active": false}))
	standby := standbyExec(true)

	log := logging.NewNopLogger()
	collector := replication.NewCollector(primary, standby, cfg, log)
	gate := &fakeGate{}
	reporter := &fakeReporter{}
	run := New(cfg, Deps{
		Primary: primary, Standby: standby, Collector: collector, Gate: gate,
		Promoter: &fakePromoter{}, Reporter: reporter, Clock: clock, Logger: log,
	}).Execute(context.Background())

	assert.Equal(t, "FAILED", run.Status())
	pre, _ := run.Result(StepPrerequisites)
	assert.Contains(t, pre.Issues, "Replication slot is not active")
	assert.Equal(t, 0, gate.calls)
	require.Len(t, reporter.calls, 1)
	assert.Equal(t, "FAILED", reporter.calls[0].run.Status())
}

func TestExecute_SlowFinalReadLeavesReporterBudget(t *testing.T) {
	h := newHarness(false)
	h.gate.err = errors.New("never synced")
	// prerequisites read succeeds, the read for the report hangs
	h.collector.hang = func(call int) bool { return call > 1 }

	m := h.machine()
	m.finalReadTimeout = 20 * time.Millisecond
	run := m.Execute(context.Background())

	assert.Equal(t, "FAILED", run.Status())
	call := h.assertReportedOnce(t, run)
	assert.Nil(t, call.final)
	assert.ErrorIs(t, call.finalErr, context.DeadlineExceeded)
	assert.NoError(t, call.ctxErr)
	assert.True(t, call.hasDeadline)

	rep, ok := run.Result(StepReport)
	require.True(t, ok)
	assert.Contains(t, rep.Detail, "final metrics unavailable")
}

func TestExecute_MachineIsSingleUse(t *testing.T) {
	h := newHarness(false)
	m := h.machine()

	first := m.Execute(context.Background())
	second := m.Execute(context.Background())

	assert.True(t, first.Success)
	assert.False(t, second.Success)
	assert.Equal(t, ErrAlreadyExecuted.Error(), second.Error)
	assert.Empty(t, second.Steps)
	assert.NotEqual(t, first.ID, second.ID)

	assert.Len(t, h.reporter.calls, 1)
	assert.Equal(t, 1, h.promoter.calls)
	assert.Equal(t, 1, h.gate.calls)
	assert.Equal(t, 1, h.primary.Closed())
	assert.Equal(t, 1, h.standby.Closed())
}

func TestExecute_FinalVerifyNeedsStream(t *testing.T) {
	h := newHarness(false)
	h.collector.fn = func(call int) (replication.Snapshot, error) {
		if call == 2 {
			// stream row gone, lags read as null
			return snapshot(func(o *replication.Observation) { o.StreamFound = false; o.ByteLag = nil }), nil
		}
		return snapshot(nil), nil
	}

	run := h.machine().Execute(context.Background())

	assert.Equal(t, StepFinalVerify, run.AbortedAt)
	fv, ok := run.Result(StepFinalVerify)
	require.True(t, ok)
	assert.Contains(t, fv.Detail, "no replication connection")
	assert.Equal(t, 0, h.promoter.calls)
}
