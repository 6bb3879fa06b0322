// Package cutover sequences the promotion of a standby into the primary and
// always reports how the attempt ended.
package cutover

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/koval-yurko/db-scales/pkg/config"
	"github.com/koval-yurko/db-scales/pkg/logging"
	"github.com/koval-yurko/db-scales/pkg/metrics"
	"github.com/koval-yurko/db-scales/pkg/pgexec"
	"github.com/koval-yurko/db-scales/pkg/poll"
	"github.com/koval-yurko/db-scales/pkg/promotion"
	"github.com/koval-yurko/db-scales/pkg/replication"
	"github.com/koval-yurko/db-scales/pkg/syncgate"
)

const (
	// FinalReadTimeout bounds the metrics read taken for the report
	FinalReadTimeout = 10 * time.Second
	// ReportTimeout bounds the reporter once the final read is done
	ReportTimeout = time.Minute
)

// Collector produces fresh replication snapshots
type Collector interface {
	Collect(ctx context.Context) (replication.Snapshot, error)
}

// Gate waits for sustained sync
type Gate interface {
	WaitUntilSynced(ctx context.Context, maxWait, interval time.Duration) (syncgate.Result, error)
}

// Promoter promotes the standby
type Promoter interface {
	Promote(ctx context.Context) (promotion.Result, error)
}

// Reporter receives the finished run exactly once. final is nil when the
// last metrics read failed, with finalErr describing why. Implementations
// handle their own output errors.
type Reporter interface {
	Report(ctx context.Context, run Run, final *replication.Snapshot, finalErr error)
}

// Deps are the collaborators a Machine drives
type Deps struct {
	Primary   pgexec.Executor
	Standby   pgexec.Executor
	Collector Collector
	Gate      Gate
	Promoter  Promoter
	Reporter  Reporter
	Clock     poll.Clock
	Logger    logging.Logger
	Metrics   *metrics.Registry
}

// Machine is single use: REPORT closes both executors, so only the first
// Execute runs the sequence. Later calls return a failed run without touching
// the databases.
type Machine struct {
	cfg config.Config
	Deps

	finalReadTimeout time.Duration
	reportTimeout    time.Duration

	executed         bool
	promoteAttempted bool
}

// New creates a machine for one cutover configuration
func New(cfg config.Config, deps Deps) *Machine {
	if deps.Clock == nil {
		deps.Clock = poll.RealClock()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	deps.Logger = deps.Logger.With(logging.Component("cutover"))
	return &Machine{
		cfg:              cfg,
		Deps:             deps,
		finalReadTimeout: FinalReadTimeout,
		reportTimeout:    ReportTimeout,
	}
}

type stepFunc func(ctx context.Context) stepOutput

type stepOutput struct {
	detail string
	issues []string
	err    error
}

func (m *Machine) steps() map[Step]stepFunc {
	return map[Step]stepFunc{
		StepPrerequisites:      m.checkPrerequisites,
		StepSyncWait:           m.waitForSync,
		StepFreezeWrites:       m.freezeWrites,
		StepFinalVerify:        m.verifyFinalSync,
		StepPromote:            m.promote,
		StepValidateNewPrimary: m.validateNewPrimary,
		StepDemoteOldPrimary:   m.demoteOldPrimary,
	}
}

// Execute runs every step in order. The report is produced and both
// executors are closed on every exit path, including a panic inside a step
// and cancellation of ctx.
func (m *Machine) Execute(ctx context.Context) (run Run) {
	run = Run{
		ID:     uuid.NewString(),
		DryRun: m.cfg.Cutover.DryRun,
		Thresholds: Thresholds{
			MaxWait:             m.cfg.Cutover.MaxWait,
			SyncCheckInterval:   m.cfg.Cutover.SyncCheckInterval,
			ConsecutiveRequired: config.ConsecutiveRequired,
			SyncGate:            m.cfg.SyncGate,
			FinalVerify:         m.cfg.FinalVerify,
		},
		Start: m.Clock.Now(),
	}
	log := m.Logger.With(logging.RunID(run.ID))

	if m.executed {
		run.End = run.Start
		run.Error = ErrAlreadyExecuted.Error()
		log.Error("cutover not started", logging.Error(ErrAlreadyExecuted))
		return run
	}
	m.executed = true

	log.Info("starting cutover", logging.Bool("dry_run", run.DryRun))
	if run.DryRun {
		log.Warn("dry run mode, no changes will be made")
	}

	defer func() {
		run = m.report(ctx, log, run)
	}()
	defer func() {
		if r := recover(); r != nil {
			current := Sequence[len(run.Steps)]
			err := fmt.Errorf("%w in %s: %v", ErrUnexpected, current, r)
			log.Error("cutover failed with unexpected error", logging.Step(string(current)), logging.Error(err))
			run.Steps = append(run.Steps, StepResult{Step: current, Outcome: OutcomeFatalFailure, Detail: err.Error()})
			m.abort(&run, current, err)
		}
	}()

	fns := m.steps()
	for _, step := range Sequence[:len(Sequence)-1] {
		res := m.runStep(ctx, log, step, fns[step])
		run.Steps = append(run.Steps, res)
		if res.Outcome == OutcomeFatalFailure {
			m.abort(&run, step, errors.New(res.Detail))
			return run
		}
	}

	run.Success = true
	log.Info("cutover completed successfully")
	return run
}

func (m *Machine) runStep(ctx context.Context, log logging.Logger, step Step, fn stepFunc) StepResult {
	log = log.With(logging.Step(string(step)))
	start := m.Clock.Now()

	var out stepOutput
	if err := ctx.Err(); err != nil {
		out.err = fmt.Errorf("%w: %v", poll.ErrInterrupted, err)
	} else {
		log.Info("step started")
		out = fn(ctx)
	}

	res := StepResult{
		Step:     step,
		Outcome:  OutcomeOK,
		Detail:   out.detail,
		Issues:   out.issues,
		Duration: m.Clock.Now().Sub(start),
	}
	switch {
	case out.err == nil:
		log.Info("step passed", logging.Duration("duration", res.Duration))
	case step.Fatal():
		res.Outcome = OutcomeFatalFailure
		res.Detail = out.err.Error()
		log.Error("step failed, aborting cutover", logging.Error(out.err))
		for _, issue := range out.issues {
			log.Error("issue", logging.String("issue", issue))
		}
	default:
		res.Outcome = OutcomeNonFatalFailure
		res.Detail = out.err.Error()
		log.Warn("step had issues (non-fatal)", logging.Error(out.err))
	}

	if m.Metrics != nil {
		m.Metrics.RecordCutoverStep(string(step), string(res.Outcome), res.Duration)
	}
	return res
}

// abort records the failing step and marks everything up to REPORT skipped
func (m *Machine) abort(run *Run, at Step, err error) {
	run.Success = false
	run.AbortedAt = at
	run.Error = err.Error()
	for _, step := range Sequence[len(run.Steps) : len(Sequence)-1] {
		run.Steps = append(run.Steps, StepResult{Step: step, Outcome: OutcomeSkipped})
	}
}

// report takes one last snapshot, hands the frozen run to the reporter and
// releases both executors. It runs on a context that ignores cancellation so
// an interrupted run still gets its report.
func (m *Machine) report(ctx context.Context, log logging.Logger, run Run) Run {
	start := m.Clock.Now()
	defer func() {
		if m.Primary != nil {
			m.Primary.Close()
		}
		if m.Standby != nil {
			m.Standby.Close()
		}
	}()

	readCtx, cancelRead := context.WithTimeout(context.WithoutCancel(ctx), m.finalReadTimeout)
	defer cancelRead()

	var final *replication.Snapshot
	snap, err := m.finalRead(readCtx)
	detail := "final metrics collected"
	if err != nil {
		detail = "final metrics unavailable: " + err.Error()
		log.Warn("could not fetch final metrics", logging.Error(err))
	} else {
		final = &snap
	}

	run.Steps = append(run.Steps, StepResult{
		Step:     StepReport,
		Outcome:  OutcomeOK,
		Detail:   detail,
		Duration: m.Clock.Now().Sub(start),
	})
	run.End = m.Clock.Now()

	if m.Metrics != nil {
		m.Metrics.RecordCutoverRun(run.DryRun, run.Success)
	}
	log.Info("cutover finished",
		logging.String("status", run.Status()),
		logging.Duration("duration", run.Duration()),
	)

	frozen := run.clone()
	if m.Reporter != nil {
		// A slow final read must not eat into the reporter's budget
		reportCtx, cancelReport := context.WithTimeout(context.WithoutCancel(ctx), m.reportTimeout)
		defer cancelReport()
		m.Reporter.Report(reportCtx, frozen, final, err)
	}
	return frozen
}

func (m *Machine) finalRead(ctx context.Context) (snap replication.Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrUnexpected, r)
		}
	}()
	return m.Collector.Collect(ctx)
}

// Steps that query directly detach from cancellation; an interrupt is seen
// at the next step boundary instead of mid-query.

func (m *Machine) checkPrerequisites(ctx context.Context) stepOutput {
	ctx = context.WithoutCancel(ctx)
	var issues []string

	if _, err := pgexec.QueryRow(ctx, m.Primary, "SELECT 1"); err != nil {
		issues = append(issues, fmt.Sprintf("Cannot connect to primary: %v", err))
	}
	if _, err := pgexec.QueryRow(ctx, m.Standby, "SELECT 1"); err != nil {
		issues = append(issues, fmt.Sprintf("Cannot connect to replica: %v", err))
	}

	snap, err := m.Collector.Collect(ctx)
	if err != nil {
		issues = append(issues, fmt.Sprintf("Cannot read replication status: %v", err))
	} else {
		if !snap.InRecovery() {
			issues = append(issues, "Replica is not in recovery mode")
		}
		if !snap.Streaming() {
			issues = append(issues, fmt.Sprintf("Replication state is %s, expected 'streaming'", snap.StateString()))
		}
		if !snap.SlotIsActive() {
			issues = append(issues, "Replication slot is not active")
		}
	}

	if len(issues) > 0 {
		return stepOutput{issues: issues, err: fmt.Errorf("%w: %d issues found", ErrPrerequisites, len(issues))}
	}
	return stepOutput{detail: "all prerequisites met"}
}

func (m *Machine) waitForSync(ctx context.Context) stepOutput {
	res, err := m.Gate.WaitUntilSynced(ctx, m.cfg.Cutover.MaxWait, m.cfg.Cutover.SyncCheckInterval)
	if err != nil {
		return stepOutput{err: fmt.Errorf("failed to achieve replication sync: %w", err)}
	}
	return stepOutput{detail: fmt.Sprintf("in sync for %d consecutive checks after %s", res.Consecutive, res.Elapsed.Round(time.Millisecond))}
}

func (m *Machine) freezeWrites(ctx context.Context) stepOutput {
	if m.cfg.Cutover.DryRun {
		return stepOutput{detail: "[DRY RUN] would stop write traffic"}
	}
	m.Logger.Warn("coordinate with the application layer to stop writes")
	return stepOutput{detail: "write traffic assumed stopped externally"}
}

func (m *Machine) verifyFinalSync(ctx context.Context) stepOutput {
	fv := m.cfg.FinalVerify
	if err := poll.Sleep(ctx, m.Clock, fv.SettleDelay); err != nil {
		return stepOutput{err: err}
	}

	snap, err := m.Collector.Collect(context.WithoutCancel(ctx))
	if err != nil {
		return stepOutput{err: fmt.Errorf("%w: %w", ErrFinalVerify, err)}
	}

	byteLag, replay := snap.ByteLagOrZero(), snap.ReplayLag()
	detail := fmt.Sprintf("byte lag %dB, replay lag %.3fs", byteLag, replay.Seconds())
	switch {
	case !snap.StreamFound:
		return stepOutput{detail: detail, err: fmt.Errorf("%w: no replication connection", ErrFinalVerify)}
	case byteLag > fv.MaxBytes || replay >= fv.MaxReplayLag:
		return stepOutput{detail: detail, err: fmt.Errorf("%w: %s", ErrFinalVerify, detail)}
	}
	return stepOutput{detail: detail}
}

func (m *Machine) promote(ctx context.Context) stepOutput {
	if m.cfg.Cutover.DryRun {
		return stepOutput{detail: "[DRY RUN] would promote replica"}
	}
	if m.promoteAttempted {
		return stepOutput{err: promotion.ErrAlreadyAttempted}
	}
	m.promoteAttempted = true

	res, err := m.Promoter.Promote(ctx)
	if err != nil {
		return stepOutput{err: err}
	}
	return stepOutput{detail: fmt.Sprintf("promoted after %s", res.Elapsed.Round(time.Millisecond))}
}

// TestWriteQuery is the validation write issued against the new primary
const TestWriteQuery = `
INSERT INTO audit_log (table_name, record_id, action, changed_data)
VALUES ('cutover_test', 0, 'CUTOVER_VALIDATION', jsonb_build_object('timestamp', NOW()::text))`

const rowCountQuery = `
SELECT
    (SELECT COUNT(*) FROM users) AS users,
    (SELECT COUNT(*) FROM products) AS products,
    (SELECT COUNT(*) FROM orders) AS orders`

func (m *Machine) validateNewPrimary(ctx context.Context) stepOutput {
	ctx = context.WithoutCancel(ctx)
	dry := m.cfg.Cutover.DryRun
	var notes []string

	row, err := pgexec.QueryRow(ctx, m.Standby, replication.RecoveryQuery)
	if err != nil {
		return stepOutput{err: err}
	}
	inRecovery, err := row.Bool("is_in_recovery")
	if err != nil {
		return stepOutput{err: err}
	}
	stillRecovering := inRecovery == nil || *inRecovery
	switch {
	case stillRecovering && dry:
		notes = append(notes, "[DRY RUN] standby still in recovery")
	case stillRecovering:
		return stepOutput{err: ErrStillInRecovery}
	}

	if dry {
		notes = append(notes, "[DRY RUN] would test write to new primary")
	} else {
		if err := pgexec.Exec(ctx, m.Standby, TestWriteQuery); err != nil {
			return stepOutput{err: fmt.Errorf("test write failed: %w", err)}
		}
		notes = append(notes, "test write successful")
	}

	stats, err := pgexec.QueryRow(ctx, m.Standby, rowCountQuery)
	if err != nil {
		return stepOutput{err: fmt.Errorf("failed to read table statistics: %w", err)}
	}
	counts := make([]string, 0, 3)
	for _, table := range []string{"users", "products", "orders"} {
		n, err := stats.Int64(table)
		if err != nil {
			return stepOutput{err: err}
		}
		c := "N/A"
		if n != nil {
			c = fmt.Sprint(*n)
		}
		counts = append(counts, table+"="+c)
	}
	notes = append(notes, fmt.Sprintf("row counts %v", counts))

	return stepOutput{detail: strings.Join(notes, "; ")}
}

// Demotion statements for the old primary
const (
	ReadOnlyQuery     = "ALTER SYSTEM SET default_transaction_read_only = on"
	ReloadConfigQuery = "SELECT pg_reload_conf()"
)

func (m *Machine) demoteOldPrimary(ctx context.Context) stepOutput {
	if m.cfg.Cutover.DryRun {
		return stepOutput{detail: "[DRY RUN] would set old primary read-only"}
	}
	ctx = context.WithoutCancel(ctx)
	if err := pgexec.Exec(ctx, m.Primary, ReadOnlyQuery); err != nil {
		return stepOutput{err: fmt.Errorf("old primary demotion failed: %w", err)}
	}
	if err := pgexec.Exec(ctx, m.Primary, ReloadConfigQuery); err != nil {
		return stepOutput{err: fmt.Errorf("old primary config reload failed: %w", err)}
	}
	return stepOutput{detail: "old primary set to read-only mode"}
}

