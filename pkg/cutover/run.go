package cutover

import (
	"time"

	"github.com/koval-yurko/db-scales/pkg/config"
)

// Step names one stage of the cutover sequence
type Step string

const (
	StepPrerequisites      Step = "PREREQUISITES"
	StepSyncWait           Step = "SYNC_WAIT"
	StepFreezeWrites       Step = "FREEZE_WRITES"
	StepFinalVerify        Step = "FINAL_VERIFY"
	StepPromote            Step = "PROMOTE"
	StepValidateNewPrimary Step = "VALIDATE_NEW_PRIMARY"
	StepDemoteOldPrimary   Step = "DEMOTE_OLD_PRIMARY"
	StepReport             Step = "REPORT"
)

// Sequence is the fixed execution order
var Sequence = []Step{
	StepPrerequisites,
	StepSyncWait,
	StepFreezeWrites,
	StepFinalVerify,
	StepPromote,
	StepValidateNewPrimary,
	StepDemoteOldPrimary,
	StepReport,
}

// Fatal reports whether a failure of s aborts the run
func (s Step) Fatal() bool {
	return s != StepDemoteOldPrimary
}

// Outcome is the result kind of a step
type Outcome string

const (
	OutcomeOK              Outcome = "ok"
	OutcomeFatalFailure    Outcome = "fatal-failure"
	OutcomeNonFatalFailure Outcome = "non-fatal-failure"
	OutcomeSkipped         Outcome = "skipped"
)

// Failed reports whether the outcome is either failure kind
func (o Outcome) Failed() bool {
	return o == OutcomeFatalFailure || o == OutcomeNonFatalFailure
}

// StepResult records how one step ended
type StepResult struct {
	Step     Step          `json:"step"`
	Outcome  Outcome       `json:"outcome"`
	Detail   string        `json:"detail,omitempty"`
	Issues   []string      `json:"issues,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Thresholds are the gate settings the run was started with
type Thresholds struct {
	MaxWait             time.Duration            `json:"max_wait"`
	SyncCheckInterval   time.Duration            `json:"sync_check_interval"`
	ConsecutiveRequired int                      `json:"consecutive_required"`
	SyncGate            config.LagThresholds     `json:"sync_gate"`
	FinalVerify         config.FinalVerifyConfig `json:"final_verify"`
}

// Run is one orchestration attempt. The machine fills it while executing and
// hands it to the reporter by value once it is final.
type Run struct {
	ID         string       `json:"id"`
	DryRun     bool         `json:"dry_run"`
	Thresholds Thresholds   `json:"thresholds"`
	Start      time.Time    `json:"start"`
	End        time.Time    `json:"end"`
	Success    bool         `json:"success"`
	Steps      []StepResult `json:"steps"`
	// AbortedAt names the fatal step that stopped the run, empty on success
	AbortedAt Step   `json:"aborted_at,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Status is SUCCESS or FAILED
func (r Run) Status() string {
	if r.Success {
		return "SUCCESS"
	}
	return "FAILED"
}

// Duration is the wall time between start and end
func (r Run) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Result returns the recorded result of s, if the step was reached
func (r Run) Result(s Step) (StepResult, bool) {
	for _, sr := range r.Steps {
		if sr.Step == s {
			return sr, true
		}
	}
	return StepResult{}, false
}

func (r Run) clone() Run {
	out := r
	out.Steps = make([]StepResult, len(r.Steps))
	for i, sr := range r.Steps {
		out.Steps[i] = sr
		out.Steps[i].Issues = append([]string(nil), sr.Issues...)
	}
	return out
}
