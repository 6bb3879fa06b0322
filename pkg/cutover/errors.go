package cutover

import "errors"

var (
	// ErrPrerequisites means at least one precondition for cutover failed
	ErrPrerequisites = errors.New("prerequisites check failed")
	// ErrFinalVerify means the last lag check before promotion failed
	ErrFinalVerify = errors.New("final sync verification failed")
	// ErrStillInRecovery means the promoted standby still reports recovery
	ErrStillInRecovery = errors.New("new primary is still in recovery mode")
	// ErrAlreadyExecuted is returned by a second Execute on the same Machine
	ErrAlreadyExecuted = errors.New("cutover already executed by this machine")
	// ErrUnexpected wraps a panic recovered from a step
	ErrUnexpected = errors.New("unexpected error")
)
