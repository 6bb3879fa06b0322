// Package poll provides the single bounded poll-then-sleep loop shared by the
// sync gate and the promotion driver.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout marks a bounded wait that made no qualifying progress in time
	ErrTimeout = errors.New("timed out")
	// ErrInterrupted marks a wait abandoned because its context was cancelled
	ErrInterrupted = errors.New("interrupted")
)

// TimeoutError carries the elapsed time and the configured bound
type TimeoutError struct {
	Waited time.Duration
	Bound  time.Duration
	Polls  int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no success after %d polls in %s (bound %s)", e.Polls, e.Waited.Round(time.Millisecond), e.Bound)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Attempt is passed to the predicate on every poll
type Attempt struct {
	N       int           // 1-based poll number
	Elapsed time.Duration // wall time since the wait started, measured before this poll
}

// Predicate evaluates one poll. A non-nil error aborts the wait immediately.
type Predicate func(ctx context.Context, a Attempt) (bool, error)

// Result summarizes a finished wait
type Result struct {
	Polls   int
	Elapsed time.Duration
}

// Until polls pred every interval until it reports true, it fails, or more than
// maxWait has elapsed. Elapsed time is checked only at poll boundaries: a poll
// that starts inside the bound runs to completion. The predicate receives a
// context detached from cancellation so an in-flight query is never cut off;
// cancellation of ctx is observed between polls and during the sleep.
func Until(ctx context.Context, clock Clock, interval, maxWait time.Duration, pred Predicate) (Result, error) {
	start := clock.Now()
	queryCtx := context.WithoutCancel(ctx)

	for n := 1; ; n++ {
		elapsed := clock.Now().Sub(start)
		if err := ctx.Err(); err != nil {
			return Result{Polls: n - 1, Elapsed: elapsed}, fmt.Errorf("%w: %v", ErrInterrupted, err)
		}
		if elapsed > maxWait {
			return Result{Polls: n - 1, Elapsed: elapsed}, &TimeoutError{Waited: elapsed, Bound: maxWait, Polls: n - 1}
		}

		ok, err := pred(queryCtx, Attempt{N: n, Elapsed: elapsed})
		if err != nil {
			return Result{Polls: n, Elapsed: clock.Now().Sub(start)}, err
		}
		if ok {
			return Result{Polls: n, Elapsed: clock.Now().Sub(start)}, nil
		}

		if err := clock.Sleep(ctx, interval); err != nil {
			return Result{Polls: n, Elapsed: clock.Now().Sub(start)}, fmt.Errorf("%w: %v", ErrInterrupted, err)
		}
	}
}

// Sleep is a single interruptible delay on clock, wrapped as ErrInterrupted
func Sleep(ctx context.Context, clock Clock, d time.Duration) error {
	if err := clock.Sleep(ctx, d); err != nil {
		return fmt.Errorf("%w: %v", ErrInterrupted, err)
	}
	return nil
}
