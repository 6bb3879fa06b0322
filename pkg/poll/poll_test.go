package poll_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koval-yurko/db-scales/pkg/poll"
	"github.com/koval-yurko/db-scales/pkg/poll/polltest"
)

func TestUntilSucceedsOnThirdPoll(t *testing.T) {
	clock := polltest.NewClock()
	var attempts []poll.Attempt

	res, err := poll.Until(context.Background(), clock, 5*time.Second, 20*time.Second,
		func(ctx context.Context, a poll.Attempt) (bool, error) {
			attempts = append(attempts, a)
			return a.N == 3, nil
		})

	require.NoError(t, err)
	assert.Equal(t, 3, res.Polls)
	assert.Equal(t, 10*time.Second, res.Elapsed)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, clock.Sleeps())
	assert.Equal(t, 10*time.Second, attempts[2].Elapsed)
}

func TestUntilTimesOut(t *testing.T) {
	clock := polltest.NewClock()

	res, err := poll.Until(context.Background(), clock, 5*time.Second, 12*time.Second,
		func(context.Context, poll.Attempt) (bool, error) { return false, nil })

	require.Error(t, err)
	assert.ErrorIs(t, err, poll.ErrTimeout)

	var te *poll.TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 12*time.Second, te.Bound)
	// polls at 0s, 5s, 10s; the check at 15s exceeds the bound
	assert.Equal(t, 3, res.Polls)
	assert.Equal(t, 15*time.Second, te.Waited)
}

func TestUntilBoundaryIsInclusive(t *testing.T) {
	clock := polltest.NewClock()
	polls := 0

	_, err := poll.Until(context.Background(), clock, time.Second, 2*time.Second,
		func(context.Context, poll.Attempt) (bool, error) {
			polls++
			return false, nil
		})

	assert.ErrorIs(t, err, poll.ErrTimeout)
	// elapsed 0, 1, 2 are all within the bound; only 3 exceeds it
	assert.Equal(t, 3, polls)
}

func TestUntilPropagatesPredicateError(t *testing.T) {
	clock := polltest.NewClock()
	boom := errors.New("primary unreachable")

	res, err := poll.Until(context.Background(), clock, time.Second, time.Minute,
		func(context.Context, poll.Attempt) (bool, error) { return false, boom })

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, poll.ErrTimeout)
	assert.Equal(t, 1, res.Polls)
	assert.Empty(t, clock.Sleeps())
}

func TestUntilInterruptedBetweenPolls(t *testing.T) {
	clock := polltest.NewClock()
	ctx, cancel := context.WithCancel(context.Background())

	var sawCancelled bool
	_, err := poll.Until(ctx, clock, time.Second, time.Minute,
		func(qctx context.Context, a poll.Attempt) (bool, error) {
			if a.N == 2 {
				cancel()
				// the query context must stay usable for the in-flight poll
				sawCancelled = qctx.Err() != nil
			}
			return false, nil
		})

	assert.ErrorIs(t, err, poll.ErrInterrupted)
	assert.False(t, sawCancelled)
}

func TestRealClockSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := poll.RealClock().Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
