package monitor

import (
	"bufio"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koval-yurko/db-scales/pkg/config"
	"github.com/koval-yurko/db-scales/pkg/logging"
	"github.com/koval-yurko/db-scales/pkg/metrics"
	"github.com/koval-yurko/db-scales/pkg/poll/polltest"
	"github.com/koval-yurko/db-scales/pkg/replication"
)

type scriptedSource struct {
	clock *polltest.Clock
	errs  []error
	calls int
}

func (s *scriptedSource) Collect(ctx context.Context) (replication.Snapshot, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return replication.Snapshot{}, s.errs[i]
	}
	return inSyncSnapshot(s.clock.Now()), nil
}

func inSyncSnapshot(at time.Time) replication.Snapshot {
	state, active, recovery := replication.StateStreaming, true, true
	var lag int64
	replay := 0.0
	return replication.NewSnapshot(at, replication.Observation{
		StandbyInRecovery: &recovery,
		StreamFound:       true,
		StreamState:       &state,
		SlotActive:        &active,
		ByteLag:           &lag,
		ReplayLagSeconds:  &replay,
	}, config.Default().Warning)
}

func newMonitor(src *scriptedSource) (*Monitor, *polltest.Clock) {
	clock := polltest.NewClock()
	src.clock = clock
	return New(src, 5*time.Second, logging.NewNopLogger()).WithClock(clock), clock
}

func TestRunStopsAfterDuration(t *testing.T) {
	src := &scriptedSource{}
	mon, clock := newMonitor(src)

	var seen []replication.Snapshot
	mon.OnSnapshot(func(s replication.Snapshot) { seen = append(seen, s) })
	mon.Run(context.Background(), 12*time.Second)

	// passes at 0s, 5s, 10s, 15s; 15s is the first pass at or past the bound
	assert.Equal(t, int64(4), mon.Iterations())
	assert.Len(t, seen, 4)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, clock.Sleeps())

	latest, ok := mon.Latest()
	require.True(t, ok)
	assert.True(t, latest.IsInSync)
	assert.Equal(t, clock.Now(), latest.Timestamp)
}

func TestRunKeepsGoingAfterCollectionFailure(t *testing.T) {
	src := &scriptedSource{errs: []error{errors.New("connection refused"), nil}}
	mon, _ := newMonitor(src)
	reg := metrics.NewRegistry()
	mon.WithMetrics(reg)

	var failures []error
	mon.OnError(func(err error) { failures = append(failures, err) })
	mon.Run(context.Background(), 5*time.Second)

	assert.Equal(t, int64(2), mon.Iterations())
	assert.Equal(t, int64(1), mon.Failures())
	if assert.Len(t, failures, 1) {
		assert.EqualError(t, failures[0], "connection refused")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.MonitorIterationsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.MonitorIterationsTotal.WithLabelValues("success")))
	_, ok := mon.Latest()
	assert.True(t, ok)
}

func TestLatestBeforeAnyPass(t *testing.T) {
	mon, _ := newMonitor(&scriptedSource{})
	_, ok := mon.Latest()
	assert.False(t, ok)
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &scriptedSource{}
	mon, _ := newMonitor(src)

	ctx, cancel := context.WithCancel(context.Background())
	mon.OnSnapshot(func(replication.Snapshot) {
		if src.calls == 3 {
			cancel()
		}
	})
	mon.Run(ctx, 0)

	assert.Equal(t, int64(3), mon.Iterations())
}

func TestRunSavesSnapshots(t *testing.T) {
	dir := t.TempDir()
	log, err := replication.OpenSnapshotLog(dir)
	require.NoError(t, err)

	mon, _ := newMonitor(&scriptedSource{})
	mon.WithLog(log).Run(context.Background(), 10*time.Second)
	require.NoError(t, log.Close())

	f, err := os.Open(log.Path())
	require.NoError(t, err)
	defer f.Close()

	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
	}
	assert.Equal(t, 3, lines)
	assert.Equal(t, int64(3), log.Count())
}

func TestLatestReturnsIndependentCopy(t *testing.T) {
	mon, _ := newMonitor(&scriptedSource{})
	mon.Run(context.Background(), time.Nanosecond)

	first, ok := mon.Latest()
	require.True(t, ok)
	*first.ByteLag = 42
	first.Warnings = append(first.Warnings, "local")

	again, _ := mon.Latest()
	assert.Equal(t, int64(0), *again.ByteLag)
	assert.Empty(t, again.Warnings)
}
