package retention_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recallmem-go/pkg/retention"
)

type countingRunner struct {
	calls atomic.Int32
	err   error
}

func (r *countingRunner) Prune(ctx context.Context) (int64, error) {
	r.calls.Add(1)
	return 3, r.err
}

func TestScheduler_NextRun(t *testing.T) {
	s := retention.NewScheduler(&countingRunner{}, retention.ScheduleConfig{
		Hour:     3,
		Location: time.UTC,
	}, nil)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before run hour", time.Date(2024, 6, 1, 1, 0, 0, 0, time.UTC), time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)},
		{"exactly at run hour", time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC), time.Date(2024, 6, 2, 3, 0, 0, 0, time.UTC)},
		{"after run hour", time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), time.Date(2024, 6, 2, 3, 0, 0, 0, time.UTC)},
		{"month rollover", time.Date(2024, 6, 30, 23, 0, 0, 0, time.UTC), time.Date(2024, 7, 1, 3, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(s.NextRun(tt.now)), "got %v", s.NextRun(tt.now))
		})
	}
}

func TestScheduler_NextRunHonoursLocation(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	s := retention.NewScheduler(&countingRunner{}, retention.ScheduleConfig{Hour: 3, Location: loc}, nil)

	// 20:00 UTC is 04:00 next day in UTC+8, so the run is 03:00 the day after.
	next := s.NextRun(time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC))
	assert.True(t, time.Date(2024, 6, 3, 3, 0, 0, 0, loc).Equal(next), "got %v", next)
}

func TestScheduler_RunOnStart(t *testing.T) {
	runner := &countingRunner{}
	s := retention.NewScheduler(runner, retention.ScheduleConfig{
		Hour:       3,
		Location:   time.UTC,
		RunOnStart: true,
	}, nil, retention.WithClock(func() time.Time {
		return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	}))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()

	last, runs := s.Last()
	assert.Equal(t, 1, runs)
	assert.Equal(t, int64(3), last.Deleted)
	assert.NoError(t, last.Err)
}

func TestScheduler_FiresAtScheduledTime(t *testing.T) {
	runner := &countingRunner{}
	// The clock sits 10ms before the run time, so the timer fires almost at once.
	clock := func() time.Time { return time.Date(2024, 6, 1, 2, 59, 59, 990_000_000, time.UTC) }
	s := retention.NewScheduler(runner, retention.ScheduleConfig{Hour: 3, Location: time.UTC}, nil,
		retention.WithClock(clock))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runner.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestScheduler_FailureIsRecorded(t *testing.T) {
	runner := &countingRunner{err: errors.New("db down")}
	s := retention.NewScheduler(runner, retention.ScheduleConfig{RunOnStart: true, Location: time.UTC}, nil)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()

	last, _ := s.Last()
	assert.Error(t, last.Err)
}

func TestScheduler_StartTwiceAndStop(t *testing.T) {
	s := retention.NewScheduler(&countingRunner{}, retention.ScheduleConfig{Location: time.UTC}, nil)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.ErrorIs(t, s.Start(ctx), retention.ErrAlreadyRunning)

	s.Stop()
	s.Stop()

	require.NoError(t, s.Start(ctx))
	s.Stop()
}

// hangingRunner blocks until its context is cancelled.
type hangingRunner struct {
	started chan struct{}
}

func (r *hangingRunner) Prune(ctx context.Context) (int64, error) {
	close(r.started)
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestScheduler_StopCancelsInFlightPass(t *testing.T) {
	runner := &hangingRunner{started: make(chan struct{})}
	s := retention.NewScheduler(runner, retention.ScheduleConfig{Location: time.UTC, RunOnStart: true}, nil)

	require.NoError(t, s.Start(context.Background()))
	select {
	case <-runner.started:
	case <-time.After(time.Second):
		t.Fatal("pass did not start")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop waited on a hanging pass")
	}

	status, runs := s.Last()
	assert.Equal(t, 1, runs)
	assert.ErrorIs(t, status.Err, context.Canceled)
}

func TestScheduler_RunReturnsOnCancel(t *testing.T) {
	s := retention.NewScheduler(&countingRunner{}, retention.ScheduleConfig{Location: time.UTC}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
