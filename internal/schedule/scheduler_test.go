package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/freshkeep/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// slowTask blocks until release is closed and tracks peak concurrency.
type slowTask struct {
	release chan struct{}
	started chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
}

func newSlowTask() *slowTask {
	return &slowTask{release: make(chan struct{}), started: make(chan struct{}, 16)}
}

func (s *slowTask) run(ctx context.Context) error {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	s.calls.Add(1)
	s.started <- struct{}{}
	<-s.release
	return nil
}

func waitIdle(t *testing.T, s *Scheduler, name string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, st := range s.Status() {
			if st.Name == name {
				return !st.Running
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerSkipsOverlappingTicks(t *testing.T) {
	s := New(time.UTC, testLogger())
	task := newSlowTask()
	require.NoError(t, s.Register("scan", Hourly(0), task.run))

	j, err := s.job("scan")
	require.NoError(t, err)

	require.NoError(t, s.fire(context.Background(), j, "schedule"))
	<-task.started

	// Ticks arriving while the run is in flight are dropped.
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.ErrorIs(t, s.fire(context.Background(), j, "schedule"), ErrJobRunning)
		}()
	}
	wg.Wait()
	assert.ErrorIs(t, s.TriggerNow("scan"), ErrJobRunning)

	close(task.release)
	waitIdle(t, s, "scan")

	assert.Equal(t, int32(1), task.peak.Load())
	assert.Equal(t, int32(1), task.calls.Load())

	st := s.Status()[0]
	assert.Equal(t, int64(1), st.Runs)
	assert.Equal(t, int64(6), st.Skips)
	require.NotNil(t, st.LastRun)
	assert.NotEmpty(t, st.LastRunID)
}

func TestTriggerNowRunsAgainAfterCompletion(t *testing.T) {
	s := New(time.UTC, testLogger())
	var calls atomic.Int32
	done := make(chan struct{}, 2)
	require.NoError(t, s.Register("scan", Hourly(0), func(ctx context.Context) error {
		calls.Add(1)
		done <- struct{}{}
		return nil
	}))

	require.NoError(t, s.TriggerNow("scan"))
	<-done
	waitIdle(t, s, "scan")
	require.NoError(t, s.TriggerNow("scan"))
	<-done
	waitIdle(t, s, "scan")

	assert.Equal(t, int32(2), calls.Load())
}

func TestRunReturnsTaskError(t *testing.T) {
	s := New(time.UTC, testLogger())
	boom := errors.New("store unavailable")
	require.NoError(t, s.Register("scan", Hourly(0), func(ctx context.Context) error { return boom }))

	err := s.Run(context.Background(), "scan")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "store unavailable", s.Status()[0].LastError)
}

func TestRunRecoversPanic(t *testing.T) {
	s := New(time.UTC, testLogger())
	require.NoError(t, s.Register("scan", Hourly(0), func(ctx context.Context) error { panic("nil item") }))

	err := s.Run(context.Background(), "scan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job panicked: nil item")
	assert.False(t, s.Status()[0].Running)

	// The job is still usable afterwards.
	err = s.Run(context.Background(), "scan")
	assert.Error(t, err)
	assert.Equal(t, int64(2), s.Status()[0].Runs)
}

func TestRegisterErrors(t *testing.T) {
	s := New(time.UTC, testLogger())
	noop := func(ctx context.Context) error { return nil }

	require.NoError(t, s.Register("scan", Hourly(0), noop))
	assert.ErrorIs(t, s.Register("scan", Hourly(0), noop), ErrDuplicateJob)
	assert.Error(t, s.Register("bad", Hourly(99), noop))
	assert.Error(t, s.Register("nil", Hourly(0), nil))
	assert.ErrorIs(t, s.TriggerNow("missing"), ErrUnknownJob)
	assert.ErrorIs(t, s.Run(context.Background(), "missing"), ErrUnknownJob)
}

func TestScheduledTickFires(t *testing.T) {
	// The fake clock sits 20ms before the top of the hour.
	now := time.Date(2026, 3, 10, 9, 59, 59, 980_000_000, time.UTC)
	s := New(time.UTC, testLogger(), WithClock(func() time.Time { return now }))

	var calls atomic.Int32
	require.NoError(t, s.Register("scan", Hourly(0), func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}))

	s.Start(context.Background())
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	st := s.Status()[0]
	require.NotNil(t, st.NextRun)
	assert.Equal(t, time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC), *st.NextRun)
}

func TestStopWaitsForInFlightRun(t *testing.T) {
	s := New(time.UTC, testLogger())
	started := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, s.Register("scan", Hourly(0), func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return ctx.Err()
	}))

	s.Start(context.Background())
	require.NoError(t, s.TriggerNow("scan"))
	<-started

	s.Stop()
	assert.True(t, finished.Load(), "Stop returned before the run finished")
	assert.ErrorIs(t, s.TriggerNow("scan"), ErrStopped)
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []model.JobRun
	last map[string]model.JobRun
}

func (f *fakeRecorder) RecordRun(ctx context.Context, run model.JobRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeRecorder) LastRuns(ctx context.Context) (map[string]model.JobRun, error) {
	return f.last, nil
}

func TestRecorderPersistsAndSeeds(t *testing.T) {
	prev := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	rec := &fakeRecorder{last: map[string]model.JobRun{
		"scan": {Name: "scan", RunID: "old-run", StartedAt: prev, FinishedAt: prev.Add(time.Second), Status: model.JobRunFailed, Error: "old failure"},
	}}
	s := New(time.UTC, testLogger(), WithRecorder(rec))
	require.NoError(t, s.Register("scan", Hourly(0), func(ctx context.Context) error { return nil }))

	s.Start(context.Background())
	defer s.Stop()

	st := s.Status()[0]
	require.NotNil(t, st.LastRun)
	assert.Equal(t, prev, *st.LastRun)
	assert.Equal(t, "old-run", st.LastRunID)
	assert.Equal(t, "old failure", st.LastError)

	require.NoError(t, s.Run(context.Background(), "scan"))
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.runs, 1)
	assert.Equal(t, model.JobRunSucceeded, rec.runs[0].Status)
	assert.NotEqual(t, "old-run", rec.runs[0].RunID)
}

type denyLocker struct{}

func (denyLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	return nil, false, nil
}

func TestLockedJobIsSkipped(t *testing.T) {
	s := New(time.UTC, testLogger(), WithLocker(denyLocker{}, time.Minute))
	var calls atomic.Int32
	require.NoError(t, s.Register("scan", Hourly(0), func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}))

	assert.ErrorIs(t, s.Run(context.Background(), "scan"), ErrJobLocked)
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, int64(1), s.Status()[0].Skips)
}
