// Package schedule runs named jobs on wall-clock cadences. A job never runs
// twice at once: a tick that finds the previous run still in flight is
// skipped, not queued.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukerupert/freshkeep/internal/model"
	"github.com/dukerupert/freshkeep/internal/telemetry"
)

var (
	ErrUnknownJob   = errors.New("schedule: unknown job")
	ErrDuplicateJob = errors.New("schedule: job already registered")
	ErrJobRunning   = errors.New("schedule: job is already running")
	ErrJobLocked    = errors.New("schedule: job is locked by another instance")
	ErrStopped      = errors.New("schedule: scheduler stopped")
)

// Task is the body of a job. It should return promptly once ctx is cancelled.
type Task func(ctx context.Context) error

// RunRecorder persists the outcome of each run.
type RunRecorder interface {
	RecordRun(ctx context.Context, run model.JobRun) error
	LastRuns(ctx context.Context) (map[string]model.JobRun, error)
}

// JobStatus is a snapshot of one job.
type JobStatus struct {
	Name         string     `json:"name"`
	Cadence      string     `json:"cadence"`
	Running      bool       `json:"running"`
	NextRun      *time.Time `json:"next_run,omitempty"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastRunID    string     `json:"last_run_id,omitempty"`
	LastDuration string     `json:"last_duration,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	Runs         int64      `json:"runs"`
	Skips        int64      `json:"skips"`
}

type job struct {
	name    string
	cadence Cadence
	task    Task

	running atomic.Bool
	runs    atomic.Int64
	skips   atomic.Int64

	mu           sync.Mutex
	next         time.Time
	lastRun      *time.Time
	lastRunID    string
	lastDuration time.Duration
	lastErr      string
}

type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLocker adds cross-process exclusion. ttl bounds how long a crashed
// holder keeps the lock.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(s *Scheduler) {
		s.locker = l
		s.lockTTL = ttl
	}
}

func WithRecorder(r RunRecorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *Scheduler) { s.tel = t }
}

type Scheduler struct {
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time
	locker   Locker
	lockTTL  time.Duration
	recorder RunRecorder
	tel      *telemetry.Telemetry

	mu      sync.RWMutex
	jobs    map[string]*job
	order   []string
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	loops   sync.WaitGroup
	runs    sync.WaitGroup
}

// New creates a scheduler that evaluates cadences in loc.
func New(loc *time.Location, logger *slog.Logger, opts ...Option) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		loc:     loc,
		logger:  logger,
		now:     time.Now,
		lockTTL: time.Hour,
		jobs:    make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tel == nil {
		s.tel = telemetry.Noop()
	}
	return s
}

func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// Register adds a job. Jobs registered after Start are scheduled immediately.
func (s *Scheduler) Register(name string, cadence Cadence, task Task) error {
	if err := cadence.Validate(); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	if task == nil {
		return fmt.Errorf("register %s: nil task", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("register %s: %w", name, ErrDuplicateJob)
	}
	j := &job{name: name, cadence: cadence, task: task}
	s.jobs[name] = j
	s.order = append(s.order, name)
	if s.ctx != nil && !s.stopped {
		s.startLoop(s.ctx, j)
	}
	return nil
}

// Start begins firing jobs on their cadences. Previously recorded runs are
// loaded first so Status survives restarts.
func (s *Scheduler) Start(ctx context.Context) {
	if s.recorder != nil {
		s.seedLastRuns(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, name := range s.order {
		s.startLoop(s.ctx, s.jobs[name])
	}
	s.logger.Info("scheduler started", "jobs", len(s.order), "timezone", s.loc.String())
}

// Stop cancels the context handed to running tasks and waits for them to
// return. Tasks are expected to finish their current unit of work first.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.loops.Wait()
	s.runs.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) seedLastRuns(ctx context.Context) {
	runs, err := s.recorder.LastRuns(ctx)
	if err != nil {
		s.logger.Error("load last job runs", "error", err)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, run := range runs {
		j, ok := s.jobs[name]
		if !ok {
			continue
		}
		j.mu.Lock()
		started := run.StartedAt
		j.lastRun = &started
		j.lastRunID = run.RunID
		j.lastDuration = run.FinishedAt.Sub(run.StartedAt)
		j.lastErr = run.Error
		j.mu.Unlock()
	}
}

// startLoop must be called with s.mu held.
func (s *Scheduler) startLoop(ctx context.Context, j *job) {
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		for {
			now := s.now()
			next := j.cadence.Next(now, s.loc)
			j.mu.Lock()
			j.next = next
			j.mu.Unlock()

			timer := time.NewTimer(next.Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				s.fire(ctx, j, "schedule")
			}
		}
	}()
}

// fire starts j in the background unless a run is already in flight.
func (s *Scheduler) fire(ctx context.Context, j *job, trigger string) error {
	if !j.running.CompareAndSwap(false, true) {
		j.skips.Add(1)
		s.tel.JobSkipped(ctx, j.name, "running")
		s.logger.Warn("job still running, skipping", "job", j.name, "trigger", trigger)
		return ErrJobRunning
	}

	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		j.running.Store(false)
		return ErrStopped
	}
	s.runs.Add(1)
	s.mu.RUnlock()

	go func() {
		defer s.runs.Done()
		defer j.running.Store(false)
		s.execute(ctx, j, trigger)
	}()
	return nil
}

// TriggerNow starts the named job out of band. It obeys the same exclusion as
// scheduled ticks and returns ErrJobRunning when a run is in flight.
func (s *Scheduler) TriggerNow(name string) error {
	j, err := s.job(name)
	if err != nil {
		return err
	}
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}
	return s.fire(ctx, j, "manual")
}

// Run executes the named job synchronously on ctx and returns its error.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	j, err := s.job(name)
	if err != nil {
		return err
	}
	if !j.running.CompareAndSwap(false, true) {
		j.skips.Add(1)
		s.tel.JobSkipped(ctx, j.name, "running")
		return ErrJobRunning
	}
	defer j.running.Store(false)
	return s.execute(ctx, j, "manual")
}

func (s *Scheduler) job(name string) (*job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return j, nil
}

func (s *Scheduler) execute(ctx context.Context, j *job, trigger string) error {
	runID := uuid.NewString()
	logger := s.logger.With("job", j.name, "run_id", runID, "trigger", trigger)

	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, j.name, s.lockTTL)
		if err != nil {
			logger.Error("acquire job lock", "error", err)
			return err
		}
		if !ok {
			j.skips.Add(1)
			s.tel.JobSkipped(ctx, j.name, "locked")
			logger.Warn("job locked by another instance, skipping")
			return ErrJobLocked
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Error("release job lock", "error", err)
			}
		}()
	}

	ctx, span := s.tel.Tracer.Start(ctx, "job "+j.name, trace.WithAttributes(
		attribute.String("job.name", j.name),
		attribute.String("job.run_id", runID),
		attribute.String("job.trigger", trigger),
	))
	defer span.End()

	logger.Info("job started")
	started := s.now()
	err := runTask(ctx, j.task)
	finished := s.now()
	elapsed := finished.Sub(started)

	j.runs.Add(1)
	j.mu.Lock()
	j.lastRun = &started
	j.lastRunID = runID
	j.lastDuration = elapsed
	j.lastErr = ""
	if err != nil {
		j.lastErr = err.Error()
	}
	j.mu.Unlock()

	run := model.JobRun{
		Name:       j.name,
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: finished,
		Status:     model.JobRunSucceeded,
	}
	if err != nil {
		run.Status = model.JobRunFailed
		run.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("job failed", "duration", elapsed, "error", err)
	} else {
		logger.Info("job finished", "duration", elapsed)
	}
	s.tel.JobFinished(ctx, j.name, elapsed.Seconds(), err != nil)

	if s.recorder != nil {
		if rerr := s.recorder.RecordRun(context.WithoutCancel(ctx), run); rerr != nil {
			logger.Error("record job run", "error", rerr)
		}
	}
	return err
}

// runTask converts a panic in task into an error.
func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return task(ctx)
}

// Status returns a snapshot of every job in registration order.
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.order))
	for _, name := range s.order {
		j := s.jobs[name]
		st := JobStatus{
			Name:    j.name,
			Cadence: j.cadence.String(),
			Running: j.running.Load(),
			Runs:    j.runs.Load(),
			Skips:   j.skips.Load(),
		}
		j.mu.Lock()
		if !j.next.IsZero() {
			next := j.next
			st.NextRun = &next
		}
		if j.lastRun != nil {
			last := *j.lastRun
			st.LastRun = &last
			st.LastRunID = j.lastRunID
			st.LastDuration = j.lastDuration.String()
			st.LastError = j.lastErr
		}
		j.mu.Unlock()
		out = append(out, st)
	}
	return out
}
