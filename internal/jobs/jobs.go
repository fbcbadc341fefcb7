// Package jobs builds the scheduled jobs and fans per-user work out over a
// bounded worker pool.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/freshkeep/internal/expiry"
	"github.com/dukerupert/freshkeep/internal/maintenance"
	"github.com/dukerupert/freshkeep/internal/model"
	"github.com/dukerupert/freshkeep/internal/notify"
	"github.com/dukerupert/freshkeep/internal/schedule"
)

const (
	ExpiryScan       = "expiry-scan"
	AutoExpire       = "auto-expire"
	RetentionCleanup = "retention-cleanup"
	WeeklyDigest     = "weekly-digest"
	MonthlySummary   = "monthly-summary"

	DefaultWorkers = 4

	// maxChannelErrors bounds the channel errors quoted in a summary.
	maxChannelErrors = 10
)

// DefaultCadences are used for any job not overridden.
var DefaultCadences = map[string]schedule.Cadence{
	ExpiryScan:       schedule.Hourly(0),
	AutoExpire:       schedule.DailyAt(0, 5),
	RetentionCleanup: schedule.DailyAt(3, 0),
	WeeklyDigest:     schedule.WeeklyAt(time.Monday, 8, 0),
	MonthlySummary:   schedule.MonthlyAt(1, 7, 0),
}

// Names lists the jobs in registration order.
var Names = []string{ExpiryScan, AutoExpire, RetentionCleanup, WeeklyDigest, MonthlySummary}

var ErrUnknownJob = errors.New("jobs: unknown job")

type UserLister interface {
	ListActiveUsers(ctx context.Context) ([]model.User, error)
}

type Dispatcher interface {
	RunForUser(ctx context.Context, u model.User) (notify.UserResult, error)
	SendDigest(ctx context.Context, u model.User, end time.Time) (notify.DigestResult, error)
	SendMonthlySummary(ctx context.Context, u model.User, monthStart time.Time) (*model.Notification, error)
}

type Maintenance interface {
	AutoExpire(ctx context.Context) (int64, error)
	Cleanup(ctx context.Context) (maintenance.CleanupResult, error)
}

// Summary is the outcome of one job run.
type Summary struct {
	Job             string                     `json:"job"`
	StartedAt       time.Time                  `json:"started_at"`
	Duration        string                     `json:"duration"`
	Users           int                        `json:"users"`
	AlertsSent      int                        `json:"alerts_sent"`
	Skipped         int                        `json:"skipped"`
	Errors          int                        `json:"errors"`
	ChannelFailures int                        `json:"channel_failures"`
	ChannelError    string                     `json:"channel_error,omitempty"`
	Interrupted     bool                       `json:"interrupted,omitempty"`
	Expired         int64                      `json:"expired,omitempty"`
	Cleanup         *maintenance.CleanupResult `json:"cleanup,omitempty"`

	channelErr error
}

func (s *Summary) add(o Summary) {
	s.Users += o.Users
	s.AlertsSent += o.AlertsSent
	s.Skipped += o.Skipped
	s.Errors += o.Errors
	s.ChannelFailures += o.ChannelFailures
	for _, err := range multierr.Errors(o.channelErr) {
		if len(multierr.Errors(s.channelErr)) >= maxChannelErrors {
			break
		}
		s.channelErr = multierr.Append(s.channelErr, err)
	}
}

type Runner struct {
	users    UserLister
	dispatch Dispatcher
	maint    Maintenance
	workers  int
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	last map[string]Summary
}

// NewRunner returns a runner. workers <= 0 means DefaultWorkers.
func NewRunner(users UserLister, dispatch Dispatcher, maint Maintenance, workers int, loc *time.Location, logger *slog.Logger) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Runner{
		users:    users,
		dispatch: dispatch,
		maint:    maint,
		workers:  workers,
		loc:      loc,
		logger:   logger.With("component", "jobs"),
		now:      time.Now,
		last:     make(map[string]Summary),
	}
}

func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// Register adds every job to s. overrides replaces the default cadence of
// the jobs it names; naming an unknown job is an error.
func (r *Runner) Register(s *schedule.Scheduler, overrides map[string]schedule.Cadence) error {
	for name := range overrides {
		if _, ok := DefaultCadences[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownJob, name)
		}
	}
	for _, name := range Names {
		cadence := DefaultCadences[name]
		if c, ok := overrides[name]; ok {
			cadence = c
		}
		task, err := r.Task(name)
		if err != nil {
			return err
		}
		if err := s.Register(name, cadence, task); err != nil {
			return err
		}
	}
	return nil
}

// Task returns the scheduler task for the named job.
func (r *Runner) Task(name string) (schedule.Task, error) {
	if _, ok := DefaultCadences[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return func(ctx context.Context) error {
		_, err := r.Run(ctx, name)
		return err
	}, nil
}

// Run executes the named job once and records its summary.
func (r *Runner) Run(ctx context.Context, name string) (Summary, error) {
	started := r.now()
	var (
		sum Summary
		err error
	)
	switch name {
	case ExpiryScan:
		sum, err = r.expiryScan(ctx)
	case AutoExpire:
		sum.Expired, err = r.maint.AutoExpire(ctx)
	case RetentionCleanup:
		var res maintenance.CleanupResult
		res, err = r.maint.Cleanup(ctx)
		sum.Cleanup = &res
	case WeeklyDigest:
		sum, err = r.weeklyDigest(ctx)
	case MonthlySummary:
		sum, err = r.monthlySummary(ctx)
	default:
		return Summary{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	sum.Job = name
	sum.StartedAt = started
	sum.Duration = r.now().Sub(started).String()

	r.mu.Lock()
	r.last[name] = sum
	r.mu.Unlock()
	return sum, err
}

// LastSummaries returns the most recent summary of each job that has run.
func (r *Runner) LastSummaries() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Summary, 0, len(r.last))
	for _, s := range r.last {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

func (r *Runner) expiryScan(ctx context.Context) (Summary, error) {
	return r.forEachUser(ctx, ExpiryScan, func(ctx context.Context, u model.User) (Summary, error) {
		res, err := r.dispatch.RunForUser(ctx, u)
		sum := Summary{
			AlertsSent:      res.AlertsSent,
			Skipped:         res.Skipped,
			Errors:          res.Errors,
			ChannelFailures: len(res.ChannelFailures),
			channelErr:      notify.FailuresError(res.ChannelFailures),
		}
		return sum, err
	})
}

func (r *Runner) weeklyDigest(ctx context.Context) (Summary, error) {
	end := r.now().In(r.loc)
	return r.forEachUser(ctx, WeeklyDigest, func(ctx context.Context, u model.User) (Summary, error) {
		res, err := r.dispatch.SendDigest(ctx, u, end)
		var sum Summary
		if res.Created {
			sum.AlertsSent++
		} else if err == nil {
			sum.Skipped++
		}
		return sum, err
	})
}

func (r *Runner) monthlySummary(ctx context.Context) (Summary, error) {
	now := r.now().In(r.loc)
	monthStart := expiry.StartOfDay(now).AddDate(0, 0, 1-now.Day())
	return r.forEachUser(ctx, MonthlySummary, func(ctx context.Context, u model.User) (Summary, error) {
		n, err := r.dispatch.SendMonthlySummary(ctx, u, monthStart)
		var sum Summary
		if n != nil {
			sum.AlertsSent++
		} else if err == nil {
			sum.Skipped++
		}
		return sum, err
	})
}

type userFunc func(ctx context.Context, u model.User) (Summary, error)

// forEachUser runs fn for every active user on at most r.workers goroutines.
// Once ctx is cancelled no further users are started; users already started
// finish on a context that is not cancelled. A failing user is logged and
// counted, never fatal to the run.
func (r *Runner) forEachUser(ctx context.Context, job string, fn userFunc) (Summary, error) {
	var total Summary
	users, err := r.users.ListActiveUsers(ctx)
	if err != nil {
		return total, fmt.Errorf("%s: list active users: %w", job, err)
	}

	logger := r.logger.With("job", job)
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(r.workers)

	for _, u := range users {
		if ctx.Err() != nil {
			mu.Lock()
			total.Interrupted = true
			mu.Unlock()
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				total.Interrupted = true
				mu.Unlock()
				return nil
			}
			sum, err := runUser(context.WithoutCancel(ctx), fn, u)
			sum.Users = 1
			if err != nil {
				sum.Errors++
				logger.Error("user failed", "user_id", u.ID, "error", err)
			}
			mu.Lock()
			total.add(sum)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("users processed",
		"users", total.Users,
		"of", len(users),
		"alerts_sent", total.AlertsSent,
		"skipped", total.Skipped,
		"errors", total.Errors,
	)
	if total.channelErr != nil {
		total.ChannelError = total.channelErr.Error()
		logger.Warn("channel sends failed", "failures", total.ChannelFailures, "error", total.channelErr)
	}
	if total.Interrupted {
		return total, fmt.Errorf("%s interrupted after %d of %d users: %w", job, total.Users, len(users), ctx.Err())
	}
	return total, nil
}

// runUser converts a panic in fn into an error so one user cannot take the
// process down.
func runUser(ctx context.Context, fn userFunc, u model.User) (sum Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic for user %d: %v\n%s", u.ID, r, debug.Stack())
		}
	}()
	return fn(ctx, u)
}
