// Package notify decides which notifications a user's items warrant, records
// them in-app exactly once per item, tier and day, and fans them out to the
// user's delivery channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"github.com/dukerupert/freshkeep/internal/expiry"
	"github.com/dukerupert/freshkeep/internal/model"
	"github.com/dukerupert/freshkeep/internal/telemetry"
)

// ErrInvalidItem marks item data the classifier cannot use. The item is
// skipped; the run continues.
var ErrInvalidItem = errors.New("notify: invalid item data")

const (
	DefaultChannelTimeout = 5 * time.Second
	DefaultRetryBase      = 500 * time.Millisecond
)

// ItemSource lists the items to evaluate.
type ItemSource interface {
	ListActiveItems(ctx context.Context, userID int64) ([]model.GroceryItem, error)
}

// NotificationRepo persists in-app notifications. Create must report
// created=false when the dedup key already exists for the user.
type NotificationRepo interface {
	Exists(ctx context.Context, userID int64, dedupKey string) (bool, error)
	Create(ctx context.Context, n model.Notification) (*model.Notification, bool, error)
	ListSince(ctx context.Context, userID int64, since time.Time) ([]model.Notification, error)
}

// Reporter supplies the figures quoted in digests and summaries. start and
// end are calendar dates, both included.
type Reporter interface {
	ExpenseReport(ctx context.Context, userID int64, start, end time.Time) (*model.ReportResult, error)
	WasteAnalysis(ctx context.Context, userID int64, start, end time.Time) (*model.ReportResult, error)
}

type Config struct {
	Location       *time.Location
	ChannelTimeout time.Duration
	// ChannelRetries is the number of extra attempts per channel send.
	// Zero keeps sends at-most-once.
	ChannelRetries uint64
	RetryBase      time.Duration
}

type Option func(*Dispatcher)

func WithPublisher(p Publisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

func WithDigestSender(s DigestSender) Option {
	return func(d *Dispatcher) { d.digest = s }
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(d *Dispatcher) { d.tel = t }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

type Dispatcher struct {
	items     ItemSource
	notes     NotificationRepo
	reports   Reporter
	channels  []Channel
	digest    DigestSender
	publisher Publisher
	cfg       Config
	logger    *slog.Logger
	tel       *telemetry.Telemetry
	now       func() time.Time
}

func NewDispatcher(items ItemSource, notes NotificationRepo, reports Reporter, channels []Channel, cfg Config, logger *slog.Logger, opts ...Option) *Dispatcher {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = DefaultChannelTimeout
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	d := &Dispatcher{
		items:    items,
		notes:    notes,
		reports:  reports,
		channels: channels,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tel == nil {
		d.tel = telemetry.Noop()
	}
	return d
}

// Outcome is the result of evaluating one item.
type Outcome struct {
	ItemID   int64                `json:"item_id"`
	Bucket   expiry.Bucket        `json:"bucket"`
	DaysLeft int                  `json:"days_left"`
	Created  []model.Notification `json:"created"`
	// Duplicates counts decisions already notified for the same day.
	Duplicates int              `json:"duplicates"`
	Failures   []ChannelFailure `json:"failures,omitempty"`
}

// EvaluateAndDispatch classifies item and dispatches every notification it
// qualifies for. A returned error wrapping ErrInvalidItem means the item was
// skipped; any other error is a persistence failure.
func (d *Dispatcher) EvaluateAndDispatch(ctx context.Context, u model.User, item model.GroceryItem) (Outcome, error) {
	now := d.now().In(d.cfg.Location)
	out := Outcome{ItemID: item.ID}

	decisions, res, err := decide(item, u.Preferences, now)
	if err != nil {
		return out, fmt.Errorf("%w: item %d: %v", ErrInvalidItem, item.ID, err)
	}
	out.Bucket = res.Bucket
	out.DaysLeft = res.DaysLeft

	for _, dec := range decisions {
		n, failures, err := d.dispatch(ctx, u, &item, dec, now)
		if err != nil {
			return out, err
		}
		if n == nil {
			out.Duplicates++
			continue
		}
		out.Created = append(out.Created, *n)
		out.Failures = append(out.Failures, failures...)
	}
	return out, nil
}

// UserResult summarises one user's pass.
type UserResult struct {
	UserID     int64 `json:"user_id"`
	Items      int   `json:"items"`
	AlertsSent int   `json:"alerts_sent"`
	Skipped    int   `json:"skipped"`
	// Errors counts skipped items and failed channel sends.
	Errors          int              `json:"errors"`
	ChannelFailures []ChannelFailure `json:"-"`
}

// RunForUser evaluates the user's active items one after another. Bad items
// and failed sends are logged and counted; a persistence failure aborts the
// user and is returned.
func (d *Dispatcher) RunForUser(ctx context.Context, u model.User) (UserResult, error) {
	res := UserResult{UserID: u.ID}
	logger := d.logger.With("user_id", u.ID)

	ctx, span := d.tel.Tracer.Start(ctx, "notify.run_for_user", trace.WithAttributes(attribute.Int64("user.id", u.ID)))
	defer span.End()

	items, err := d.items.ListActiveItems(ctx, u.ID)
	if err != nil {
		return res, fmt.Errorf("list items for user %d: %w", u.ID, err)
	}
	res.Items = len(items)

	for _, item := range items {
		out, err := d.EvaluateAndDispatch(ctx, u, item)
		if errors.Is(err, ErrInvalidItem) {
			logger.Warn("skipping item", "item_id", item.ID, "error", err)
			res.Errors++
			continue
		}
		if err != nil {
			span.RecordError(err)
			return res, err
		}
		res.AlertsSent += len(out.Created)
		res.Skipped += out.Duplicates
		res.Errors += len(out.Failures)
		res.ChannelFailures = append(res.ChannelFailures, out.Failures...)
	}
	return res, nil
}

// dispatch persists one decision and fans it out. It returns a nil
// notification when the idempotency key already exists.
func (d *Dispatcher) dispatch(ctx context.Context, u model.User, item *model.GroceryItem, dec decision, now time.Time) (*model.Notification, []ChannelFailure, error) {
	n := model.Notification{
		UserID:    u.ID,
		Type:      dec.Type,
		Priority:  dec.Priority,
		Title:     dec.Title,
		Message:   dec.Message,
		ItemID:    &item.ID,
		Tier:      dec.Tier,
		DayKey:    dec.Day,
		DedupKey:  dec.key(item.ID),
		Payload:   dec.Payload,
		CreatedAt: now,
	}

	exists, err := d.notes.Exists(ctx, u.ID, n.DedupKey)
	if err != nil {
		return nil, nil, fmt.Errorf("check notification %s: %w", n.DedupKey, err)
	}
	if exists {
		d.tel.DuplicateSkipped(ctx, string(n.Type))
		return nil, nil, nil
	}

	stored, created, err := d.notes.Create(ctx, n)
	if err != nil {
		return nil, nil, fmt.Errorf("create notification %s: %w", n.DedupKey, err)
	}
	if !created {
		// Lost a race with a concurrent run holding the same key.
		d.tel.DuplicateSkipped(ctx, string(n.Type))
		return nil, nil, nil
	}
	d.tel.AlertSent(ctx, string(stored.Type))

	if d.publisher != nil {
		d.publisher.Publish(u.ID, *stored)
	}

	msg := Message{
		Notification: *stored,
		Title:        stored.Title,
		Body:         stored.Message,
		URL:          "/notifications",
		Tag:          n.DedupKey,
	}
	return stored, d.fanOut(ctx, u, msg), nil
}

// fanOut sends msg on every channel the user enabled. Channels are attempted
// independently; a failure on one never prevents the others.
func (d *Dispatcher) fanOut(ctx context.Context, u model.User, msg Message) []ChannelFailure {
	var failures []ChannelFailure
	for _, ch := range d.channels {
		if !ch.Enabled(u) {
			continue
		}
		err := d.send(ctx, func(ctx context.Context) error { return ch.Send(ctx, u, msg) })
		if err == nil || isSkip(err) {
			continue
		}

		f := ChannelFailure{Channel: ch.Name(), UserID: u.ID, NotificationID: msg.Notification.ID, Err: err}
		if msg.Notification.ItemID != nil {
			f.ItemID = *msg.Notification.ItemID
		}
		failures = append(failures, f)
		d.tel.ChannelFailed(ctx, ch.Name())
		d.logger.Error("channel send failed",
			"channel", f.Channel,
			"user_id", f.UserID,
			"item_id", f.ItemID,
			"notification_id", f.NotificationID,
			"error", err,
		)
	}
	return failures
}

// send runs one channel attempt under the channel timeout, retrying with
// exponential backoff when retries are configured.
func (d *Dispatcher) send(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, d.cfg.ChannelTimeout)
		defer cancel()
		return fn(ctx)
	}
	if d.cfg.ChannelRetries == 0 {
		return attempt(ctx)
	}

	backoff := retry.WithMaxRetries(d.cfg.ChannelRetries, retry.NewExponential(d.cfg.RetryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := attempt(ctx)
		if err == nil || isSkip(err) {
			return err
		}
		return retry.RetryableError(err)
	})
}

// isSkip reports errors that mean "nothing to deliver" rather than failure.
func isSkip(err error) bool {
	return errors.Is(err, ErrNoRecipient) || errors.Is(err, ErrChannelDisabled)
}

// FailuresError folds channel failures into a single error, or nil.
func FailuresError(failures []ChannelFailure) error {
	var err error
	for _, f := range failures {
		err = multierr.Append(err, f)
	}
	return err
}
