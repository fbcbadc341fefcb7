package expiry

import (
	"time"

	"github.com/dukerupert/freshkeep/internal/model"
)

type Bucket string

const (
	BucketExpired  Bucket = "expired"
	BucketToday    Bucket = "today"
	BucketTomorrow Bucket = "tomorrow"
	BucketSoon     Bucket = "soon"
	BucketFresh    Bucket = "fresh"
)

// Alerting reports whether items in the bucket get an expiry warning.
func (b Bucket) Alerting() bool {
	return b == BucketToday || b == BucketTomorrow || b == BucketSoon
}

// Priority maps a bucket to the notification priority it is sent with.
// Fresh items are never notified and map to low.
func (b Bucket) Priority() model.Priority {
	switch b {
	case BucketToday:
		return model.PriorityUrgent
	case BucketTomorrow, BucketExpired:
		return model.PriorityHigh
	case BucketSoon:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

type Result struct {
	Bucket   Bucket
	DaysLeft int
}

// Classify buckets an expiry date relative to now. Days are counted between
// calendar dates, so an item expiring today reports 0 at any time of day.
// A nil expiry is always fresh. A negative alert window is treated as 0.
func Classify(expiry *time.Time, now time.Time, alertWindowDays int) Result {
	if expiry == nil {
		return Result{Bucket: BucketFresh}
	}
	if alertWindowDays < 0 {
		alertWindowDays = 0
	}

	days := DaysBetween(now, *expiry)
	switch {
	case days < 0:
		return Result{Bucket: BucketExpired, DaysLeft: days}
	case days == 0:
		return Result{Bucket: BucketToday, DaysLeft: days}
	case days == 1:
		return Result{Bucket: BucketTomorrow, DaysLeft: days}
	case days <= alertWindowDays:
		return Result{Bucket: BucketSoon, DaysLeft: days}
	default:
		return Result{Bucket: BucketFresh, DaysLeft: days}
	}
}

// DaysBetween returns the number of calendar days from a's date to b's date,
// each taken in its own location. DST shifts do not affect the result.
func DaysBetween(a, b time.Time) int {
	da := dateUTC(a)
	db := dateUTC(b)
	return int(db.Sub(da).Hours() / 24)
}

// StartOfDay returns midnight of t's date in t's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DayKey formats t's calendar date.
func DayKey(t time.Time) string {
	return t.Format(model.DateLayout)
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
