package notify

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dukerupert/freshkeep/internal/expiry"
	"github.com/dukerupert/freshkeep/internal/model"
)

const (
	// DigestDays is the number of calendar days a digest covers, ending today.
	DigestDays = 7

	tierDigest  = "digest"
	tierMonthly = "monthly"
)

// Digest is the weekly summary handed to the digest sender.
type Digest struct {
	User          model.User
	PeriodStart   time.Time
	PeriodEnd     time.Time
	Notifications []model.Notification
	// Items names every item alerted on during the period, deduplicated.
	Items   []string
	Expense *model.ReportResult
	Waste   *model.ReportResult
}

// Empty reports whether there is nothing worth sending.
func (d Digest) Empty() bool {
	return len(d.Notifications) == 0 && d.Expense.Totals.ItemCount == 0 && d.Waste.Totals.WastedCount == 0
}

type DigestResult struct {
	Created bool `json:"created"`
	Emailed bool `json:"emailed"`
	// Skipped is set when nothing was sent, with the reason.
	Skipped string `json:"skipped,omitempty"`
}

// SendDigest summarises the seven days ending on end in one in-app notification
// and one email, instead of an email per item. It is keyed on end's date so
// rerunning the weekly job the same day does nothing.
func (d *Dispatcher) SendDigest(ctx context.Context, u model.User, end time.Time) (DigestResult, error) {
	end = end.In(d.cfg.Location)
	start := expiry.StartOfDay(end).AddDate(0, 0, -(DigestDays - 1))

	notes, err := d.notes.ListSince(ctx, u.ID, start)
	if err != nil {
		return DigestResult{}, fmt.Errorf("list notifications for digest: %w", err)
	}
	dg := Digest{User: u, PeriodStart: start, PeriodEnd: end}
	seen := make(map[string]bool)
	for _, n := range notes {
		if n.Type == model.NotifTypeSystem || !n.CreatedAt.Before(end) {
			continue
		}
		dg.Notifications = append(dg.Notifications, n)
		if name := itemName(n.Payload); name != "" && !seen[name] {
			seen[name] = true
			dg.Items = append(dg.Items, name)
		}
	}
	sort.Strings(dg.Items)

	if dg.Expense, err = d.reports.ExpenseReport(ctx, u.ID, start, end); err != nil {
		return DigestResult{}, fmt.Errorf("expense report for digest: %w", err)
	}
	if dg.Waste, err = d.reports.WasteAnalysis(ctx, u.ID, start, end); err != nil {
		return DigestResult{}, fmt.Errorf("waste report for digest: %w", err)
	}
	if dg.Empty() {
		return DigestResult{Skipped: "nothing to report"}, nil
	}

	dec := decision{
		Type:     model.NotifTypeSystem,
		Priority: model.PriorityLow,
		Tier:     tierDigest,
		Day:      expiry.DayKey(end),
		Title:    "Your weekly pantry digest",
		Message:  fmt.Sprintf("%d alerts this week. You spent %.2f and wasted %.2f.", len(dg.Notifications), dg.Expense.Totals.Expense, dg.Waste.Totals.WasteValue),
		Payload: model.DigestPayload{
			PeriodStart:     expiry.DayKey(start),
			PeriodEnd:       expiry.DayKey(end),
			Alerts:          len(dg.Notifications),
			Items:           dg.Items,
			Expense:         dg.Expense.Totals.Expense,
			WasteValue:      dg.Waste.Totals.WasteValue,
			WastePercentage: dg.Waste.Totals.WastePercentage,
		},
	}
	stored, err := d.persist(ctx, u, dec, end)
	if err != nil {
		return DigestResult{}, err
	}
	if stored == nil {
		return DigestResult{Skipped: "already sent"}, nil
	}

	result := DigestResult{Created: true}
	if d.digest == nil || !d.digest.Enabled(u) {
		return result, nil
	}
	err = d.send(ctx, func(ctx context.Context) error { return d.digest.SendDigest(ctx, u, dg) })
	switch {
	case err == nil:
		result.Emailed = true
	case isSkip(err):
	default:
		d.tel.ChannelFailed(ctx, d.digest.Name())
		d.logger.Error("digest send failed", "channel", d.digest.Name(), "user_id", u.ID, "notification_id", stored.ID, "error", err)
		return result, ChannelFailure{Channel: d.digest.Name(), UserID: u.ID, NotificationID: stored.ID, Err: err}
	}
	return result, nil
}

// SendMonthlySummary records an in-app summary of the calendar month before
// the one containing monthStart.
func (d *Dispatcher) SendMonthlySummary(ctx context.Context, u model.User, monthStart time.Time) (*model.Notification, error) {
	monthStart = monthStart.In(d.cfg.Location)
	monthStart = time.Date(monthStart.Year(), monthStart.Month(), 1, 0, 0, 0, 0, d.cfg.Location)
	start := monthStart.AddDate(0, -1, 0)
	last := monthStart.AddDate(0, 0, -1)

	exp, err := d.reports.ExpenseReport(ctx, u.ID, start, last)
	if err != nil {
		return nil, fmt.Errorf("expense report for summary: %w", err)
	}
	waste, err := d.reports.WasteAnalysis(ctx, u.ID, start, last)
	if err != nil {
		return nil, fmt.Errorf("waste report for summary: %w", err)
	}

	month := start.Format("January 2006")
	dec := decision{
		Type:     model.NotifTypeSystem,
		Priority: model.PriorityLow,
		Tier:     tierMonthly,
		Day:      start.Format("2006-01"),
		Title:    fmt.Sprintf("Your %s summary", month),
		Message: fmt.Sprintf("You bought %d items for %.2f and wasted %d items worth %.2f (%.1f%%).",
			exp.Totals.ItemCount, exp.Totals.Expense, waste.Totals.WastedCount, waste.Totals.WasteValue, waste.Totals.WastePercentage),
		Payload: model.DigestPayload{
			PeriodStart:     expiry.DayKey(start),
			PeriodEnd:       expiry.DayKey(last),
			Expense:         exp.Totals.Expense,
			WasteValue:      waste.Totals.WasteValue,
			WastePercentage: waste.Totals.WastePercentage,
		},
	}
	return d.persist(ctx, u, dec, d.now())
}

// persist writes a period notification without channel fan-out. It returns
// nil when the period was already recorded.
func (d *Dispatcher) persist(ctx context.Context, u model.User, dec decision, now time.Time) (*model.Notification, error) {
	n := model.Notification{
		UserID:    u.ID,
		Type:      dec.Type,
		Priority:  dec.Priority,
		Title:     dec.Title,
		Message:   dec.Message,
		Tier:      dec.Tier,
		DayKey:    dec.Day,
		DedupKey:  model.PeriodDedupKey(dec.Tier, dec.Day),
		Payload:   dec.Payload,
		CreatedAt: now,
	}
	stored, created, err := d.notes.Create(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("create %s notification: %w", dec.Tier, err)
	}
	if !created {
		d.tel.DuplicateSkipped(ctx, string(n.Type))
		return nil, nil
	}
	d.tel.AlertSent(ctx, string(stored.Type))
	if d.publisher != nil {
		d.publisher.Publish(u.ID, *stored)
	}
	return stored, nil
}

func itemName(p model.Payload) string {
	switch v := p.(type) {
	case model.ExpiryPayload:
		return v.ItemName
	case model.StockPayload:
		return v.ItemName
	}
	return ""
}
