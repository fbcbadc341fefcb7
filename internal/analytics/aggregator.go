// Package analytics computes dashboard and report figures from the item
// store. Every computation is read-only and returns zeroed results for users
// without data.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/freshkeep/internal/expiry"
	"github.com/dukerupert/freshkeep/internal/model"
	"github.com/dukerupert/freshkeep/internal/store"
)

const (
	DefaultConsumptionWindow = 30
	MaxConsumptionWindow     = 366
	// maxFilledDays bounds zero-filling of daily series.
	maxFilledDays = 366
)

// ItemReader is the slice of the item store the aggregator needs.
type ItemReader interface {
	ListActiveItems(ctx context.Context, userID int64) ([]model.GroceryItem, error)
	Aggregate(ctx context.Context, userID int64, f store.AggregateFilter, g store.GroupBy) ([]store.AggregateRow, error)
}

type PreferenceReader interface {
	GetPreferences(ctx context.Context, userID int64) (*model.UserPreferences, error)
}

// NotificationCounter supplies the notification figures on the dashboard.
type NotificationCounter interface {
	UnreadCount(ctx context.Context, userID int64) (int, error)
	CountByType(ctx context.Context, userID int64, start, end time.Time) (map[model.NotificationType]int, error)
}

type Aggregator struct {
	items  ItemReader
	prefs  PreferenceReader
	notes  NotificationCounter
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

func New(items ItemReader, prefs PreferenceReader, notes NotificationCounter, loc *time.Location, logger *slog.Logger) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{items: items, prefs: prefs, notes: notes, loc: loc, logger: logger, now: time.Now}
}

// SetClock replaces time.Now. Intended for tests.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

// window turns the calendar dates of start and end into a half-open
// interval covering both days completely.
func (a *Aggregator) window(start, end time.Time) (time.Time, time.Time, error) {
	s := expiry.StartOfDay(start.In(a.loc))
	e := expiry.StartOfDay(end.In(a.loc)).AddDate(0, 0, 1)
	if !s.Before(e) {
		return time.Time{}, time.Time{}, fmt.Errorf("report window: start %s is after end %s", expiry.DayKey(start), expiry.DayKey(end))
	}
	return s, e, nil
}

// Report dispatches to the report for t. windowDays only applies to
// consumption reports, which always end today.
func (a *Aggregator) Report(ctx context.Context, userID int64, t model.ReportType, start, end time.Time, windowDays int) (*model.ReportResult, error) {
	switch t {
	case model.ReportExpense:
		return a.ExpenseReport(ctx, userID, start, end)
	case model.ReportWaste:
		return a.WasteAnalysis(ctx, userID, start, end)
	case model.ReportConsumption:
		return a.ConsumptionPatterns(ctx, userID, windowDays)
	default:
		return nil, fmt.Errorf("unknown report type %q", t)
	}
}

// ExpenseReport sums quantity * price of items bought on the dates start
// through end, by day and by category.
func (a *Aggregator) ExpenseReport(ctx context.Context, userID int64, start, end time.Time) (*model.ReportResult, error) {
	s, e, err := a.window(start, end)
	if err != nil {
		return nil, err
	}
	f := store.AggregateFilter{DateField: store.ByCreated, Start: s, End: e}

	total, err := a.total(ctx, userID, f)
	if err != nil {
		return nil, fmt.Errorf("expense total: %w", err)
	}
	cats, err := a.categories(ctx, userID, f)
	if err != nil {
		return nil, fmt.Errorf("expense by category: %w", err)
	}
	daily, err := a.daily(ctx, userID, f)
	if err != nil {
		return nil, fmt.Errorf("expense by day: %w", err)
	}

	r := newResult(model.ReportExpense, userID, s, e)
	r.Totals.Expense = round2(total.Total)
	r.Totals.ItemCount = total.Count
	r.Categories = cats
	r.Daily = daily
	if top, ok := topCategory(cats); ok {
		r.Insights = append(r.Insights, fmt.Sprintf("Most spending went to %s (%.0f%%).", top.Category, top.Percentage))
	}
	return r, nil
}

// WasteAnalysis reports items that expired on the dates start through end.
// The waste percentage compares them with the items bought in the same window.
func (a *Aggregator) WasteAnalysis(ctx context.Context, userID int64, start, end time.Time) (*model.ReportResult, error) {
	s, e, err := a.window(start, end)
	if err != nil {
		return nil, err
	}
	wasted := store.AggregateFilter{
		Statuses:  []model.ItemStatus{model.ItemStatusExpired},
		DateField: store.ByStatusChange,
		Start:     s,
		End:       e,
	}
	bought := store.AggregateFilter{DateField: store.ByCreated, Start: s, End: e}

	w, err := a.total(ctx, userID, wasted)
	if err != nil {
		return nil, fmt.Errorf("waste total: %w", err)
	}
	b, err := a.total(ctx, userID, bought)
	if err != nil {
		return nil, fmt.Errorf("bought total: %w", err)
	}
	cats, err := a.categories(ctx, userID, wasted)
	if err != nil {
		return nil, fmt.Errorf("waste by category: %w", err)
	}
	daily, err := a.daily(ctx, userID, wasted)
	if err != nil {
		return nil, fmt.Errorf("waste by day: %w", err)
	}

	r := newResult(model.ReportWaste, userID, s, e)
	r.Totals.Expense = round2(b.Total)
	r.Totals.ItemCount = b.Count
	r.Totals.WastedCount = w.Count
	r.Totals.WasteValue = round2(w.Total)
	r.Totals.WastePercentage = percentage(float64(w.Count), float64(b.Count))
	r.Categories = cats
	r.Daily = daily
	r.Insights = wasteInsights(r.Totals, cats)
	return r, nil
}

// ConsumptionPatterns reports items consumed over the last windowDays days,
// today included. A non-positive window uses DefaultConsumptionWindow; a
// window above MaxConsumptionWindow is clamped to it.
func (a *Aggregator) ConsumptionPatterns(ctx context.Context, userID int64, windowDays int) (*model.ReportResult, error) {
	if windowDays <= 0 {
		windowDays = DefaultConsumptionWindow
	}
	windowDays = min(windowDays, MaxConsumptionWindow)
	today := a.now().In(a.loc)
	s, e, err := a.window(today.AddDate(0, 0, -(windowDays-1)), today)
	if err != nil {
		return nil, err
	}

	consumed := store.AggregateFilter{
		Statuses:  []model.ItemStatus{model.ItemStatusConsumed},
		DateField: store.ByStatusChange,
		Start:     s,
		End:       e,
	}
	wasted := consumed
	wasted.Statuses = []model.ItemStatus{model.ItemStatusExpired}
	bought := store.AggregateFilter{DateField: store.ByCreated, Start: s, End: e}

	c, err := a.total(ctx, userID, consumed)
	if err != nil {
		return nil, fmt.Errorf("consumed total: %w", err)
	}
	w, err := a.total(ctx, userID, wasted)
	if err != nil {
		return nil, fmt.Errorf("wasted total: %w", err)
	}
	b, err := a.total(ctx, userID, bought)
	if err != nil {
		return nil, fmt.Errorf("bought total: %w", err)
	}
	cats, err := a.categories(ctx, userID, consumed)
	if err != nil {
		return nil, fmt.Errorf("consumption by category: %w", err)
	}
	daily, err := a.daily(ctx, userID, consumed)
	if err != nil {
		return nil, fmt.Errorf("consumption by day: %w", err)
	}

	r := newResult(model.ReportConsumption, userID, s, e)
	r.Totals.Expense = round2(b.Total)
	r.Totals.ItemCount = b.Count
	r.Totals.ConsumedCount = c.Count
	r.Totals.WastedCount = w.Count
	r.Totals.WasteValue = round2(w.Total)
	r.Totals.WastePercentage = percentage(float64(w.Count), float64(b.Count))
	r.Totals.ConsumptionRate = ratio(float64(c.Count), float64(windowDays))
	r.Categories = cats
	r.Daily = daily
	r.Insights = consumptionInsights(r.Totals, windowDays, cats)
	return r, nil
}

// DashboardStats is the point-in-time overview shown on the dashboard.
func (a *Aggregator) DashboardStats(ctx context.Context, userID int64) (*model.Overview, error) {
	ov := &model.Overview{UserID: userID}

	counts := []struct {
		status model.ItemStatus
		dst    *int
	}{
		{model.ItemStatusActive, &ov.ActiveItems},
		{model.ItemStatusExpired, &ov.ExpiredItems},
		{model.ItemStatusConsumed, &ov.ConsumedItems},
	}
	for _, c := range counts {
		row, err := a.total(ctx, userID, store.AggregateFilter{Statuses: []model.ItemStatus{c.status}})
		if err != nil {
			return nil, fmt.Errorf("count %s items: %w", c.status, err)
		}
		*c.dst = row.Count
		if c.status == model.ItemStatusActive {
			ov.InventoryValue = round2(row.Total)
		}
	}

	window := model.DefaultExpiryAlertDays
	if a.prefs != nil {
		prefs, err := a.prefs.GetPreferences(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("get preferences: %w", err)
		}
		if prefs != nil {
			window = prefs.ExpiryAlertDays
		}
	}

	now := a.now().In(a.loc)
	items, err := a.items.ListActiveItems(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list active items: %w", err)
	}
	for _, item := range items {
		exp, err := item.Expiry(a.loc)
		if err != nil {
			a.logger.Warn("dashboard: skipping item with bad expiry date", "user_id", userID, "item_id", item.ID, "error", err)
			continue
		}
		switch expiry.Classify(exp, now, window).Bucket {
		case expiry.BucketToday:
			ov.ExpiringToday++
			ov.ExpiringSoon++
		case expiry.BucketTomorrow, expiry.BucketSoon:
			ov.ExpiringSoon++
		}
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, a.loc)
	exp, err := a.ExpenseReport(ctx, userID, monthStart, now)
	if err != nil {
		return nil, err
	}
	ov.MonthExpense = exp.Totals.Expense
	monthEnd := expiry.StartOfDay(now).AddDate(0, 0, 1)
	waste, err := a.total(ctx, userID, store.AggregateFilter{
		Statuses:  []model.ItemStatus{model.ItemStatusExpired},
		DateField: store.ByStatusChange,
		Start:     monthStart,
		End:       monthEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("month waste: %w", err)
	}
	ov.MonthWasteValue = round2(waste.Total)

	ov.MonthAlerts = map[model.NotificationType]int{}
	if a.notes != nil {
		if ov.UnreadNotifications, err = a.notes.UnreadCount(ctx, userID); err != nil {
			return nil, fmt.Errorf("count unread: %w", err)
		}
		if ov.MonthAlerts, err = a.notes.CountByType(ctx, userID, monthStart, monthEnd); err != nil {
			return nil, fmt.Errorf("count month alerts: %w", err)
		}
	}
	return ov, nil
}

func newResult(t model.ReportType, userID int64, start, end time.Time) *model.ReportResult {
	return &model.ReportResult{
		Type:       t,
		UserID:     userID,
		Period:     model.Period{Start: start, End: end},
		Categories: []model.CategoryBreakdown{},
		Daily:      []model.DailyPoint{},
		Insights:   []string{},
	}
}

func (a *Aggregator) total(ctx context.Context, userID int64, f store.AggregateFilter) (store.AggregateRow, error) {
	rows, err := a.items.Aggregate(ctx, userID, f, store.GroupNone)
	if err != nil {
		return store.AggregateRow{}, err
	}
	if len(rows) == 0 {
		return store.AggregateRow{}, nil
	}
	return rows[0], nil
}

func (a *Aggregator) categories(ctx context.Context, userID int64, f store.AggregateFilter) ([]model.CategoryBreakdown, error) {
	rows, err := a.items.Aggregate(ctx, userID, f, store.GroupByCategory)
	if err != nil {
		return nil, err
	}
	var sum decimal.Decimal
	for _, r := range rows {
		sum = sum.Add(decimal.NewFromFloat(r.Total))
	}
	grand, _ := sum.Float64()

	out := make([]model.CategoryBreakdown, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.CategoryBreakdown{
			Category:   r.Key,
			Count:      r.Count,
			Total:      round2(r.Total),
			Percentage: percentage(r.Total, grand),
		})
	}
	return out, nil
}

// daily returns one point per day of the window, zero-filled, unless the
// window is too long to fill.
func (a *Aggregator) daily(ctx context.Context, userID int64, f store.AggregateFilter) ([]model.DailyPoint, error) {
	rows, err := a.items.Aggregate(ctx, userID, f, store.GroupByDay)
	if err != nil {
		return nil, err
	}
	byDay := make(map[string]store.AggregateRow, len(rows))
	for _, r := range rows {
		byDay[r.Key] = r
	}

	s, e := f.Start.UTC(), f.End.UTC()
	if f.Start.IsZero() || f.End.IsZero() || e.Sub(s) > maxFilledDays*24*time.Hour {
		out := make([]model.DailyPoint, 0, len(rows))
		for _, r := range rows {
			out = append(out, model.DailyPoint{Date: r.Key, Count: r.Count, Total: round2(r.Total)})
		}
		return out, nil
	}

	var out []model.DailyPoint
	for d := expiry.StartOfDay(s); d.Before(e); d = d.AddDate(0, 0, 1) {
		key := expiry.DayKey(d)
		r := byDay[key]
		out = append(out, model.DailyPoint{Date: key, Count: r.Count, Total: round2(r.Total)})
	}
	if out == nil {
		out = []model.DailyPoint{}
	}
	return out, nil
}

// topCategory returns the category with the largest total, breaking ties on
// count.
func topCategory(cats []model.CategoryBreakdown) (model.CategoryBreakdown, bool) {
	var top model.CategoryBreakdown
	for _, c := range cats {
		if c.Total > top.Total || (c.Total == top.Total && c.Count > top.Count) {
			top = c
		}
	}
	return top, top.Count > 0
}

func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// percentage returns part/whole*100 rounded to two places; 0/0 is 0.
func percentage(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	f, _ := decimal.NewFromFloat(part).Div(decimal.NewFromFloat(whole)).Mul(decimal.NewFromInt(100)).Round(2).Float64()
	return f
}

func ratio(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	f, _ := decimal.NewFromFloat(part).Div(decimal.NewFromFloat(whole)).Round(2).Float64()
	return f
}
