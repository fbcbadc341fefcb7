package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/freshkeep/internal/model"
)

type ItemStore struct {
	db *sql.DB
}

func NewItemStore(db *sql.DB) *ItemStore {
	return &ItemStore{db: db}
}

// --- Category methods ---

// ensureCategory returns the user's category with the given name, creating it if needed.
func (s *ItemStore) ensureCategory(ctx context.Context, userID int64, name string) (*model.GroceryCategory, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO grocery_categories (user_id, name) VALUES (?, ?) ON CONFLICT(user_id, name) DO NOTHING`,
		userID, name,
	)
	if err != nil {
		return nil, fmt.Errorf("insert category: %w", err)
	}

	var c model.GroceryCategory
	err = s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, created_at FROM grocery_categories WHERE user_id = ? AND name = ?`,
		userID, name,
	).Scan(&c.ID, &c.UserID, &c.Name, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &c, nil
}

// --- Item methods ---

func scanItem(scanner interface{ Scan(...any) error }) (*model.GroceryItem, error) {
	var item model.GroceryItem
	var categoryID sql.NullInt64
	var statusChangedAt sql.NullTime

	err := scanner.Scan(
		&item.ID, &item.UserID, &categoryID, &item.Category, &item.Name,
		&item.Quantity, &item.Price, &item.MinQuantity, &item.ExpiryDate,
		&item.Status, &statusChangedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if categoryID.Valid {
		item.CategoryID = &categoryID.Int64
	}
	if statusChangedAt.Valid {
		item.StatusChangedAt = &statusChangedAt.Time
	}
	return &item, nil
}

const itemCols = `i.id, i.user_id, i.category_id, COALESCE(c.name, ''), i.name, i.quantity, i.price, i.min_quantity,
	COALESCE(i.expiry_date, ''), i.status, i.status_changed_at, i.created_at, i.updated_at`

const itemFrom = ` FROM grocery_items i LEFT JOIN grocery_categories c ON c.id = i.category_id`

func scanItems(rows *sql.Rows) ([]model.GroceryItem, error) {
	var items []model.GroceryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (s *ItemStore) GetByID(ctx context.Context, id int64) (*model.GroceryItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemCols+itemFrom+` WHERE i.id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// Create inserts an item. A zero CreatedAt means now; a zero Status means
// active. Without a CategoryID, a Category name is resolved to the user's
// category of that name, which is created on first use.
func (s *ItemStore) Create(ctx context.Context, item model.GroceryItem) (*model.GroceryItem, error) {
	if item.CategoryID == nil && strings.TrimSpace(item.Category) != "" {
		c, err := s.ensureCategory(ctx, item.UserID, strings.TrimSpace(item.Category))
		if err != nil {
			return nil, err
		}
		item.CategoryID = &c.ID
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	if item.Status == "" {
		item.Status = model.ItemStatusActive
	}

	var categoryID sql.NullInt64
	if item.CategoryID != nil {
		categoryID = sql.NullInt64{Int64: *item.CategoryID, Valid: true}
	}
	var expiry sql.NullString
	if item.ExpiryDate != "" {
		expiry = sql.NullString{String: item.ExpiryDate, Valid: true}
	}
	var statusChangedAt sql.NullString
	if item.StatusChangedAt != nil {
		statusChangedAt = sql.NullString{String: formatTime(*item.StatusChangedAt), Valid: true}
	} else if item.Status != model.ItemStatusActive {
		statusChangedAt = sql.NullString{String: formatTime(item.CreatedAt), Valid: true}
	}

	created := formatTime(item.CreatedAt)
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO grocery_items (user_id, category_id, name, quantity, price, min_quantity, expiry_date, status, status_changed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.UserID, categoryID, item.Name, item.Quantity, item.Price, item.MinQuantity,
		expiry, item.Status, statusChangedAt, created, created,
	)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// ListActiveItems returns the user's active items, soonest expiry first.
func (s *ItemStore) ListActiveItems(ctx context.Context, userID int64) ([]model.GroceryItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemCols+itemFrom+` WHERE i.user_id = ? AND i.status = ?
		 ORDER BY i.expiry_date IS NULL, i.expiry_date ASC, i.id ASC`,
		userID, model.ItemStatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("list active items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// MarkExpired moves the given items to expired. Items that already left the
// active state are not touched.
func (s *ItemStore) MarkExpired(ctx context.Context, ids []int64, at time.Time) (int64, error) {
	var total int64
	for _, chunk := range chunkIDs(ids) {
		args := []any{model.ItemStatusExpired, formatTime(at), formatTime(at)}
		args = append(args, idArgs(chunk)...)
		args = append(args, model.ItemStatusActive)
		result, err := s.db.ExecContext(ctx,
			`UPDATE grocery_items SET status = ?, status_changed_at = ?, updated_at = ?
			 WHERE id IN (`+placeholders(len(chunk))+`) AND status = ?`,
			args...,
		)
		if err != nil {
			return total, fmt.Errorf("mark expired: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

// ExpireBefore expires every active item whose expiry date is before day
// (formatted as model.DateLayout).
func (s *ItemStore) ExpireBefore(ctx context.Context, day string, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE grocery_items SET status = ?, status_changed_at = ?, updated_at = ?
		 WHERE status = ? AND expiry_date GLOB '[0-9][0-9][0-9][0-9]-[0-9][0-9]-[0-9][0-9]' AND expiry_date < ?`,
		model.ItemStatusExpired, formatTime(at), formatTime(at), model.ItemStatusActive, day,
	)
	if err != nil {
		return 0, fmt.Errorf("expire items: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// --- Aggregation ---

// DateField selects which timestamp an aggregation window applies to.
type DateField string

const (
	ByCreated      DateField = "created_at"
	ByStatusChange DateField = "status_changed_at"
)

type GroupBy string

const (
	GroupNone       GroupBy = ""
	GroupByDay      GroupBy = "day"
	GroupByCategory GroupBy = "category"
)

// AggregateFilter narrows an aggregation. The window is half-open: [Start, End).
// Zero bounds are unbounded.
type AggregateFilter struct {
	Statuses  []model.ItemStatus
	DateField DateField
	Start     time.Time
	End       time.Time
}

// AggregateRow is one group: Total is the sum of quantity * price.
type AggregateRow struct {
	Key   string
	Count int
	Total float64
}

// UncategorizedName labels items without a category in grouped results.
const UncategorizedName = "Uncategorized"

// Aggregate counts and sums the user's items. Without grouping it always
// returns exactly one row, zeroed when nothing matches. Day keys are UTC dates.
func (s *ItemStore) Aggregate(ctx context.Context, userID int64, f AggregateFilter, groupBy GroupBy) ([]AggregateRow, error) {
	field := f.DateField
	if field == "" {
		field = ByCreated
	}
	if field != ByCreated && field != ByStatusChange {
		return nil, fmt.Errorf("aggregate: unknown date field %q", field)
	}

	var keyExpr string
	switch groupBy {
	case GroupNone:
		keyExpr = `''`
	case GroupByDay:
		keyExpr = `substr(i.` + string(field) + `, 1, 10)`
	case GroupByCategory:
		keyExpr = `COALESCE(c.name, '` + UncategorizedName + `')`
	default:
		return nil, fmt.Errorf("aggregate: unknown grouping %q", groupBy)
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + keyExpr + ` AS k, COUNT(*), COALESCE(SUM(i.quantity * i.price), 0)` + itemFrom + ` WHERE i.user_id = ?`)
	args := []any{userID}
	if len(f.Statuses) > 0 {
		b.WriteString(` AND i.status IN (` + placeholders(len(f.Statuses)) + `)`)
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}
	if !f.Start.IsZero() {
		b.WriteString(` AND i.` + string(field) + ` >= ?`)
		args = append(args, formatTime(f.Start))
	}
	if !f.End.IsZero() {
		b.WriteString(` AND i.` + string(field) + ` < ?`)
		args = append(args, formatTime(f.End))
	}
	if groupBy != GroupNone {
		b.WriteString(` GROUP BY k ORDER BY k ASC`)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate items: %w", err)
	}
	defer rows.Close()

	var out []AggregateRow
	for rows.Next() {
		var r AggregateRow
		if err := rows.Scan(&r.Key, &r.Count, &r.Total); err != nil {
			return nil, fmt.Errorf("scan aggregate row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Retention ---

const retiredFilter = `i.status IN ('expired', 'consumed') AND COALESCE(i.status_changed_at, i.updated_at) < ?`

// ListRetired returns expired or consumed items that left the active state before the cutoff.
func (s *ItemStore) ListRetired(ctx context.Context, before time.Time) ([]model.GroceryItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemCols+itemFrom+` WHERE `+retiredFilter+` ORDER BY i.id ASC`,
		formatTime(before),
	)
	if err != nil {
		return nil, fmt.Errorf("list retired items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// DeleteRetired deletes the given items, re-checking status and age so an
// active item is never removed.
func (s *ItemStore) DeleteRetired(ctx context.Context, ids []int64, before time.Time) (int64, error) {
	var total int64
	for _, chunk := range chunkIDs(ids) {
		args := idArgs(chunk)
		args = append(args, formatTime(before))
		result, err := s.db.ExecContext(ctx,
			`DELETE FROM grocery_items WHERE id IN (`+placeholders(len(chunk))+`)
			 AND status IN ('expired', 'consumed') AND COALESCE(status_changed_at, updated_at) < ?`,
			args...,
		)
		if err != nil {
			return total, fmt.Errorf("delete retired items: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}
