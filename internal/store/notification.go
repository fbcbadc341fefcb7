package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/freshkeep/internal/model"
)

// ErrNoStatuses is returned by DeleteOlderThan when no status is given, so a
// caller can never wipe every notification by accident.
var ErrNoStatuses = errors.New("store: at least one notification status is required")

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

type NotificationStore struct {
	db *sql.DB
}

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

func scanNotification(scanner interface{ Scan(...any) error }) (*model.Notification, error) {
	var n model.Notification
	var itemID sql.NullInt64
	var readAt sql.NullTime
	var payload string

	err := scanner.Scan(
		&n.ID, &n.UserID, &n.Type, &n.Priority, &n.Status, &n.Title, &n.Message,
		&itemID, &n.Tier, &n.DayKey, &n.DedupKey, &payload, &n.CreatedAt, &readAt,
	)
	if err != nil {
		return nil, err
	}
	if itemID.Valid {
		n.ItemID = &itemID.Int64
	}
	if readAt.Valid {
		n.ReadAt = &readAt.Time
	}
	p, err := model.DecodePayload([]byte(payload))
	if err != nil {
		// One unreadable row must not hide the rest of the user's list.
		slog.Warn("unreadable notification payload", "notification_id", n.ID, "user_id", n.UserID, "error", err)
		p = model.SystemPayload{Message: n.Message}
	}
	n.Payload = p
	return &n, nil
}

const notificationCols = `id, user_id, type, priority, status, title, message, item_id, tier, day_key,
	COALESCE(dedup_key, ''), payload, created_at, read_at`

func scanNotifications(rows *sql.Rows) ([]model.Notification, error) {
	var out []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (s *NotificationStore) GetByID(ctx context.Context, id int64) (*model.Notification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+notificationCols+` FROM notifications WHERE id = ? AND deleted_at IS NULL`, id)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

// Exists reports whether the user already has a notification with dedupKey.
// Notifications the user deleted still count until retention prunes them.
func (s *NotificationStore) Exists(ctx context.Context, userID int64, dedupKey string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND dedup_key = ?`,
		userID, dedupKey,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check notification exists: %w", err)
	}
	return count > 0, nil
}

// Create inserts n as unread. When n carries a dedup key that the user
// already has, nothing is written and created is false. The unique index on
// (user_id, dedup_key) makes this safe under concurrent callers.
func (s *NotificationStore) Create(ctx context.Context, n model.Notification) (_ *model.Notification, created bool, err error) {
	payload, err := model.EncodePayload(n.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("encode payload: %w", err)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	var itemID sql.NullInt64
	if n.ItemID != nil {
		itemID = sql.NullInt64{Int64: *n.ItemID, Valid: true}
	}
	var dedup sql.NullString
	if n.DedupKey != "" {
		dedup = sql.NullString{String: n.DedupKey, Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (user_id, type, priority, status, title, message, item_id, tier, day_key, dedup_key, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, dedup_key) DO NOTHING`,
		n.UserID, n.Type, n.Priority, model.NotificationUnread, n.Title, n.Message,
		itemID, n.Tier, n.DayKey, dedup, string(payload), formatTime(n.CreatedAt),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert notification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, false, nil
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("last insert id: %w", err)
	}
	stored, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return stored, true, nil
}

// NotificationFilter narrows List. Zero fields match everything.
type NotificationFilter struct {
	Status model.NotificationStatus
	Type   model.NotificationType
}

type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type NotificationPage struct {
	Items  []model.Notification `json:"items"`
	Total  int                  `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// List returns the user's notifications, newest first.
func (s *NotificationStore) List(ctx context.Context, userID int64, f NotificationFilter, p Page) (*NotificationPage, error) {
	p = p.normalize()

	var where strings.Builder
	where.WriteString(` WHERE user_id = ? AND deleted_at IS NULL`)
	args := []any{userID}
	if f.Status != "" {
		where.WriteString(` AND status = ?`)
		args = append(args, f.Status)
	}
	if f.Type != "" {
		where.WriteString(` AND type = ?`)
		args = append(args, f.Type)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications`+where.String(), args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+notificationCols+` FROM notifications`+where.String()+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, p.Limit, p.Offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items, err := scanNotifications(rows)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.Notification{}
	}
	return &NotificationPage{Items: items, Total: total, Limit: p.Limit, Offset: p.Offset}, nil
}

// ListSince returns the user's notifications created at or after since, oldest first.
func (s *NotificationStore) ListSince(ctx context.Context, userID int64, since time.Time) ([]model.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+notificationCols+` FROM notifications WHERE user_id = ? AND deleted_at IS NULL AND created_at >= ? ORDER BY created_at ASC, id ASC`,
		userID, formatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications since: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func (s *NotificationStore) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND status = ? AND deleted_at IS NULL`,
		userID, model.NotificationUnread,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead marks one of the user's unread notifications read. It reports
// whether the notification exists for that user; reading an already read
// notification is not an error.
func (s *NotificationStore) MarkRead(ctx context.Context, id, userID int64, at time.Time) (bool, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ?, read_at = ? WHERE id = ? AND user_id = ? AND status = ? AND deleted_at IS NULL`,
		model.NotificationRead, formatTime(at), id, userID, model.NotificationUnread,
	)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return s.owned(ctx, id, userID)
}

// MarkAllRead marks every unread notification of the user read and returns how many changed.
func (s *NotificationStore) MarkAllRead(ctx context.Context, userID int64, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ?, read_at = ? WHERE user_id = ? AND status = ? AND deleted_at IS NULL`,
		model.NotificationRead, formatTime(at), userID, model.NotificationUnread,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Archive moves a notification to archived and reports whether it exists for the user.
func (s *NotificationStore) Archive(ctx context.Context, id, userID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ? WHERE id = ? AND user_id = ? AND deleted_at IS NULL`,
		model.NotificationArchived, id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("archive notification: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Delete hides a notification from the user and reports whether it existed.
// The row and its dedup key stay until retention prunes them, so a deleted
// alert is not raised again.
func (s *NotificationStore) Delete(ctx context.Context, id, userID int64, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET deleted_at = ? WHERE id = ? AND user_id = ? AND deleted_at IS NULL`,
		formatTime(at), id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("delete notification: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteOlderThan removes notifications in any of statuses created before the
// cutoff, along with any the user deleted before it. Other unread
// notifications are only removed when the caller names them.
func (s *NotificationStore) DeleteOlderThan(ctx context.Context, statuses []model.NotificationStatus, before time.Time) (int64, error) {
	if len(statuses) == 0 {
		return 0, ErrNoStatuses
	}
	args := make([]any, 0, len(statuses)+1)
	for _, st := range statuses {
		args = append(args, st)
	}
	args = append(args, formatTime(before))

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE (status IN (`+placeholders(len(statuses))+`) OR deleted_at IS NOT NULL) AND created_at < ?`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("delete old notifications: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// CountByType counts the user's notifications created in [start, end), keyed
// by type. Deleted notifications are included: they were still sent.
func (s *NotificationStore) CountByType(ctx context.Context, userID int64, start, end time.Time) (map[model.NotificationType]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, COUNT(*) FROM notifications WHERE user_id = ? AND created_at >= ? AND created_at < ? GROUP BY type`,
		userID, formatTime(start), formatTime(end),
	)
	if err != nil {
		return nil, fmt.Errorf("count notifications by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.NotificationType]int)
	for rows.Next() {
		var t model.NotificationType
		var c int
		if err := rows.Scan(&t, &c); err != nil {
			return nil, fmt.Errorf("scan notification count: %w", err)
		}
		counts[t] = c
	}
	return counts, rows.Err()
}

func (s *NotificationStore) owned(ctx context.Context, id, userID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE id = ? AND user_id = ? AND deleted_at IS NULL`, id, userID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check notification owner: %w", err)
	}
	return count > 0, nil
}
