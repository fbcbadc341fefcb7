package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/freshkeep/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var active, emailEnabled, pushEnabled int
	var chatID sql.NullInt64
	err := scanner.Scan(
		&u.ID, &u.Email, &u.Name, &active,
		&emailEnabled, &pushEnabled, &u.Preferences.ExpiryAlertDays,
		&chatID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Active = active != 0
	u.Preferences.EmailNotificationsEnabled = emailEnabled != 0
	u.Preferences.PushNotificationsEnabled = pushEnabled != 0
	if chatID.Valid {
		u.TelegramChatID = chatID.Int64
	}
	return &u, nil
}

const userCols = `id, email, name, active, email_notifications_enabled, push_notifications_enabled,
	expiry_alert_days, telegram_chat_id, created_at, updated_at`

func (s *UserStore) Create(ctx context.Context, email, name string, prefs model.UserPreferences) (*model.User, error) {
	if prefs.ExpiryAlertDays < 0 {
		return nil, fmt.Errorf("insert user: negative expiry alert days %d", prefs.ExpiryAlertDays)
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, name, email_notifications_enabled, push_notifications_enabled, expiry_alert_days)
		 VALUES (?, ?, ?, ?, ?)`,
		email, name, boolToInt(prefs.EmailNotificationsEnabled), boolToInt(prefs.PushNotificationsEnabled), prefs.ExpiryAlertDays,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// ListActiveUsers returns every active user ordered by id.
func (s *UserStore) ListActiveUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userCols+` FROM users WHERE active = 1 ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// GetPreferences returns nil when the user does not exist.
func (s *UserStore) GetPreferences(ctx context.Context, userID int64) (*model.UserPreferences, error) {
	u, err := s.GetByID(ctx, userID)
	if err != nil || u == nil {
		return nil, err
	}
	return &u.Preferences, nil
}

func (s *UserStore) UpdatePreferences(ctx context.Context, userID int64, prefs model.UserPreferences) error {
	if prefs.ExpiryAlertDays < 0 {
		return fmt.Errorf("update preferences: negative expiry alert days %d", prefs.ExpiryAlertDays)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET email_notifications_enabled = ?, push_notifications_enabled = ?, expiry_alert_days = ?, updated_at = ?
		 WHERE id = ?`,
		boolToInt(prefs.EmailNotificationsEnabled), boolToInt(prefs.PushNotificationsEnabled), prefs.ExpiryAlertDays,
		formatTime(time.Now()), userID,
	)
	if err != nil {
		return fmt.Errorf("update preferences: %w", err)
	}
	return nil
}

func (s *UserStore) SetActive(ctx context.Context, userID int64, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), formatTime(time.Now()), userID,
	)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	return nil
}

// SetTelegramChatID links a Telegram chat to the user. Zero unlinks it.
func (s *UserStore) SetTelegramChatID(ctx context.Context, userID, chatID int64) error {
	var v sql.NullInt64
	if chatID != 0 {
		v = sql.NullInt64{Int64: chatID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET telegram_chat_id = ?, updated_at = ? WHERE id = ?`,
		v, formatTime(time.Now()), userID,
	)
	if err != nil {
		return fmt.Errorf("set telegram chat id: %w", err)
	}
	return nil
}

// UnlinkTelegramChat clears the chat from whichever user it is linked to and
// returns how many users were affected.
func (s *UserStore) UnlinkTelegramChat(ctx context.Context, chatID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET telegram_chat_id = NULL, updated_at = ? WHERE telegram_chat_id = ?`,
		formatTime(time.Now()), chatID,
	)
	if err != nil {
		return 0, fmt.Errorf("unlink telegram chat: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
