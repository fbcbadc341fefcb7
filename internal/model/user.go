package model

import "time"

// DefaultExpiryAlertDays is the alert window applied to new users.
const DefaultExpiryAlertDays = 3

type UserPreferences struct {
	EmailNotificationsEnabled bool `json:"email_notifications_enabled"`
	PushNotificationsEnabled  bool `json:"push_notifications_enabled"`
	ExpiryAlertDays           int  `json:"expiry_alert_days"`
}

// DefaultPreferences returns the preferences a user starts with.
func DefaultPreferences() UserPreferences {
	return UserPreferences{
		EmailNotificationsEnabled: true,
		PushNotificationsEnabled:  true,
		ExpiryAlertDays:           DefaultExpiryAlertDays,
	}
}

type User struct {
	ID             int64           `json:"id"`
	Email          string          `json:"email"`
	Name           string          `json:"name"`
	Active         bool            `json:"active"`
	TelegramChatID int64           `json:"telegram_chat_id,omitempty"`
	Preferences    UserPreferences `json:"preferences"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// DisplayName falls back to the email address when no name is set.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
