// Package telegram delivers notifications to linked Telegram chats and runs
// the bot that links them.
package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dukerupert/freshkeep/internal/model"
	"github.com/dukerupert/freshkeep/internal/notify"
)

// Sender is the part of *tgbotapi.BotAPI used for outgoing messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Channel sends alerts to the user's linked chat.
type Channel struct {
	sender  Sender
	baseURL string
}

// NewChannel returns a channel. A nil sender yields a disabled channel.
func NewChannel(sender Sender, baseURL string) *Channel {
	return &Channel{sender: sender, baseURL: baseURL}
}

func (c *Channel) Name() string { return "telegram" }

// Enabled is true once the user has linked a chat.
func (c *Channel) Enabled(u model.User) bool {
	return u.TelegramChatID != 0
}

func (c *Channel) Send(ctx context.Context, u model.User, msg notify.Message) error {
	if c.sender == nil {
		return notify.ErrChannelDisabled
	}
	if u.TelegramChatID == 0 {
		return notify.ErrNoRecipient
	}
	out := tgbotapi.NewMessage(u.TelegramChatID, formatMessage(msg, c.baseURL))
	out.DisableWebPagePreview = true
	return send(ctx, c.sender, out)
}

// send runs the blocking API call in the background so ctx bounds the wait.
func send(ctx context.Context, s Sender, c tgbotapi.Chattable) error {
	done := make(chan error, 1)
	go func() {
		_, err := s.Send(c)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram send: %w", ctx.Err())
	}
}

func formatMessage(msg notify.Message, baseURL string) string {
	var b strings.Builder
	if icon := priorityIcon(msg.Notification.Priority); icon != "" {
		b.WriteString(icon + " ")
	}
	b.WriteString(msg.Title)
	if msg.Body != "" {
		b.WriteString("\n" + msg.Body)
	}
	if baseURL != "" && msg.URL != "" {
		b.WriteString("\n" + baseURL + msg.URL)
	}
	return b.String()
}

func priorityIcon(p model.Priority) string {
	switch p {
	case model.PriorityUrgent:
		return "🔴"
	case model.PriorityHigh:
		return "🟠"
	case model.PriorityMedium:
		return "🟡"
	}
	return ""
}
