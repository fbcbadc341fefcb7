package notify

import (
	"context"
	"errors"

	"github.com/dukerupert/freshkeep/internal/model"
)

var (
	// ErrNoRecipient means the channel has nowhere to deliver for this user,
	// for example no push subscriptions. It is not counted as a failure.
	ErrNoRecipient = errors.New("notify: no recipient for channel")
	// ErrChannelDisabled is returned by channels that are not configured.
	ErrChannelDisabled = errors.New("notify: channel disabled")
)

// Message is what a channel delivers for one notification.
type Message struct {
	Notification model.Notification
	Title        string
	Body         string
	// URL is the in-app path the notification links to.
	URL string
	// Tag lets clients collapse repeated alerts for the same item.
	Tag string
}

// Channel is an external delivery mechanism. The in-app record is written by
// the dispatcher itself and is not a Channel.
type Channel interface {
	Name() string
	// Enabled reports whether the user wants this channel.
	Enabled(u model.User) bool
	Send(ctx context.Context, u model.User, msg Message) error
}

// DigestSender delivers the weekly digest.
type DigestSender interface {
	Name() string
	Enabled(u model.User) bool
	SendDigest(ctx context.Context, u model.User, d Digest) error
}

// Publisher pushes freshly created notifications to live in-app sessions.
type Publisher interface {
	Publish(userID int64, n model.Notification)
}

// ChannelFailure records one failed send with enough context to retry by hand.
type ChannelFailure struct {
	Channel        string `json:"channel"`
	UserID         int64  `json:"user_id"`
	ItemID         int64  `json:"item_id,omitempty"`
	NotificationID int64  `json:"notification_id"`
	Err            error  `json:"-"`
}

func (f ChannelFailure) Error() string {
	if f.Err == nil {
		return f.Channel + ": send failed"
	}
	return f.Channel + ": " + f.Err.Error()
}

func (f ChannelFailure) Unwrap() error {
	return f.Err
}
