package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/multierr"

	"github.com/dukerupert/freshkeep/internal/model"
	"github.com/dukerupert/freshkeep/internal/notify"
)

// ErrNoSubscriptions means the user has no registered devices.
var ErrNoSubscriptions = fmt.Errorf("%w: no push subscriptions", notify.ErrNoRecipient)

// Subscriptions is the part of the push store the channel needs.
type Subscriptions interface {
	ListByUser(ctx context.Context, userID int64) ([]model.PushSubscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

// Channel delivers notifications to every device the user subscribed.
type Channel struct {
	service *Service
	subs    Subscriptions
	logger  *slog.Logger
}

func NewChannel(service *Service, subs Subscriptions, logger *slog.Logger) *Channel {
	return &Channel{service: service, subs: subs, logger: logger}
}

func (c *Channel) Name() string { return "push" }

func (c *Channel) Enabled(u model.User) bool {
	return u.Preferences.PushNotificationsEnabled
}

// Send pushes msg to each of the user's devices. Expired subscriptions are
// removed. It fails only when no device accepted the message.
func (c *Channel) Send(ctx context.Context, u model.User, msg notify.Message) error {
	if !c.service.Configured() {
		return notify.ErrChannelDisabled
	}
	subs, err := c.subs.ListByUser(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("list push subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return ErrNoSubscriptions
	}

	payload := Payload{Title: msg.Title, Body: msg.Body, URL: msg.URL, Tag: msg.Tag}
	urgency := urgencyFor(msg.Notification.Priority)

	var errs error
	delivered := 0
	for i := range subs {
		sub := &subs[i]
		err := c.service.Send(ctx, sub, payload, urgency)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrExpired):
			c.logger.Info("removing expired push subscription", "user_id", u.ID, "subscription_id", sub.ID)
			if derr := c.subs.DeleteByEndpoint(ctx, sub.Endpoint); derr != nil {
				c.logger.Error("delete expired push subscription", "user_id", u.ID, "subscription_id", sub.ID, "error", derr)
			}
		default:
			errs = multierr.Append(errs, fmt.Errorf("subscription %d: %w", sub.ID, err))
		}
	}
	if delivered > 0 {
		if errs != nil {
			c.logger.Warn("push partially delivered", "user_id", u.ID, "delivered", delivered, "error", errs)
		}
		return nil
	}
	if errs == nil {
		// Every subscription had expired.
		return ErrNoSubscriptions
	}
	return errs
}

func urgencyFor(p model.Priority) webpush.Urgency {
	switch p {
	case model.PriorityUrgent, model.PriorityHigh:
		return webpush.UrgencyHigh
	case model.PriorityMedium:
		return webpush.UrgencyNormal
	default:
		return webpush.UrgencyLow
	}
}
