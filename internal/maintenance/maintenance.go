// Package maintenance holds the housekeeping jobs: expiring items past their
// date and pruning old notifications and retired items.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/freshkeep/internal/expiry"
	"github.com/dukerupert/freshkeep/internal/model"
)

const (
	DefaultNotificationRetention = 30 * 24 * time.Hour
	DefaultItemRetention         = 90 * 24 * time.Hour
)

type ItemStore interface {
	ExpireBefore(ctx context.Context, day string, at time.Time) (int64, error)
	ListRetired(ctx context.Context, before time.Time) ([]model.GroceryItem, error)
	DeleteRetired(ctx context.Context, ids []int64, before time.Time) (int64, error)
}

type NotificationStore interface {
	DeleteOlderThan(ctx context.Context, statuses []model.NotificationStatus, before time.Time) (int64, error)
}

// Archiver stores retired items before they are deleted.
type Archiver interface {
	Enabled() bool
	ArchiveItems(ctx context.Context, items []model.GroceryItem) (string, error)
}

type Config struct {
	Location              *time.Location
	NotificationRetention time.Duration
	ItemRetention         time.Duration
}

// CleanupResult reports what one cleanup run removed.
type CleanupResult struct {
	NotificationsDeleted int64  `json:"notifications_deleted"`
	ItemsArchived        int    `json:"items_archived"`
	ArchiveKey           string `json:"archive_key,omitempty"`
	ItemsDeleted         int64  `json:"items_deleted"`
}

type Service struct {
	items   ItemStore
	notes   NotificationStore
	archive Archiver
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// New returns the maintenance service. archive may be nil.
func New(items ItemStore, notes NotificationStore, archive Archiver, cfg Config, logger *slog.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.NotificationRetention <= 0 {
		cfg.NotificationRetention = DefaultNotificationRetention
	}
	if cfg.ItemRetention <= 0 {
		cfg.ItemRetention = DefaultItemRetention
	}
	return &Service{
		items:   items,
		notes:   notes,
		archive: archive,
		cfg:     cfg,
		logger:  logger.With("component", "maintenance"),
		now:     time.Now,
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// AutoExpire marks every active item dated before today as expired. Running
// it twice on the same day changes nothing the second time.
func (s *Service) AutoExpire(ctx context.Context) (int64, error) {
	now := s.now()
	today := expiry.DayKey(now.In(s.cfg.Location))
	n, err := s.items.ExpireBefore(ctx, today, now)
	if err != nil {
		return 0, fmt.Errorf("auto-expire: %w", err)
	}
	s.logger.Info("auto-expire finished", "expired", n, "before", today)
	return n, nil
}

// Cleanup deletes read, archived and user-deleted notifications past the
// notification retention, then archives and deletes expired or consumed items
// past the item retention. Unread notifications and active items are never
// removed.
// When archiving fails the items are kept for the next run.
func (s *Service) Cleanup(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult
	now := s.now()

	n, err := s.notes.DeleteOlderThan(ctx,
		[]model.NotificationStatus{model.NotificationRead, model.NotificationArchived},
		now.Add(-s.cfg.NotificationRetention),
	)
	if err != nil {
		return res, fmt.Errorf("cleanup notifications: %w", err)
	}
	res.NotificationsDeleted = n

	cutoff := now.Add(-s.cfg.ItemRetention)
	items, err := s.items.ListRetired(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("cleanup items: %w", err)
	}
	if len(items) == 0 {
		s.logger.Info("cleanup finished", "notifications_deleted", res.NotificationsDeleted, "items_deleted", 0)
		return res, nil
	}

	if s.archive != nil && s.archive.Enabled() {
		key, err := s.archive.ArchiveItems(ctx, items)
		if err != nil {
			return res, fmt.Errorf("archive retired items: %w", err)
		}
		res.ItemsArchived = len(items)
		res.ArchiveKey = key
	}

	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	deleted, err := s.items.DeleteRetired(ctx, ids, cutoff)
	res.ItemsDeleted = deleted
	if err != nil {
		return res, fmt.Errorf("cleanup items: %w", err)
	}

	s.logger.Info("cleanup finished",
		"notifications_deleted", res.NotificationsDeleted,
		"items_archived", res.ItemsArchived,
		"items_deleted", res.ItemsDeleted,
	)
	return res, nil
}
