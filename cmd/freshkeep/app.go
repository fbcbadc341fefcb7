package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dukerupert/freshkeep/internal/analytics"
	"github.com/dukerupert/freshkeep/internal/archive"
	"github.com/dukerupert/freshkeep/internal/auth"
	"github.com/dukerupert/freshkeep/internal/config"
	"github.com/dukerupert/freshkeep/internal/database"
	"github.com/dukerupert/freshkeep/internal/email"
	"github.com/dukerupert/freshkeep/internal/jobs"
	"github.com/dukerupert/freshkeep/internal/maintenance"
	"github.com/dukerupert/freshkeep/internal/notify"
	"github.com/dukerupert/freshkeep/internal/push"
	"github.com/dukerupert/freshkeep/internal/schedule"
	"github.com/dukerupert/freshkeep/internal/store"
	"github.com/dukerupert/freshkeep/internal/telegram"
	"github.com/dukerupert/freshkeep/internal/telemetry"
	ws "github.com/dukerupert/freshkeep/internal/websocket"
)

const (
	serviceName = "freshkeep"
	lockTTL     = time.Hour
)

// app holds the wired components shared by serve and the one-shot commands.
type app struct {
	db            *sql.DB
	users         *store.UserStore
	items         *store.ItemStore
	notifications *store.NotificationStore
	pushStore     *store.PushStore
	jobStore      *store.JobStore

	hub         *ws.Hub
	jwt         *auth.JWTManager
	tel         *telemetry.Telemetry
	pushService *push.Service
	pushChannel *push.Channel
	telegramAPI telegram.API
	botUsername string
	aggregator  *analytics.Aggregator
	dispatcher  *notify.Dispatcher
	runner      *jobs.Runner
	scheduler   *schedule.Scheduler
	locker      *schedule.RedisLocker

	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &app{
		db:            db,
		users:         store.NewUserStore(db),
		items:         store.NewItemStore(db),
		notifications: store.NewNotificationStore(db),
		pushStore:     store.NewPushStore(db),
		jobStore:      store.NewJobStore(db),
		hub:           ws.NewHub(logger.With("component", "websocket")),
		jwt:           auth.NewJWTManager(cfg.JWTSecret),
	}
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })

	if cfg.TraceStdout {
		shutdown, err := telemetry.Setup(serviceName, os.Stdout)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.closers = append(a.closers, shutdown)
	}
	if a.tel, err = telemetry.New(); err != nil {
		a.close(ctx)
		return nil, err
	}

	var channels []notify.Channel

	a.pushService = push.NewService(push.Config{
		VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
		Subscriber:      cfg.Push.Subscriber,
	})
	a.pushChannel = push.NewChannel(a.pushService, a.pushStore, logger.With("component", "push"))
	if cfg.PushEnabled() {
		channels = append(channels, a.pushChannel)
	}

	var digest notify.DigestSender
	emailClient := email.NewClient(cfg.Email.PostmarkToken, cfg.Email.FromEmail, cfg.BaseURL)
	if emailClient.Configured() {
		emailChannel := email.NewChannel(emailClient)
		channels = append(channels, emailChannel)
		digest = emailChannel
	}

	if cfg.Telegram.Token != "" {
		bot, err := telegram.Connect(cfg.Telegram.Token)
		if err != nil {
			logger.Error("connect telegram bot, channel disabled", "error", err)
		} else {
			a.telegramAPI = bot
			a.botUsername = bot.Self.UserName
			channels = append(channels, telegram.NewChannel(bot, cfg.BaseURL))
		}
	}

	a.aggregator = analytics.New(a.items, a.users, a.notifications, cfg.Location, logger.With("component", "analytics"))

	dispatchOpts := []notify.Option{
		notify.WithPublisher(a.hub),
		notify.WithTelemetry(a.tel),
	}
	if digest != nil {
		dispatchOpts = append(dispatchOpts, notify.WithDigestSender(digest))
	}
	a.dispatcher = notify.NewDispatcher(a.items, a.notifications, a.aggregator, channels, notify.Config{
		Location:       cfg.Location,
		ChannelTimeout: cfg.ChannelTimeout,
		ChannelRetries: cfg.ChannelRetries,
	}, logger.With("component", "notify"), dispatchOpts...)

	archiver := archive.New(archive.S3Config{
		Endpoint:  cfg.Archive.Endpoint,
		Bucket:    cfg.Archive.Bucket,
		Region:    cfg.Archive.Region,
		AccessKey: cfg.Archive.AccessKey,
		SecretKey: cfg.Archive.SecretKey,
	}, cfg.Archive.Passphrase, logger.With("component", "archive"))

	maint := maintenance.New(a.items, a.notifications, archiver, maintenance.Config{
		Location:              cfg.Location,
		NotificationRetention: days(cfg.NotificationRetention),
		ItemRetention:         days(cfg.ItemRetention),
	}, logger.With("component", "maintenance"))

	a.runner = jobs.NewRunner(a.users, a.dispatcher, maint, cfg.Workers, cfg.Location, logger.With("component", "jobs"))

	schedOpts := []schedule.Option{
		schedule.WithRecorder(a.jobStore),
		schedule.WithTelemetry(a.tel),
	}
	if cfg.RedisURL != "" {
		a.locker, err = schedule.NewRedisLockerFromURL(ctx, cfg.RedisURL)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return a.locker.Close() })
		schedOpts = append(schedOpts, schedule.WithLocker(a.locker, lockTTL))
	}
	a.scheduler = schedule.New(cfg.Location, logger.With("component", "scheduler"), schedOpts...)
	if err := a.runner.Register(a.scheduler, cfg.Cadences); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			slog.Error("shutdown", "error", err)
		}
	}
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
