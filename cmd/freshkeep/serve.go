package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/freshkeep/internal/middleware"
	"github.com/dukerupert/freshkeep/internal/server"
	"github.com/dukerupert/freshkeep/internal/telegram"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the job scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(); err != nil {
				return err
			}
			return serve(cmd.Context(), opts)
		},
	}
}

func serve(parent context.Context, opts *rootOptions) error {
	cfg, logger := opts.cfg, opts.logger
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	rateLimiter := middleware.NewRateLimiter()
	srv := server.New(server.Deps{
		DB:             a.db,
		Hub:            a.hub,
		Verifier:       a.jwt,
		Notifications:  a.notifications,
		Reports:        a.aggregator,
		Scheduler:      a.scheduler,
		Summaries:      a.runner,
		PushStore:      a.pushStore,
		Users:          a.users,
		PushChannel:    a.pushChannel,
		VAPIDPublicKey: a.pushService.VAPIDPublicKey(),
		Preferences:    a.users,
		LinkCodes:      a.jwt,
		BotUsername:    a.botUsername,
		AllowedOrigins: cfg.AllowedOrigins,
		Location:       cfg.Location,
		RateLimiter:    rateLimiter,
	}, logger)

	rateLimiter.StartCleanup(ctx, 5*time.Minute)

	var wg sync.WaitGroup

	if a.telegramAPI != nil {
		bot := telegram.NewBot(a.telegramAPI, a.users, a.jwt, logger.With("component", "telegram"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			bot.Run(ctx)
		}()
	}

	a.scheduler.Start(ctx)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("freshkeep listening", "addr", httpServer.Addr, "timezone", cfg.Location.String())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			a.scheduler.Stop()
			wg.Wait()
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	a.hub.CloseAll("server shutting down")
	// in-flight jobs finish their current user before Stop returns
	a.scheduler.Stop()
	wg.Wait()
	return nil
}
