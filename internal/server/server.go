package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/freshkeep/internal/handler"
	"github.com/dukerupert/freshkeep/internal/middleware"
	"github.com/dukerupert/freshkeep/internal/notify"
	ws "github.com/dukerupert/freshkeep/internal/websocket"
)

const (
	triggerLimit  = 5
	triggerWindow = time.Minute
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the services the HTTP surface is built on.
type Deps struct {
	DB             Pinger
	Hub            *ws.Hub
	Verifier       middleware.TokenVerifier
	Notifications  handler.NotificationStore
	Reports        handler.Reporter
	Scheduler      handler.JobScheduler
	Summaries      handler.JobSummaries
	PushStore      handler.PushStore
	Users          handler.UserGetter
	PushChannel    notify.Channel
	VAPIDPublicKey string
	Preferences    handler.PreferenceStore
	LinkCodes      handler.LinkCodeIssuer
	BotUsername    string
	AllowedOrigins []string
	Location       *time.Location
	RateLimiter    *middleware.RateLimiter
}

type Server struct {
	deps          Deps
	notificationH *handler.NotificationHandler
	reportH       *handler.ReportHandler
	jobH          *handler.JobHandler
	pushH         *handler.PushHandler
	settingsH     *handler.SettingsHandler
	rateLimiter   *middleware.RateLimiter
	logger        *slog.Logger
}

func New(deps Deps, logger *slog.Logger) *Server {
	rl := deps.RateLimiter
	if rl == nil {
		rl = middleware.NewRateLimiter()
	}
	s := &Server{
		deps:          deps,
		notificationH: handler.NewNotificationHandler(deps.Notifications, deps.Hub, logger.With("component", "notification")),
		reportH:       handler.NewReportHandler(deps.Reports, deps.Location, logger.With("component", "report")),
		jobH:          handler.NewJobHandler(deps.Scheduler, deps.Summaries, logger.With("component", "jobs")),
		settingsH:     handler.NewSettingsHandler(deps.Preferences, deps.LinkCodes, deps.BotUsername, logger.With("component", "settings")),
		rateLimiter:   rl,
		logger:        logger,
	}
	if deps.PushChannel != nil {
		s.pushH = handler.NewPushHandler(deps.PushStore, deps.Users, deps.PushChannel, deps.VAPIDPublicKey, logger.With("component", "push_handler"))
	}
	return s
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("GET /health", s.healthHandler)

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.deps.Verifier)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.PingContext(ctx); err != nil {
			s.logger.Error("health check", "error", err)
			status, code = "unavailable", http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(`{"status":"` + status + `"}`))
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Notification routes
	mux.HandleFunc("GET /api/notifications", s.notificationH.List)
	mux.HandleFunc("GET /api/notifications/unread-count", s.notificationH.UnreadCount)
	mux.HandleFunc("POST /api/notifications/read-all", s.notificationH.MarkAllRead)
	mux.HandleFunc("POST /api/notifications/{id}/read", s.notificationH.MarkRead)
	mux.HandleFunc("POST /api/notifications/{id}/archive", s.notificationH.Archive)
	mux.HandleFunc("DELETE /api/notifications/{id}", s.notificationH.Delete)

	// Report routes
	mux.HandleFunc("GET /api/reports/{type}", s.reportH.Report)
	mux.HandleFunc("GET /api/dashboard", s.reportH.Dashboard)

	// Job routes; triggering is admin-only and rate limited per user
	mux.HandleFunc("GET /api/jobs", s.jobH.Status)
	trigger := middleware.RateLimit(s.rateLimiter, middleware.UserKey, triggerLimit, triggerWindow)(http.HandlerFunc(s.jobH.Trigger))
	mux.Handle("POST /api/jobs/{name}/trigger", middleware.RequireAdmin(trigger))

	// Preference routes
	mux.HandleFunc("GET /api/preferences", s.settingsH.GetPreferences)
	mux.HandleFunc("PUT /api/preferences", s.settingsH.UpdatePreferences)
	mux.HandleFunc("POST /api/telegram/link-code", s.settingsH.TelegramLinkCode)

	// Push notification routes
	if s.pushH != nil {
		mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
		mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
		mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
		mux.HandleFunc("POST /api/push/test", s.pushH.TestNotification)
	}

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.deps.Hub, s.deps.AllowedOrigins, s.logger.With("component", "websocket")))
}
