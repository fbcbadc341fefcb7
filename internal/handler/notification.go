package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/freshkeep/internal/auth"
	"github.com/dukerupert/freshkeep/internal/model"
	"github.com/dukerupert/freshkeep/internal/store"
	ws "github.com/dukerupert/freshkeep/internal/websocket"
)

type NotificationStore interface {
	List(ctx context.Context, userID int64, f store.NotificationFilter, p store.Page) (*store.NotificationPage, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
	MarkRead(ctx context.Context, id, userID int64, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID int64, at time.Time) (int64, error)
	Archive(ctx context.Context, id, userID int64) (bool, error)
	Delete(ctx context.Context, id, userID int64, at time.Time) (bool, error)
}

// LiveSender pushes state changes to the user's other open sessions.
type LiveSender interface {
	Send(userID int64, msg ws.Message)
}

type NotificationHandler struct {
	store  NotificationStore
	live   LiveSender
	logger *slog.Logger
}

func NewNotificationHandler(ns NotificationStore, live LiveSender, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{store: ns, live: live, logger: logger}
}

// List handles GET /api/notifications?status=&type=&limit=&offset=
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	q := r.URL.Query()
	f := store.NotificationFilter{
		Status: model.NotificationStatus(q.Get("status")),
		Type:   model.NotificationType(q.Get("type")),
	}
	switch f.Status {
	case "", model.NotificationUnread, model.NotificationRead, model.NotificationArchived:
	default:
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	page, err := h.store.List(r.Context(), userID, f, store.Page{Limit: limit, Offset: offset})
	if err != nil {
		h.logger.Error("list notifications", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// UnreadCount handles GET /api/notifications/unread-count
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	n, err := h.store.UnreadCount(r.Context(), userID)
	if err != nil {
		h.logger.Error("count unread notifications", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to count notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// MarkRead handles POST /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, "read", func(ctx context.Context, id, userID int64) (bool, error) {
		return h.store.MarkRead(ctx, id, userID, time.Now())
	})
}

// Archive handles POST /api/notifications/{id}/archive
func (h *NotificationHandler) Archive(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, "archived", h.store.Archive)
}

// Delete handles DELETE /api/notifications/{id}
func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, "deleted", func(ctx context.Context, id, userID int64) (bool, error) {
		return h.store.Delete(ctx, id, userID, time.Now())
	})
}

// MarkAllRead handles POST /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	n, err := h.store.MarkAllRead(r.Context(), userID, time.Now())
	if err != nil {
		h.logger.Error("mark all notifications read", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update notifications")
		return
	}
	if n > 0 {
		h.live.Send(userID, ws.NewMessage("notification", "read_all", 0, map[string]any{"count": n}))
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// update applies fn to one of the caller's notifications. Another user's
// notification is reported as not found.
func (h *NotificationHandler) update(w http.ResponseWriter, r *http.Request, action string, fn func(ctx context.Context, id, userID int64) (bool, error)) {
	userID := auth.UserID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	ok, err := fn(r.Context(), id, userID)
	if err != nil {
		h.logger.Error("update notification", "action", action, "id", id, "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update notification")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}

	h.live.Send(userID, ws.NewMessage("notification", action, id, nil))
	w.WriteHeader(http.StatusNoContent)
}
