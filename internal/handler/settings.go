package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/freshkeep/internal/auth"
	"github.com/dukerupert/freshkeep/internal/model"
)

const maxExpiryAlertDays = 30

type PreferenceStore interface {
	GetPreferences(ctx context.Context, userID int64) (*model.UserPreferences, error)
	UpdatePreferences(ctx context.Context, userID int64, prefs model.UserPreferences) error
}

// LinkCodeIssuer mints the one-time code a user sends to the Telegram bot.
type LinkCodeIssuer interface {
	IssueLinkCode(userID int64) (string, error)
}

type SettingsHandler struct {
	prefs       PreferenceStore
	links       LinkCodeIssuer
	botUsername string
	logger      *slog.Logger
}

func NewSettingsHandler(prefs PreferenceStore, links LinkCodeIssuer, botUsername string, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{prefs: prefs, links: links, botUsername: botUsername, logger: logger}
}

// GetPreferences handles GET /api/preferences
func (h *SettingsHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	prefs, err := h.prefs.GetPreferences(r.Context(), userID)
	if err != nil {
		h.logger.Error("get preferences", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get preferences")
		return
	}
	if prefs == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

type updatePreferencesRequest struct {
	EmailNotificationsEnabled *bool `json:"email_notifications_enabled"`
	PushNotificationsEnabled  *bool `json:"push_notifications_enabled"`
	ExpiryAlertDays           *int  `json:"expiry_alert_days"`
}

// UpdatePreferences handles PUT /api/preferences. Omitted fields keep their
// current value.
func (h *SettingsHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req updatePreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ExpiryAlertDays != nil && (*req.ExpiryAlertDays < 0 || *req.ExpiryAlertDays > maxExpiryAlertDays) {
		writeError(w, http.StatusBadRequest, "expiry_alert_days must be between 0 and 30")
		return
	}

	prefs, err := h.prefs.GetPreferences(r.Context(), userID)
	if err != nil || prefs == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if req.EmailNotificationsEnabled != nil {
		prefs.EmailNotificationsEnabled = *req.EmailNotificationsEnabled
	}
	if req.PushNotificationsEnabled != nil {
		prefs.PushNotificationsEnabled = *req.PushNotificationsEnabled
	}
	if req.ExpiryAlertDays != nil {
		prefs.ExpiryAlertDays = *req.ExpiryAlertDays
	}

	if err := h.prefs.UpdatePreferences(r.Context(), userID, *prefs); err != nil {
		h.logger.Error("update preferences", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update preferences")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

type linkCodeResponse struct {
	Code      string `json:"code"`
	ExpiresIn int    `json:"expires_in"`
	URL       string `json:"url,omitempty"`
}

// TelegramLinkCode handles POST /api/telegram/link-code
func (h *SettingsHandler) TelegramLinkCode(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	code, err := h.links.IssueLinkCode(userID)
	if err != nil {
		h.logger.Error("issue telegram link code", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create link code")
		return
	}
	resp := linkCodeResponse{Code: code, ExpiresIn: int(auth.LinkCodeTTL.Seconds())}
	if h.botUsername != "" {
		resp.URL = "https://t.me/" + h.botUsername + "?start=" + code
	}
	writeJSON(w, http.StatusCreated, resp)
}
