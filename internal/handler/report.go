package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/freshkeep/internal/analytics"
	"github.com/dukerupert/freshkeep/internal/auth"
	"github.com/dukerupert/freshkeep/internal/expiry"
	"github.com/dukerupert/freshkeep/internal/model"
)

// DefaultReportDays is the window used when a report request names no start.
const DefaultReportDays = 30

type Reporter interface {
	Report(ctx context.Context, userID int64, t model.ReportType, start, end time.Time, windowDays int) (*model.ReportResult, error)
	DashboardStats(ctx context.Context, userID int64) (*model.Overview, error)
}

type ReportHandler struct {
	reports Reporter
	loc     *time.Location
	logger  *slog.Logger
	now     func() time.Time
}

func NewReportHandler(reports Reporter, loc *time.Location, logger *slog.Logger) *ReportHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &ReportHandler{reports: reports, loc: loc, logger: logger, now: time.Now}
}

// Report handles GET /api/reports/{type}?start=&end=&window=
// start and end are dates, both included; they default to the last 30 days.
func (h *ReportHandler) Report(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	t := model.ReportType(r.PathValue("type"))
	switch t {
	case model.ReportExpense, model.ReportWaste, model.ReportConsumption:
	default:
		writeError(w, http.StatusNotFound, "unknown report type")
		return
	}

	today := expiry.StartOfDay(h.now().In(h.loc))
	end, err := queryDate(r, "end", today, h.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end date, want YYYY-MM-DD")
		return
	}
	start, err := queryDate(r, "start", end.AddDate(0, 0, -(DefaultReportDays-1)), h.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start date, want YYYY-MM-DD")
		return
	}
	if start.After(end) {
		writeError(w, http.StatusBadRequest, "start must not be after end")
		return
	}
	window, err := queryInt(r, "window", analytics.DefaultConsumptionWindow)
	if err != nil || window <= 0 || window > analytics.MaxConsumptionWindow {
		writeError(w, http.StatusBadRequest, "invalid window, want 1-366 days")
		return
	}

	res, err := h.reports.Report(r.Context(), userID, t, start, end, window)
	if err != nil {
		h.logger.Error("build report", "type", t, "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Dashboard handles GET /api/dashboard
func (h *ReportHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	stats, err := h.reports.DashboardStats(r.Context(), userID)
	if err != nil {
		h.logger.Error("dashboard stats", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load dashboard")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
