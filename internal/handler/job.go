package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/freshkeep/internal/auth"
	"github.com/dukerupert/freshkeep/internal/jobs"
	"github.com/dukerupert/freshkeep/internal/schedule"
)

type JobScheduler interface {
	Status() []schedule.JobStatus
	TriggerNow(name string) error
}

type JobSummaries interface {
	LastSummaries() []jobs.Summary
}

type JobHandler struct {
	scheduler JobScheduler
	summaries JobSummaries
	logger    *slog.Logger
}

func NewJobHandler(s JobScheduler, summaries JobSummaries, logger *slog.Logger) *JobHandler {
	return &JobHandler{scheduler: s, summaries: summaries, logger: logger}
}

type jobStatusResponse struct {
	Jobs      []schedule.JobStatus `json:"jobs"`
	Summaries []jobs.Summary       `json:"summaries"`
}

// Status handles GET /api/jobs
func (h *JobHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, jobStatusResponse{
		Jobs:      h.scheduler.Status(),
		Summaries: h.summaries.LastSummaries(),
	})
}

// Trigger handles POST /api/jobs/{name}/trigger. The run starts in the
// background; poll Status for its outcome.
func (h *JobHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := h.scheduler.TriggerNow(name)
	switch {
	case err == nil:
		h.logger.Info("job triggered", "job", name, "user_id", auth.UserID(r.Context()))
		writeJSON(w, http.StatusAccepted, map[string]string{"job": name, "status": "started"})
	case errors.Is(err, schedule.ErrUnknownJob):
		writeError(w, http.StatusNotFound, "unknown job")
	case errors.Is(err, schedule.ErrJobRunning):
		writeError(w, http.StatusConflict, "job is already running")
	case errors.Is(err, schedule.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "scheduler is stopped")
	default:
		h.logger.Error("trigger job", "job", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to trigger job")
	}
}
