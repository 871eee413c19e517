package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/vidaudio/internal/api/response"
)

// JobDeleter removes jobs from the registry.
type JobDeleter interface {
	Delete(id string) bool
}

// NewDeleteJobHandler returns an http.HandlerFunc for DELETE /api/v1/jobs/{jobID}.
// Only the job record is removed; stored audio is left to its own retention.
func NewDeleteJobHandler(jobs JobDeleter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		if !jobs.Delete(jobID) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}
		slog.Info("job deleted", "job_id", jobID)
		response.NoContent(w)
	}
}
