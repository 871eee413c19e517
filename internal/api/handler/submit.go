package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kiranshivaraju/vidaudio/internal/api/response"
	"github.com/kiranshivaraju/vidaudio/internal/orchestrator"
	"github.com/kiranshivaraju/vidaudio/pkg/models"
)

const maxSubmitBody = 64 << 10

// Submitter creates conversion jobs.
type Submitter interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (models.Job, error)
}

type submitResponse struct {
	JobID       string         `json:"jobId"`
	Status      models.Status  `json:"status"`
	Backend     models.Backend `json:"backend"`
	Fallback    bool           `json:"fallback,omitempty"`
	StatusURL   string         `json:"statusUrl"`
	DownloadURL string         `json:"downloadUrl"`
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/extract-audio.
func NewSubmitHandler(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SourceURL    string `json:"sourceUrl"`
			Backend      string `json:"backend"`
			StrictRemote bool   `json:"strictRemote"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody)).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid JSON body", nil)
			return
		}

		job, err := svc.Submit(r.Context(), orchestrator.SubmitRequest{
			SourceURL:    req.SourceURL,
			Backend:      models.Backend(req.Backend),
			StrictRemote: req.StrictRemote,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		response.Accepted(w, submitResponse{
			JobID:       job.ID,
			Status:      job.Status,
			Backend:     job.Backend,
			Fallback:    job.Fallback,
			StatusURL:   statusURL(job.ID),
			DownloadURL: downloadURL(job.ID),
		})
	}
}
