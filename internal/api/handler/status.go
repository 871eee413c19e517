package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/vidaudio/internal/api/response"
	"github.com/kiranshivaraju/vidaudio/pkg/models"
)

// JobReader reads job snapshots.
type JobReader interface {
	Get(id string) (models.Job, bool)
}

type statusResponse struct {
	JobID       string         `json:"jobId"`
	Status      models.Status  `json:"status"`
	Progress    int            `json:"progress"`
	Backend     models.Backend `json:"backend"`
	Fallback    bool           `json:"fallback,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	Message     string         `json:"message,omitempty"`
	CurrentStep string         `json:"currentStep,omitempty"`

	AudioURL       string     `json:"audioUrl,omitempty"`
	DownloadURL    string     `json:"downloadUrl,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	ProcessingTime *int64     `json:"processingTime,omitempty"`
	ServiceType    string     `json:"serviceType,omitempty"`

	Error    string     `json:"error,omitempty"`
	FailedAt *time.Time `json:"failedAt,omitempty"`
	RetryURL string     `json:"retryUrl,omitempty"`
}

// NewStatusHandler returns an http.HandlerFunc for GET /api/v1/status/{jobID}.
// Completed jobs answer 200, failed jobs 422 and in-flight jobs 202.
func NewStatusHandler(jobs JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := jobs.Get(chi.URLParam(r, "jobID"))
		if !ok {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}

		resp := statusResponse{
			JobID:     job.ID,
			Status:    job.Status,
			Progress:  job.Progress,
			Backend:   job.Backend,
			Fallback:  job.Fallback,
			CreatedAt: job.CreatedAt,
			UpdatedAt: job.UpdatedAt,
		}

		code := http.StatusAccepted
		switch job.Status {
		case models.StatusQueued:
			resp.Message = "Job is queued for processing"
		case models.StatusProcessing:
			resp.CurrentStep, resp.Message = currentStep(job.Progress)
		case models.StatusCompleted:
			code = http.StatusOK
			resp.Message = "Audio extraction completed"
			resp.AudioURL = job.ResultURL
			resp.DownloadURL = downloadURL(job.ID)
			resp.CompletedAt = finishedAt(job)
			resp.ProcessingTime = job.ProcessingTime
			resp.ServiceType = job.ServiceType
		case models.StatusFailed:
			code = http.StatusUnprocessableEntity
			resp.Message = "Audio extraction failed"
			resp.Error = job.ErrorDetail
			resp.FailedAt = finishedAt(job)
			resp.RetryURL = submitPath
		}

		response.Status(w, code, resp)
	}
}

func currentStep(progress int) (step, message string) {
	switch {
	case progress < 50:
		return "downloading", "Downloading video"
	case progress < 60:
		return "validating", "Validating video file"
	case progress < 90:
		return "converting", "Converting to audio"
	default:
		return "uploading", "Uploading audio file"
	}
}

func finishedAt(job models.Job) *time.Time {
	if job.FinishedAt != nil {
		return job.FinishedAt
	}
	t := job.UpdatedAt
	return &t
}
