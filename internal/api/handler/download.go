package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/vidaudio/internal/api/response"
	"github.com/kiranshivaraju/vidaudio/internal/media"
	"github.com/kiranshivaraju/vidaudio/internal/netguard"
	"github.com/kiranshivaraju/vidaudio/internal/store"
	"github.com/kiranshivaraju/vidaudio/pkg/models"
)

// ArtifactOpener reads stored artifacts.
type ArtifactOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, store.Artifact, error)
}

// Downloader streams the audio of completed jobs. Results stored by this
// service are read from the store; results hosted by a remote worker are
// proxied through a client that refuses internal addresses.
type Downloader struct {
	jobs      JobReader
	artifacts ArtifactOpener
	locator   store.Locator
	client    *http.Client
}

func NewDownloader(jobs JobReader, artifacts ArtifactOpener, locator store.Locator, client *http.Client) *Downloader {
	if client == nil {
		client = netguard.New().Client(0)
	}
	return &Downloader{jobs: jobs, artifacts: artifacts, locator: locator, client: client}
}

// ServeHTTP handles GET /api/v1/download/{jobID}.
func (d *Downloader) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, ok := d.jobs.Get(jobID)
	if !ok {
		writeError(w, fmt.Errorf("%w: %s", models.ErrNotFound, jobID))
		return
	}
	if job.Status != models.StatusCompleted {
		writeError(w, fmt.Errorf("%w: job is %s", models.ErrNotReady, job.Status))
		return
	}
	if job.ResultURL == "" {
		slog.Error("completed job has no result url", "job_id", job.ID)
		response.Error(w, http.StatusInternalServerError, "INCONSISTENT_STATE",
			"Job completed but audio URL is missing", nil)
		return
	}

	if key, ok := d.locator.KeyFromURL(job.ResultURL); ok {
		d.serveStored(w, r, job.ID, key)
		return
	}
	d.proxy(w, r, job)
}

func (d *Downloader) serveStored(w http.ResponseWriter, r *http.Request, jobID, key string) {
	rc, art, err := d.artifacts.Open(r.Context(), key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "AUDIO_NOT_FOUND", "Audio file not found", nil)
			return
		}
		slog.Error("failed to open artifact", "job_id", jobID, "key", key, "error", err)
		response.Error(w, http.StatusInternalServerError, "DOWNLOAD_FAILED", "Failed to download audio file", nil)
		return
	}
	defer rc.Close()

	setAttachmentHeaders(w, jobID, art.Size)
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("download interrupted", "job_id", jobID, "error", err)
	}
}

func (d *Downloader) proxy(w http.ResponseWriter, r *http.Request, job models.Job) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, job.ResultURL, nil)
	if err != nil {
		slog.Error("invalid result url", "job_id", job.ID, "error", err)
		response.Error(w, http.StatusInternalServerError, "DOWNLOAD_FAILED", "Failed to download audio file", nil)
		return
	}

	resp, err := d.client.Do(req)
	if errors.Is(err, netguard.ErrBlocked) {
		slog.Warn("refused to proxy result url", "job_id", job.ID, "url", job.ResultURL, "error", err)
		response.Error(w, http.StatusBadGateway, "AUDIO_URL_REJECTED", "Audio URL points at a disallowed address", nil)
		return
	}
	if err != nil {
		slog.Error("failed to fetch remote audio", "job_id", job.ID, "error", err)
		response.Error(w, http.StatusInternalServerError, "DOWNLOAD_FAILED", "Failed to download audio file", nil)
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		response.Error(w, http.StatusNotFound, "AUDIO_NOT_FOUND", "Audio file not found or has been deleted", nil)
		return
	case resp.StatusCode == http.StatusForbidden:
		response.Error(w, http.StatusForbidden, "AUDIO_FORBIDDEN", "Access denied to audio file", nil)
		return
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		slog.Error("remote audio fetch failed", "job_id", job.ID, "status", resp.StatusCode)
		response.Error(w, http.StatusInternalServerError, "DOWNLOAD_FAILED", "Failed to download audio file", nil)
		return
	}

	setAttachmentHeaders(w, job.ID, resp.ContentLength)
	if _, err := io.Copy(w, resp.Body); err != nil {
		slog.Warn("download interrupted", "job_id", job.ID, "error", err)
	}
}

func setAttachmentHeaders(w http.ResponseWriter, jobID string, size int64) {
	w.Header().Set("Content-Type", media.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, store.AudioKey(jobID)))
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
}
