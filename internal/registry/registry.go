// Package registry holds the transient, in-memory table of conversion jobs.
// A Registry is constructed once per process and shared by reference.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/vidaudio/pkg/models"
)

// DefaultMaxAge is the sweep horizon used when none is configured.
const DefaultMaxAge = 24 * time.Hour

// maxProcessingProgress keeps 100 reserved for Completed.
const maxProcessingProgress = 99

var (
	ErrNotFound          = models.ErrNotFound
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Registry is safe for concurrent use. Every operation is atomic per job.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
	now  func() time.Time
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		jobs: make(map[string]*models.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

type updateParams struct {
	externalJobID  *string
	submittedAt    *time.Time
	processingTime *int64
	serviceType    *string
	metadata       json.RawMessage
	fallback       *bool
}

// UpdateOption sets an auxiliary field during Create or Update.
// Status, progress, result and error fields change only through the Set helpers.
type UpdateOption func(*updateParams)

func WithExternalJobID(id string) UpdateOption {
	return func(p *updateParams) { p.externalJobID = &id }
}

func WithSubmittedAt(t time.Time) UpdateOption {
	return func(p *updateParams) { p.submittedAt = &t }
}

func WithProcessingTime(ms int64) UpdateOption {
	return func(p *updateParams) { p.processingTime = &ms }
}

func WithServiceType(s string) UpdateOption {
	return func(p *updateParams) { p.serviceType = &s }
}

func WithMetadata(raw json.RawMessage) UpdateOption {
	return func(p *updateParams) { p.metadata = raw }
}

func WithFallback(fallback bool) UpdateOption {
	return func(p *updateParams) { p.fallback = &fallback }
}

func (p *updateParams) apply(j *models.Job) {
	if p.externalJobID != nil {
		j.ExternalJobID = *p.externalJobID
	}
	if p.submittedAt != nil {
		t := *p.submittedAt
		j.SubmittedAt = &t
	}
	if p.processingTime != nil {
		ms := *p.processingTime
		j.ProcessingTime = &ms
	}
	if p.serviceType != nil {
		j.ServiceType = *p.serviceType
	}
	if len(p.metadata) > 0 {
		j.Metadata = append(json.RawMessage(nil), p.metadata...)
	}
	if p.fallback != nil {
		j.Fallback = *p.fallback
	}
}

// Create inserts a new Queued job. An existing record with the same id is replaced.
func (r *Registry) Create(id, sourceURL string, backend models.Backend, opts ...UpdateOption) models.Job {
	now := r.now()
	job := &models.Job{
		ID:        id,
		SourceURL: sourceURL,
		Status:    models.StatusQueued,
		Backend:   backend,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyOpts(job, opts)

	r.mu.Lock()
	r.jobs[id] = job
	r.mu.Unlock()

	return snapshot(job)
}

// Get returns a copy of the job.
func (r *Registry) Get(id string) (models.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return snapshot(job), true
}

// Update merges auxiliary fields and refreshes UpdatedAt. It reports false for an unknown id.
func (r *Registry) Update(id string, opts ...UpdateOption) (models.Job, bool) {
	var p updateParams
	for _, opt := range opts {
		opt(&p)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	p.apply(job)
	job.UpdatedAt = r.now()
	return snapshot(job), true
}

// Delete removes the job and reports whether it existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; !ok {
		return false
	}
	delete(r.jobs, id)
	return true
}

// Sweep removes jobs created more than maxAge ago and returns how many were removed.
func (r *Registry) Sweep(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, job := range r.jobs {
		if job.CreatedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// SetProcessing moves a Queued job to Processing. Calling it on a job that is
// already Processing is a no-op.
func (r *Registry) SetProcessing(id string) (models.Job, error) {
	return r.mutate(id, func(j *models.Job) error {
		if j.Status == models.StatusProcessing {
			return nil
		}
		if !j.Status.CanTransitionTo(models.StatusProcessing) {
			return ErrInvalidTransition
		}
		j.Status = models.StatusProcessing
		return nil
	})
}

// SetProgress raises the progress of a Processing job. Lower values are
// ignored so progress never decreases.
func (r *Registry) SetProgress(id string, progress int) (models.Job, error) {
	return r.mutate(id, func(j *models.Job) error {
		if j.Status != models.StatusProcessing {
			return ErrInvalidTransition
		}
		progress = min(max(progress, 0), maxProcessingProgress)
		if progress > j.Progress {
			j.Progress = progress
		}
		return nil
	})
}

// SetCompleted marks the job Completed with its result URL and progress 100.
func (r *Registry) SetCompleted(id, resultURL string, opts ...UpdateOption) (models.Job, error) {
	if resultURL == "" {
		return models.Job{}, errors.New("completed job requires a result url")
	}
	return r.mutate(id, func(j *models.Job) error {
		if !j.Status.CanTransitionTo(models.StatusCompleted) {
			return ErrInvalidTransition
		}
		now := r.now()
		j.Status = models.StatusCompleted
		j.Progress = 100
		j.ResultURL = resultURL
		j.ErrorDetail = ""
		j.FinishedAt = &now
		applyOpts(j, opts)
		return nil
	})
}

// SetFailed marks the job Failed with a description and resets progress to 0.
func (r *Registry) SetFailed(id, detail string, opts ...UpdateOption) (models.Job, error) {
	if detail == "" {
		detail = "unknown error"
	}
	return r.mutate(id, func(j *models.Job) error {
		if !j.Status.CanTransitionTo(models.StatusFailed) {
			return ErrInvalidTransition
		}
		now := r.now()
		j.Status = models.StatusFailed
		j.Progress = 0
		j.ResultURL = ""
		j.ErrorDetail = detail
		j.FinishedAt = &now
		applyOpts(j, opts)
		return nil
	})
}

// mutate runs fn under the write lock. UpdatedAt is refreshed only when fn succeeds.
func (r *Registry) mutate(id string, fn func(*models.Job) error) (models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	if err := fn(job); err != nil {
		return snapshot(job), err
	}
	job.UpdatedAt = r.now()
	return snapshot(job), nil
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(maxAge); n > 0 {
				slog.Info("swept expired jobs", "removed", n, "remaining", r.Len())
			}
		}
	}
}

func applyOpts(j *models.Job, opts []UpdateOption) {
	var p updateParams
	for _, opt := range opts {
		opt(&p)
	}
	p.apply(j)
}

func snapshot(j *models.Job) models.Job {
	out := *j
	if j.Metadata != nil {
		out.Metadata = append(json.RawMessage(nil), j.Metadata...)
	}
	if j.SubmittedAt != nil {
		t := *j.SubmittedAt
		out.SubmittedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	if j.ProcessingTime != nil {
		ms := *j.ProcessingTime
		out.ProcessingTime = &ms
	}
	return out
}
