// Package orchestrator creates jobs and dispatches them to a backend.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vidaudio/internal/registry"
	"github.com/kiranshivaraju/vidaudio/internal/source"
	"github.com/kiranshivaraju/vidaudio/pkg/models"
)

// SourceChecker reports whether a URL can be processed.
type SourceChecker interface {
	IsSupportedSource(raw string) bool
}

// SubmitRequest is a client's request for a conversion.
type SubmitRequest struct {
	SourceURL    string
	Backend      models.Backend
	StrictRemote bool
}

// Orchestrator is the entry point for new jobs.
type Orchestrator struct {
	registry *registry.Registry
	selector Selector
	sources  SourceChecker
	local    Backend
	remote   Backend
	newID    func() string
}

// New creates an Orchestrator. remote may be nil when no worker is configured.
func New(reg *registry.Registry, sel Selector, sources SourceChecker, local, remote Backend) *Orchestrator {
	return &Orchestrator{
		registry: reg,
		selector: sel,
		sources:  sources,
		local:    local,
		remote:   remote,
		newID:    func() string { return uuid.New().String() },
	}
}

// Submit validates the request, selects a backend and launches the job.
// Validation and configuration errors are returned before any job is
// recorded; a strict-mode delegation failure removes the record again.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (models.Job, error) {
	sourceURL := strings.TrimSpace(req.SourceURL)
	if err := o.validate(sourceURL); err != nil {
		return models.Job{}, err
	}

	kind, err := o.selector.Choose(req.Backend, req.StrictRemote)
	if err != nil {
		return models.Job{}, err
	}
	if kind == models.BackendRemote && o.remote == nil {
		return models.Job{}, fmt.Errorf("%w: remote backend selected but no client is wired", models.ErrConfiguration)
	}

	id := o.newID()

	if kind == models.BackendLocal {
		job, err := o.local.Launch(ctx, id, sourceURL, o.ledger(id, sourceURL, models.BackendLocal))
		if err != nil {
			return models.Job{}, err
		}
		slog.Info("job created", "job_id", id, "backend", job.Backend)
		return job, nil
	}

	job, err := o.remote.Launch(ctx, id, sourceURL, o.ledger(id, sourceURL, models.BackendRemote))
	if err == nil {
		slog.Info("job delegated", "job_id", id, "external_job_id", job.ExternalJobID)
		return job, nil
	}
	o.registry.Delete(id)
	if o.selector.Strict(req.StrictRemote) {
		slog.Error("delegation failed in strict mode", "job_id", id, "error", err)
		return models.Job{}, err
	}

	// The worker may still know the old id, so the local job gets a new one
	// and late callbacks for the old id find nothing to update.
	localID := o.newID()
	slog.Warn("delegation failed, falling back to local processing",
		"job_id", localID, "delegated_job_id", id, "error", err)
	job, err = o.local.Launch(ctx, localID, sourceURL,
		o.ledger(localID, sourceURL, models.BackendLocal, registry.WithFallback(true)))
	if err != nil {
		return models.Job{}, err
	}
	return job, nil
}

func (o *Orchestrator) validate(sourceURL string) error {
	if sourceURL == "" {
		return fmt.Errorf("%w: sourceUrl is required", models.ErrValidation)
	}
	if !source.IsWellFormedURL(sourceURL) {
		return fmt.Errorf("%w: sourceUrl is not a valid URL", models.ErrValidation)
	}
	if !o.sources.IsSupportedSource(sourceURL) {
		return fmt.Errorf("%w: unsupported source: domain and file extension are not recognised", models.ErrValidation)
	}
	return nil
}

func (o *Orchestrator) ledger(id, sourceURL string, backend models.Backend, base ...registry.UpdateOption) Ledger {
	return &jobLedger{registry: o.registry, id: id, sourceURL: sourceURL, backend: backend, base: base}
}

// jobLedger binds a Ledger to one job id.
type jobLedger struct {
	registry  *registry.Registry
	id        string
	sourceURL string
	backend   models.Backend
	base      []registry.UpdateOption
	created   models.Job
}

func (l *jobLedger) Create(opts ...registry.UpdateOption) models.Job {
	l.created = l.registry.Create(l.id, l.sourceURL, l.backend, append(l.base, opts...)...)
	return l.created
}

// Annotate returns the last created snapshot if the record has been deleted meanwhile.
func (l *jobLedger) Annotate(opts ...registry.UpdateOption) models.Job {
	job, ok := l.registry.Update(l.id, opts...)
	if !ok {
		return l.created
	}
	return job
}
