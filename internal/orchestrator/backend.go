package orchestrator

import (
	"context"

	"github.com/kiranshivaraju/vidaudio/internal/delegate"
	"github.com/kiranshivaraju/vidaudio/internal/registry"
	"github.com/kiranshivaraju/vidaudio/pkg/models"
)

// Ledger writes one job's registry record on behalf of a backend.
type Ledger interface {
	// Create records the job as Queued. It is called once, before any work
	// that could produce a status update.
	Create(opts ...registry.UpdateOption) models.Job
	// Annotate merges auxiliary fields without touching status or progress.
	Annotate(opts ...registry.UpdateOption) models.Job
}

// Backend is an execution strategy. The strategy is fixed when the job is
// created and never switched afterwards.
type Backend interface {
	Kind() models.Backend
	Launch(ctx context.Context, jobID, sourceURL string, ledger Ledger) (models.Job, error)
}

// Starter runs the local pipeline for an existing job.
type Starter interface {
	Start(jobID, sourceURL string)
}

// LocalBackend hands jobs to the in-process engine.
type LocalBackend struct {
	engine Starter
}

func NewLocalBackend(engine Starter) *LocalBackend {
	return &LocalBackend{engine: engine}
}

func (b *LocalBackend) Kind() models.Backend { return models.BackendLocal }

// Launch records the job and starts the pipeline in the background.
func (b *LocalBackend) Launch(_ context.Context, jobID, sourceURL string, ledger Ledger) (models.Job, error) {
	job := ledger.Create()
	b.engine.Start(jobID, sourceURL)
	return job, nil
}

// RemoteBackend delegates jobs to a remote worker.
type RemoteBackend struct {
	client      delegate.Client
	callbackURL string
}

func NewRemoteBackend(client delegate.Client, callbackURL string) *RemoteBackend {
	return &RemoteBackend{client: client, callbackURL: callbackURL}
}

func (b *RemoteBackend) Kind() models.Backend { return models.BackendRemote }

// Launch records the job before submitting it, so callbacks sent while the
// submission is in flight find the record. The delegation marker is merged
// once the worker acknowledges. On error the caller owns the record.
func (b *RemoteBackend) Launch(ctx context.Context, jobID, sourceURL string, ledger Ledger) (models.Job, error) {
	ledger.Create()
	sub, err := b.client.Submit(ctx, jobID, sourceURL, b.callbackURL)
	if err != nil {
		return models.Job{}, err
	}
	return ledger.Annotate(
		registry.WithExternalJobID(sub.ExternalJobID),
		registry.WithSubmittedAt(sub.SubmittedAt),
	), nil
}

var (
	_ Backend = (*LocalBackend)(nil)
	_ Backend = (*RemoteBackend)(nil)
)
