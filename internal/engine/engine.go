// Package engine runs the in-process fetch, validate, convert and store
// pipeline for locally processed jobs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kiranshivaraju/vidaudio/internal/media"
	"github.com/kiranshivaraju/vidaudio/internal/progress"
	"github.com/kiranshivaraju/vidaudio/internal/registry"
	"github.com/kiranshivaraju/vidaudio/internal/store"
)

// ServiceType identifies locally processed results.
const ServiceType = "local"

// Fetcher downloads a source URL to a local file.
type Fetcher interface {
	Fetch(ctx context.Context, jobID, sourceURL string, sink progress.Sink) (string, error)
}

// Transcoder validates and converts media files.
type Transcoder interface {
	Validate(ctx context.Context, path string) (media.Info, error)
	Convert(ctx context.Context, in, out string, info media.Info, sink progress.Sink) error
}

// Engine owns the lifecycle of local jobs. It is the only writer for them.
type Engine struct {
	registry   *registry.Registry
	fetcher    Fetcher
	transcoder Transcoder
	store      store.Store
	stages     progress.Table
	tempDir    string
	timeout    time.Duration
	remove     func(name string) error
	wg         sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithTempDir sets where converted files are written before upload.
func WithTempDir(dir string) Option {
	return func(e *Engine) { e.tempDir = dir }
}

// WithTimeout bounds a single pipeline run.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithStages overrides the progress table.
func WithStages(t progress.Table) Option {
	return func(e *Engine) { e.stages = t }
}

// New creates an Engine.
func New(reg *registry.Registry, f Fetcher, t Transcoder, s store.Store, opts ...Option) *Engine {
	e := &Engine{
		registry:   reg,
		fetcher:    f,
		transcoder: t,
		store:      s,
		stages:     progress.DefaultTable,
		tempDir:    os.TempDir(),
		timeout:    30 * time.Minute,
		remove:     os.Remove,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start runs the pipeline for an existing job in a background goroutine.
func (e *Engine) Start(jobID, sourceURL string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx := context.Background()
		if e.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.timeout)
			defer cancel()
		}
		_ = e.Run(ctx, jobID, sourceURL)
	}()
}

// Wait blocks until all started pipelines return or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes the pipeline synchronously. Any failure is recorded on the job
// and returned. Temporary files are removed on every exit path.
func (e *Engine) Run(ctx context.Context, jobID, sourceURL string) (err error) {
	start := time.Now()
	var temps []string

	defer func() {
		for _, p := range temps {
			if rmErr := e.remove(p); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				slog.Warn("failed to remove temp file", "job_id", jobID, "path", p, "error", rmErr)
			}
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in local pipeline", "error", r, "job_id", jobID)
			err = fmt.Errorf("internal error: %v", r)
		}
		if err != nil {
			e.fail(jobID, err)
		}
	}()

	if _, err := e.registry.SetProcessing(jobID); err != nil {
		return fmt.Errorf("start job: %w", err)
	}
	slog.Info("local pipeline started", "job_id", jobID)

	report := func(p int) {
		if _, err := e.registry.SetProgress(jobID, p); err != nil && !errors.Is(err, registry.ErrInvalidTransition) {
			slog.Warn("progress update failed", "job_id", jobID, "error", err)
		}
	}

	report(e.stages.Map(progress.StageDownload, 0))
	inPath, err := e.fetcher.Fetch(ctx, jobID, sourceURL, e.stages.StageSink(progress.StageDownload, report))
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	temps = append(temps, inPath)

	info, err := e.transcoder.Validate(ctx, inPath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	report(e.stages.End(progress.StageValidate))

	outPath := filepath.Join(e.tempDir, jobID+".mp3")
	temps = append(temps, outPath)

	report(e.stages.Map(progress.StageConvert, 0))
	if err := e.transcoder.Convert(ctx, inPath, outPath, info, e.stages.StageSink(progress.StageConvert, report)); err != nil {
		return fmt.Errorf("conversion failed: %w", err)
	}

	resultURL, err := e.upload(ctx, jobID, outPath)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	report(e.stages.End(progress.StageStore))

	job, err := e.registry.SetCompleted(jobID, resultURL,
		registry.WithProcessingTime(time.Since(start).Milliseconds()),
		registry.WithServiceType(ServiceType))
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}

	slog.Info("local pipeline completed", "job_id", jobID, "result_url", job.ResultURL,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (e *Engine) upload(ctx context.Context, jobID, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return e.store.Put(ctx, store.AudioKey(jobID), media.ContentType, f)
}

func (e *Engine) fail(jobID string, cause error) {
	slog.Error("local pipeline failed", "job_id", jobID, "error", cause)
	if _, err := e.registry.SetFailed(jobID, cause.Error()); err != nil {
		slog.Warn("could not record failure", "job_id", jobID, "error", err)
	}
}
