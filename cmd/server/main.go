// Package main is the entrypoint for the vidaudio API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/vidaudio/internal/api"
	"github.com/kiranshivaraju/vidaudio/internal/api/handler"
	mw "github.com/kiranshivaraju/vidaudio/internal/api/middleware"
	"github.com/kiranshivaraju/vidaudio/internal/cache"
	"github.com/kiranshivaraju/vidaudio/internal/config"
	"github.com/kiranshivaraju/vidaudio/internal/delegate"
	"github.com/kiranshivaraju/vidaudio/internal/engine"
	"github.com/kiranshivaraju/vidaudio/internal/media"
	"github.com/kiranshivaraju/vidaudio/internal/netguard"
	"github.com/kiranshivaraju/vidaudio/internal/orchestrator"
	"github.com/kiranshivaraju/vidaudio/internal/registry"
	"github.com/kiranshivaraju/vidaudio/internal/source"
	"github.com/kiranshivaraju/vidaudio/internal/store"
	"github.com/kiranshivaraju/vidaudio/internal/webhook"
)

const shutdownTimeout = 30 * time.Second

const bucketIdleTimeout = 5 * time.Minute

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"storage", cfg.Storage.Backend,
		"remote_enabled", cfg.Remote.Configured(),
		"delegation_mode", cfg.Remote.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open artifact storage
	artifacts, closeStore, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer closeStore()
	slog.Info("storage ready", "backend", artifacts.Name())

	// 3. Rate limiting: shared counters in Redis when configured
	var (
		sharedCache cache.Cache
		rateLimit   func(http.Handler) http.Handler
	)
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")
		sharedCache = redisCache
		rateLimit = mw.NewRateLimit(redisCache, cfg.RateLimit.RequestsPerMinute).Limit
	} else {
		buckets := mw.NewTokenBucket(cfg.RateLimit.RequestsPerMinute)
		go evictBuckets(ctx, buckets)
		rateLimit = buckets.Limit
	}

	// 4. Job registry and its janitor
	jobs := registry.New()
	go jobs.RunSweeper(ctx, cfg.Jobs.SweepInterval, cfg.Jobs.MaxAge)

	// 5. Local pipeline
	transcoder := media.NewTranscoder(cfg.Media.FFmpegPath, cfg.Media.FFprobePath)
	if err := transcoder.Available(); err != nil {
		slog.Warn("local conversion unavailable", "error", err)
	}
	resolver := source.NewResolver(cfg.Source)
	localEngine := engine.New(jobs, resolver, transcoder, artifacts,
		engine.WithTempDir(cfg.Source.TempDir),
		engine.WithTimeout(cfg.Jobs.Timeout))

	// 6. Remote delegation
	var (
		remoteClient  delegate.Client
		remoteBackend orchestrator.Backend
		trustedHosts  []string
	)
	if cfg.Remote.Configured() {
		if u, err := url.Parse(cfg.Remote.URL); err == nil {
			trustedHosts = append(trustedHosts, u.Hostname())
		}
		client := delegate.NewHTTPClient(cfg.Remote, cfg.Webhook.Secret)
		remoteClient = client
		remoteBackend = orchestrator.NewRemoteBackend(client, cfg.Webhook.CallbackURL)
		slog.Info("remote delegation enabled", "url", cfg.Remote.URL, "callback_url", cfg.Webhook.CallbackURL)
	}

	orch := orchestrator.New(jobs,
		orchestrator.NewSelector(cfg.Remote.Configured(), cfg.Remote.Strict()),
		resolver,
		orchestrator.NewLocalBackend(localEngine),
		remoteBackend)

	if !cfg.Webhook.RequireSignature {
		slog.Warn("unsigned webhooks are accepted; set WEBHOOK_REQUIRE_SIGNATURE=true to reject them")
	}
	reconciler := webhook.NewReconciler(jobs, cfg.Webhook.Secret, cfg.Webhook.RequireSignature,
		webhook.WithTrustedHosts(trustedHosts...))
	// Remote results are proxied; only the worker's own host may be internal.
	resultClient := netguard.New(trustedHosts...).Client(cfg.Source.FetchTimeout)

	// 7. Build router with dependencies
	locator := store.Locator{BaseURL: cfg.Server.PublicBaseURL}
	deps := api.Dependencies{
		RateLimit: rateLimit,

		HealthHandler: healthHandler(healthChecks{
			storage: artifacts,
			cache:   sharedCache,
			remote:  remoteClient,
			strict:  cfg.Remote.Strict(),
			ffmpeg:  transcoder.Available,
		}),
		SubmitHandler:   handler.NewSubmitHandler(orch),
		StatusHandler:   handler.NewStatusHandler(jobs),
		DownloadHandler: handler.NewDownloader(jobs, artifacts, locator, resultClient),
		DeleteHandler:   handler.NewDeleteJobHandler(jobs),
		ArtifactHandler: handler.NewArtifactHandler(artifacts),
		WebhookHandler:  handler.NewWebhookHandler(reconciler),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Downloads stream whole audio files.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := localEngine.Wait(shutdownCtx); err != nil {
		slog.Warn("local pipelines still running at shutdown", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

func evictBuckets(ctx context.Context, buckets *mw.TokenBucket) {
	ticker := time.NewTicker(bucketIdleTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			buckets.Evict(bucketIdleTimeout)
		}
	}
}
