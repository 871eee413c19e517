package main

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/vidaudio/internal/api/response"
	"github.com/kiranshivaraju/vidaudio/internal/cache"
	"github.com/kiranshivaraju/vidaudio/internal/delegate"
)

type pinger interface {
	Ping(ctx context.Context) error
	Name() string
}

// healthChecks lists the collaborators reported by the health endpoint.
// cache and remote are nil when not configured.
type healthChecks struct {
	storage pinger
	cache   cache.Cache
	remote  delegate.Client
	strict  bool
	ffmpeg  func() error
}

// healthHandler reports storage, cache, remote worker and ffmpeg availability.
// Storage and cache failures are always fatal; an unreachable worker is fatal
// only in strict mode; missing ffmpeg is fatal only without a worker.
func healthHandler(hc healthChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"storage": "ok",
			"cache":   "disabled",
			"remote":  "disabled",
			"ffmpeg":  "available",
		}
		degraded := false

		if err := hc.storage.Ping(r.Context()); err != nil {
			checks["storage"] = "degraded"
			degraded = true
		}

		if hc.cache != nil {
			checks["cache"] = "ok"
			if err := hc.cache.Ping(r.Context()); err != nil {
				checks["cache"] = "degraded"
				degraded = true
			}
		}

		if hc.remote != nil {
			checks["remote"] = "available"
			if err := hc.remote.Ready(r.Context()); err != nil {
				checks["remote"] = "unavailable"
				if hc.strict {
					degraded = true
				}
			}
		}

		if hc.ffmpeg != nil {
			if err := hc.ffmpeg(); err != nil {
				checks["ffmpeg"] = "unavailable"
				if hc.remote == nil {
					degraded = true
				}
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":          "ok",
			"storage_backend": hc.storage.Name(),
			"services":        checks,
		})
	}
}
