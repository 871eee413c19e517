package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/vidaudio/internal/api/middleware"
	"github.com/kiranshivaraju/vidaudio/internal/api/response"
	"github.com/kiranshivaraju/vidaudio/internal/config"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	// RateLimit guards job submission. Nil disables limiting.
	RateLimit func(http.Handler) http.Handler

	HealthHandler   http.HandlerFunc
	SubmitHandler   http.HandlerFunc
	StatusHandler   http.HandlerFunc
	DownloadHandler http.Handler
	DeleteHandler   http.HandlerFunc
	ArtifactHandler http.HandlerFunc
	WebhookHandler  http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit)
		}
		r.Post("/api/v1/extract-audio", orNotImplemented(deps.SubmitHandler))
	})

	r.Get("/api/v1/status/{jobID}", orNotImplemented(deps.StatusHandler))
	r.Get("/api/v1/download/{jobID}", orNotImplemented(handlerFunc(deps.DownloadHandler)))
	r.Delete("/api/v1/jobs/{jobID}", orNotImplemented(deps.DeleteHandler))
	r.Get("/api/v1/artifacts/{key}", orNotImplemented(deps.ArtifactHandler))

	r.Post(config.WebhookPath, orNotImplemented(deps.WebhookHandler))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "ROUTE_NOT_FOUND", "Route not found", nil)
	})

	return r
}

func handlerFunc(h http.Handler) http.HandlerFunc {
	if h == nil {
		return nil
	}
	return h.ServeHTTP
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
