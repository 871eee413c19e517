package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/vidaudio/internal/api/response"
	"github.com/kiranshivaraju/vidaudio/internal/store"
)

// NewArtifactHandler returns an http.HandlerFunc for GET /api/v1/artifacts/{key}.
func NewArtifactHandler(artifacts ArtifactOpener) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		if err := store.ValidateKey(key); err != nil {
			response.Error(w, http.StatusNotFound, "ARTIFACT_NOT_FOUND", "Artifact not found", nil)
			return
		}

		rc, art, err := artifacts.Open(r.Context(), key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidKey) {
				response.Error(w, http.StatusNotFound, "ARTIFACT_NOT_FOUND", "Artifact not found", nil)
				return
			}
			slog.Error("failed to open artifact", "key", key, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}
		defer rc.Close()

		if art.ContentType != "" {
			w.Header().Set("Content-Type", art.ContentType)
		}
		if art.Size > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(art.Size, 10))
		}
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, rc); err != nil {
			slog.Warn("artifact stream interrupted", "key", key, "error", err)
		}
	}
}
