package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/vidaudio/internal/api/response"
	"github.com/kiranshivaraju/vidaudio/pkg/models"
)

// writeError maps the error taxonomy onto HTTP responses. Timeouts are checked
// before delegation failures because a delegation timeout matches both.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, models.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
	case errors.Is(err, models.ErrNotReady):
		response.Error(w, http.StatusConflict, "NOT_READY", err.Error(), nil)
	case errors.Is(err, models.ErrConfiguration):
		response.Error(w, http.StatusServiceUnavailable, "CONFIGURATION_ERROR", err.Error(), nil)
	case errors.Is(err, models.ErrTimeout):
		w.Header().Set("Retry-After", "30")
		response.Error(w, http.StatusGatewayTimeout, "TIMEOUT", err.Error(), nil)
	case errors.Is(err, models.ErrAuth):
		response.Error(w, http.StatusBadGateway, "DELEGATION_AUTH_FAILED",
			"The remote worker rejected our credentials", nil)
	case errors.Is(err, models.ErrDelegationUnavailable):
		w.Header().Set("Retry-After", "60")
		response.Error(w, http.StatusServiceUnavailable, "DELEGATION_UNAVAILABLE",
			"The remote processing service is unavailable", map[string]string{"cause": err.Error()})
	default:
		slog.Error("unhandled error", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
