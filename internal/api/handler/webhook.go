package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/vidaudio/internal/api/response"
	"github.com/kiranshivaraju/vidaudio/internal/webhook"
	"github.com/kiranshivaraju/vidaudio/pkg/models"
)

const maxWebhookBody = 1 << 20

// CallbackHandler applies remote worker callbacks.
type CallbackHandler interface {
	Handle(signature string, raw []byte) (webhook.Result, error)
}

// NewWebhookHandler returns an http.HandlerFunc for POST /api/v1/webhook/processing-complete.
// Callbacks for unknown jobs are acknowledged so workers do not retry them.
func NewWebhookHandler(h CallbackHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Could not read request body", nil)
			return
		}

		res, err := h.Handle(r.Header.Get(webhook.SignatureHeader), raw)
		switch {
		case err == nil:
		case errors.Is(err, models.ErrAuth):
			slog.Warn("webhook rejected", "error", err, "remote_addr", r.RemoteAddr)
			response.Error(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "Invalid webhook signature", nil)
			return
		case errors.Is(err, models.ErrValidation):
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		case errors.Is(err, models.ErrNotFound):
			slog.Warn("webhook for unknown job", "job_id", res.JobID)
		default:
			slog.Error("webhook processing failed", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		response.JSON(w, map[string]any{
			"received": true,
			"jobId":    res.JobID,
			"action":   res.Action,
			"status":   res.Status,
		})
	}
}
