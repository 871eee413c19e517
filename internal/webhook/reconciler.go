// Package webhook applies asynchronous status callbacks from remote workers
// to the job registry.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"

	"github.com/kiranshivaraju/vidaudio/internal/netguard"
	"github.com/kiranshivaraju/vidaudio/internal/registry"
	"github.com/kiranshivaraju/vidaudio/pkg/models"
)

// SignatureHeader carries the HMAC of the raw request body.
const SignatureHeader = "X-Signature"

const signaturePrefix = "sha256="

const (
	detailMissingResult = "completed without result url"
	detailRemoteFailed  = "external processing failed"
)

// Action describes what a callback did to the job.
type Action string

const (
	ActionCompleted  Action = "completed"
	ActionFailed     Action = "failed"
	ActionProgress   Action = "progress"
	ActionNoop       Action = "noop"
	ActionIgnored    Action = "ignored"
	ActionUnknownJob Action = "unknown_job"
)

// Payload is the callback body sent by a remote worker.
type Payload struct {
	JobID          string          `json:"jobId"`
	Status         string          `json:"status"`
	AudioURL       string          `json:"audioUrl,omitempty"`
	Error          string          `json:"error,omitempty"`
	Progress       *float64        `json:"progress,omitempty"`
	ProcessingTime *int64          `json:"processingTime,omitempty"`
	ServiceType    string          `json:"serviceType,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// Result reports the outcome of a handled callback.
type Result struct {
	JobID  string        `json:"jobId"`
	Action Action        `json:"action"`
	Status models.Status `json:"status,omitempty"`
}

// Reconciler authenticates callbacks and applies them idempotently.
type Reconciler struct {
	registry         *registry.Registry
	secret           []byte
	requireSignature bool
	trustedHosts     map[string]bool
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithTrustedHosts allows result URLs on the given hosts even when they are
// private IP literals, typically the remote worker's own host.
func WithTrustedHosts(hosts ...string) Option {
	return func(r *Reconciler) {
		for _, h := range hosts {
			if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
				r.trustedHosts[h] = true
			}
		}
	}
}

// NewReconciler creates a Reconciler. With requireSignature false, unsigned
// callbacks are accepted.
func NewReconciler(reg *registry.Registry, secret string, requireSignature bool, opts ...Option) *Reconciler {
	r := &Reconciler{
		registry:         reg,
		secret:           []byte(secret),
		requireSignature: requireSignature,
		trustedHosts:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle verifies and applies one callback. Errors match models.ErrAuth,
// models.ErrValidation or models.ErrNotFound. Replays against a terminal job
// succeed without changing it.
func (r *Reconciler) Handle(signature string, raw []byte) (Result, error) {
	if err := r.verify(signature, raw); err != nil {
		return Result{}, err
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Result{}, fmt.Errorf("%w: malformed payload: %v", models.ErrValidation, err)
	}
	if strings.TrimSpace(p.JobID) == "" || strings.TrimSpace(p.Status) == "" {
		return Result{}, fmt.Errorf("%w: jobId and status are required", models.ErrValidation)
	}

	job, ok := r.registry.Get(p.JobID)
	if !ok {
		return Result{JobID: p.JobID, Action: ActionUnknownJob}, fmt.Errorf("%w: %s", models.ErrNotFound, p.JobID)
	}

	status, ok := canonicalStatus(p.Status)
	if !ok {
		return Result{}, fmt.Errorf("%w: unrecognized status %q", models.ErrValidation, p.Status)
	}

	if job.Backend != models.BackendRemote {
		slog.Warn("ignoring callback for locally processed job", "job_id", job.ID, "status", status)
		return Result{JobID: job.ID, Action: ActionIgnored, Status: job.Status}, nil
	}

	return r.apply(job, status, p)
}

func (r *Reconciler) apply(job models.Job, status models.Status, p Payload) (Result, error) {
	var (
		updated models.Job
		action  Action
		err     error
	)

	switch status {
	case models.StatusCompleted:
		if p.AudioURL == "" {
			slog.Warn("remote reported completion without result url", "job_id", job.ID)
			updated, err = r.registry.SetFailed(job.ID, detailMissingResult, auxOptions(p)...)
			action = ActionFailed
			break
		}
		if cerr := r.checkResultURL(p.AudioURL); cerr != nil {
			slog.Warn("rejected result url", "job_id", job.ID, "url", p.AudioURL, "error", cerr)
			return Result{}, fmt.Errorf("%w: audioUrl rejected: %v", models.ErrValidation, cerr)
		}
		updated, err = r.registry.SetCompleted(job.ID, p.AudioURL, auxOptions(p)...)
		action = ActionCompleted

	case models.StatusFailed:
		detail := strings.TrimSpace(p.Error)
		if detail == "" {
			detail = detailRemoteFailed
		}
		updated, err = r.registry.SetFailed(job.ID, detail, auxOptions(p)...)
		action = ActionFailed

	case models.StatusProcessing:
		updated, err = r.registry.SetProcessing(job.ID)
		if err == nil && p.Progress != nil && !math.IsNaN(*p.Progress) {
			updated, err = r.registry.SetProgress(job.ID, int(math.Round(*p.Progress)))
		}
		action = ActionProgress
	}

	switch {
	case errors.Is(err, registry.ErrInvalidTransition):
		slog.Info("callback ignored for terminal job", "job_id", job.ID, "status", updated.Status, "callback_status", status)
		return Result{JobID: job.ID, Action: ActionNoop, Status: updated.Status}, nil
	case errors.Is(err, registry.ErrNotFound):
		return Result{JobID: job.ID, Action: ActionUnknownJob}, fmt.Errorf("%w: %s", models.ErrNotFound, job.ID)
	case err != nil:
		return Result{}, err
	}

	slog.Info("callback applied", "job_id", job.ID, "action", action, "status", updated.Status, "progress", updated.Progress)
	return Result{JobID: job.ID, Action: action, Status: updated.Status}, nil
}

// verify checks the signature header when present, or when one is required.
func (r *Reconciler) verify(signature string, raw []byte) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		if r.requireSignature {
			return fmt.Errorf("%w: missing webhook signature", models.ErrAuth)
		}
		return nil
	}
	if len(r.secret) == 0 {
		return fmt.Errorf("%w: webhook secret not configured", models.ErrAuth)
	}
	if !strings.HasPrefix(signature, signaturePrefix) {
		return fmt.Errorf("%w: invalid webhook signature", models.ErrAuth)
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil || !hmac.Equal(got, mac(r.secret, raw)) {
		return fmt.Errorf("%w: invalid webhook signature", models.ErrAuth)
	}
	return nil
}

// checkResultURL accepts absolute http(s) URLs that do not name an internal
// IP address, unless the host is trusted.
func (r *Reconciler) checkResultURL(raw string) error {
	if u, err := url.Parse(raw); err == nil && r.trustedHosts[strings.ToLower(u.Hostname())] &&
		(u.Scheme == "http" || u.Scheme == "https") {
		return nil
	}
	return netguard.CheckURL(raw)
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	return signaturePrefix + hex.EncodeToString(mac([]byte(secret), body))
}

func mac(secret, body []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return h.Sum(nil)
}

// canonicalStatus folds worker status names onto the job lifecycle.
func canonicalStatus(s string) (models.Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "processing", "in_progress", "running":
		return models.StatusProcessing, true
	case "completed", "complete", "success":
		return models.StatusCompleted, true
	case "failed", "error":
		return models.StatusFailed, true
	}
	return "", false
}

func auxOptions(p Payload) []registry.UpdateOption {
	var opts []registry.UpdateOption
	if p.ProcessingTime != nil {
		opts = append(opts, registry.WithProcessingTime(*p.ProcessingTime))
	}
	if p.ServiceType != "" {
		opts = append(opts, registry.WithServiceType(p.ServiceType))
	}
	if len(p.Metadata) > 0 && !bytes.Equal(bytes.TrimSpace(p.Metadata), []byte("null")) {
		opts = append(opts, registry.WithMetadata(p.Metadata))
	}
	return opts
}
