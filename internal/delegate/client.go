// Package delegate submits conversion jobs to a remote processing worker.
package delegate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/kiranshivaraju/vidaudio/internal/config"
	"github.com/kiranshivaraju/vidaudio/pkg/models"
)

// Sentinel errors for a single submission attempt.
var (
	ErrUnreachable = errors.New("remote worker unreachable")
	ErrServerError = errors.New("remote worker server error")
	ErrRejected    = errors.New("remote worker rejected submission")
)

const userAgent = "vidaudio-delegate/1.0"

// Client is the interface for handing jobs to a remote worker.
type Client interface {
	Submit(ctx context.Context, jobID, sourceURL, callbackURL string) (Submission, error)
	Ready(ctx context.Context) error
}

// Submission is the remote worker's acknowledgement.
type Submission struct {
	ExternalJobID string
	SubmittedAt   time.Time
}

// HTTPClient implements Client over the worker's HTTP API.
type HTTPClient struct {
	baseURL        string
	token          string
	callbackSecret string
	maxAttempts    int
	attemptTimeout time.Duration
	submitTimeout  time.Duration
	backoffBase    time.Duration
	client         *http.Client
	sleep          func(ctx context.Context, d time.Duration) error
	now            func() time.Time
}

// NewHTTPClient creates a client for the configured worker. callbackSecret is
// handed to the worker so it can authenticate its callbacks.
func NewHTTPClient(cfg config.RemoteConfig, callbackSecret string) *HTTPClient {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 2
	}
	return &HTTPClient{
		baseURL:        cfg.URL,
		token:          cfg.Token,
		callbackSecret: callbackSecret,
		maxAttempts:    attempts,
		attemptTimeout: cfg.AttemptTimeout,
		submitTimeout:  cfg.SubmitTimeout,
		backoffBase:    cfg.BackoffBase,
		client:         &http.Client{},
		sleep:          sleepCtx,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

type submitRequest struct {
	JobID        string            `json:"jobId"`
	SourceURL    string            `json:"sourceUrl"`
	CallbackURL  string            `json:"callbackUrl"`
	CallbackAuth map[string]string `json:"callbackAuth,omitempty"`
}

type submitResponse struct {
	ExternalJobID string `json:"externalJobId"`
	JobID         string `json:"jobId"`
}

// Submit posts the job to the worker, retrying transient failures with
// exponential backoff. Credential rejection is never retried. The returned
// error matches models.ErrAuth, models.ErrTimeout or models.ErrDelegationUnavailable.
func (c *HTTPClient) Submit(ctx context.Context, jobID, sourceURL, callbackURL string) (Submission, error) {
	body, err := json.Marshal(submitRequest{
		JobID:        jobID,
		SourceURL:    sourceURL,
		CallbackURL:  callbackURL,
		CallbackAuth: c.callbackAuth(),
	})
	if err != nil {
		return Submission{}, fmt.Errorf("encoding submission: %w", err)
	}

	if c.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.submitTimeout)
		defer cancel()
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		attempts = attempt
		sub, err := c.submitOnce(ctx, jobID, body)
		if err == nil {
			return sub, nil
		}
		lastErr = err

		if errors.Is(err, models.ErrAuth) {
			return Submission{}, err
		}
		if !retryable(err) || attempt == c.maxAttempts {
			break
		}

		wait := c.backoffBase * time.Duration(1<<attempt)
		slog.Warn("delegation attempt failed, retrying",
			"job_id", jobID, "attempt", attempt, "backoff", wait.String(), "error", err)
		if err := c.sleep(ctx, wait); err != nil {
			lastErr = fmt.Errorf("%w: %v", models.ErrTimeout, err)
			break
		}
	}

	if errors.Is(lastErr, models.ErrTimeout) {
		return Submission{}, fmt.Errorf("delegation after %d attempts: %w", attempts, lastErr)
	}
	return Submission{}, fmt.Errorf("%w after %d attempts: %w", models.ErrDelegationUnavailable, attempts, lastErr)
}

func (c *HTTPClient) submitOnce(ctx context.Context, jobID string, body []byte) (Submission, error) {
	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", bytes.NewReader(body))
	if err != nil {
		return Submission{}, fmt.Errorf("%w: building request: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return Submission{}, classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Submission{}, fmt.Errorf("%w: remote worker rejected credentials (status %d)", models.ErrAuth, resp.StatusCode)
	case resp.StatusCode >= 500:
		return Submission{}, fmt.Errorf("%w: status %d", ErrServerError, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Submission{}, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	sub := Submission{ExternalJobID: jobID, SubmittedAt: c.now()}
	var out submitResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(raw, &out); err == nil {
		if out.ExternalJobID != "" {
			sub.ExternalJobID = out.ExternalJobID
		} else if out.JobID != "" {
			sub.ExternalJobID = out.JobID
		}
	}
	return sub, nil
}

// Ready probes the worker's health endpoint.
func (c *HTTPClient) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: worker not ready (status %d)", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// callbackAuth is the header set the worker sends back with each callback.
func (c *HTTPClient) callbackAuth() map[string]string {
	if c.callbackSecret == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.callbackSecret}
}

func retryable(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrServerError) || errors.Is(err, models.ErrTimeout)
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", models.ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", models.ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
