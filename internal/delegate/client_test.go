package delegate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiranshivaraju/vidaudio/internal/config"
	"github.com/kiranshivaraju/vidaudio/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- helpers ---

func newTestClient(t *testing.T, baseURL string) (*HTTPClient, *[]time.Duration) {
	t.Helper()
	c := NewHTTPClient(config.RemoteConfig{
		URL:            baseURL,
		Token:          "worker-token",
		MaxAttempts:    2,
		AttemptTimeout: 2 * time.Second,
		SubmitTimeout:  5 * time.Second,
		BackoffBase:    time.Second,
	}, "hook-secret")
	var waits []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return c, &waits
}

// --- Submit ---

func TestSubmit_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/process", r.URL.Path)
		assert.Equal(t, "Bearer worker-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "job-1", body["jobId"])
		assert.Equal(t, "https://example.com/a.mp4", body["sourceUrl"])
		assert.Equal(t, "https://api.example.com/api/v1/webhook/processing-complete", body["callbackUrl"])
		assert.Equal(t, map[string]any{"Authorization": "Bearer hook-secret"}, body["callbackAuth"])

		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"externalJobId":"ext-42"}`))
	}))
	defer ts.Close()

	c, waits := newTestClient(t, ts.URL)
	sub, err := c.Submit(context.Background(), "job-1", "https://example.com/a.mp4",
		"https://api.example.com/api/v1/webhook/processing-complete")
	require.NoError(t, err)
	assert.Equal(t, "ext-42", sub.ExternalJobID)
	assert.False(t, sub.SubmittedAt.IsZero())
	assert.Empty(t, *waits)
}

func TestSubmit_MissingExternalIDFallsBackToJobID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL)
	sub, err := c.Submit(context.Background(), "job-1", "https://example.com/a.mp4", "cb")
	require.NoError(t, err)
	assert.Equal(t, "job-1", sub.ExternalJobID)
}

func TestSubmit_RetriesServerErrorWithBackoff(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"externalJobId":"ext-2"}`))
	}))
	defer ts.Close()

	c, waits := newTestClient(t, ts.URL)
	sub, err := c.Submit(context.Background(), "job-1", "https://example.com/a.mp4", "cb")
	require.NoError(t, err)
	assert.Equal(t, "ext-2", sub.ExternalJobID)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second}, *waits)
}

func TestSubmit_ExhaustedServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL)
	_, err := c.Submit(context.Background(), "job-1", "https://example.com/a.mp4", "cb")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDelegationUnavailable)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, int32(2), calls.Load())
}

func TestSubmit_ConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	c, waits := newTestClient(t, url)
	_, err := c.Submit(context.Background(), "job-1", "https://example.com/a.mp4", "cb")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDelegationUnavailable)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Len(t, *waits, 1)
}

func TestSubmit_AuthRejectedIsNotRetried(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		var calls atomic.Int32
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(status)
		}))

		c, waits := newTestClient(t, ts.URL)
		_, err := c.Submit(context.Background(), "job-1", "https://example.com/a.mp4", "cb")
		ts.Close()

		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrAuth)
		assert.NotErrorIs(t, err, models.ErrDelegationUnavailable)
		assert.Equal(t, int32(1), calls.Load())
		assert.Empty(t, *waits)
	}
}

func TestSubmit_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL)
	_, err := c.Submit(context.Background(), "job-1", "https://example.com/a.mp4", "cb")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDelegationUnavailable)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubmit_FinalAttemptTimeout(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	c, _ := newTestClient(t, ts.URL)
	c.attemptTimeout = 50 * time.Millisecond

	_, err := c.Submit(context.Background(), "job-1", "https://example.com/a.mp4", "cb")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTimeout)
	assert.NotErrorIs(t, err, models.ErrDelegationUnavailable)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSubmit_BackoffInterruptedByDeadline(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL)
	c.sleep = sleepCtx
	c.submitTimeout = 100 * time.Millisecond

	start := time.Now()
	_, err := c.Submit(context.Background(), "job-1", "https://example.com/a.mp4", "cb")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSubmit_NoCallbackSecret(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, present := body["callbackAuth"]
		assert.False(t, present)
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL)
	c.callbackSecret = ""
	_, err := c.Submit(context.Background(), "job-1", "https://example.com/a.mp4", "cb")
	require.NoError(t, err)
}

// --- Ready ---

func TestReady(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL)
	assert.NoError(t, c.Ready(context.Background()))
}

func TestReady_Unhealthy(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL)
	err := c.Ready(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestReady_Unreachable(t *testing.T) {
	c, _ := newTestClient(t, "http://127.0.0.1:1")
	assert.ErrorIs(t, c.Ready(context.Background()), ErrUnreachable)
}
