package registry

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/vidaudio/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock returns a Registry whose clock is advanced manually.
func fakeClock(t *testing.T) (*Registry, *time.Time) {
	t.Helper()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r := New()
	r.now = func() time.Time { return now }
	return r, &now
}

func TestCreateAndGet(t *testing.T) {
	r := New()
	created := r.Create("job-1", "https://example.com/a.mp4", models.BackendLocal)

	assert.Equal(t, models.StatusQueued, created.Status)
	assert.Equal(t, 0, created.Progress)
	assert.Equal(t, models.BackendLocal, created.Backend)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	got, ok := r.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, created, got)
}

func TestCreate_WithDelegationMarker(t *testing.T) {
	r := New()
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	job := r.Create("job-1", "https://example.com/a.mp4", models.BackendRemote,
		WithExternalJobID("ext-9"), WithSubmittedAt(at))

	assert.Equal(t, "ext-9", job.ExternalJobID)
	require.NotNil(t, job.SubmittedAt)
	assert.Equal(t, at, *job.SubmittedAt)
}

func TestGet_Unknown(t *testing.T) {
	r := New()
	_, ok := r.Get("missing")
	assert.False(t, ok)
}

func TestGet_ReturnsCopy(t *testing.T) {
	r := New()
	r.Create("job-1", "https://example.com/a.mp4", models.BackendLocal)

	got, _ := r.Get("job-1")
	got.Status = models.StatusFailed

	again, _ := r.Get("job-1")
	assert.Equal(t, models.StatusQueued, again.Status)
}

func TestUpdate_MergesAndRefreshesUpdatedAt(t *testing.T) {
	r, now := fakeClock(t)
	r.Create("job-1", "https://example.com/a.mp4", models.BackendRemote)

	*now = now.Add(time.Minute)
	job, ok := r.Update("job-1", WithServiceType("gpu-worker"), WithMetadata(json.RawMessage(`{"k":1}`)))
	require.True(t, ok)
	assert.Equal(t, "gpu-worker", job.ServiceType)
	assert.JSONEq(t, `{"k":1}`, string(job.Metadata))
	assert.Equal(t, *now, job.UpdatedAt)
	assert.True(t, job.UpdatedAt.After(job.CreatedAt))
}

func TestUpdate_UnknownReturnsFalse(t *testing.T) {
	r := New()
	_, ok := r.Update("missing", WithServiceType("x"))
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	r := New()
	r.Create("job-1", "https://example.com/a.mp4", models.BackendLocal)

	assert.True(t, r.Delete("job-1"))
	assert.False(t, r.Delete("job-1"))
	assert.Equal(t, 0, r.Len())
}

func TestSweep_RemovesByCreatedAt(t *testing.T) {
	r, now := fakeClock(t)
	r.Create("old", "https://example.com/a.mp4", models.BackendLocal)

	*now = now.Add(23 * time.Hour)
	r.Create("fresh", "https://example.com/b.mp4", models.BackendLocal)
	// Updating an old job does not extend its lifetime.
	r.Update("old", WithServiceType("x"))

	*now = now.Add(2 * time.Hour)
	removed := r.Sweep(DefaultMaxAge)

	assert.Equal(t, 1, removed)
	_, ok := r.Get("old")
	assert.False(t, ok)
	_, ok = r.Get("fresh")
	assert.True(t, ok)
}

func TestSweep_ZeroUsesDefault(t *testing.T) {
	r, now := fakeClock(t)
	r.Create("job-1", "https://example.com/a.mp4", models.BackendLocal)
	*now = now.Add(time.Hour)
	assert.Equal(t, 0, r.Sweep(0))
}

func TestLifecycle_Completed(t *testing.T) {
	r := New()
	r.Create("job-1", "https://example.com/a.mp4", models.BackendLocal)

	job, err := r.SetProcessing("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, job.Status)

	job, err = r.SetProgress("job-1", 40)
	require.NoError(t, err)
	assert.Equal(t, 40, job.Progress)

	job, err = r.SetCompleted("job-1", "https://cdn.example.com/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, "https://cdn.example.com/a.mp3", job.ResultURL)
	assert.Empty(t, job.ErrorDetail)
	assert.NotNil(t, job.FinishedAt)
}

func TestLifecycle_Failed(t *testing.T) {
	r := New()
	r.Create("job-1", "https://example.com/a.mp4", models.BackendLocal)
	_, _ = r.SetProcessing("job-1")
	_, _ = r.SetProgress("job-1", 70)

	job, err := r.SetFailed("job-1", "ffmpeg exited 1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, "ffmpeg exited 1", job.ErrorDetail)
	assert.Empty(t, job.ResultURL)
}

func TestSetFailed_EmptyDetail(t *testing.T) {
	r := New()
	r.Create("job-1", "https://example.com/a.mp4", models.BackendLocal)
	job, err := r.SetFailed("job-1", "")
	require.NoError(t, err)
	assert.NotEmpty(t, job.ErrorDetail)
}

func TestSetCompleted_FromQueued(t *testing.T) {
	r := New()
	r.Create("job-1", "https://example.com/a.mp4", models.BackendRemote)

	job, err := r.SetCompleted("job-1", "https://cdn.example.com/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)
}

func TestSetCompleted_RequiresURL(t *testing.T) {
	r := New()
	r.Create("job-1", "https://example.com/a.mp4", models.BackendLocal)
	_, err := r.SetCompleted("job-1", "")
	require.Error(t, err)

	job, _ := r.Get("job-1")
	assert.Equal(t, models.StatusQueued, job.Status)
}

func TestTerminalIsFinal(t *testing.T) {
	r := New()
	r.Create("job-1", "https://example.com/a.mp4", models.BackendLocal)
	_, err := r.SetCompleted("job-1", "https://cdn.example.com/a.mp3")
	require.NoError(t, err)

	_, err = r.SetFailed("job-1", "late failure")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = r.SetProcessing("job-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = r.SetProgress("job-1", 10)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	job, _ := r.Get("job-1")
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Empty(t, job.ErrorDetail)
}

func TestSetProgress_Monotonic(t *testing.T) {
	r := New()
	r.Create("job-1", "https://example.com/a.mp4", models.BackendLocal)
	_, _ = r.SetProcessing("job-1")

	_, _ = r.SetProgress("job-1", 50)
	job, err := r.SetProgress("job-1", 30)
	require.NoError(t, err)
	assert.Equal(t, 50, job.Progress)
}

func TestSetProgress_ClampedBelowCompletion(t *testing.T) {
	r := New()
	r.Create("job-1", "https://example.com/a.mp4", models.BackendLocal)
	_, _ = r.SetProcessing("job-1")

	job, _ := r.SetProgress("job-1", 150)
	assert.Equal(t, 99, job.Progress)
}

func TestSetProgress_RequiresProcessing(t *testing.T) {
	r := New()
	r.Create("job-1", "https://example.com/a.mp4", models.BackendLocal)

	_, err := r.SetProgress("job-1", 20)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestHelpers_UnknownJob(t *testing.T) {
	r := New()
	_, err := r.SetProcessing("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.SetProgress("missing", 1)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = r.SetCompleted("missing", "u")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.SetFailed("missing", "d")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentJobs(t *testing.T) {
	r := New()
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("job-%d", i)
			r.Create(id, "https://example.com/a.mp4", models.BackendLocal)
			_, _ = r.SetProcessing(id)
			for p := 0; p <= 90; p += 10 {
				_, _ = r.SetProgress(id, p)
			}
			_, _ = r.SetCompleted(id, "https://cdn.example.com/"+id+".mp3")
		}(i)
	}
	wg.Wait()

	require.Equal(t, n, r.Len())
	for i := 0; i < n; i++ {
		job, ok := r.Get(fmt.Sprintf("job-%d", i))
		require.True(t, ok)
		assert.Equal(t, models.StatusCompleted, job.Status)
		assert.Equal(t, 100, job.Progress)
	}
}
