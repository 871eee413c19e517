// Package store persists converted audio artifacts and resolves their public URLs.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var ErrNotFound = errors.New("artifact not found")
var ErrInvalidKey = errors.New("invalid artifact key")

// ArtifactsPath is the URL prefix under which stored artifacts are served.
const ArtifactsPath = "/api/v1/artifacts/"

var validKey = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,199}$`)

// Artifact describes a stored object.
type Artifact struct {
	Key         string
	ContentType string
	Size        int64
	CreatedAt   time.Time
}

// Store is the artifact storage interface. Implementations must be safe for concurrent use.
type Store interface {
	// Put stores the content under key and returns its public URL.
	Put(ctx context.Context, key, contentType string, r io.Reader) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, Artifact, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Name() string
}

// Locator maps artifact keys to public URLs and back.
type Locator struct {
	BaseURL string
}

// URL returns the public URL for key.
func (l Locator) URL(key string) string {
	return strings.TrimRight(l.BaseURL, "/") + ArtifactsPath + url.PathEscape(key)
}

// KeyFromURL returns the key when raw points at an artifact served by this service.
func (l Locator) KeyFromURL(raw string) (string, bool) {
	prefix := strings.TrimRight(l.BaseURL, "/") + ArtifactsPath
	if !strings.HasPrefix(raw, prefix) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimPrefix(raw, prefix))
	if err != nil || ValidateKey(key) != nil {
		return "", false
	}
	return key, true
}

// ValidateKey rejects keys that could escape a storage namespace.
func ValidateKey(key string) error {
	if !validKey.MatchString(key) || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// AudioKey returns the artifact key for a job's converted audio.
func AudioKey(jobID string) string {
	return "audio_" + jobID + ".mp3"
}
