package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FSStore keeps artifacts as files in a directory.
type FSStore struct {
	dir     string
	locator Locator
}

// NewFSStore creates the directory if needed.
func NewFSStore(dir string, locator Locator) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FSStore{dir: dir, locator: locator}, nil
}

func (s *FSStore) Name() string { return "fs" }

func (s *FSStore) Ping(_ context.Context) error {
	fi, err := os.Stat(s.dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", s.dir)
	}
	return nil
}

// Put writes to a temporary file and renames it into place.
func (s *FSStore) Put(ctx context.Context, key, _ string, r io.Reader) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()

	_, err = io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, key)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("commit artifact: %w", err)
	}
	return s.locator.URL(key), nil
}

func (s *FSStore) Open(_ context.Context, key string) (io.ReadCloser, Artifact, error) {
	if err := ValidateKey(key); err != nil {
		return nil, Artifact{}, err
	}
	f, err := os.Open(filepath.Join(s.dir, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, Artifact{}, ErrNotFound
	}
	if err != nil {
		return nil, Artifact{}, fmt.Errorf("open artifact: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Artifact{}, fmt.Errorf("stat artifact: %w", err)
	}
	return f, Artifact{
		Key:         key,
		ContentType: contentTypeFor(key),
		Size:        fi.Size(),
		CreatedAt:   fi.ModTime().UTC(),
	}, nil
}

func (s *FSStore) Delete(_ context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.dir, key))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func contentTypeFor(key string) string {
	if strings.HasSuffix(strings.ToLower(key), ".mp3") {
		return "audio/mpeg"
	}
	return "application/octet-stream"
}
