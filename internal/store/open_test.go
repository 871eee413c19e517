package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kiranshivaraju/vidaudio/internal/config"
	"github.com/kiranshivaraju/vidaudio/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SelectsBackend(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		backend string
		want    string
	}{
		{config.StorageFS, "fs"},
		{config.StorageSQLite, "sqlite"},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := &config.Config{
				Server: config.ServerConfig{PublicBaseURL: "http://localhost:8080"},
				Storage: config.StorageConfig{
					Backend:    tt.backend,
					Dir:        filepath.Join(dir, "fs"),
					SQLitePath: filepath.Join(dir, "a.db"),
				},
			}
			s, closeFn, err := store.Open(context.Background(), cfg)
			require.NoError(t, err)
			defer closeFn()
			assert.Equal(t, tt.want, s.Name())
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Backend: "s3"}}
	_, _, err := store.Open(context.Background(), cfg)
	require.Error(t, err)
}
