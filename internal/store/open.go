package store

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/vidaudio/internal/config"
)

// Open builds the configured Store. The returned close function releases
// any connections and is never nil.
func Open(ctx context.Context, cfg *config.Config) (Store, func(), error) {
	locator := Locator{BaseURL: cfg.Server.PublicBaseURL}

	switch cfg.Storage.Backend {
	case config.StorageFS:
		s, err := NewFSStore(cfg.Storage.Dir, locator)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil

	case config.StorageSQLite:
		s, err := NewSQLiteStore(cfg.Storage.SQLitePath, locator)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil

	case config.StoragePostgres:
		pool, err := Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := RunMigrations(cfg.Database.URL); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		return NewPostgresStore(pool, locator), pool.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}
