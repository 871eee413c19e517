package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps artifacts in a bytea column using pgx/v5.
type PostgresStore struct {
	pool    *pgxpool.Pool
	locator Locator
}

// NewPostgresStore creates a new PostgresStore. The schema is applied by RunMigrations.
func NewPostgresStore(pool *pgxpool.Pool, locator Locator) *PostgresStore {
	return &PostgresStore{pool: pool, locator: locator}
}

func (s *PostgresStore) Name() string { return "postgres" }

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Put(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO artifacts (key, content_type, size, data)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET
		   content_type = EXCLUDED.content_type,
		   size = EXCLUDED.size,
		   data = EXCLUDED.data,
		   created_at = NOW()`,
		key, contentType, int64(len(data)), data)
	if err != nil {
		return "", fmt.Errorf("insert artifact: %w", err)
	}
	return s.locator.URL(key), nil
}

func (s *PostgresStore) Open(ctx context.Context, key string) (io.ReadCloser, Artifact, error) {
	a := Artifact{Key: key}
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT content_type, size, data, created_at FROM artifacts WHERE key = $1`, key,
	).Scan(&a.ContentType, &a.Size, &data, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, Artifact{}, ErrNotFound
	}
	if err != nil {
		return nil, Artifact{}, fmt.Errorf("get artifact: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), a, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM artifacts WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
