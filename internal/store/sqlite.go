package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps artifacts as BLOBs in a single SQLite file.
type SQLiteStore struct {
	db      *sql.DB
	locator Locator
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures the schema.
func NewSQLiteStore(dbPath string, locator Locator) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// WAL mode for better concurrent read performance.
	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, locator: locator}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS artifacts (
			key          TEXT PRIMARY KEY,
			content_type TEXT NOT NULL,
			size         INTEGER NOT NULL,
			data         BLOB NOT NULL,
			created_at   DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_artifacts_created_at ON artifacts(created_at);
	`)
	return err
}

func (s *SQLiteStore) Name() string { return "sqlite" }

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Put(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artifacts (key, content_type, size, data, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			content_type = excluded.content_type,
			size         = excluded.size,
			data         = excluded.data,
			created_at   = excluded.created_at
	`, key, contentType, len(data), data, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert artifact: %w", err)
	}
	return s.locator.URL(key), nil
}

func (s *SQLiteStore) Open(ctx context.Context, key string) (io.ReadCloser, Artifact, error) {
	a := Artifact{Key: key}
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT content_type, size, data, created_at FROM artifacts WHERE key = ?`, key,
	).Scan(&a.ContentType, &a.Size, &data, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Artifact{}, ErrNotFound
	}
	if err != nil {
		return nil, Artifact{}, fmt.Errorf("get artifact: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), a, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
