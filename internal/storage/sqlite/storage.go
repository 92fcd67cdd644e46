package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goevery/notifier/internal/ierr"
	"github.com/goevery/notifier/internal/storage"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS client_state (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// Storage keeps client state in a local SQLite database.
type Storage struct {
	db *sqlx.DB
}

// NewStorage opens (or creates) the database at dbPath and makes sure the
// state table exists.
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating client_state table: %w", err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte

	err := s.db.GetContext(ctx, &value, "SELECT value FROM client_state WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeUnavailable, err)
	}

	return value, nil
}

func (s *Storage) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO client_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return ierr.New(ierr.ErrorCodeUnavailable, err)
	}

	return nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM client_state WHERE key = ?", key)
	if err != nil {
		return ierr.New(ierr.ErrorCodeUnavailable, err)
	}

	return nil
}
