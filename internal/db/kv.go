package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/kimhsiao/wishwell/backend/internal/errors"
	"github.com/kimhsiao/wishwell/backend/internal/kv"
)

// KVStore is a kv.Store on the kv table.
type KVStore struct {
	db *sql.DB
}

// NewKVStore creates a KVStore. The kv table must exist.
func NewKVStore(db *sql.DB) *KVStore {
	return &KVStore{db: db}
}

// Get implements kv.Store.
func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.Wrap(apperrors.ErrDatabase, "failed to read key "+key, err)
	}
	return value, true, nil
}

// Set implements kv.Store.
func (s *KVStore) Set(ctx context.Context, key, value string) error {
	query := `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			  ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().UnixMilli()); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to write key "+key, err)
	}
	return nil
}

// Remove implements kv.Store.
func (s *KVStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to remove key "+key, err)
	}
	return nil
}

var _ kv.Store = (*KVStore)(nil)
