package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// APIKey is one row of the api_keys table. LogSubmit gates whether
// per-key submission metrics are emitted for this key.
type APIKey struct {
	ValidKey  string
	LogSubmit bool
}

// Store reads and writes the contributor tables.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// GetOrCreateUser resolves a nickname to its stable user id, creating
// the row on first sight. Concurrent creation of the same nickname is
// resolved by the unique constraint.
func (s *Store) GetOrCreateUser(ctx context.Context, nickname string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM users WHERE nickname = $1`, nickname).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("selecting user %q: %w", nickname, err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO users (nickname) VALUES ($1)
		ON CONFLICT (nickname) DO UPDATE SET nickname = EXCLUDED.nickname
		RETURNING id`, nickname).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating user %q: %w", nickname, err)
	}
	return id, nil
}

// GetAPIKey returns the api_keys row for key, or nil when the key is
// unknown.
func (s *Store) GetAPIKey(ctx context.Context, key string) (*APIKey, error) {
	var row APIKey
	err := s.pool.QueryRow(ctx,
		`SELECT valid_key, log_submit FROM api_keys WHERE valid_key = $1`, key).
		Scan(&row.ValidKey, &row.LogSubmit)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting api key %q: %w", key, err)
	}
	return &row, nil
}
