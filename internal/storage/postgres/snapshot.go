package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/automap/internal/storage"
)

// SnapshotRepository stores encoded maps in the map_snapshots table.
// It implements storage.Store.
type SnapshotRepository struct {
	db *pgxpool.Pool
}

// NewSnapshotRepository creates a SnapshotRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool with migrations applied.
func NewSnapshotRepository(db *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Load returns the map stored under key.
//
// Postcondition: Returns storage.ErrNotFound if no row matches.
func (r *SnapshotRepository) Load(ctx context.Context, key string) (string, error) {
	var payload string
	err := r.db.QueryRow(ctx,
		`SELECT payload FROM map_snapshots WHERE story_key = $1`, key,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("loading snapshot %q: %w", key, err)
	}
	return payload, nil
}

// Save upserts the map stored under key.
func (r *SnapshotRepository) Save(ctx context.Context, key, value string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO map_snapshots (story_key, payload, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (story_key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("saving snapshot %q: %w", key, err)
	}
	return nil
}

// Delete removes the map stored under key, if any.
func (r *SnapshotRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM map_snapshots WHERE story_key = $1`, key); err != nil {
		return fmt.Errorf("deleting snapshot %q: %w", key, err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SnapshotRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}
