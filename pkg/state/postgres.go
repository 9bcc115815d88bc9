package state

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ajitpratap0/hubble/pkg/errors"
)

const createStateTable = `
CREATE TABLE IF NOT EXISTS hubble_stream_state (
	stream     TEXT PRIMARY KEY,
	updated_at TEXT NOT NULL,
	saved_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsertState = `
INSERT INTO hubble_stream_state (stream, updated_at, saved_at)
VALUES ($1, $2, now())
ON CONFLICT (stream) DO UPDATE
SET updated_at = EXCLUDED.updated_at, saved_at = now()`

const selectState = `
SELECT updated_at FROM hubble_stream_state WHERE stream = $1`

// PostgresStore keeps one checkpoint row per stream. Concurrent runs on
// different hosts see each other's committed marks, which the file store
// cannot offer.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the checkpoint table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse state store DSN")
	}

	// Checkpoint traffic is one read and one write per stream; a small pool
	// is plenty.
	poolConfig.MaxConns = 4
	poolConfig.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to state store")
	}

	if _, err := pool.Exec(ctx, createStateTable); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to create state table")
	}

	return &PostgresStore{pool: pool}, nil
}

// Load implements Store.
func (ps *PostgresStore) Load(ctx context.Context, stream string) (StreamState, bool, error) {
	var st StreamState
	err := ps.pool.QueryRow(ctx, selectState, stream).Scan(&st.UpdatedAt)
	if err == pgx.ErrNoRows {
		return StreamState{}, false, nil
	}
	if err != nil {
		return StreamState{}, false, errors.Wrap(err, errors.ErrorTypeState, "failed to load stream state").
			WithDetail("stream", stream)
	}
	return st, true, nil
}

// Save implements Store.
func (ps *PostgresStore) Save(ctx context.Context, stream string, st StreamState) error {
	if _, err := ps.pool.Exec(ctx, upsertState, stream, st.UpdatedAt); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to save stream state").
			WithDetail("stream", stream)
	}
	return nil
}

// Close implements Store.
func (ps *PostgresStore) Close(context.Context) error {
	ps.pool.Close()
	return nil
}
