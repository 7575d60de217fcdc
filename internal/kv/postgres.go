package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikolayk812/gomarketplace-cart/internal/port"
)

const (
	getEntrySQL = `SELECT value FROM kv_entries WHERE key = $1`

	upsertEntrySQL = `
INSERT INTO kv_entries (key, value)
VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE
    SET value      = EXCLUDED.value,
        revision   = kv_entries.revision + 1,
        updated_at = now()
RETURNING revision`

	getRevisionSQL = `SELECT revision FROM kv_entries WHERE key = $1`
)

type PostgresStore struct {
	q    querier
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		q:    pool,
		pool: pool,
	}
}

func NewPostgresWithTx(tx pgx.Tx) *PostgresStore {
	return &PostgresStore{
		q:    tx,
		pool: nil, // use provided transaction instead
	}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte

	err := s.q.QueryRow(ctx, getEntrySQL, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, port.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("q.QueryRow: %w", err)
	}

	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := withTx(ctx, s.pool, s.q, func(q querier) (int64, error) {
		var revision int64
		if err := q.QueryRow(ctx, upsertEntrySQL, key, value).Scan(&revision); err != nil {
			return 0, fmt.Errorf("upsert: %w", err)
		}
		return revision, nil
	})
	if err != nil {
		return fmt.Errorf("withTx: %w", err)
	}

	return nil
}

// Revision reports how many times key has been written.
func (s *PostgresStore) Revision(ctx context.Context, key string) (int64, error) {
	var revision int64

	err := s.q.QueryRow(ctx, getRevisionSQL, key).Scan(&revision)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, port.ErrKeyNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("q.QueryRow: %w", err)
	}

	return revision, nil
}

// Close releases the pool, unless the store runs inside a caller-owned transaction.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
