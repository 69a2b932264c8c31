package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists records in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS idempotency_records (
    key TEXT PRIMARY KEY,
    request_hash TEXT NOT NULL DEFAULT '',
    status_code INT NOT NULL,
    response BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore ensures the records table exists on pool. The pool is
// shared with the position store and owned by the caller.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("postgres pool is nil")
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("create idempotency_records: %w", err)
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

// Ping lets the health endpoint report database reachability.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	row := p.pool.QueryRow(ctx, `
SELECT request_hash, status_code, response, created_at, expires_at
FROM idempotency_records
WHERE key = $1
`, key)

	var rec Record
	if err := row.Scan(&rec.RequestHash, &rec.StatusCode, &rec.Response, &rec.CreatedAt, &rec.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if p.now().After(rec.ExpiresAt) {
		if _, err := p.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE key = $1 AND expires_at < $2`, key, p.now()); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &rec, nil
}

func (p *PostgresStore) Save(ctx context.Context, key string, record Record) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO idempotency_records (key, request_hash, status_code, response, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (key) DO UPDATE
SET request_hash = EXCLUDED.request_hash,
    status_code = EXCLUDED.status_code,
    response = EXCLUDED.response,
    created_at = EXCLUDED.created_at,
    expires_at = EXCLUDED.expires_at
`, key, record.RequestHash, record.StatusCode, record.Response, record.CreatedAt, record.ExpiresAt)
	return err
}
