package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps positions in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createPositionsSQL = `
CREATE TABLE IF NOT EXISTS escrow_positions (
    position_key TEXT PRIMARY KEY,
    status SMALLINT NOT NULL,
    lender TEXT NOT NULL,
    deadline BIGINT NOT NULL,
    amount BIGINT NOT NULL,
    decimals BIGINT NOT NULL,
    currency_code TEXT NOT NULL,
    depositor TEXT NOT NULL,
    holder TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// NewPostgresStore ensures the positions table exists on pool.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("postgres pool is nil")
	}
	if _, err := pool.Exec(ctx, createPositionsSQL); err != nil {
		return nil, fmt.Errorf("create escrow_positions: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Get(ctx context.Context, key Key) (Entry, error) {
	entry, err := scanEntry(p.pool.QueryRow(ctx, selectPositionSQL, key.String()))
	if err != nil {
		return Entry{}, ErrStore.With(err)
	}
	return entry, nil
}

// Update holds a transaction-scoped advisory lock on the key so that two
// writers racing on a key that has no row yet are still serialized.
func (p *PostgresStore) Update(ctx context.Context, key Key, fn func(*Entry) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return ErrStore.With(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := key.String()
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id); err != nil {
		return ErrStore.With(err)
	}
	entry, err := scanEntry(tx.QueryRow(ctx, selectPositionSQL+" FOR UPDATE", id))
	if err != nil {
		return ErrStore.With(err)
	}

	if err := fn(&entry); err != nil {
		return err
	}

	if entry.IsZero() {
		_, err = tx.Exec(ctx, `DELETE FROM escrow_positions WHERE position_key = $1`, id)
	} else {
		_, err = tx.Exec(ctx, `
INSERT INTO escrow_positions (position_key, status, lender, deadline, amount, decimals, currency_code, depositor, holder, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
ON CONFLICT (position_key) DO UPDATE
SET status = EXCLUDED.status,
    lender = EXCLUDED.lender,
    deadline = EXCLUDED.deadline,
    amount = EXCLUDED.amount,
    decimals = EXCLUDED.decimals,
    currency_code = EXCLUDED.currency_code,
    depositor = EXCLUDED.depositor,
    holder = EXCLUDED.holder,
    updated_at = EXCLUDED.updated_at
`, id, int16(entry.Status), entry.Position.Lender.Hex(), entry.Position.Deadline, entry.Position.Amount,
			entry.Position.Decimals, entry.Position.CurrencyCode, entry.Custody.Depositor.Hex(), entry.Custody.Holder.Hex())
	}
	if err != nil {
		return ErrStore.With(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ErrStore.With(err)
	}
	return nil
}

const selectPositionSQL = `
SELECT status, lender, deadline, amount, decimals, currency_code, depositor, holder
FROM escrow_positions
WHERE position_key = $1`

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e                         Entry
		status                    int16
		lender, depositor, holder string
	)
	err := row.Scan(&status, &lender, &e.Position.Deadline, &e.Position.Amount, &e.Position.Decimals,
		&e.Position.CurrencyCode, &depositor, &holder)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, nil
	}
	if err != nil {
		return Entry{}, err
	}
	e.Status = Status(status)
	e.Position.Lender = common.HexToAddress(lender)
	e.Custody.Depositor = common.HexToAddress(depositor)
	e.Custody.Holder = common.HexToAddress(holder)
	return e, nil
}
