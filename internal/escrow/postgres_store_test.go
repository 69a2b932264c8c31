package escrow

import (
	"context"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestPostgresStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()

	store, err := NewPostgresStore(ctx, pool)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	key := NewKey(collection, big.NewInt(time.Now().UnixNano()))
	m := NewMachine(store, escrowAddr)

	if err := m.OnCustodyReceived(ctx, borrower, key, payload(t, 86_400, 5_000_000, "ADA")); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := m.OnCustodyReceived(ctx, borrower, key, payload(t, 86_400, 5_000_000, "ADA")); !errors.Is(err, ErrUnexpectedLockToken) {
		t.Fatalf("expected lock conflict, got %v", err)
	}
	if err := m.BorrowToken(ctx, stranger, key, lender); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusWaitingPayment || got.Position.Lender != lender || got.Custody.Depositor != borrower {
		t.Fatalf("unexpected entry: %#v", got)
	}

	if err := m.PayTokenDebt(ctx, borrower, key); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if _, err := m.ClaimToken(ctx, borrower, key); err != nil {
		t.Fatalf("claim: %v", err)
	}
	got, err = store.Get(ctx, key)
	if err != nil || !got.IsZero() {
		t.Fatalf("expected removed entry, got %#v %v", got, err)
	}
}
