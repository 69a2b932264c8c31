package idempotency

import (
	"context"
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
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	key := "test-key-" + time.Now().Format(time.RFC3339Nano)
	rec := Record{
		RequestHash: HashRequest([]byte("body")),
		StatusCode:  201,
		Response:    []byte("payload"),
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   time.Now().Add(time.Minute).UTC(),
	}

	if err := store.Save(ctx, key, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.StatusCode != rec.StatusCode || !got.Matches([]byte("body")) {
		t.Fatalf("unexpected record: %#v", got)
	}

	rec.ExpiresAt = time.Now().Add(-time.Minute).UTC()
	if err := store.Save(ctx, key, rec); err != nil {
		t.Fatalf("save expired: %v", err)
	}
	if got, err := store.Get(ctx, key); err != nil || got != nil {
		t.Fatalf("expected expired record to vanish, got %#v %v", got, err)
	}
}
