package ledger

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestPostgresStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	proof := "0x" + time.Now().Format("20060102150405.000000000")
	defer store.pool.Exec(context.Background(), `DELETE FROM consumed_proofs WHERE proof_hash = $1`, Key(proof))

	rec := newRecord(proof)
	if err := store.Claim(ctx, rec); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.Claim(ctx, rec); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}

	rec.Status = StatusPaid
	rec.PayoutTxHash = "0xpaid"
	rec.UpdatedAt = time.Now().UTC()
	if err := store.Update(ctx, rec); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := store.Get(ctx, proof)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Status != StatusPaid || got.PayoutTxHash != "0xpaid" {
		t.Fatalf("unexpected record: %#v", got)
	}
}
