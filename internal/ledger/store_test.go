package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testProof = "0x1111111111111111111111111111111111111111111111111111111111111111"

func newRecord(proof string) Record {
	now := time.Now().UTC()
	return Record{
		ProofHash:    proof,
		Buyer:        "0xabcd000000000000000000000000000000001234",
		StableAmount: "100",
		PayoutAmount: "500",
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if rec, _ := store.Get(ctx, "missing"); rec != nil {
		t.Fatalf("expected nil for missing key")
	}

	if err := store.Claim(ctx, newRecord(testProof)); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := store.Claim(ctx, newRecord(testProof)); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}

	got, _ := store.Get(ctx, "0X1111111111111111111111111111111111111111111111111111111111111111")
	if got == nil || got.PayoutAmount != "500" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestMemoryStoreReleaseOnlyPending(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Claim(ctx, newRecord(testProof)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.Release(ctx, testProof); err != nil {
		t.Fatalf("release: %v", err)
	}
	if rec, _ := store.Get(ctx, testProof); rec != nil {
		t.Fatalf("pending claim should be released")
	}

	rec := newRecord(testProof)
	if err := store.Claim(ctx, rec); err != nil {
		t.Fatalf("re-claim: %v", err)
	}
	rec.Status = StatusPaid
	rec.PayoutTxHash = "0xpaid"
	if err := store.Update(ctx, rec); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.Release(ctx, testProof); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got, _ := store.Get(ctx, testProof); got == nil || got.Status != StatusPaid {
		t.Fatalf("paid record must survive release, got %+v", got)
	}
}

func TestFileStorePersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	ctx := context.Background()
	rec := newRecord(testProof)
	if err := store.Claim(ctx, rec); err != nil {
		t.Fatalf("claim: %v", err)
	}
	rec.Status = StatusPayoutFailed
	rec.PayoutTxHash = "0xfeed"
	if err := store.Update(ctx, rec); err != nil {
		t.Fatalf("update: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}

	store2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("re-open store: %v", err)
	}

	got, _ := store2.Get(ctx, testProof)
	if got == nil || got.Status != StatusPayoutFailed || got.PayoutTxHash != "0xfeed" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if err := store2.Claim(ctx, newRecord(testProof)); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected replay to be refused after reopen, got %v", err)
	}
}
