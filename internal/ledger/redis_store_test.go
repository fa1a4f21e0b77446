package ledger

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestRedisStoreLifecycle(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewRedisStore(ctx, url)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	proof := "0x" + time.Now().Format("20060102150405.000000000")
	defer store.rdb.Del(context.Background(), proofKey(proof))

	if err := store.Claim(ctx, newRecord(proof)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.Claim(ctx, newRecord(proof)); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	if err := store.Release(ctx, proof); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got, err := store.Get(ctx, proof); err != nil || got != nil {
		t.Fatalf("expected released claim, got %+v err=%v", got, err)
	}
}
