package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "mzlx:proof:"

// RedisStore keeps one JSON value per proof; Claim relies on SETNX.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore parses url, connects and pings the server.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{rdb: rdb}, nil
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func proofKey(proofHash string) string {
	return redisKeyPrefix + Key(proofHash)
}

func (r *RedisStore) Get(ctx context.Context, proofHash string) (*Record, error) {
	raw, err := r.rdb.Get(ctx, proofKey(proofHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode ledger record: %w", err)
	}
	return &rec, nil
}

func (r *RedisStore) Claim(ctx context.Context, rec Record) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetNX(ctx, proofKey(rec.ProofHash), blob, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyClaimed
	}
	return nil
}

func (r *RedisStore) Update(ctx context.Context, rec Record) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, proofKey(rec.ProofHash), blob, 0).Err()
}

// Release is a read-then-delete; callers hold the settlement lock.
func (r *RedisStore) Release(ctx context.Context, proofHash string) error {
	rec, err := r.Get(ctx, proofHash)
	if err != nil || rec == nil || rec.Status != StatusPending {
		return err
	}
	return r.rdb.Del(ctx, proofKey(proofHash)).Err()
}
