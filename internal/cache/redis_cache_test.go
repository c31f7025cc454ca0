package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisCache_StoreReceipt_Success(t *testing.T) {
	t.Parallel()

	// Start in-memory Redis
	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	ttl := 10 * time.Second
	c := NewRedisCache(rdb, ttl)

	ctx := context.Background()
	sentAt := time.Date(2026, 5, 2, 18, 0, 0, 0, time.UTC)

	if err := c.StoreReceipt(ctx, 42, 7, "remote-123", sentAt); err != nil {
		t.Fatalf("StoreReceipt() error: %v", err)
	}

	key := "receipt:42:7"

	if !mr.Exists(key) {
		t.Fatalf("expected key %q to exist", key)
	}

	ttlRemaining := mr.TTL(key)
	if ttlRemaining <= 0 {
		t.Fatalf("expected TTL to be set, got %v", ttlRemaining)
	}

	raw, err := mr.Get(key)
	if err != nil {
		t.Fatalf("failed to get key %q: %v", key, err)
	}

	var got receiptValue
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("failed to unmarshal value: %v", err)
	}

	if got.RemoteMessageID != "remote-123" {
		t.Fatalf("expected RemoteMessageID %q, got %q", "remote-123", got.RemoteMessageID)
	}
	if !got.SentAt.Equal(sentAt.UTC()) {
		t.Fatalf("expected SentAt %v, got %v", sentAt.UTC(), got.SentAt)
	}
}

func TestRedisCache_StoreReceipt_DistinctKeysPerMessage(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	c := NewRedisCache(rdb, time.Minute)
	ctx := context.Background()
	sentAt := time.Now()

	if err := c.StoreReceipt(ctx, 1, 1, "r-1", sentAt); err != nil {
		t.Fatalf("StoreReceipt() error: %v", err)
	}
	if err := c.StoreReceipt(ctx, 1, 2, "r-2", sentAt); err != nil {
		t.Fatalf("StoreReceipt() error: %v", err)
	}

	if !mr.Exists("receipt:1:1") || !mr.Exists("receipt:1:2") {
		t.Fatalf("expected one key per message, got keys: %v", mr.Keys())
	}
}

func TestRedisCache_StoreReceipt_ServerDown_ReturnsError(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	c := NewRedisCache(rdb, time.Minute)

	// Kill the server before the write.
	mr.Close()

	if err := c.StoreReceipt(context.Background(), 1, 1, "r-1", time.Now()); err == nil {
		t.Fatalf("expected error when redis is down, got nil")
	}
}
