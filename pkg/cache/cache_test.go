package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestInMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(time.Minute)
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "k", "Hello"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if text, ok, _ := c.Get(ctx, "k"); !ok || text != "Hello" {
		t.Fatalf("expected hit with Hello, got %q %v", text, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Errorf("expected expired item to miss")
	}
	if _, ok, _ := c.Get(ctx, "missing"); ok {
		t.Errorf("expected miss for unknown key")
	}
}

func TestRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	c, err := NewRedisCache(ctx, "redis://"+mr.Addr(), time.Hour, "ocr")
	if err != nil {
		t.Fatalf("NewRedisCache: %v", err)
	}
	defer c.Close()

	key := ContentKey("aGVsbG8=")
	if _, ok, err := c.Get(ctx, key); ok || err != nil {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	if err := c.Set(ctx, key, "No text found."); err != nil {
		t.Fatalf("Set: %v", err)
	}
	text, ok, err := c.Get(ctx, key)
	if err != nil || !ok || text != "No text found." {
		t.Fatalf("unexpected Get result: %q %v %v", text, ok, err)
	}

	if !mr.Exists("ocr:" + key) {
		t.Errorf("expected key to be stored under the ocr prefix")
	}
	if ttl := mr.TTL("ocr:" + key); ttl != time.Hour {
		t.Errorf("expected 1h TTL, got %v", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, ok, _ := c.Get(ctx, key); ok {
		t.Errorf("expected key to expire")
	}
}

func TestRedisCacheSurfacesErrors(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	c := NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour, "ocr")
	defer c.Close()

	mr.Close()
	if _, ok, err := c.Get(context.Background(), "k"); ok || err == nil {
		t.Errorf("expected error from closed server, got ok=%v err=%v", ok, err)
	}
}

func TestContentKeyIsStable(t *testing.T) {
	if ContentKey("abc") != ContentKey("abc") {
		t.Errorf("expected same key for same content")
	}
	if ContentKey("abc") == ContentKey("abd") {
		t.Errorf("expected different keys for different content")
	}
}
