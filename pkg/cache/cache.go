package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ImageTextCacheItem represents a cached OCR result
type ImageTextCacheItem struct {
	Text      string    `json:"text"`      // OCR result text
	CreatedAt time.Time `json:"createdAt"` // Time when cache was created
}

// Cache stores OCR results keyed by image content hash
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, text string) error
}

// InMemoryCache is a simple in-memory cache for OCR results
type InMemoryCache struct {
	items map[string]ImageTextCacheItem
	mutex sync.Mutex
	ttl   time.Duration // Time to live for cache items
	now   func() time.Time
}

// RedisCache is a Redis-backed cache for OCR results
type RedisCache struct {
	client  *redis.Client
	ttl     time.Duration
	keyBase string
}

// NewInMemoryCache creates a new in-memory cache with specified TTL
func NewInMemoryCache(ttl time.Duration) *InMemoryCache {
	return &InMemoryCache{
		items: make(map[string]ImageTextCacheItem),
		ttl:   ttl,
		now:   time.Now,
	}
}

// NewRedisCache creates a new Redis-backed cache from a redis:// URL
func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration, keyBase string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Test connection
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return NewRedisCacheFromClient(client, ttl, keyBase), nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration, keyBase string) *RedisCache {
	return &RedisCache{
		client:  client,
		ttl:     ttl,
		keyBase: keyBase,
	}
}

// ContentKey generates a cache key for base64 image content
func ContentKey(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

// Get retrieves an item from the in-memory cache
func (c *InMemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	item, exists := c.items[key]
	if !exists {
		return "", false, nil
	}

	// Check if item has expired
	if c.now().Sub(item.CreatedAt) > c.ttl {
		delete(c.items, key)
		return "", false, nil
	}

	return item.Text, true, nil
}

// Set adds an item to the in-memory cache
func (c *InMemoryCache) Set(_ context.Context, key string, text string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items[key] = ImageTextCacheItem{
		Text:      text,
		CreatedAt: c.now(),
	}
	return nil
}

// Get retrieves an item from the Redis cache
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.keyBase+":"+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	var item ImageTextCacheItem
	if err := json.Unmarshal([]byte(val), &item); err != nil {
		return "", false, err
	}

	return item.Text, true, nil
}

// Set adds an item to the Redis cache
func (c *RedisCache) Set(ctx context.Context, key string, text string) error {
	item := ImageTextCacheItem{
		Text:      text,
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(item)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, c.keyBase+":"+key, data, c.ttl).Err()
}

// Close releases the Redis connection pool
func (c *RedisCache) Close() error {
	return c.client.Close()
}
