package demoapi

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// DefaultCacheCapacity bounds the in-memory cache.
const DefaultCacheCapacity = 10000

// Cache is the key/value store behind /cached-result.
type Cache interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Stats() CacheStats
}

// CacheStats are cumulative lookup counts.
type CacheStats struct {
	Requests uint64
	Misses   uint64
}

type stats struct {
	requests atomic.Uint64
	misses   atomic.Uint64
}

func (s *stats) record(hit bool) {
	s.requests.Add(1)
	if !hit {
		s.misses.Add(1)
	}
}

func (s *stats) snapshot() CacheStats {
	return CacheStats{Requests: s.requests.Load(), Misses: s.misses.Load()}
}

type entry struct {
	value   string
	expires time.Time
}

// MemoryCache is a bounded in-process LRU cache with per-entry TTL.
type MemoryCache struct {
	lru   *lru.Cache[string, entry]
	now   func() time.Time
	stats stats
}

// NewMemoryCache creates a cache holding at most capacity entries. The least
// recently used entry is evicted to make room.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	// lru.New only fails for a non-positive size.
	c, _ := lru.New[string, entry](capacity)
	return &MemoryCache{lru: c, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	e, ok := c.lru.Get(key)
	if ok && !c.now().Before(e.expires) {
		c.lru.Remove(key)
		ok = false
	}
	c.stats.record(ok)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.lru.Add(key, entry{value: value, expires: c.now().Add(ttl)})
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int { return c.lru.Len() }

func (c *MemoryCache) Stats() CacheStats { return c.stats.snapshot() }

// RedisCache stores entries in Redis. Stats count this process's lookups.
type RedisCache struct {
	client *redis.Client
	prefix string
	stats  stats
}

// NewRedisCache connects to the Redis server at url (redis://host:port/db).
func NewRedisCache(url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisCacheFromClient(redis.NewClient(opts)), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "oteldemo:cache:"}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		c.stats.record(false)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	c.stats.record(true)
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Stats() CacheStats { return c.stats.snapshot() }

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the client's connections.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
