package cache

import (
	"context"
	"time"
)

// LayeredCache implements two-level cache (L1: Memory, L2: Redis).
// Only plain values go through L1; lists and sorted sets live in Redis alone.
type LayeredCache struct {
	memCache   *MemoryCache
	redisCache *RedisCache
	memTTL     time.Duration
}

// NewLayeredCache creates a layered cache with memory and Redis.
func NewLayeredCache(redisCache *RedisCache, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{
		MemoryMaxSize: 1000,
		MemoryTTL:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &LayeredCache{
		memCache:   NewMemoryCache(WithMemoryMaxSize(cfg.MemoryMaxSize)),
		redisCache: redisCache,
		memTTL:     cfg.MemoryTTL,
	}
}

func (lc *LayeredCache) l1TTL(expiration time.Duration) time.Duration {
	if expiration <= 0 || expiration > lc.memTTL {
		return lc.memTTL
	}
	return expiration
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	// write-through: Redis first, then memory
	if err := lc.redisCache.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	_ = lc.memCache.Set(ctx, key, value, lc.l1TTL(expiration))
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	var raw []byte
	if err := lc.memCache.Get(ctx, key, &raw); err == nil {
		return decode(raw, dest)
	}
	if err := lc.redisCache.Get(ctx, key, &raw); err != nil {
		return err
	}
	_ = lc.memCache.Set(ctx, key, raw, lc.memTTL)
	return decode(raw, dest)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.memCache.Delete(ctx, keys...)
	return lc.redisCache.Delete(ctx, keys...)
}

func (lc *LayeredCache) Exists(ctx context.Context, key string) (bool, error) {
	return lc.redisCache.Exists(ctx, key)
}

func (lc *LayeredCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return lc.redisCache.SetNX(ctx, key, value, expiration)
}

func (lc *LayeredCache) PushCapped(ctx context.Context, key string, value interface{}, maxLen int, expiration time.Duration) error {
	return lc.redisCache.PushCapped(ctx, key, value, maxLen, expiration)
}

func (lc *LayeredCache) Range(ctx context.Context, key string, limit int) ([][]byte, error) {
	return lc.redisCache.Range(ctx, key, limit)
}

func (lc *LayeredCache) Touch(ctx context.Context, key, member string, at time.Time, expiration time.Duration) error {
	return lc.redisCache.Touch(ctx, key, member, at, expiration)
}

func (lc *LayeredCache) Recent(ctx context.Context, key string, since time.Time, limit int) ([]ScoredMember, error) {
	return lc.redisCache.Recent(ctx, key, since, limit)
}

// Close closes the L1 layer only; the Redis client is owned by whoever built it.
func (lc *LayeredCache) Close() error {
	return lc.memCache.Close()
}

var _ Service = (*LayeredCache)(nil)
