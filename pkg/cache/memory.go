package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryItem struct {
	value    []byte
	list     [][]byte
	zset     map[string]float64
	expireAt time.Time
	access   time.Time
}

func (m *memoryItem) expired(now time.Time) bool {
	return !m.expireAt.IsZero() && now.After(m.expireAt)
}

// MemoryCache implements Service in process with LRU eviction once MaxSize keys are held.
type MemoryCache struct {
	data          map[string]*memoryItem
	mutex         sync.Mutex
	maxSize       int
	defaultTTL    time.Duration
	now           func() time.Time
	cleanupTicker *time.Ticker
	done          chan struct{}
	closeOnce     sync.Once
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         100_000,
		CleanupInterval: time.Minute,
		DefaultTTL:      7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	mc := &MemoryCache{
		data:          make(map[string]*memoryItem),
		maxSize:       cfg.MaxSize,
		defaultTTL:    cfg.DefaultTTL,
		now:           cfg.Clock,
		cleanupTicker: time.NewTicker(cfg.CleanupInterval),
		done:          make(chan struct{}),
	}
	go mc.cleanupExpired()
	return mc
}

// live returns the item for key if present and unexpired. Caller holds the lock.
func (mc *MemoryCache) live(key string, now time.Time) *memoryItem {
	item, ok := mc.data[key]
	if !ok {
		return nil
	}
	if item.expired(now) {
		delete(mc.data, key)
		return nil
	}
	item.access = now
	return item
}

func (mc *MemoryCache) expiry(now time.Time, expiration time.Duration) time.Time {
	if expiration <= 0 {
		expiration = mc.defaultTTL
	}
	return now.Add(expiration)
}

// put stores item under key, evicting the least recently used key if full. Caller holds the lock.
func (mc *MemoryCache) put(key string, item *memoryItem) {
	if _, exists := mc.data[key]; !exists && len(mc.data) >= mc.maxSize {
		mc.evictLRU()
	}
	mc.data[key] = item
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	b, err := encode(value)
	if err != nil {
		return err
	}
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	now := mc.now()
	mc.put(key, &memoryItem{value: b, expireAt: mc.expiry(now, expiration), access: now})
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mutex.Lock()
	item := mc.live(key, mc.now())
	var b []byte
	if item != nil && item.value != nil {
		b = make([]byte, len(item.value))
		copy(b, item.value)
	}
	mc.mutex.Unlock()

	if b == nil {
		return ErrCacheMiss
	}
	return decode(b, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	for _, key := range keys {
		delete(mc.data, key)
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	return mc.live(key, mc.now()) != nil, nil
}

func (mc *MemoryCache) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	b, err := encode(value)
	if err != nil {
		return false, err
	}
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	now := mc.now()
	if mc.live(key, now) != nil {
		return false, nil
	}
	mc.put(key, &memoryItem{value: b, expireAt: mc.expiry(now, expiration), access: now})
	return true, nil
}

func (mc *MemoryCache) PushCapped(_ context.Context, key string, value interface{}, maxLen int, expiration time.Duration) error {
	b, err := encode(value)
	if err != nil {
		return err
	}
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	now := mc.now()
	item := mc.live(key, now)
	if item == nil {
		item = &memoryItem{access: now}
		mc.put(key, item)
	}
	item.list = append([][]byte{b}, item.list...)
	if maxLen > 0 && len(item.list) > maxLen {
		item.list = item.list[:maxLen]
	}
	item.expireAt = mc.expiry(now, expiration)
	return nil
}

func (mc *MemoryCache) Range(_ context.Context, key string, limit int) ([][]byte, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	item := mc.live(key, mc.now())
	if item == nil {
		return nil, nil
	}
	n := len(item.list)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		out[i] = append([]byte(nil), item.list[i]...)
	}
	return out, nil
}

func (mc *MemoryCache) Touch(_ context.Context, key, member string, at time.Time, expiration time.Duration) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	now := mc.now()
	item := mc.live(key, now)
	if item == nil {
		item = &memoryItem{zset: make(map[string]float64), access: now}
		mc.put(key, item)
	}
	if item.zset == nil {
		item.zset = make(map[string]float64)
	}
	item.zset[member] = float64(at.UnixMilli())
	if expiration > 0 {
		cutoff := float64(at.Add(-expiration).UnixMilli())
		for m, s := range item.zset {
			if s < cutoff {
				delete(item.zset, m)
			}
		}
	}
	item.expireAt = mc.expiry(now, expiration)
	return nil
}

func (mc *MemoryCache) Recent(_ context.Context, key string, since time.Time, limit int) ([]ScoredMember, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	item := mc.live(key, mc.now())
	if item == nil {
		return nil, nil
	}
	min := float64(since.UnixMilli())
	out := make([]ScoredMember, 0, len(item.zset))
	for m, s := range item.zset {
		if s >= min {
			out = append(out, ScoredMember{Member: m, Score: s})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].Member < out[j].Member
		}
		return out[i].Score > out[j].Score
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (mc *MemoryCache) evictLRU() {
	var oldestKey string
	var oldest time.Time
	for key, item := range mc.data {
		if oldestKey == "" || item.access.Before(oldest) {
			oldest = item.access
			oldestKey = key
		}
	}
	if oldestKey != "" {
		delete(mc.data, oldestKey)
	}
}

func (mc *MemoryCache) cleanupExpired() {
	for {
		select {
		case <-mc.done:
			return
		case <-mc.cleanupTicker.C:
			mc.mutex.Lock()
			now := mc.now()
			for key, item := range mc.data {
				if item.expired(now) {
					delete(mc.data, key)
				}
			}
			mc.mutex.Unlock()
		}
	}
}

// Close stops the cleanup loop.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() {
		mc.cleanupTicker.Stop()
		close(mc.done)
	})
	return nil
}

var _ Service = (*MemoryCache)(nil)
