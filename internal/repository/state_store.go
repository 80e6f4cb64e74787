package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
	"SignalGate/pkg/cache"
)

const (
	stateKeyPrefix = "state"
	stateIndexKey  = "state_index"
)

// CacheStateStore keeps TradingState as JSON in the key/value backend.
// Serialization on every read and write gives callers independent copies.
type CacheStateStore struct {
	kv cache.Service
}

func NewCacheStateStore(kv cache.Service) *CacheStateStore {
	return &CacheStateStore{kv: kv}
}

func (s *CacheStateStore) Get(ctx context.Context, key string) (*models.TradingState, error) {
	var st models.TradingState
	if err := s.kv.Get(ctx, cache.GenerateKey(stateKeyPrefix, key), &st); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("state store: get %s: %w", key, err)
	}
	if st.Cooldowns == nil {
		st.Cooldowns = map[string]int64{}
	}
	return &st, nil
}

func (s *CacheStateStore) Set(ctx context.Context, key string, state models.TradingState, ttl time.Duration) error {
	if err := s.kv.Set(ctx, cache.GenerateKey(stateKeyPrefix, key), state, ttl); err != nil {
		return fmt.Errorf("state store: set %s: %w", key, err)
	}
	return nil
}

// CacheStateIndex is a sorted set of state keys scored by last touch.
type CacheStateIndex struct {
	kv  cache.Service
	ttl time.Duration
	now func() time.Time
}

func NewCacheStateIndex(kv cache.Service, ttl time.Duration) *CacheStateIndex {
	return &CacheStateIndex{kv: kv, ttl: ttl, now: time.Now}
}

// WithClock swaps the time source used for the recency cutoff.
func (i *CacheStateIndex) WithClock(now func() time.Time) *CacheStateIndex {
	i.now = now
	return i
}

func (i *CacheStateIndex) Touch(ctx context.Context, key string, at time.Time) error {
	if err := i.kv.Touch(ctx, stateIndexKey, key, at, i.ttl); err != nil {
		return fmt.Errorf("state index: touch %s: %w", key, err)
	}
	return nil
}

func (i *CacheStateIndex) ListRecent(ctx context.Context, prefix string, limit int) ([]repository.IndexEntry, error) {
	since := time.Time{}
	if i.ttl > 0 {
		since = i.now().Add(-i.ttl)
	}
	// prefix filtering happens here, so fetch everything when a prefix is given
	fetch := limit
	if prefix != "" {
		fetch = 0
	}
	members, err := i.kv.Recent(ctx, stateIndexKey, since, fetch)
	if err != nil {
		return nil, fmt.Errorf("state index: list: %w", err)
	}
	out := make([]repository.IndexEntry, 0, len(members))
	for _, m := range members {
		if prefix != "" && !strings.HasPrefix(m.Member, prefix) {
			continue
		}
		out = append(out, repository.IndexEntry{Key: m.Member, TouchedAt: time.UnixMilli(int64(m.Score))})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

var (
	_ repository.StateStore = (*CacheStateStore)(nil)
	_ repository.StateIndex = (*CacheStateIndex)(nil)
)
