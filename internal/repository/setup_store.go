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

// CacheSetupStore keeps each setup under its id and a capped id list per
// strategy+symbol, newest first. Saving an existing id updates it in place.
type CacheSetupStore struct {
	kv    cache.Service
	limit int
	ttl   time.Duration
}

func NewCacheSetupStore(kv cache.Service, limit int, ttl time.Duration) *CacheSetupStore {
	return &CacheSetupStore{kv: kv, limit: limit, ttl: ttl}
}

func setupHistoryKey(strategyID, symbol string) string {
	return cache.GenerateKey("setups", strings.ToLower(strategyID), strings.ToUpper(symbol))
}

func (s *CacheSetupStore) Save(ctx context.Context, setup models.StrategySetupRecord) error {
	key := cache.GenerateKey("setup", setup.ID)
	existed, err := s.kv.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("setup store: save %s: %w", setup.ID, err)
	}
	if err := s.kv.Set(ctx, key, setup, s.ttl); err != nil {
		return fmt.Errorf("setup store: save %s: %w", setup.ID, err)
	}
	if existed {
		return nil
	}
	if err := s.kv.PushCapped(ctx, setupHistoryKey(setup.StrategyID, setup.Symbol), setup.ID, s.limit, s.ttl); err != nil {
		return fmt.Errorf("setup store: index %s: %w", setup.ID, err)
	}
	return nil
}

func (s *CacheSetupStore) Get(ctx context.Context, id string) (*models.StrategySetupRecord, error) {
	var rec models.StrategySetupRecord
	if err := s.kv.Get(ctx, cache.GenerateKey("setup", id), &rec); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("setup store: get %s: %w", id, err)
	}
	return &rec, nil
}

func (s *CacheSetupStore) List(ctx context.Context, strategyID, symbol string, limit int) ([]models.StrategySetupRecord, error) {
	ids, err := s.kv.Range(ctx, setupHistoryKey(strategyID, symbol), limit)
	if err != nil {
		return nil, fmt.Errorf("setup store: list: %w", err)
	}
	out := make([]models.StrategySetupRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, string(id))
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

var _ repository.SetupStore = (*CacheSetupStore)(nil)
