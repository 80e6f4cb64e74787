package repository

import (
	"context"
	"fmt"
	"time"

	"SignalGate/internal/domain/repository"
	"SignalGate/pkg/cache"
)

// CacheIdempotencyStore claims keys with a single SET NX EX round trip.
type CacheIdempotencyStore struct {
	kv cache.Service
}

func NewCacheIdempotencyStore(kv cache.Service) *CacheIdempotencyStore {
	return &CacheIdempotencyStore{kv: kv}
}

func (s *CacheIdempotencyStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.kv.SetNX(ctx, cache.GenerateKey("idem", key), 1, ttl)
	if err != nil {
		return false, fmt.Errorf("idempotency: claim: %w", err)
	}
	return ok, nil
}

var _ repository.IdempotencyStore = (*CacheIdempotencyStore)(nil)
