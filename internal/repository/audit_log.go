package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
	"SignalGate/pkg/cache"
)

const allStrategies = "_all"

// CacheAuditLog appends records to capped, TTL-bound lists: one per strategy
// and one across all strategies.
type CacheAuditLog struct {
	kv    cache.Service
	limit int
	ttl   time.Duration
}

func NewCacheAuditLog(kv cache.Service, limit int, ttl time.Duration) *CacheAuditLog {
	return &CacheAuditLog{kv: kv, limit: limit, ttl: ttl}
}

func auditKey(kind, strategyID string) string {
	if strategyID == "" {
		strategyID = allStrategies
	}
	return cache.GenerateKey("audit", kind, strings.ToLower(strategyID))
}

func (a *CacheAuditLog) append(ctx context.Context, kind, strategyID string, rec interface{}) error {
	keys := []string{auditKey(kind, allStrategies)}
	if own := auditKey(kind, strategyID); own != keys[0] {
		keys = append(keys, own)
	}
	for _, key := range keys {
		if err := a.kv.PushCapped(ctx, key, rec, a.limit, a.ttl); err != nil {
			return fmt.Errorf("audit log: append %s: %w", kind, err)
		}
	}
	return nil
}

func (a *CacheAuditLog) AppendEvent(ctx context.Context, rec models.AuditEventRecord) error {
	return a.append(ctx, "events", rec.StrategyID, rec)
}

func (a *CacheAuditLog) AppendDecision(ctx context.Context, rec models.AuditDecisionRecord) error {
	return a.append(ctx, "decisions", rec.Decision.StrategyID, rec)
}

func (a *CacheAuditLog) ListEvents(ctx context.Context, strategyID string, limit int) ([]models.AuditEventRecord, error) {
	out, err := cache.RangeTyped[models.AuditEventRecord](ctx, a.kv, auditKey("events", strategyID), limit)
	if err != nil {
		return nil, fmt.Errorf("audit log: list events: %w", err)
	}
	return out, nil
}

func (a *CacheAuditLog) ListDecisions(ctx context.Context, strategyID string, limit int) ([]models.AuditDecisionRecord, error) {
	out, err := cache.RangeTyped[models.AuditDecisionRecord](ctx, a.kv, auditKey("decisions", strategyID), limit)
	if err != nil {
		return nil, fmt.Errorf("audit log: list decisions: %w", err)
	}
	return out, nil
}

var _ repository.AuditLog = (*CacheAuditLog)(nil)
