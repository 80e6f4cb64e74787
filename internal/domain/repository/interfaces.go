package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"SignalGate/internal/domain/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrLockLost is returned when a worker completes a job it no longer holds.
	ErrLockLost = errors.New("job lock lost")
)

// StateStore holds TradingState per strategy:symbol:timeframe. Get returns
// (nil, nil) when the key is absent. Values crossing this interface are copies.
type StateStore interface {
	Get(ctx context.Context, key string) (*models.TradingState, error)
	Set(ctx context.Context, key string, state models.TradingState, ttl time.Duration) error
}

type IndexEntry struct {
	Key       string    `json:"key"`
	TouchedAt time.Time `json:"touchedAt"`
}

// StateIndex records recently touched state keys for inspection only.
type StateIndex interface {
	Touch(ctx context.Context, key string, at time.Time) error
	ListRecent(ctx context.Context, prefix string, limit int) ([]IndexEntry, error)
}

// IdempotencyStore claims a key exactly once per TTL window.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type AuditLog interface {
	AppendEvent(ctx context.Context, rec models.AuditEventRecord) error
	AppendDecision(ctx context.Context, rec models.AuditDecisionRecord) error
	ListEvents(ctx context.Context, strategyID string, limit int) ([]models.AuditEventRecord, error)
	ListDecisions(ctx context.Context, strategyID string, limit int) ([]models.AuditDecisionRecord, error)
}

type SetupStore interface {
	Save(ctx context.Context, setup models.StrategySetupRecord) error
	Get(ctx context.Context, id string) (*models.StrategySetupRecord, error)
	// List returns setups for strategy+symbol, most recent first.
	List(ctx context.Context, strategyID, symbol string, limit int) ([]models.StrategySetupRecord, error)
}

// JobQueue is the durable work queue. Claim must hand disjoint sets of jobs
// to concurrent callers.
type JobQueue interface {
	Enqueue(ctx context.Context, req models.EnqueueRequest) (*models.Job, error)
	Claim(ctx context.Context, limit int, workerID string) ([]models.Job, error)
	// Succeed and Fail only apply while workerID still holds the lock.
	Succeed(ctx context.Context, jobID, workerID string, result json.RawMessage) error
	Fail(ctx context.Context, jobID, workerID, errMsg string, attempts, maxAttempts int) error
	Get(ctx context.Context, jobID string) (*models.Job, error)
	List(ctx context.Context, filter models.JobFilter) ([]models.Job, error)
	// Retry moves a FAILED or CANCELLED job back to PENDING with a fresh attempt budget.
	Retry(ctx context.Context, jobID string) (*models.Job, error)
	Cancel(ctx context.Context, jobID string) (*models.Job, error)
	Approve(ctx context.Context, jobID string) (*models.Job, error)
}

// EventStore persists one WebhookEvent row per delivery.
type EventStore interface {
	Insert(ctx context.Context, ev models.WebhookEvent) error
	Get(ctx context.Context, id string) (*models.WebhookEvent, error)
	SetJob(ctx context.Context, id, jobID string) error
	// FindAccepted returns the earliest ACCEPTED event with dedupeKey, excluding excludeID.
	FindAccepted(ctx context.Context, dedupeKey, excludeID string) (*models.WebhookEvent, error)
	FindByIdempotencyKey(ctx context.Context, key, excludeID string) (*models.WebhookEvent, error)
}

type MarketData interface {
	GetQuote(ctx context.Context, symbol string) (*models.Quote, error)
	GetOHLC(ctx context.Context, req models.OHLCRequest) ([]models.Candle, error)
	GetOptionsChain(ctx context.Context, req models.ChainRequest) ([]models.OptionContract, error)
}

// DecisionPublisher fans recorded decisions out to downstream consumers.
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, rec models.AuditDecisionRecord) error
	Close() error
}

type Metrics interface {
	RecordWebhook(strategy, status string)
	RecordDecision(strategy, outcome string)
	RecordJob(jobType, status string)
	RecordLatency(op string, seconds float64)
	RecordError(kind string)
}
