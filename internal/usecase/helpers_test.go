package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/middleware"
	"SignalGate/internal/repository"
	"SignalGate/internal/service/execution"
	"SignalGate/internal/service/normalize"
	"SignalGate/internal/service/strategy"
	"SignalGate/pkg/cache"
	"SignalGate/pkg/config"
	applogger "SignalGate/pkg/logger"
	"SignalGate/pkg/metrics"
)

const strategiesDoc = `
strategies:
  - id: trend
    engine: trend
  - id: trend-live
    engine: trend
    execution_mode: live
  - id: trend-q
    engine: trend
    required_approvals: 1
  - id: swing
    engine: swing
  - id: zones
    engine: zones
`

// 10:35 New York time.
var testNow = time.Date(2024, 3, 12, 14, 35, 0, 0, time.UTC)

type recordingPublisher struct {
	mu   sync.Mutex
	recs []models.AuditDecisionRecord
}

func (p *recordingPublisher) PublishDecision(_ context.Context, rec models.AuditDecisionRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recs = append(p.recs, rec)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.recs)
}

type harness struct {
	ing      *Ingestor
	orch     *Orchestrator
	proc     *JobProcessor
	registry *strategy.Registry
	jobs     *repository.MemoryJobQueue
	events   *repository.MemoryEventStore
	states   *repository.CacheStateStore
	audit    *repository.CacheAuditLog
	setups   *repository.CacheSetupStore
	pub      *recordingPublisher
	now      time.Time
}

func newHarness(t *testing.T, secret string) *harness {
	t.Helper()
	cfg, err := config.Parse([]byte(strategiesDoc))
	require.NoError(t, err)
	reg, err := strategy.NewRegistry(cfg.Strategies)
	require.NoError(t, err)

	kv := cache.NewMemoryCache(cache.WithMemoryCleanup(time.Hour))
	t.Cleanup(func() { _ = kv.Close() })

	h := &harness{
		registry: reg,
		jobs:     repository.NewMemoryJobQueue(time.Minute),
		events:   repository.NewMemoryEventStore(100),
		states:   repository.NewCacheStateStore(kv),
		audit:    repository.NewCacheAuditLog(kv, 100, time.Hour),
		setups:   repository.NewCacheSetupStore(kv, 50, time.Hour),
		pub:      &recordingPublisher{},
		now:      testNow,
	}
	clock := func() time.Time { return h.now }
	h.jobs.WithClock(clock)

	log := applogger.Nop()
	m := metrics.Nop{}
	h.orch = NewOrchestrator(OrchestratorDeps{
		Idempotency: repository.NewCacheIdempotencyStore(kv),
		States:      h.states,
		Index:       repository.NewCacheStateIndex(kv, time.Hour).WithClock(clock),
		Audit:       h.audit,
		Setups:      h.setups,
		Publisher:   h.pub,
		Router:      execution.NewRouter(execution.Config{NotesCap: 5}),
		Locker:      middleware.NewKeyedLocker(m),
		Metrics:     m,
		Log:         log,
	}, OrchestratorConfig{IdempotencyTTL: time.Hour, StateTTL: time.Hour, NotesCap: 5}).WithClock(clock)
	h.ing = NewIngestor(reg, normalize.New(), h.events, h.audit, h.jobs, h.orch, m, log,
		IngestorConfig{Secret: secret, ApprovalWindow: 5 * time.Minute}).WithClock(clock)
	h.proc = NewJobProcessor(h.events, reg, h.orch, log)
	return h
}

func (h *harness) send(t *testing.T, strategyID, body string) IngestResponse {
	t.Helper()
	resp := h.ing.Ingest(context.Background(), IngestRequest{StrategyHint: strategyID, Body: []byte(body)})
	require.True(t, resp.OK)
	require.NotEmpty(t, resp.EventID)
	return resp
}

func (h *harness) state(t *testing.T, key string) *models.TradingState {
	t.Helper()
	st, err := h.states.Get(context.Background(), key)
	require.NoError(t, err)
	return st
}
