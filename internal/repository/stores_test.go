package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
	"SignalGate/pkg/cache"
)

func newKV(t *testing.T) *cache.MemoryCache {
	t.Helper()
	kv := cache.NewMemoryCache(cache.WithMemoryCleanup(time.Hour))
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestCacheStateStoreRoundTripIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewCacheStateStore(newKV(t))

	missing, err := store.Get(ctx, "trend:SPY:5m")
	require.NoError(t, err)
	assert.Nil(t, missing)

	st := models.NewTradingState("trend", "SPY", "5m", "2024-03-12")
	st.Cooldowns["TRADE_SIGNAL"] = 100
	require.NoError(t, store.Set(ctx, st.Key, st, time.Hour))
	st.Cooldowns["TRADE_SIGNAL"] = 999

	got, err := store.Get(ctx, st.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(100), got.Cooldowns["TRADE_SIGNAL"])
	assert.Equal(t, models.BiasNeutral, got.Bias)

	got.Notes = append(got.Notes, "local only")
	again, err := store.Get(ctx, st.Key)
	require.NoError(t, err)
	assert.Empty(t, again.Notes)
}

func TestCacheStateIndexListRecent(t *testing.T) {
	ctx := context.Background()
	idx := NewCacheStateIndex(newKV(t), time.Hour)
	now := time.Now()

	require.NoError(t, idx.Touch(ctx, "trend:SPY:5m", now.Add(-2*time.Minute)))
	require.NoError(t, idx.Touch(ctx, "swing:QQQ:1h", now.Add(-time.Minute)))
	require.NoError(t, idx.Touch(ctx, "trend:QQQ:5m", now))

	all, err := idx.ListRecent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "trend:QQQ:5m", all[0].Key)

	trend, err := idx.ListRecent(ctx, "trend:", 10)
	require.NoError(t, err)
	require.Len(t, trend, 2)
	assert.Equal(t, "trend:QQQ:5m", trend[0].Key)
	assert.Equal(t, "trend:SPY:5m", trend[1].Key)

	one, err := idx.ListRecent(ctx, "trend:", 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestCacheStateIndexUsesInjectedClock(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 3, 12, 14, 35, 0, 0, time.UTC)
	clock := at
	idx := NewCacheStateIndex(newKV(t), time.Hour).WithClock(func() time.Time { return clock })

	require.NoError(t, idx.Touch(ctx, "trend:ES:5m", at))

	got, err := idx.ListRecent(ctx, "trend:", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "trend:ES:5m", got[0].Key)
	assert.True(t, at.Equal(got[0].TouchedAt))

	clock = at.Add(2 * time.Hour)
	got, err = idx.ListRecent(ctx, "trend:", 10)
	require.NoError(t, err)
	assert.Empty(t, got, "entries older than the index ttl drop out")
}

func TestCacheIdempotencyStoreClaimsOnce(t *testing.T) {
	ctx := context.Background()
	store := NewCacheIdempotencyStore(newKV(t))
	key := cache.HashKey("trend", `{"event":"TRADE_SIGNAL"}`)

	first, err := store.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	second, err := store.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	other, err := store.Claim(ctx, cache.HashKey("swing", `{"event":"TRADE_SIGNAL"}`), time.Hour)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.True(t, other)
}

func TestCacheAuditLogPerStrategyAndGlobal(t *testing.T) {
	ctx := context.Background()
	log := NewCacheAuditLog(newKV(t), 2, time.Hour)

	for i, sid := range []string{"trend", "swing", "Trend"} {
		require.NoError(t, log.AppendDecision(ctx, models.AuditDecisionRecord{
			EventID:  string(rune('a' + i)),
			Decision: models.DecisionRecord{StrategyID: sid, Outcome: models.OutcomeReject},
		}))
	}
	require.NoError(t, log.AppendEvent(ctx, models.AuditEventRecord{EventID: "e1", StrategyID: "swing"}))

	trend, err := log.ListDecisions(ctx, "trend", 10)
	require.NoError(t, err)
	require.Len(t, trend, 2)
	assert.Equal(t, "c", trend[0].EventID)
	assert.Equal(t, "a", trend[1].EventID)

	// the global list is capped at 2 like every other list
	all, err := log.ListDecisions(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "c", all[0].EventID)
	assert.Equal(t, "b", all[1].EventID)

	events, err := log.ListEvents(ctx, "swing", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].EventID)

	none, err := log.ListEvents(ctx, "zones", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCacheSetupStoreUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	store := NewCacheSetupStore(newKV(t), 50, time.Hour)

	s1 := models.StrategySetupRecord{ID: "s1", StrategyID: "swing", Symbol: "SPY", Status: models.SetupWaiting}
	s2 := models.StrategySetupRecord{ID: "s2", StrategyID: "swing", Symbol: "SPY", Status: models.SetupWaiting}
	require.NoError(t, store.Save(ctx, s1))
	require.NoError(t, store.Save(ctx, s2))

	s1.Status = models.SetupStopped
	require.NoError(t, store.Save(ctx, s1))

	list, err := store.List(ctx, "SWING", "spy", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s2", list[0].ID)
	assert.Equal(t, "s1", list[1].ID)
	assert.Equal(t, models.SetupStopped, list[1].Status)

	_, err = store.Get(ctx, "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMemoryEventStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore(3)

	first := models.WebhookEvent{ID: "e1", Status: models.StatusAccepted, DedupeKey: "d1", IdempotencyKey: "k1"}
	require.NoError(t, store.Insert(ctx, first))
	assert.ErrorIs(t, store.Insert(ctx, first), repository.ErrConflict)

	require.NoError(t, store.Insert(ctx, models.WebhookEvent{ID: "e2", Status: models.StatusAccepted, DedupeKey: "d1"}))
	require.NoError(t, store.Insert(ctx, models.WebhookEvent{ID: "e3", Status: models.StatusDuplicate, IdempotencyKey: "k1"}))

	found, err := store.FindAccepted(ctx, "d1", "e2")
	require.NoError(t, err)
	assert.Equal(t, "e1", found.ID)
	_, err = store.FindAccepted(ctx, "d1", "e1")
	require.NoError(t, err)

	byKey, err := store.FindByIdempotencyKey(ctx, "k1", "e3")
	require.NoError(t, err)
	assert.Equal(t, "e1", byKey.ID)

	require.NoError(t, store.SetJob(ctx, "e2", "job-1"))
	got, err := store.Get(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.JobID)

	// a fourth insert evicts the oldest row
	require.NoError(t, store.Insert(ctx, models.WebhookEvent{ID: "e4", Status: models.StatusRejected}))
	_, err = store.Get(ctx, "e1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = store.FindAccepted(ctx, "", "")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
