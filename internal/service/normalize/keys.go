package normalize

import (
	"strconv"
	"strings"

	"SignalGate/internal/domain/models"
	"SignalGate/pkg/cache"
)

// IdempotencyKey hashes the strategy and the exact bytes delivered, so a
// redelivered body collapses to the same key whatever headers came with it.
func IdempotencyKey(strategyID string, raw []byte) string {
	return cache.HashKey(strings.ToLower(strategyID), string(raw))
}

// DedupeKey identifies one logical trading event:
// strategy|event|symbol|timeframe|seconds[|direction][|source].
func DedupeKey(ev models.MarketEvent) string {
	parts := []string{ev.StrategyID, ev.Event, ev.Symbol, ev.Timeframe, strconv.FormatInt(ev.Timestamp, 10)}
	if ev.Direction != "" {
		parts = append(parts, string(ev.Direction))
	}
	if ev.Hints.SourceContext != "" {
		parts = append(parts, ev.Hints.SourceContext)
	}
	return strings.Join(parts, "|")
}
