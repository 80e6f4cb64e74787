package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/service/strategy"
	"SignalGate/pkg/config"
)

const strategiesDoc = `
strategies:
  - id: trend
    engine: trend
  - id: trend-off
    engine: trend
    execution_mode: disabled
  - id: swing
    engine: swing
  - id: zones
    engine: zones
`

// 10:35 New York time.
var testNow = time.Date(2024, 3, 12, 14, 35, 0, 0, time.UTC)

func mustProfile(t *testing.T, id string) strategy.Profile {
	t.Helper()
	cfg, err := config.Parse([]byte(strategiesDoc))
	require.NoError(t, err)
	reg, err := strategy.NewRegistry(cfg.Strategies)
	require.NoError(t, err)
	p, ok := reg.Get(id)
	require.True(t, ok)
	return p
}

func freshState(p strategy.Profile, symbol, tf string) models.TradingState {
	return models.NewTradingState(p.ID, symbol, tf, "2024-03-12")
}

func gateByName(t *testing.T, rec models.DecisionRecord, name string) models.GateResult {
	t.Helper()
	for _, g := range rec.Gates {
		if g.Gate == name {
			return g
		}
	}
	t.Fatalf("gate %s not recorded", name)
	return models.GateResult{}
}
