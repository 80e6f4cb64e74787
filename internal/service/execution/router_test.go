package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalGate/internal/domain/models"
)

func paperDecision() models.DecisionRecord {
	return models.DecisionRecord{
		StrategyID:    "trend",
		Event:         "TRADE_SIGNAL",
		Symbol:        "ES",
		Timeframe:     "5m",
		ExecutionMode: models.ModePaper,
		Outcome:       models.OutcomeExecutePaper,
		Reason:        "approved",
		Plan: &models.TradePlan{
			Symbol: "ES", Timeframe: "5m", Direction: models.DirectionLong, Qty: 5,
			Entry: 100, Stop: 95, Targets: []float64{110, 120}, RiskPerContractUSD: 5, EstimatedRiskUSD: 25,
		},
		DecidedAt: 1710254100,
	}
}

func TestRouteRejectIsNoop(t *testing.T) {
	st := models.NewTradingState("trend", "ES", "5m", "2024-03-12")
	d := paperDecision()
	d.Outcome = models.OutcomeReject

	out, err := NewRouter(Config{}).Route(st, d)
	require.NoError(t, err)
	assert.Equal(t, st, out)
}

func TestRoutePaperMutatesCopy(t *testing.T) {
	st := models.NewTradingState("trend", "ES", "5m", "2024-03-12")
	st.OpenPositions = []models.Position{{ID: "old", Status: models.PositionClosed}}
	st.Daily.RiskUsedUSD = 10.1

	out, err := NewRouter(Config{NotesCap: 2}).Route(st, paperDecision())
	require.NoError(t, err)

	require.Len(t, out.OpenPositions, 2)
	assert.Equal(t, models.PositionOpen, out.OpenPositions[0].Status, "new position is prepended")
	assert.Equal(t, "old", out.OpenPositions[1].ID)
	assert.Equal(t, 1, out.Daily.TradeCount)
	assert.Equal(t, 35.1, out.Daily.RiskUsedUSD)
	assert.Equal(t, int64(1710254100), out.Cooldowns["TRADE_SIGNAL"])
	assert.Len(t, out.Notes, 1)
	assert.Equal(t, 1, out.OpenCount())

	assert.Len(t, st.OpenPositions, 1, "input state untouched")
	assert.Zero(t, st.Daily.TradeCount)
	assert.Empty(t, st.Cooldowns)
}

func TestRoutePaperPositionIDIsDeterministic(t *testing.T) {
	st := models.NewTradingState("trend", "ES", "5m", "2024-03-12")
	r := NewRouter(Config{})

	a, err := r.Route(st, paperDecision())
	require.NoError(t, err)
	b, err := r.Route(st, paperDecision())
	require.NoError(t, err)
	assert.Equal(t, a.OpenPositions[0].ID, b.OpenPositions[0].ID)

	later := paperDecision()
	later.DecidedAt++
	c, err := r.Route(st, later)
	require.NoError(t, err)
	assert.NotEqual(t, a.OpenPositions[0].ID, c.OpenPositions[0].ID)
}

func TestRouteLiveFailsClosed(t *testing.T) {
	st := models.NewTradingState("trend", "ES", "5m", "2024-03-12")
	d := paperDecision()
	d.Outcome = models.OutcomeExecuteLive

	out, err := NewRouter(Config{}).Route(st, d)
	assert.ErrorIs(t, err, ErrLiveDisabled)
	assert.Equal(t, st, out)

	_, err = NewRouter(Config{LiveEnabled: true}).Route(st, d)
	assert.ErrorIs(t, err, ErrBrokerUnavailable)
}

func TestRoutePaperWithoutPlan(t *testing.T) {
	d := paperDecision()
	d.Plan = nil
	_, err := NewRouter(Config{}).Route(models.NewTradingState("trend", "ES", "5m", "2024-03-12"), d)
	assert.ErrorIs(t, err, ErrNoPlan)
}

func TestNotesRingIsBounded(t *testing.T) {
	st := models.NewTradingState("trend", "ES", "5m", "2024-03-12")
	r := NewRouter(Config{NotesCap: 2})
	var err error
	for i := 0; i < 4; i++ {
		d := paperDecision()
		d.DecidedAt += int64(i)
		st, err = r.Route(st, d)
		require.NoError(t, err)
	}
	assert.Len(t, st.Notes, 2)
	assert.Equal(t, 4, st.Daily.TradeCount)
}
