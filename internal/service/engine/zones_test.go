package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalGate/internal/domain/models"
)

func zoneSnapshot() *models.MarketSnapshot {
	candles := make([]models.Candle, 30)
	for i := range candles {
		c := 97 + 0.1*float64(i)
		candles[i] = models.Candle{Time: testNow.Add(time.Duration(i-30) * 5 * time.Minute), Open: c, High: c + 0.5, Low: c - 0.5, Close: c}
	}
	htf := make([]models.Candle, 10)
	for i := range htf {
		c := 95 + float64(i)
		htf[i] = models.Candle{Time: testNow.Add(time.Duration(i-10) * time.Hour), Open: c, High: c + 1, Low: c - 1, Close: c}
	}
	return &models.MarketSnapshot{
		Quote:   &models.Quote{Symbol: "SPY", Bid: 99.99, Ask: 100.01, Last: 100},
		Candles: candles,
		HTF:     htf,
		Chain: []models.OptionContract{
			{Symbol: "SPY-C-105", Side: "CALL", Strike: 105, Bid: 0.5, Ask: 0.52, Delta: 0.2, OpenInterest: 900, Volume: 90},
			{Symbol: "SPY-P-100", Side: "PUT", Strike: 100, Bid: 2, Ask: 2.1, Delta: -0.5, OpenInterest: 900, Volume: 90},
			{Symbol: "SPY-C-100-WIDE", Side: "CALL", Strike: 100, Bid: 1, Ask: 3, Delta: 0.5, OpenInterest: 900, Volume: 90},
			{Symbol: "SPY-C-100", Side: "CALL", Strike: 100, Bid: 2, Ask: 2.1, Delta: 0.5, OpenInterest: 500, Volume: 50},
		},
	}
}

func demandTouch(conf float64) models.MarketEvent {
	return models.MarketEvent{
		StrategyID: "zones",
		Event:      "DEMAND_ZONE_TOUCH",
		SignalType: models.SignalActionable,
		Symbol:     "SPY",
		Timeframe:  "5m",
		Confidence: models.Float(conf),
		Price:      models.Float(100),
		Hints:      models.EventHints{ZoneType: "DEMAND", Zone: &models.Zone{High: 100, Low: 99}},
		Timestamp:  testNow.Add(-2 * time.Minute).Unix(),
	}
}

func TestZonesFullTier(t *testing.T) {
	p := mustProfile(t, "zones")
	rec := Zones(Input{Strategy: p, State: freshState(p, "SPY", "5m"), Event: demandTouch(0.8), Now: testNow, Market: zoneSnapshot()})

	assert.Empty(t, rec.FailedGates())
	assert.Equal(t, models.OutcomeExecutePaper, rec.Outcome)
	require.NotNil(t, rec.Score)
	assert.InDelta(t, 85.12, *rec.Score, 0.01)
	require.NotNil(t, rec.Plan)
	assert.Equal(t, TierFull, rec.Plan.Tier)
	assert.Equal(t, "SPY-C-100", rec.Plan.Contract.Symbol)
	assert.Equal(t, 2, rec.Plan.Qty)
	assert.Equal(t, 100.0, rec.Plan.Entry)
	assert.Equal(t, 99.0, rec.Plan.Stop)
	assert.Equal(t, []float64{101.5, 103}, rec.Plan.Targets)
	assert.Equal(t, 102.5, rec.Plan.RiskPerContractUSD)
	assert.Equal(t, 205.0, rec.Plan.EstimatedRiskUSD)
}

func TestZonesTiers(t *testing.T) {
	p := mustProfile(t, "zones")

	reduced := Zones(Input{Strategy: p, State: freshState(p, "SPY", "5m"), Event: demandTouch(0.62), Now: testNow, Market: zoneSnapshot()})
	assert.Equal(t, models.OutcomeExecutePaper, reduced.Outcome)
	assert.Equal(t, TierReduced, reduced.Plan.Tier)
	assert.Equal(t, 1, reduced.Plan.Qty, "reduced tier trades half size")

	low := Zones(Input{Strategy: p, State: freshState(p, "SPY", "5m"), Event: demandTouch(0.56), Now: testNow, Market: zoneSnapshot()})
	assert.Equal(t, models.OutcomeReject, low.Outcome)
	assert.Equal(t, []string{"score_tier"}, low.FailedGates())
}

func TestZonesHardRejects(t *testing.T) {
	p := mustProfile(t, "zones")
	st := freshState(p, "SPY", "5m")

	tests := []struct {
		name   string
		mutate func(ev *models.MarketEvent, m *models.MarketSnapshot)
		gate   string
	}{
		{"direction conflicts with event", func(ev *models.MarketEvent, _ *models.MarketSnapshot) {
			ev.Direction = models.DirectionShort
		}, "consistency"},
		{"zone type conflicts", func(ev *models.MarketEvent, _ *models.MarketSnapshot) { ev.Hints.ZoneType = "SUPPLY" }, "consistency"},
		{"low raw confidence", func(ev *models.MarketEvent, _ *models.MarketSnapshot) { ev.Confidence = models.Float(0.5) }, "min_raw_confidence"},
		{"quote failed", func(_ *models.MarketEvent, m *models.MarketSnapshot) { m.Quote, m.QuoteErr = nil, "timeout" }, "quote_available"},
		{"history failed", func(_ *models.MarketEvent, m *models.MarketSnapshot) { m.Candles = m.Candles[:5] }, "history_available"},
		{"late by time", func(ev *models.MarketEvent, _ *models.MarketSnapshot) {
			ev.Timestamp = testNow.Add(-8 * time.Minute).Unix()
		}, "timeliness"},
		{"drifted", func(_ *models.MarketEvent, m *models.MarketSnapshot) { m.Quote.Last = 101.5 }, "price_drift"},
		{"htf broken", func(_ *models.MarketEvent, m *models.MarketSnapshot) { m.HTF[len(m.HTF)-1].Close = 90 }, "htf_structure"},
		{"structure hint broken", func(ev *models.MarketEvent, _ *models.MarketSnapshot) { ev.Hints.Structure = "BROKEN" }, "htf_structure"},
		{"no liquid contract", func(_ *models.MarketEvent, m *models.MarketSnapshot) { m.Chain = m.Chain[1:3] }, "contract_selected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, mkt := demandTouch(0.8), zoneSnapshot()
			tt.mutate(&ev, mkt)
			rec := Zones(Input{Strategy: p, State: st, Event: ev, Now: testNow, Market: mkt})
			assert.Equal(t, models.OutcomeReject, rec.Outcome)
			assert.Contains(t, rec.FailedGates(), tt.gate)
		})
	}
}

func TestZoneScoreVolatilityPenalty(t *testing.T) {
	p := mustProfile(t, "zones")
	ev := demandTouch(0.8)

	// closes alternate between 100 and 100*(1+swing)
	choppy := func(swing float64) *models.MarketSnapshot {
		m := zoneSnapshot()
		for i := range m.Candles {
			c := 100.0
			if i%2 == 1 {
				c *= 1 + swing
			}
			m.Candles[i].Open, m.Candles[i].High, m.Candles[i].Low, m.Candles[i].Close = c, c+0.5, c-0.5, c
		}
		return m
	}
	contract := &zoneSnapshot().Chain[3]

	tests := []struct {
		name string
		mkt  *models.MarketSnapshot
		want float64
	}{
		{"calm", zoneSnapshot(), 85.12},
		{"elevated", choppy(0.004), 80.12},
		{"high", choppy(0.01), 70.12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := zoneScore(p.Config, ev, tt.mkt, models.DirectionLong, 0.8, contract)
			assert.InDelta(t, tt.want, got, 0.01)
		})
	}
}

func TestZonesDeltaFloorAndOverride(t *testing.T) {
	p := mustProfile(t, "zones")
	mkt := zoneSnapshot()
	mkt.Chain[3].Delta = 0.1

	rec := Zones(Input{Strategy: p, State: freshState(p, "SPY", "5m"), Event: demandTouch(0.8), Now: testNow, Market: mkt})
	assert.Equal(t, []string{"min_delta"}, rec.FailedGates())

	rec = Zones(Input{Strategy: p, State: freshState(p, "SPY", "5m"), Event: demandTouch(0.9), Now: testNow, Market: mkt})
	assert.True(t, gateByName(t, rec, "min_delta").Pass)
	assert.Equal(t, models.OutcomeExecutePaper, rec.Outcome)
}

func TestZonesWithoutSnapshotFailsClosed(t *testing.T) {
	p := mustProfile(t, "zones")
	rec := Zones(Input{Strategy: p, State: freshState(p, "SPY", "5m"), Event: demandTouch(0.9), Now: testNow})
	assert.Equal(t, models.OutcomeReject, rec.Outcome)
	assert.Contains(t, rec.FailedGates(), "quote_available")
	assert.Nil(t, rec.Plan)
}

func TestZoneRequests(t *testing.T) {
	p := mustProfile(t, "zones")
	d := ZoneRequests(p.Config, demandTouch(0.8))
	assert.Equal(t, "5m", d.Candles.Timeframe)
	assert.Equal(t, "1h", d.HTF.Timeframe)
	require.NotNil(t, d.Chain)
	assert.Equal(t, "CALL", d.Chain.Side)

	sweep := demandTouch(0.8)
	sweep.Event = "LIQUIDITY_SWEEP"
	sweep.Hints.ZoneType = ""
	assert.Nil(t, ZoneRequests(p.Config, sweep).Chain, "sweep without direction")
}
