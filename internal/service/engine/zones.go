package engine

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/service/normalize"
	"SignalGate/internal/service/strategy"
	"SignalGate/pkg/config"
)

// Score tiers.
const (
	TierFull    = "FULL"
	TierReduced = "REDUCED"

	fullScore    = 80.0
	reducedScore = 65.0
)

// ZoneData lists the market data a zone decision needs.
type ZoneData struct {
	Symbol  string
	Candles models.OHLCRequest
	HTF     models.OHLCRequest
	Chain   *models.ChainRequest
}

// ZoneRequests derives the fetches for ev. The chain is skipped when the
// direction cannot be resolved, since the option side depends on it.
func ZoneRequests(cfg config.StrategyConfig, ev models.MarketEvent) ZoneData {
	d := ZoneData{
		Symbol:  ev.Symbol,
		Candles: models.OHLCRequest{Symbol: ev.Symbol, Timeframe: ev.Timeframe, Lookback: cfg.HistoryLookback},
		HTF:     models.OHLCRequest{Symbol: ev.Symbol, Timeframe: cfg.HTFTimeframe, Lookback: cfg.HistoryLookback},
	}
	if dir, err := zoneDirection(ev); err == nil {
		d.Chain = &models.ChainRequest{Symbol: ev.Symbol, Side: optionSide(dir), MaxDTE: cfg.MaxDTE}
	}
	return d
}

// zoneDirection checks that event, direction and zone type agree.
func zoneDirection(ev models.MarketEvent) (models.Direction, error) {
	var want models.Direction
	switch ev.Event {
	case strategy.EventDemandZoneTouch:
		want = models.DirectionLong
	case strategy.EventSupplyZoneTouch:
		want = models.DirectionShort
	case strategy.EventLiquiditySweep:
		if ev.Direction == "" {
			return "", fmt.Errorf("liquidity sweep without direction")
		}
		want = ev.Direction
	default:
		return "", fmt.Errorf("event %s is not a zone event", ev.Event)
	}
	if ev.Direction != "" && ev.Direction != want {
		return "", fmt.Errorf("%s conflicts with direction %s", ev.Event, ev.Direction)
	}
	switch ev.Hints.ZoneType {
	case "":
	case "DEMAND":
		if want != models.DirectionLong {
			return "", fmt.Errorf("demand zone with %s", want)
		}
	case "SUPPLY":
		if want != models.DirectionShort {
			return "", fmt.Errorf("supply zone with %s", want)
		}
	default:
		return "", fmt.Errorf("unknown zone type %s", ev.Hints.ZoneType)
	}
	return want, nil
}

func optionSide(dir models.Direction) string {
	if dir == models.DirectionShort {
		return "PUT"
	}
	return "CALL"
}

// Zones scores a zone touch or liquidity sweep against live market data.
// Any failed data dependency rejects; the score tier only decides size.
func Zones(in Input) models.DecisionRecord {
	cfg := in.Strategy.Config
	ev, st := in.Event, in.State
	mkt := in.Market
	if mkt == nil {
		mkt = &models.MarketSnapshot{QuoteErr: "not fetched", CandlesErr: "not fetched", HTFErr: "not fetched", ChainErr: "not fetched"}
	}
	var g gates

	g.add("actionable_signal", ev.SignalType == models.SignalActionable && in.Strategy.Catalog.Allows(ev.Event, models.SignalActionable),
		"%s %s", ev.SignalType, ev.Event)

	dir, dirErr := zoneDirection(ev)
	if dirErr != nil {
		g.add("consistency", false, "%s", dirErr.Error())
	} else {
		g.add("consistency", true, "%s %s zone %q", ev.Event, dir, ev.Hints.ZoneType)
	}

	conf := models.FloatOr(ev.Confidence, 0)
	g.add("min_raw_confidence", ev.Confidence != nil && conf >= cfg.MinRawConfidence,
		"confidence %s >= %g", optional(ev.Confidence), cfg.MinRawConfidence)

	price := 0.0
	if mkt.Quote != nil {
		price = mkt.Quote.Last
		if price <= 0 {
			price = (mkt.Quote.Bid + mkt.Quote.Ask) / 2
		}
	}
	g.add("quote_available", price > 0, "%s", withErr(fmt.Sprintf("last %g", price), mkt.QuoteErr))

	atr := ATR(mkt.Candles, cfg.ATRPeriod)
	g.add("history_available", atr > 0, "%s",
		withErr(fmt.Sprintf("%d bars, ATR(%d) %g", len(mkt.Candles), cfg.ATRPeriod, round2(atr)), mkt.CandlesErr))

	timelinessGate(&g, ev, in.Now)

	ref := zoneReference(ev, dir)
	drift := math.Abs(price - ref)
	g.add("price_drift", price > 0 && ref > 0 && atr > 0 && drift <= cfg.MaxDriftATR*atr,
		"drift %g vs %g x ATR %g", round2(drift), cfg.MaxDriftATR, round2(atr))

	htfOK, htfDetail := htfStructure(mkt, ev, st, dir)
	g.add("htf_structure", htfOK, "%s", htfDetail)

	var contract *models.OptionContract
	if dirErr == nil && price > 0 {
		contract = selectContract(mkt.Chain, dir, price, cfg)
	}
	if contract != nil {
		g.add("contract_selected", true, "%s strike %g spread %g%%", contract.Symbol, contract.Strike, round2(spreadPct(*contract)*100))
	} else {
		g.add("contract_selected", false, "%s",
			withErr(fmt.Sprintf("no liquid %s within %d DTE", optionSide(dir), cfg.MaxDTE), mkt.ChainErr))
	}

	switch {
	case contract == nil:
		g.add("min_delta", false, "no contract")
	case conf >= cfg.HighConfidenceOverride:
		g.add("min_delta", true, "confidence %g overrides delta floor", conf)
	default:
		g.add("min_delta", math.Abs(contract.Delta) >= cfg.MinAbsDelta, "|delta| %g >= %g", math.Abs(contract.Delta), cfg.MinAbsDelta)
	}

	score := zoneScore(cfg, ev, mkt, dir, conf, contract)
	tier := ""
	switch {
	case score >= fullScore:
		tier = TierFull
	case score >= reducedScore:
		tier = TierReduced
	}
	g.add("score_tier", tier != "", "score %g tier %q", score, tier)

	open := st.OpenCount()
	g.add("no_open_position", open == 0, "%d open", open)
	g.add("daily_trade_cap", st.Daily.TradeCount < cfg.MaxTradesPerDay,
		"%d of %d trades today", st.Daily.TradeCount, cfg.MaxTradesPerDay)

	var plan *models.TradePlan
	if contract != nil && atr > 0 {
		plan = zonePlan(cfg, ev, dir, price, atr, contract, tier)
		g.add("daily_risk_budget", WithinBudget(st.Daily.RiskUsedUSD, plan.EstimatedRiskUSD, cfg.MaxDailyRiskUSD),
			"%g used + %g <= %g", st.Daily.RiskUsedUSD, plan.EstimatedRiskUSD, cfg.MaxDailyRiskUSD)
	} else {
		g.add("daily_risk_budget", false, "no plan")
	}

	return finalize(in, g, plan, &score)
}

func timelinessGate(g *gates, ev models.MarketEvent, now time.Time) {
	tf, ok := normalize.TimeframeDuration(ev.Timeframe)
	if !ok {
		g.add("timeliness", false, "unknown timeframe %q", ev.Timeframe)
		return
	}
	age := now.Sub(ev.Time())
	if age < 0 {
		age = 0
	}
	limit := tf * 3 / 2
	g.add("timeliness", age <= limit, "age %s <= %s", age, limit)
}

// zoneReference is the price the alert fired at: explicit price, entry,
// else the zone edge being touched.
func zoneReference(ev models.MarketEvent, dir models.Direction) float64 {
	if ev.Price != nil {
		return *ev.Price
	}
	if ev.Levels.Entry != nil {
		return *ev.Levels.Entry
	}
	if z := ev.Hints.Zone; z != nil {
		if dir == models.DirectionShort {
			return z.Low
		}
		return z.High
	}
	return 0
}

func htfStructure(mkt *models.MarketSnapshot, ev models.MarketEvent, st models.TradingState, dir models.Direction) (bool, string) {
	structure := ev.Hints.Structure
	if structure == "" {
		structure = st.Structure
	}
	switch {
	case structure == "BROKEN":
		return false, "structure reported broken"
	case dir == models.DirectionLong && structure == "BEARISH":
		return false, "bearish structure against LONG"
	case dir == models.DirectionShort && structure == "BULLISH":
		return false, "bullish structure against SHORT"
	}
	if len(mkt.HTF) < 2 {
		return false, withErr(fmt.Sprintf("%d HTF bars", len(mkt.HTF)), mkt.HTFErr)
	}
	prior := mkt.HTF[:len(mkt.HTF)-1]
	if len(prior) > 20 {
		prior = prior[len(prior)-20:]
	}
	low, high := swingExtremes(prior)
	last := mkt.HTF[len(mkt.HTF)-1].Close
	switch {
	case dir == models.DirectionLong && last < low:
		return false, fmt.Sprintf("HTF close %g below swing low %g", last, low)
	case dir == models.DirectionShort && last > high:
		return false, fmt.Sprintf("HTF close %g above swing high %g", last, high)
	}
	return true, fmt.Sprintf("HTF close %g inside %g-%g", last, low, high)
}

func spreadPct(c models.OptionContract) float64 {
	mid := c.Mid()
	if mid <= 0 {
		return math.Inf(1)
	}
	return (c.Ask - c.Bid) / mid
}

// selectContract keeps liquid contracts on the right side and picks the one
// nearest the money, then the deepest open interest.
func selectContract(chain []models.OptionContract, dir models.Direction, underlying float64, cfg config.StrategyConfig) *models.OptionContract {
	side := optionSide(dir)
	var cands []models.OptionContract
	for _, c := range chain {
		if !strings.EqualFold(c.Side, side) || c.Bid <= 0 || c.Ask < c.Bid {
			continue
		}
		if spreadPct(c) > cfg.MaxSpreadPct || c.OpenInterest < cfg.MinOpenInterest || c.Volume < cfg.MinOptionVolume {
			continue
		}
		cands = append(cands, c)
	}
	if len(cands) == 0 {
		return nil
	}
	sort.SliceStable(cands, func(i, j int) bool {
		di, dj := math.Abs(cands[i].Strike-underlying), math.Abs(cands[j].Strike-underlying)
		if di != dj {
			return di < dj
		}
		if cands[i].OpenInterest != cands[j].OpenInterest {
			return cands[i].OpenInterest > cands[j].OpenInterest
		}
		return cands[i].Symbol < cands[j].Symbol
	})
	c := cands[0]
	return &c
}

// zoneScore is clamp(confidence + alignment - volatility - liquidity, 0, 100).
func zoneScore(cfg config.StrategyConfig, ev models.MarketEvent, mkt *models.MarketSnapshot, dir models.Direction, conf float64, contract *models.OptionContract) float64 {
	score := conf * 100

	if n := min(len(mkt.HTF), 20); n > 0 {
		sma, last := SMA(mkt.HTF, n), mkt.HTF[len(mkt.HTF)-1].Close
		if (dir == models.DirectionLong && last >= sma) || (dir == models.DirectionShort && last <= sma) {
			score += 10
		}
	}
	if ev.Hints.OrderBlock != nil || ev.Hints.FVG != nil {
		score += 5
	}

	rets := LogReturns(mkt.Candles)
	if vol := RealizedVolatility(rets, min(len(rets), 20)); vol > 0 {
		switch {
		case cfg.VolPenaltyFull > 0 && vol >= cfg.VolPenaltyFull:
			score -= 15
		case cfg.VolPenaltyStart > 0 && vol >= cfg.VolPenaltyStart:
			score -= 5
		}
	}

	if contract == nil {
		score -= 10
	} else if cfg.MaxSpreadPct > 0 {
		score -= clamp(10*spreadPct(*contract)/cfg.MaxSpreadPct, 0, 10)
	}
	return round2(clamp(score, 0, 100))
}

// zonePlan sets underlying levels from ATR and sizes the option position by tier.
func zonePlan(cfg config.StrategyConfig, ev models.MarketEvent, dir models.Direction, price, atr float64, c *models.OptionContract, tier string) *models.TradePlan {
	s := dir.Sign()
	targets := make([]float64, 0, len(cfg.TargetATR))
	for _, k := range cfg.TargetATR {
		targets = append(targets, round2(price+s*k*atr))
	}
	qty := cfg.BaseContracts
	if tier != TierFull {
		qty = ScaleQty(qty, 0.5)
	}
	rpc := round2(c.Mid() * cfg.OptionStopPct * cfg.OptionMultiplier)
	contract := *c
	return &models.TradePlan{
		Symbol:             ev.Symbol,
		Timeframe:          ev.Timeframe,
		Direction:          dir,
		Qty:                qty,
		Entry:              round2(price),
		Stop:               round2(price - s*cfg.StopATR*atr),
		Targets:            targets,
		RiskPerContractUSD: rpc,
		EstimatedRiskUSD:   EstimatedRisk(qty, rpc),
		Tier:               tier,
		Contract:           &contract,
	}
}

func withErr(detail, errMsg string) string {
	if errMsg == "" {
		return detail
	}
	return detail + ": " + errMsg
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
