package engine

import (
	"strings"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/service/strategy"
)

// Trend gates a TRADE_SIGNAL against ribbon bias, cooldown, session,
// signal quality, exposure and the daily risk budget.
func Trend(in Input) models.DecisionRecord {
	cfg := in.Strategy.Config
	ev, st := in.Event, in.State
	var g gates

	g.add("actionable_signal", ev.SignalType == models.SignalActionable && ev.Event == strategy.EventTradeSignal,
		"%s %s", ev.SignalType, ev.Event)

	hasDir := ev.Direction != ""
	g.add("direction_present", hasDir, "direction %q", ev.Direction)

	g.add("bias_aligned", hasDir && st.Bias != models.BiasNeutral && string(st.Bias) == string(ev.Direction),
		"bias %s vs signal %s", st.Bias, ev.Direction)

	cooldownGate(&g, st, ev.Event, in.Now.Unix(), int64(cfg.Cooldown.Seconds()))

	session := ev.Hints.Session
	if session == "" {
		session = st.Session
	}
	g.add("session_allowed", sessionAllowed(cfg.AllowedSessions, session),
		"session %q allowed %v", session, cfg.AllowedSessions)

	conf := models.FloatOr(ev.Confidence, -1)
	g.add("min_confidence", ev.Confidence != nil && conf >= cfg.MinConfidence,
		"confidence %s >= %g", optional(ev.Confidence), cfg.MinConfidence)

	confl := models.FloatOr(ev.Confluence, -1)
	g.add("min_confluence", ev.Confluence != nil && confl >= cfg.MinConfluence,
		"confluence %s >= %g", optional(ev.Confluence), cfg.MinConfluence)

	open := st.OpenCount()
	g.add("no_open_position", open == 0, "%d open", open)

	g.add("daily_trade_cap", st.Daily.TradeCount < cfg.MaxTradesPerDay,
		"%d of %d trades today", st.Daily.TradeCount, cfg.MaxTradesPerDay)

	present := ev.Levels.Entry != nil && ev.Levels.Stop != nil && len(ev.Levels.Targets) > 0
	g.add("levels_present", present, "entry %s stop %s targets %d",
		optional(ev.Levels.Entry), optional(ev.Levels.Stop), len(ev.Levels.Targets))

	var plan *models.TradePlan
	var levelsErr error
	entry, stop := models.FloatOr(ev.Levels.Entry, 0), models.FloatOr(ev.Levels.Stop, 0)
	if present {
		levelsErr = checkLevels(ev.Direction, entry, stop, ev.Levels.Targets)
	}
	g.add("levels_valid", present && levelsErr == nil, "%s", errDetail(levelsErr, present))

	rpc := 0.0
	if present && levelsErr == nil {
		rpc = RiskPerContract(entry, stop, cfg.PointValue)
	}
	g.add("risk_per_contract", rpc > 0, "%g USD per contract", rpc)

	if rpc > 0 {
		qty := SizePosition(cfg.RiskPerTradeUSD, rpc, cfg.MaxPositionQty)
		plan = &models.TradePlan{
			Symbol:             ev.Symbol,
			Timeframe:          ev.Timeframe,
			Direction:          ev.Direction,
			Qty:                qty,
			Entry:              entry,
			Stop:               stop,
			Targets:            append([]float64(nil), ev.Levels.Targets...),
			RiskPerContractUSD: rpc,
			EstimatedRiskUSD:   EstimatedRisk(qty, rpc),
		}
	}

	est := 0.0
	if plan != nil {
		est = plan.EstimatedRiskUSD
	}
	g.add("daily_risk_budget", plan != nil && WithinBudget(st.Daily.RiskUsedUSD, est, cfg.MaxDailyRiskUSD),
		"%g used + %g <= %g", st.Daily.RiskUsedUSD, est, cfg.MaxDailyRiskUSD)

	return finalize(in, g, plan, nil)
}

func cooldownGate(g *gates, st models.TradingState, event string, now, cooldown int64) {
	last, ok := st.Cooldowns[event]
	if !ok || last == 0 {
		g.add("cooldown", true, "no prior %s", event)
		return
	}
	elapsed := now - last
	g.add("cooldown", elapsed >= cooldown, "%ds since last %s, need %ds", elapsed, event, cooldown)
}

func sessionAllowed(allowed []string, session string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if session != "" && strings.EqualFold(a, session) {
			return true
		}
	}
	return false
}

func optional(p *float64) string {
	if p == nil {
		return "none"
	}
	return trimFloat(*p)
}

func errDetail(err error, present bool) string {
	switch {
	case !present:
		return "levels missing"
	case err != nil:
		return err.Error()
	}
	return "ok"
}
