// Package engine holds the per-strategy decision pipelines. Every engine is
// a pure function of its Input: no I/O, no clock reads, no randomness.
package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/service/strategy"
)

// Input is everything a decision may depend on.
type Input struct {
	Strategy strategy.Profile
	State    models.TradingState
	Event    models.MarketEvent
	Now      time.Time
	// Setups is the strategy+symbol setup history, most recent first (swing).
	Setups []models.StrategySetupRecord
	// Market is prefetched quote/candle/chain data (zones).
	Market *models.MarketSnapshot
}

type Result struct {
	Decision models.DecisionRecord
	// Setup is set when the engine produces a watch card for the signal.
	Setup *models.StrategySetupRecord
}

// Decide dispatches to the engine bound to the input's strategy.
func Decide(in Input) Result {
	switch in.Strategy.Engine {
	case strategy.EngineTrend:
		return Result{Decision: Trend(in)}
	case strategy.EngineSwing:
		return Swing(in)
	case strategy.EngineZones:
		return Result{Decision: Zones(in)}
	}
	var g gates
	g.add("engine_known", false, "no engine %q", in.Strategy.Engine)
	return Result{Decision: finalize(in, g, nil, nil)}
}

// gates is an ordered trace. Every gate is appended even after a failure.
type gates []models.GateResult

func (g *gates) add(name string, pass bool, format string, args ...any) bool {
	*g = append(*g, models.GateResult{Gate: name, Pass: pass, Detail: fmt.Sprintf(format, args...)})
	return pass
}

func (g gates) allPass() bool {
	for _, r := range g {
		if !r.Pass {
			return false
		}
	}
	return true
}

// finalize applies the shared outcome rule: all gates pass and the strategy
// is not disabled.
func finalize(in Input, g gates, plan *models.TradePlan, score *float64) models.DecisionRecord {
	rec := models.DecisionRecord{
		StrategyID:    in.Strategy.ID,
		Event:         in.Event.Event,
		Symbol:        in.Event.Symbol,
		Timeframe:     in.Event.Timeframe,
		ExecutionMode: in.Strategy.Mode,
		Outcome:       models.OutcomeReject,
		Gates:         []models.GateResult(g),
		Plan:          plan,
		Score:         score,
		DecidedAt:     in.Now.Unix(),
	}
	switch {
	case !g.allPass():
		var parts []string
		for _, r := range g {
			if !r.Pass {
				parts = append(parts, r.Gate+": "+r.Detail)
			}
		}
		rec.Reason = strings.Join(parts, "; ")
	case in.Strategy.Mode == models.ModePaper:
		rec.Outcome = models.OutcomeExecutePaper
		rec.Reason = "approved"
	case in.Strategy.Mode == models.ModeLive:
		rec.Outcome = models.OutcomeExecuteLive
		rec.Reason = "approved"
	default:
		rec.Reason = "execution disabled"
	}
	return rec
}

// checkLevels enforces stop < entry < every target for LONG, mirrored for SHORT.
func checkLevels(dir models.Direction, entry, stop float64, targets []float64) error {
	s := dir.Sign()
	if s == 0 {
		return fmt.Errorf("no direction")
	}
	if (entry-stop)*s <= 0 {
		return fmt.Errorf("stop %g on wrong side of entry %g for %s", stop, entry, dir)
	}
	for i, t := range targets {
		if (t-entry)*s <= 0 {
			return fmt.Errorf("target[%d] %g on wrong side of entry %g for %s", i, t, entry, dir)
		}
	}
	return nil
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
