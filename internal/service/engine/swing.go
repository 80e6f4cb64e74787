package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/service/normalize"
	"SignalGate/internal/service/strategy"
	"SignalGate/pkg/config"
	"SignalGate/pkg/util"
)

// Governor reason codes.
const (
	BlockLunchChop         = "BLOCK_LUNCH_CHOP"
	BlockLevelExhausted    = "BLOCK_LEVEL_EXHAUSTED"
	BlockDailyLosses       = "BLOCK_DAILY_LOSSES"
	ThrottleDailyLosses    = "THROTTLE_DAILY_LOSSES"
	BlockHighVolatility    = "BLOCK_HIGH_VOLATILITY"
	ThrottleHighVolatility = "THROTTLE_HIGH_VOLATILITY"
)

var setupNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("signalgate/setup"))

// swingSignal is the one shape both swing payload layouts are read into.
type swingSignal struct {
	Pattern    string
	Direction  models.Direction
	Entry      *float64
	Range      *models.Zone
	PriorSwing *float64
	Volatility *float64
	Confidence *float64
}

// nestedSwing is the chain-indicator layout: {"setup": {"side": ..., "trigger": ...}}.
type nestedSwing struct {
	Setup *struct {
		Side       string   `json:"side"`
		Pattern    string   `json:"pattern"`
		Trigger    *float64 `json:"trigger"`
		ORHigh     *float64 `json:"or_high"`
		ORLow      *float64 `json:"or_low"`
		Swing      *float64 `json:"swing"`
		ATRPct     *float64 `json:"atr_pct"`
		Confidence *float64 `json:"confidence"`
	} `json:"setup"`
}

func readSwingSignal(ev models.MarketEvent, st models.TradingState) swingSignal {
	sig := swingSignal{
		Pattern:    ev.Hints.Pattern,
		Direction:  ev.Direction,
		Entry:      ev.Levels.Entry,
		Range:      ev.Hints.OpeningRange,
		PriorSwing: ev.Hints.PriorSwing,
		Volatility: ev.Hints.Volatility,
		Confidence: ev.Confidence,
	}
	if sig.Entry == nil {
		sig.Entry = ev.Price
	}

	var nested nestedSwing
	if len(ev.Payload) > 0 && json.Unmarshal(ev.Payload, &nested) == nil && nested.Setup != nil {
		s := nested.Setup
		if sig.Direction == "" {
			switch strings.ToUpper(s.Side) {
			case "LONG", "BUY":
				sig.Direction = models.DirectionLong
			case "SHORT", "SELL":
				sig.Direction = models.DirectionShort
			}
		}
		if sig.Pattern == "" {
			sig.Pattern = s.Pattern
		}
		if sig.Entry == nil {
			sig.Entry = s.Trigger
		}
		if sig.Range == nil && s.ORHigh != nil && s.ORLow != nil && *s.ORHigh >= *s.ORLow {
			sig.Range = &models.Zone{High: *s.ORHigh, Low: *s.ORLow}
		}
		if sig.PriorSwing == nil {
			sig.PriorSwing = s.Swing
		}
		if sig.Volatility == nil {
			sig.Volatility = s.ATRPct
		}
		if sig.Confidence == nil && s.Confidence != nil {
			if c, err := normalize.NormalizeConfidence(*s.Confidence); err == nil {
				sig.Confidence = &c
			}
		}
	}

	if sig.Range == nil && st.OpeningRange != nil {
		r := *st.OpeningRange
		sig.Range = &r
	}
	if sig.Direction == "" {
		switch ev.Event {
		case strategy.EventFailedBreakout:
			sig.Direction = models.DirectionShort
		case strategy.EventFailedBreakdown:
			sig.Direction = models.DirectionLong
		}
	}
	return sig
}

type riskBox struct {
	Entry  float64
	Stop   float64
	TP1    float64
	TP2    float64
	R      float64
	Source string
}

// buildRiskBox places the stop beyond the opening range, else beyond the
// prior swing, else at a fixed percentage; targets sit at 1R and 2R.
func buildRiskBox(sig swingSignal, fallbackPct float64) (riskBox, error) {
	if sig.Entry == nil || *sig.Entry <= 0 {
		return riskBox{}, fmt.Errorf("no entry")
	}
	s := sig.Direction.Sign()
	if s == 0 {
		return riskBox{}, fmt.Errorf("no direction")
	}
	entry := *sig.Entry
	box := riskBox{Entry: entry}
	switch {
	case sig.Range != nil && s > 0 && sig.Range.Low < entry:
		box.Stop, box.Source = sig.Range.Low, "opening_range"
	case sig.Range != nil && s < 0 && sig.Range.High > entry:
		box.Stop, box.Source = sig.Range.High, "opening_range"
	case sig.PriorSwing != nil && (entry-*sig.PriorSwing)*s > 0:
		box.Stop, box.Source = *sig.PriorSwing, "prior_swing"
	default:
		box.Stop, box.Source = entry*(1-s*fallbackPct), "fallback_pct"
	}
	box.R = (entry - box.Stop) * s
	if box.R <= 0 {
		return riskBox{}, fmt.Errorf("degenerate risk box")
	}
	box.TP1 = entry + s*box.R
	box.TP2 = entry + s*2*box.R
	return box, nil
}

type governorResult struct {
	SizeFactor float64
	Codes      []string
}

// govern evaluates time-of-day, level, loss-streak and volatility rules.
// History is limited to STOPPED setups from the event's exchange date.
func govern(g *gates, cfg config.StrategyConfig, in Input, sig swingSignal, level float64) governorResult {
	res := governorResult{SizeFactor: 1}
	evTime := in.Event.Time()
	today := util.ExchangeDate(evTime)

	minute := util.ExchangeMinuteOfDay(evTime)
	start, end := clockMinutes(cfg.LunchStart), clockMinutes(cfg.LunchEnd)
	inLunch := start >= 0 && end > start && minute >= start && minute < end
	if inLunch {
		res.Codes = append(res.Codes, BlockLunchChop)
		g.add("governor_lunch", false, "%s %s ET in %s-%s", BlockLunchChop, clockLabel(minute), cfg.LunchStart, cfg.LunchEnd)
	} else {
		g.add("governor_lunch", true, "%s ET outside %s-%s", clockLabel(minute), cfg.LunchStart, cfg.LunchEnd)
	}

	attempts, losses := 0, 0
	for _, s := range in.Setups {
		if s.Status != models.SetupStopped || s.Date != today {
			continue
		}
		losses++
		if s.Direction == sig.Direction && s.Level == level {
			attempts++
		}
	}
	if attempts >= cfg.MaxLevelAttempts {
		res.Codes = append(res.Codes, BlockLevelExhausted)
		g.add("governor_level", false, "%s %d stopped at %g %s", BlockLevelExhausted, attempts, level, sig.Direction)
	} else {
		g.add("governor_level", true, "%d stopped at %g %s", attempts, level, sig.Direction)
	}

	switch {
	case losses >= cfg.MaxDailyLosses:
		res.Codes = append(res.Codes, BlockDailyLosses)
		g.add("governor_losses", false, "%s %d losses today", BlockDailyLosses, losses)
	case losses >= cfg.ThrottleAfterLosses:
		res.Codes = append(res.Codes, ThrottleDailyLosses)
		res.SizeFactor *= 0.5
		g.add("governor_losses", true, "%s %d losses today, half size", ThrottleDailyLosses, losses)
	default:
		g.add("governor_losses", true, "%d losses today", losses)
	}

	switch {
	case sig.Volatility == nil:
		g.add("governor_volatility", true, "no volatility proxy")
	case cfg.VolBlock > 0 && *sig.Volatility >= cfg.VolBlock:
		res.Codes = append(res.Codes, BlockHighVolatility)
		g.add("governor_volatility", false, "%s %g >= %g", BlockHighVolatility, *sig.Volatility, cfg.VolBlock)
	case cfg.VolThrottle > 0 && *sig.Volatility >= cfg.VolThrottle:
		res.Codes = append(res.Codes, ThrottleHighVolatility)
		res.SizeFactor *= 0.5
		g.add("governor_volatility", true, "%s %g >= %g, half size", ThrottleHighVolatility, *sig.Volatility, cfg.VolThrottle)
	default:
		g.add("governor_volatility", true, "%g below %g", *sig.Volatility, cfg.VolThrottle)
	}
	return res
}

// Swing evaluates pattern and failed-break signals through the governor and
// always emits a WAITING setup for a signal with a usable risk box.
func Swing(in Input) Result {
	cfg := in.Strategy.Config
	ev, st := in.Event, in.State
	sig := readSwingSignal(ev, st)
	var g gates

	actionable := ev.SignalType == models.SignalActionable && in.Strategy.Catalog.Allows(ev.Event, models.SignalActionable)
	g.add("actionable_signal", actionable, "%s %s", ev.SignalType, ev.Event)
	g.add("direction_present", sig.Direction != "", "direction %q", sig.Direction)
	g.add("entry_present", sig.Entry != nil, "entry %s", optional(sig.Entry))

	if ev.Event == strategy.EventChainPattern {
		g.add("min_confidence", true, "chain pattern exempt")
	} else {
		g.add("min_confidence", sig.Confidence != nil && *sig.Confidence >= cfg.MinConfidence,
			"confidence %s >= %g", optional(sig.Confidence), cfg.MinConfidence)
	}

	box, boxErr := buildRiskBox(sig, cfg.FallbackStopPct)
	if boxErr != nil {
		g.add("risk_box", false, "%s", boxErr.Error())
	} else {
		g.add("risk_box", true, "stop %g from %s, R %g", box.Stop, box.Source, box.R)
	}

	level := roundTo(models.FloatOr(sig.Entry, 0), cfg.LevelRounding)
	gov := govern(&g, cfg, in, sig, level)

	open := st.OpenCount()
	g.add("no_open_position", open == 0, "%d open", open)
	g.add("daily_trade_cap", st.Daily.TradeCount < cfg.MaxTradesPerDay,
		"%d of %d trades today", st.Daily.TradeCount, cfg.MaxTradesPerDay)

	var plan *models.TradePlan
	if boxErr == nil {
		rpc := RiskPerContract(box.Entry, box.Stop, cfg.PointValue)
		qty := ScaleQty(SizePosition(cfg.RiskPerTradeUSD, rpc, cfg.MaxPositionQty), gov.SizeFactor)
		plan = &models.TradePlan{
			Symbol:             ev.Symbol,
			Timeframe:          ev.Timeframe,
			Direction:          sig.Direction,
			Qty:                qty,
			Entry:              box.Entry,
			Stop:               box.Stop,
			Targets:            []float64{box.TP1, box.TP2},
			RiskPerContractUSD: rpc,
			EstimatedRiskUSD:   EstimatedRisk(qty, rpc),
		}
		g.add("daily_risk_budget", WithinBudget(st.Daily.RiskUsedUSD, plan.EstimatedRiskUSD, cfg.MaxDailyRiskUSD),
			"%g used + %g <= %g", st.Daily.RiskUsedUSD, plan.EstimatedRiskUSD, cfg.MaxDailyRiskUSD)
	} else {
		g.add("daily_risk_budget", false, "no plan")
	}

	rec := finalize(in, g, plan, nil)
	res := Result{Decision: rec}
	if !actionable || boxErr != nil {
		return res
	}

	codes := append([]string(nil), gov.Codes...)
	for _, r := range rec.Gates {
		if !r.Pass && !strings.HasPrefix(r.Gate, "governor_") {
			codes = append(codes, strings.ToUpper(r.Gate))
		}
	}
	res.Setup = &models.StrategySetupRecord{
		ID:          SetupID(ev, sig.Direction),
		StrategyID:  ev.StrategyID,
		Symbol:      ev.Symbol,
		Timeframe:   ev.Timeframe,
		EventType:   ev.Event,
		Direction:   sig.Direction,
		Status:      models.SetupWaiting,
		Entry:       box.Entry,
		Stop:        box.Stop,
		TP1:         box.TP1,
		TP2:         box.TP2,
		Level:       level,
		SizeFactor:  gov.SizeFactor,
		ReasonCodes: codes,
		Gates:       rec.Gates,
		Date:        util.ExchangeDate(ev.Time()),
		CreatedAt:   in.Now.Unix(),
		UpdatedAt:   in.Now.Unix(),
	}
	return res
}

// SetupID is a name-based UUID, so replays of one signal map to one setup.
func SetupID(ev models.MarketEvent, dir models.Direction) string {
	name := strings.Join([]string{ev.StrategyID, ev.Symbol, ev.Timeframe, ev.Event, string(dir),
		strconv.FormatInt(ev.Timestamp, 10)}, "|")
	return uuid.NewSHA1(setupNamespace, []byte(name)).String()
}

func clockMinutes(s string) int {
	h, m, err := config.ParseClock(s)
	if err != nil {
		return -1
	}
	return h*60 + m
}

func clockLabel(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
