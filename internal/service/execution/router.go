package execution

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/service/engine"
	"SignalGate/pkg/cache"
)

var (
	ErrLiveDisabled = errors.New("live execution disabled")
	// ErrBrokerUnavailable is returned for live orders even when enabled:
	// no broker adapter ships with this service.
	ErrBrokerUnavailable = errors.New("live broker not configured")
	ErrNoPlan            = errors.New("approved decision has no trade plan")
)

type Config struct {
	LiveEnabled bool
	NotesCap    int
}

// Router applies an approved decision to tracked state.
type Router struct {
	cfg Config
}

func NewRouter(cfg Config) *Router {
	if cfg.NotesCap <= 0 {
		cfg.NotesCap = 20
	}
	return &Router{cfg: cfg}
}

// Route returns the state after executing d. The input state is never
// mutated; on error the caller must keep its original state.
func (r *Router) Route(st models.TradingState, d models.DecisionRecord) (models.TradingState, error) {
	switch d.Outcome {
	case models.OutcomeReject:
		return st, nil
	case models.OutcomeExecuteLive:
		if !r.cfg.LiveEnabled {
			return st, ErrLiveDisabled
		}
		return st, ErrBrokerUnavailable
	case models.OutcomeExecutePaper:
		return r.paper(st, d)
	}
	return st, fmt.Errorf("unknown outcome %q", d.Outcome)
}

func (r *Router) paper(st models.TradingState, d models.DecisionRecord) (models.TradingState, error) {
	if d.Plan == nil || d.Plan.Qty <= 0 {
		return st, ErrNoPlan
	}
	plan := *d.Plan
	out := st.Clone()

	pos := models.Position{
		ID:         PositionID(d.StrategyID, plan, d.DecidedAt),
		StrategyID: d.StrategyID,
		Symbol:     plan.Symbol,
		Timeframe:  plan.Timeframe,
		Direction:  plan.Direction,
		Qty:        plan.Qty,
		Entry:      plan.Entry,
		Stop:       plan.Stop,
		Targets:    append([]float64(nil), plan.Targets...),
		RiskUSD:    plan.EstimatedRiskUSD,
		Event:      d.Event,
		Mode:       string(models.ModePaper),
		Status:     models.PositionOpen,
		OpenedAt:   d.DecidedAt,
	}
	out.OpenPositions = append([]models.Position{pos}, out.OpenPositions...)
	out.Daily.TradeCount++
	out.Daily.RiskUsedUSD = engine.AddUSD(out.Daily.RiskUsedUSD, plan.EstimatedRiskUSD)
	out.Cooldowns[d.Event] = d.DecidedAt
	out.UpdatedAt = d.DecidedAt
	out.AddNote(fmt.Sprintf("PAPER %s %d %s @ %g stop %g risk %g USD [%s]",
		plan.Direction, plan.Qty, plan.Symbol, plan.Entry, plan.Stop, plan.EstimatedRiskUSD, pos.ID[:12]), r.cfg.NotesCap)
	return out, nil
}

// PositionID hashes strategy, plan and decision time so a replayed decision
// yields the same position id.
func PositionID(strategyID string, plan models.TradePlan, decidedAt int64) string {
	b, _ := json.Marshal(plan)
	return cache.HashKey(strategyID, string(b), strconv.FormatInt(decidedAt, 10))
}
