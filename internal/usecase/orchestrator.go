package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	"SignalGate/internal/middleware"
	"SignalGate/internal/service/engine"
	"SignalGate/internal/service/execution"
	"SignalGate/internal/service/marketdata"
	"SignalGate/internal/service/strategy"
	applogger "SignalGate/pkg/logger"
	"SignalGate/pkg/util"
)

// ReasonStateOnly is the reason recorded for INFO events.
const ReasonStateOnly = "STATE_UPDATED_ONLY"

type OrchestratorConfig struct {
	IdempotencyTTL time.Duration
	StateTTL       time.Duration
	NotesCap       int
	SetupHistory   int
	MarketTimeout  time.Duration
}

// OrchestratorDeps are the collaborators of an Orchestrator. MarketData may
// be nil when no provider is configured; zone decisions then fail closed.
type OrchestratorDeps struct {
	Idempotency domrepo.IdempotencyStore
	States      domrepo.StateStore
	Index       domrepo.StateIndex
	Audit       domrepo.AuditLog
	Setups      domrepo.SetupStore
	Publisher   domrepo.DecisionPublisher
	MarketData  domrepo.MarketData
	Router      *execution.Router
	Locker      *middleware.KeyedLocker
	Metrics     domrepo.Metrics
	Log         *applogger.Logger
}

// Orchestrator runs one admitted event through state, engines and router,
// and records the resulting decision.
type Orchestrator struct {
	OrchestratorDeps
	cfg OrchestratorConfig
	now func() time.Time
}

func NewOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig) *Orchestrator {
	if cfg.NotesCap <= 0 {
		cfg.NotesCap = 20
	}
	if cfg.SetupHistory <= 0 {
		cfg.SetupHistory = 50
	}
	return &Orchestrator{OrchestratorDeps: deps, cfg: cfg, now: time.Now}
}

// WithClock swaps the time source used for decisions and rollover.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Delivery is one admitted event. Approvals only count for queued deliveries.
type Delivery struct {
	Profile   strategy.Profile
	Event     models.MarketEvent
	EventID   string
	TraceID   string
	Queued    bool
	Approvals int
}

type Outcome struct {
	Decision models.DecisionRecord
	Setup    *models.StrategySetupRecord
	State    models.TradingState
}

// Claim takes the idempotency key for a delivery. False means another
// delivery of the same body already holds it.
func (o *Orchestrator) Claim(ctx context.Context, key string) (bool, error) {
	return o.Idempotency.Claim(ctx, key, o.cfg.IdempotencyTTL)
}

// RecordDuplicate records the fixed rejection of a duplicate delivery.
func (o *Orchestrator) RecordDuplicate(ctx context.Context, d Delivery, duplicateOf string) (models.DecisionRecord, error) {
	detail := "payload already processed"
	if duplicateOf != "" {
		detail = "duplicate of " + duplicateOf
	}
	dec := baseDecision(d, o.now())
	dec.Gates = []models.GateResult{{Gate: "idempotency", Pass: false, Detail: detail}}
	dec.Reason = "duplicate"
	return dec, o.record(ctx, d, dec)
}

// Process loads state, decides, executes and records. State read-modify-write
// for one key is serialized inside this process.
func (o *Orchestrator) Process(ctx context.Context, d Delivery) (*Outcome, error) {
	begin := time.Now()
	var out *Outcome
	err := o.Locker.Do(ctx, d.Event.StateKey(), func(ctx context.Context) error {
		var err error
		out, err = o.process(ctx, d)
		return err
	})
	o.Metrics.RecordLatency("orchestrator_process", time.Since(begin).Seconds())
	if err != nil {
		o.Metrics.RecordError("orchestrator_process")
		return nil, err
	}
	if err := o.record(ctx, d, out.Decision); err != nil {
		return out, err
	}
	return out, nil
}

func (o *Orchestrator) process(ctx context.Context, d Delivery) (*Outcome, error) {
	ev := d.Event
	now := o.now()
	key := ev.StateKey()

	cur, err := o.States.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	dirty := cur == nil
	var st models.TradingState
	if cur == nil {
		st = models.NewTradingState(d.Profile.ID, ev.Symbol, ev.Timeframe, util.ExchangeDate(now))
	} else {
		st = *cur
	}
	if st.Rollover(util.ExchangeDate(now)) {
		dirty = true
	}

	var res engine.Result
	if ev.SignalType == models.SignalInfo {
		var changed bool
		res, changed, err = o.applyInfo(ctx, d, &st, now)
		if err != nil {
			return nil, err
		}
		dirty = dirty || changed
	} else {
		res, err = o.decide(ctx, d, st, now)
		if err != nil {
			return nil, err
		}
		if res.Decision.Approved() {
			after, rerr := o.Router.Route(st, res.Decision)
			if rerr != nil {
				o.Log.Warn("execution failed, decision downgraded",
					applogger.String("event_id", d.EventID),
					applogger.String("strategy", d.Profile.ID),
					applogger.Error(rerr))
				res.Decision.Downgrade("execution_router", rerr.Error())
			} else {
				st = after
				dirty = true
				if res.Setup != nil && res.Decision.Outcome == models.OutcomeExecutePaper {
					res.Setup.Status = models.SetupActive
				}
			}
		}
		fields := []applogger.Field{
			applogger.String("event_id", d.EventID),
			applogger.String("strategy", d.Profile.ID),
			applogger.String("outcome", string(res.Decision.Outcome)),
			applogger.Bool("queued", d.Queued),
		}
		if res.Decision.Score != nil {
			fields = append(fields, applogger.Float64("score", *res.Decision.Score))
		}
		o.Log.Debug("decision made", fields...)
	}

	if res.Setup != nil {
		if err := o.Setups.Save(ctx, *res.Setup); err != nil {
			return nil, fmt.Errorf("save setup: %w", err)
		}
	}
	if dirty {
		st.UpdatedAt = now.Unix()
		if err := o.States.Set(ctx, key, st, o.cfg.StateTTL); err != nil {
			return nil, fmt.Errorf("save state: %w", err)
		}
		if err := o.Index.Touch(ctx, key, now); err != nil {
			o.Log.Warn("state index touch failed", applogger.String("key", key), applogger.Error(err))
		}
	}
	return &Outcome{Decision: res.Decision, Setup: res.Setup, State: st}, nil
}

func (o *Orchestrator) decide(ctx context.Context, d Delivery, st models.TradingState, now time.Time) (engine.Result, error) {
	in := engine.Input{Strategy: d.Profile, State: st, Event: d.Event, Now: now}
	switch d.Profile.Engine {
	case strategy.EngineSwing:
		hist, err := o.Setups.List(ctx, d.Profile.ID, d.Event.Symbol, o.cfg.SetupHistory)
		if err != nil {
			return engine.Result{}, fmt.Errorf("load setup history: %w", err)
		}
		in.Setups = hist
	case strategy.EngineZones:
		if o.MarketData == nil {
			in.Market = &models.MarketSnapshot{
				QuoteErr:   marketdata.ErrNotConfigured.Error(),
				CandlesErr: marketdata.ErrNotConfigured.Error(),
				HTFErr:     marketdata.ErrNotConfigured.Error(),
				ChainErr:   marketdata.ErrNotConfigured.Error(),
			}
			break
		}
		in.Market = marketdata.Snapshot(ctx, o.MarketData, engine.ZoneRequests(d.Profile.Config, d.Event), o.cfg.MarketTimeout)
	}

	res := engine.Decide(in)
	if need := d.Profile.Config.RequiredApprovals; d.Queued && need > 0 && res.Decision.Approved() {
		detail := fmt.Sprintf("%d of %d approvals", d.Approvals, need)
		if d.Approvals < need {
			res.Decision.Downgrade("approvals", detail)
		} else {
			res.Decision.Gates = append(res.Decision.Gates, models.GateResult{Gate: "approvals", Pass: true, Detail: detail})
		}
	}
	return res, nil
}

// applyInfo updates st from an INFO event. The state is only changed when
// the update applies cleanly.
func (o *Orchestrator) applyInfo(ctx context.Context, d Delivery, st *models.TradingState, now time.Time) (engine.Result, bool, error) {
	dec := baseDecision(d, now)
	next := st.Clone()
	change, err := applyInfo(&next, d.Event)
	if err != nil {
		dec.Gates = []models.GateResult{{Gate: "info_event", Pass: false, Detail: err.Error()}}
		dec.Reason = "info_event: " + err.Error()
		return engine.Result{Decision: dec}, false, nil
	}
	dec.Gates = []models.GateResult{{Gate: "info_event", Pass: true, Detail: d.Event.Event}}
	dec.Reason = ReasonStateOnly
	if change.note != "" {
		next.AddNote(d.Event.Event+": "+change.note, o.cfg.NotesCap)
	}
	*st = next

	var res engine.Result
	if change.setupStatus != "" {
		setup, err := o.findSetup(ctx, d)
		switch {
		case errors.Is(err, domrepo.ErrNotFound):
			dec.Gates = append(dec.Gates, models.GateResult{Gate: "setup_updated", Pass: false, Detail: "no open setup"})
		case err != nil:
			return engine.Result{}, false, fmt.Errorf("find setup: %w", err)
		default:
			setup.Status = change.setupStatus
			setup.UpdatedAt = now.Unix()
			res.Setup = setup
			dec.Gates = append(dec.Gates, models.GateResult{Gate: "setup_updated", Pass: true, Detail: setup.ID + " " + string(change.setupStatus)})
		}
	}
	res.Decision = dec
	return res, true, nil
}

// findSetup resolves the setup a SETUP_STATUS event refers to: by id when
// given, else the most recent non-terminal one.
func (o *Orchestrator) findSetup(ctx context.Context, d Delivery) (*models.StrategySetupRecord, error) {
	if id := d.Event.Hints.SetupID; id != "" {
		return o.Setups.Get(ctx, id)
	}
	list, err := o.Setups.List(ctx, d.Profile.ID, d.Event.Symbol, o.cfg.SetupHistory)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if !list[i].Status.Terminal() {
			return &list[i], nil
		}
	}
	return nil, domrepo.ErrNotFound
}

func (o *Orchestrator) record(ctx context.Context, d Delivery, dec models.DecisionRecord) error {
	rec := models.AuditDecisionRecord{
		EventID:    d.EventID,
		TraceID:    d.TraceID,
		Decision:   dec,
		RecordedAt: o.now().Unix(),
	}
	o.Metrics.RecordDecision(dec.StrategyID, string(dec.Outcome))
	if err := o.Publisher.PublishDecision(ctx, rec); err != nil {
		o.Metrics.RecordError("publish_decision")
		o.Log.Warn("publish decision failed", applogger.String("event_id", d.EventID), applogger.Error(err))
	}
	if err := o.Audit.AppendDecision(ctx, rec); err != nil {
		return fmt.Errorf("audit decision: %w", err)
	}
	return nil
}

func baseDecision(d Delivery, now time.Time) models.DecisionRecord {
	return models.DecisionRecord{
		StrategyID:    d.Profile.ID,
		Event:         d.Event.Event,
		Symbol:        d.Event.Symbol,
		Timeframe:     d.Event.Timeframe,
		ExecutionMode: d.Profile.Mode,
		Outcome:       models.OutcomeReject,
		DecidedAt:     now.Unix(),
	}
}
