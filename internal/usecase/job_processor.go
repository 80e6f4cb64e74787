package usecase

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	"SignalGate/internal/service/strategy"
	applogger "SignalGate/pkg/logger"
	"SignalGate/pkg/queue"
)

// JobProcessor runs process_event jobs: the queued half of webhook admission.
type JobProcessor struct {
	events   domrepo.EventStore
	registry *strategy.Registry
	orch     *Orchestrator
	log      *applogger.Logger
}

func NewJobProcessor(events domrepo.EventStore, registry *strategy.Registry, orch *Orchestrator, log *applogger.Logger) *JobProcessor {
	return &JobProcessor{events: events, registry: registry, orch: orch, log: log}
}

func (p *JobProcessor) Name() string { return "process-event" }

func (p *JobProcessor) Type() string { return models.JobTypeProcessEvent }

type processResult struct {
	Outcome models.Outcome `json:"outcome"`
	Reason  string         `json:"reason"`
	SetupID string         `json:"setupId,omitempty"`
}

// Handle returns the job result on success. Any error is retried by the
// queue until the job runs out of attempts.
func (p *JobProcessor) Handle(ctx context.Context, job models.Job) ([]byte, error) {
	pl, err := queue.DecodePayload[models.ProcessEventPayload](job)
	if err != nil {
		return nil, err
	}
	row, err := p.events.Get(ctx, pl.EventID)
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", pl.EventID, err)
	}
	if row.Event == nil {
		return nil, fmt.Errorf("event %s has no normalized form", pl.EventID)
	}
	profile, ok := p.registry.Get(pl.StrategyID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", strategy.ErrUnknownStrategy, pl.StrategyID)
	}

	out, err := p.orch.Process(ctx, Delivery{
		Profile:   profile,
		Event:     *row.Event,
		EventID:   row.ID,
		TraceID:   row.TraceID,
		Queued:    true,
		Approvals: job.Approvals,
	})
	if err != nil {
		return nil, err
	}
	p.log.Debug("job processed",
		applogger.String("job_id", job.ID),
		applogger.String("event_id", row.ID),
		applogger.String("outcome", string(out.Decision.Outcome)))

	res := processResult{Outcome: out.Decision.Outcome, Reason: out.Decision.Reason}
	if out.Setup != nil {
		res.SetupID = out.Setup.ID
	}
	return json.Marshal(res)
}

var _ queue.Job = (*JobProcessor)(nil)
