package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	"SignalGate/internal/service/normalize"
	"SignalGate/internal/service/strategy"
	applogger "SignalGate/pkg/logger"
	"SignalGate/pkg/util"
)

// IngestRequest is one raw webhook delivery.
type IngestRequest struct {
	StrategyHint string
	Secret       string
	TraceID      string
	Body         []byte
}

// IngestResponse is the acknowledgement sent back to the alert source.
type IngestResponse struct {
	OK          bool                 `json:"ok"`
	EventID     string               `json:"event_id"`
	TraceID     string               `json:"trace_id"`
	DedupeKey   string               `json:"dedupe_key,omitempty"`
	Status      models.WebhookStatus `json:"status"`
	DuplicateOf string               `json:"duplicate_of,omitempty"`
	Queued      bool                 `json:"queued"`
	JobID       string               `json:"job_id,omitempty"`
	ErrorCode   string               `json:"error_code,omitempty"`
	ErrorFields []string             `json:"error_fields,omitempty"`
	Outcome     models.Outcome       `json:"outcome,omitempty"`
	Reason      string               `json:"reason,omitempty"`
}

type IngestorConfig struct {
	Secret         string
	ApprovalWindow time.Duration
}

// Ingestor admits webhook deliveries: it validates, persists one row per
// delivery and then either queues the event or hands it to the Orchestrator.
// It never returns an error; every failure is persisted and acknowledged.
type Ingestor struct {
	registry   *strategy.Registry
	normalizer *normalize.Normalizer
	events     domrepo.EventStore
	audit      domrepo.AuditLog
	jobs       domrepo.JobQueue
	orch       *Orchestrator
	metrics    domrepo.Metrics
	log        *applogger.Logger
	cfg        IngestorConfig
	now        func() time.Time
}

func NewIngestor(
	registry *strategy.Registry,
	normalizer *normalize.Normalizer,
	events domrepo.EventStore,
	audit domrepo.AuditLog,
	jobs domrepo.JobQueue,
	orch *Orchestrator,
	metrics domrepo.Metrics,
	log *applogger.Logger,
	cfg IngestorConfig,
) *Ingestor {
	return &Ingestor{
		registry:   registry,
		normalizer: normalizer,
		events:     events,
		audit:      audit,
		jobs:       jobs,
		orch:       orch,
		metrics:    metrics,
		log:        log,
		cfg:        cfg,
		now:        time.Now,
	}
}

// WithClock swaps the receive-time source.
func (i *Ingestor) WithClock(now func() time.Time) *Ingestor {
	i.now = now
	return i
}

func (i *Ingestor) Ingest(ctx context.Context, req IngestRequest) IngestResponse {
	begin := time.Now()
	now := i.now()
	row := models.WebhookEvent{
		ID:         uuid.NewString(),
		TraceID:    util.FirstNonEmpty(req.TraceID, uuid.NewString()),
		StrategyID: req.StrategyHint,
		Payload:    forensicPayload(req.Body),
		ReceivedAt: now.Unix(),
	}
	defer func() {
		i.metrics.RecordLatency("webhook_ingest", time.Since(begin).Seconds())
	}()

	body, err := normalize.DecodeObject(req.Body)
	if err != nil {
		return i.reject(ctx, &row, models.StatusError, err)
	}
	if !i.authorized(req.Secret, body) {
		return i.reject(ctx, &row, models.StatusRejected,
			&normalize.ValidationError{Code: normalize.CodeUnauthorized, Message: "webhook secret mismatch", Fields: []string{"secret"}})
	}
	profile, err := i.registry.Resolve(req.StrategyHint, body)
	if err != nil {
		return i.reject(ctx, &row, models.StatusRejected,
			&normalize.ValidationError{Code: normalize.CodeUnknownStrategy, Message: err.Error(), Fields: []string{"strategyId"}})
	}
	row.StrategyID = profile.ID
	row.IdempotencyKey = normalize.IdempotencyKey(profile.ID, req.Body)

	ev, err := i.normalizer.Normalize(profile, req.Body, now)
	if err == nil {
		err = normalize.ValidateKnownEvent(profile, ev)
	}
	if err != nil {
		return i.reject(ctx, &row, models.StatusRejected, err)
	}
	row.Event = &ev
	row.DedupeKey = normalize.DedupeKey(ev)

	claimed, err := i.orch.Claim(ctx, row.IdempotencyKey)
	if err != nil {
		i.log.Error("idempotency claim failed", applogger.String("event_id", row.ID), applogger.Error(err))
		return i.reject(ctx, &row, models.StatusError, err)
	}
	row.Status = models.StatusAccepted
	if !claimed {
		row.Status = models.StatusDuplicate
		if prior, err := i.events.FindByIdempotencyKey(ctx, row.IdempotencyKey, row.ID); err == nil {
			row.DuplicateOf = prior.ID
		}
	} else if prior, err := i.events.FindAccepted(ctx, row.DedupeKey, row.ID); err == nil {
		row.Status = models.StatusDuplicate
		row.DuplicateOf = prior.ID
	}

	resp := i.persist(ctx, &row)
	d := Delivery{Profile: profile, Event: ev, EventID: row.ID, TraceID: row.TraceID}

	if row.Status == models.StatusDuplicate {
		dec, err := i.orch.RecordDuplicate(ctx, d, row.DuplicateOf)
		if err != nil {
			i.log.Warn("record duplicate decision", applogger.String("event_id", row.ID), applogger.Error(err))
		}
		resp.Outcome, resp.Reason = dec.Outcome, dec.Reason
		return resp
	}

	if ev.SignalType == models.SignalActionable && profile.Async() {
		job, err := i.enqueue(ctx, profile, row, now)
		if err != nil {
			i.log.Error("enqueue failed", applogger.String("event_id", row.ID), applogger.Error(err))
			i.metrics.RecordError("enqueue")
			resp.ErrorCode = normalize.CodeInternal
			return resp
		}
		resp.Queued, resp.JobID = true, job.ID
		return resp
	}

	out, err := i.orch.Process(ctx, d)
	if err != nil {
		i.log.Error("process event failed",
			applogger.String("event_id", row.ID),
			applogger.String("strategy", profile.ID),
			applogger.Error(err))
		resp.ErrorCode = normalize.CodeInternal
		return resp
	}
	resp.Outcome, resp.Reason = out.Decision.Outcome, out.Decision.Reason
	return resp
}

func (i *Ingestor) enqueue(ctx context.Context, p strategy.Profile, row models.WebhookEvent, now time.Time) (*models.Job, error) {
	payload, err := json.Marshal(models.ProcessEventPayload{
		EventID:    row.ID,
		TraceID:    row.TraceID,
		StrategyID: p.ID,
		DedupeKey:  row.DedupeKey,
	})
	if err != nil {
		return nil, err
	}
	req := models.EnqueueRequest{
		Type:        models.JobTypeProcessEvent,
		Payload:     payload,
		Priority:    p.Config.JobPriority,
		DedupeKey:   "event:" + row.IdempotencyKey,
		MaxAttempts: p.Config.JobMaxAttempts,
	}
	if p.Config.RequiredApprovals > 0 {
		req.NextRunAt = now.Add(i.cfg.ApprovalWindow)
	}
	job, err := i.jobs.Enqueue(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := i.events.SetJob(ctx, row.ID, job.ID); err != nil {
		i.log.Warn("link job to event", applogger.String("event_id", row.ID), applogger.Error(err))
	}
	return job, nil
}

func (i *Ingestor) authorized(header string, body map[string]any) bool {
	if i.cfg.Secret == "" {
		return true
	}
	given := header
	if given == "" {
		given, _ = body["passphrase"].(string)
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(i.cfg.Secret)) == 1
}

func (i *Ingestor) reject(ctx context.Context, row *models.WebhookEvent, status models.WebhookStatus, err error) IngestResponse {
	row.Status = status
	var verr *normalize.ValidationError
	if errors.As(err, &verr) {
		row.ErrorCode = verr.Code
		row.ErrorFields = verr.Fields
	} else {
		row.ErrorCode = normalize.CodeInternal
	}
	i.log.Info("webhook rejected",
		applogger.String("event_id", row.ID),
		applogger.String("strategy", row.StrategyID),
		applogger.String("code", row.ErrorCode),
		applogger.Error(err))
	resp := i.persist(ctx, row)
	resp.ErrorCode = row.ErrorCode
	resp.ErrorFields = row.ErrorFields
	return resp
}

// persist stores the row and its audit entry. Failures are logged; the
// delivery is acknowledged either way.
func (i *Ingestor) persist(ctx context.Context, row *models.WebhookEvent) IngestResponse {
	if err := i.events.Insert(ctx, *row); err != nil {
		i.metrics.RecordError("event_insert")
		i.log.Error("persist webhook event", applogger.String("event_id", row.ID), applogger.Error(err))
	}
	rec := models.AuditEventRecord{
		EventID:        row.ID,
		TraceID:        row.TraceID,
		StrategyID:     row.StrategyID,
		Status:         row.Status,
		IdempotencyKey: row.IdempotencyKey,
		DedupeKey:      row.DedupeKey,
		Payload:        row.Payload,
		ReceivedAt:     row.ReceivedAt,
	}
	if row.Event != nil {
		rec.Event, rec.Symbol, rec.Timeframe = row.Event.Event, row.Event.Symbol, row.Event.Timeframe
	}
	if err := i.audit.AppendEvent(ctx, rec); err != nil {
		i.metrics.RecordError("audit_event")
		i.log.Error("audit webhook event", applogger.String("event_id", row.ID), applogger.Error(err))
	}
	strategyLabel := row.StrategyID
	if strategyLabel == "" {
		strategyLabel = "unknown"
	}
	i.metrics.RecordWebhook(strategyLabel, string(row.Status))

	return IngestResponse{
		OK:          true,
		EventID:     row.ID,
		TraceID:     row.TraceID,
		DedupeKey:   row.DedupeKey,
		Status:      row.Status,
		DuplicateOf: row.DuplicateOf,
	}
}

// forensicPayload keeps the body verbatim when it is JSON, and as a JSON
// string otherwise so it still fits a JSON column.
func forensicPayload(raw []byte) []byte {
	if json.Valid(raw) {
		return append([]byte(nil), raw...)
	}
	b, _ := json.Marshal(string(raw))
	return b
}
