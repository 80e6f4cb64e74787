package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
)

// PgEventStore persists one webhook_events row per delivery. The raw body is
// stored as TEXT so bodies that are not valid JSON survive verbatim.
type PgEventStore struct {
	pool *pgxpool.Pool
}

func NewPgEventStore(pool *pgxpool.Pool) *PgEventStore {
	return &PgEventStore{pool: pool}
}

const eventColumns = `id, trace_id, strategy_id, status, error_code, error_fields, idempotency_key, dedupe_key,
    duplicate_of, job_id, payload, event, received_at`

const (
	eventInsertSQL = `
INSERT INTO webhook_events (id, trace_id, strategy_id, status, error_code, error_fields, idempotency_key,
    dedupe_key, duplicate_of, job_id, payload, event, received_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6::jsonb, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12::jsonb, $13);`

	eventByIDSQL = `SELECT ` + eventColumns + ` FROM webhook_events WHERE id = $1;`

	eventSetJobSQL = `UPDATE webhook_events SET job_id = $2 WHERE id = $1;`

	eventFindAcceptedSQL = `
SELECT ` + eventColumns + `
FROM webhook_events
WHERE dedupe_key = $1 AND status = 'ACCEPTED' AND ($2::uuid IS NULL OR id <> $2)
ORDER BY received_at ASC
LIMIT 1;`

	eventFindIdemSQL = `
SELECT ` + eventColumns + `
FROM webhook_events
WHERE idempotency_key = $1 AND status <> 'DUPLICATE' AND ($2::uuid IS NULL OR id <> $2)
ORDER BY received_at ASC
LIMIT 1;`
)

func (s *PgEventStore) ensurePool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("event store: nil pool")
	}
	return s.pool, nil
}

func optionalUUID(id string) pgtype.UUID {
	u, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: u, Valid: true}
}

func uuidString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return uuid.UUID(u.Bytes).String()
}

func (s *PgEventStore) Insert(ctx context.Context, ev models.WebhookEvent) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	id, err := uuid.Parse(ev.ID)
	if err != nil {
		return fmt.Errorf("event store: insert: bad id %q: %w", ev.ID, err)
	}

	var fields, normalized any
	if len(ev.ErrorFields) > 0 {
		b, err := json.Marshal(ev.ErrorFields)
		if err != nil {
			return fmt.Errorf("event store: encode fields: %w", err)
		}
		fields = string(b)
	}
	if ev.Event != nil {
		b, err := json.Marshal(ev.Event)
		if err != nil {
			return fmt.Errorf("event store: encode event: %w", err)
		}
		normalized = string(b)
	}

	_, err = pool.Exec(ctx, eventInsertSQL,
		id, ev.TraceID, ev.StrategyID, string(ev.Status), ev.ErrorCode, fields, ev.IdempotencyKey,
		ev.DedupeKey, optionalUUID(ev.DuplicateOf), optionalUUID(ev.JobID), string(ev.Payload), normalized,
		time.Unix(ev.ReceivedAt, 0).UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrConflict
		}
		return fmt.Errorf("event store: insert: %w", err)
	}
	return nil
}

func scanEvent(row rowScanner) (models.WebhookEvent, error) {
	var (
		ev          models.WebhookEvent
		id          pgtype.UUID
		status      string
		errorCode   pgtype.Text
		fields      []byte
		idemKey     pgtype.Text
		dedupeKey   pgtype.Text
		duplicateOf pgtype.UUID
		jobID       pgtype.UUID
		payload     string
		normalized  []byte
		receivedAt  time.Time
	)
	if err := row.Scan(&id, &ev.TraceID, &ev.StrategyID, &status, &errorCode, &fields, &idemKey, &dedupeKey,
		&duplicateOf, &jobID, &payload, &normalized, &receivedAt); err != nil {
		return models.WebhookEvent{}, err
	}
	ev.ID = uuidString(id)
	ev.Status = models.WebhookStatus(status)
	ev.ErrorCode = errorCode.String
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &ev.ErrorFields); err != nil {
			return models.WebhookEvent{}, fmt.Errorf("decode error fields: %w", err)
		}
	}
	ev.IdempotencyKey = idemKey.String
	ev.DedupeKey = dedupeKey.String
	ev.DuplicateOf = uuidString(duplicateOf)
	ev.JobID = uuidString(jobID)
	ev.Payload = []byte(payload)
	if len(normalized) > 0 {
		var me models.MarketEvent
		if err := json.Unmarshal(normalized, &me); err != nil {
			return models.WebhookEvent{}, fmt.Errorf("decode event: %w", err)
		}
		ev.Event = &me
	}
	ev.ReceivedAt = receivedAt.Unix()
	return ev, nil
}

func (s *PgEventStore) queryOne(ctx context.Context, sql string, args ...any) (*models.WebhookEvent, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	ev, err := scanEvent(pool.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("event store: query: %w", err)
	}
	return &ev, nil
}

func (s *PgEventStore) Get(ctx context.Context, id string) (*models.WebhookEvent, error) {
	u := optionalUUID(id)
	if !u.Valid {
		return nil, repository.ErrNotFound
	}
	return s.queryOne(ctx, eventByIDSQL, u)
}

func (s *PgEventStore) SetJob(ctx context.Context, id, jobID string) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, eventSetJobSQL, optionalUUID(id), optionalUUID(jobID))
	if err != nil {
		return fmt.Errorf("event store: set job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *PgEventStore) FindAccepted(ctx context.Context, dedupeKey, excludeID string) (*models.WebhookEvent, error) {
	if dedupeKey == "" {
		return nil, repository.ErrNotFound
	}
	return s.queryOne(ctx, eventFindAcceptedSQL, dedupeKey, optionalUUID(excludeID))
}

func (s *PgEventStore) FindByIdempotencyKey(ctx context.Context, key, excludeID string) (*models.WebhookEvent, error) {
	if key == "" {
		return nil, repository.ErrNotFound
	}
	return s.queryOne(ctx, eventFindIdemSQL, key, optionalUUID(excludeID))
}

var _ repository.EventStore = (*PgEventStore)(nil)
