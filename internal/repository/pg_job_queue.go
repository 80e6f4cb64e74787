package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
)

// PgJobQueue is the Postgres JobQueue. Claim relies on FOR UPDATE SKIP LOCKED
// so concurrent workers never block on, or double-claim, the same row.
type PgJobQueue struct {
	pool       *pgxpool.Pool
	staleAfter time.Duration
}

func NewPgJobQueue(pool *pgxpool.Pool, staleAfter time.Duration) *PgJobQueue {
	return &PgJobQueue{pool: pool, staleAfter: staleAfter}
}

const jobColumns = `id, type, payload, status, priority, dedupe_key, attempts, max_attempts, approvals,
    next_run_at, locked_at, locked_by, result, error, created_at, updated_at`

const (
	jobInsertSQL = `
INSERT INTO jobs (id, type, payload, status, priority, dedupe_key, max_attempts, next_run_at)
VALUES ($1, $2, COALESCE($3::jsonb, '{}'::jsonb), 'PENDING', $4, NULLIF($5, ''), $6, $7)
ON CONFLICT (dedupe_key) DO NOTHING
RETURNING ` + jobColumns + `;`

	jobByDedupeSQL = `SELECT ` + jobColumns + ` FROM jobs WHERE dedupe_key = $1;`

	jobByIDSQL = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`

	jobSucceedSQL = `
UPDATE jobs
SET status = 'SUCCEEDED',
    result = $2::jsonb,
    error = NULL,
    locked_at = NULL,
    locked_by = NULL,
    updated_at = NOW()
WHERE id = $1 AND status = 'RUNNING' AND locked_by = $3;`

	jobRequeueSQL = `
UPDATE jobs
SET status = 'PENDING',
    attempts = $3,
    error = $2,
    next_run_at = NOW() + make_interval(secs => $4),
    locked_at = NULL,
    locked_by = NULL,
    updated_at = NOW()
WHERE id = $1 AND status = 'RUNNING' AND locked_by = $5;`

	jobFailSQL = `
UPDATE jobs
SET status = 'FAILED',
    attempts = $3,
    error = $2,
    locked_at = NULL,
    locked_by = NULL,
    updated_at = NOW()
WHERE id = $1 AND status = 'RUNNING' AND locked_by = $4;`

	jobRetrySQL = `
UPDATE jobs
SET status = 'PENDING', attempts = 0, error = NULL, next_run_at = NOW(), updated_at = NOW()
WHERE id = $1 AND status IN ('FAILED', 'CANCELLED')
RETURNING ` + jobColumns + `;`

	jobCancelSQL = `
UPDATE jobs
SET status = 'CANCELLED', updated_at = NOW()
WHERE id = $1 AND status = 'PENDING'
RETURNING ` + jobColumns + `;`

	jobApproveSQL = `
UPDATE jobs
SET approvals = approvals + 1, updated_at = NOW()
WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
RETURNING ` + jobColumns + `;`
)

var jobClaimSQL = `
WITH picked AS (
    SELECT id
    FROM jobs
    WHERE (status = 'PENDING'
           AND next_run_at <= NOW()
           AND (locked_at IS NULL OR locked_at < NOW() - make_interval(secs => $3)))
       OR (status = 'RUNNING' AND locked_at < NOW() - make_interval(secs => $3))
    ORDER BY priority DESC, created_at ASC
    LIMIT $1
    FOR UPDATE SKIP LOCKED
)
UPDATE jobs j
SET status = 'RUNNING',
    locked_at = NOW(),
    locked_by = $2,
    updated_at = NOW()
FROM picked
WHERE j.id = picked.id
RETURNING ` + prefixed("j.", jobColumns) + `;`

func prefixed(prefix, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (models.Job, error) {
	var (
		j         models.Job
		id        pgtype.UUID
		status    string
		dedupe    pgtype.Text
		payload   []byte
		lockedAt  pgtype.Timestamptz
		lockedBy  pgtype.Text
		result    []byte
		errText   pgtype.Text
		nextRunAt time.Time
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&id, &j.Type, &payload, &status, &j.Priority, &dedupe, &j.Attempts, &j.MaxAttempts, &j.Approvals,
		&nextRunAt, &lockedAt, &lockedBy, &result, &errText, &createdAt, &updatedAt); err != nil {
		return models.Job{}, err
	}
	j.ID = uuid.UUID(id.Bytes).String()
	j.Status = models.JobStatus(status)
	j.Payload = json.RawMessage(payload)
	j.DedupeKey = dedupe.String
	j.NextRunAt = nextRunAt.UTC()
	if lockedAt.Valid {
		t := lockedAt.Time.UTC()
		j.LockedAt = &t
	}
	j.LockedBy = lockedBy.String
	if len(result) > 0 {
		j.Result = json.RawMessage(result)
	}
	j.Error = errText.String
	j.CreatedAt = createdAt.UTC()
	j.UpdatedAt = updatedAt.UTC()
	return j, nil
}

func (q *PgJobQueue) ensurePool() (*pgxpool.Pool, error) {
	if q == nil || q.pool == nil {
		return nil, fmt.Errorf("job queue: nil pool")
	}
	return q.pool, nil
}

func parseJobID(id string) (uuid.UUID, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, repository.ErrNotFound
	}
	return u, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (q *PgJobQueue) Enqueue(ctx context.Context, req models.EnqueueRequest) (*models.Job, error) {
	pool, err := q.ensurePool()
	if err != nil {
		return nil, err
	}
	next := req.NextRunAt
	if next.IsZero() {
		next = time.Now()
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	job, err := scanJob(pool.QueryRow(ctx, jobInsertSQL,
		uuid.New(), req.Type, nullableJSON(req.Payload), req.Priority, req.DedupeKey, maxAttempts, next))
	if errors.Is(err, pgx.ErrNoRows) && req.DedupeKey != "" {
		// dedupe key collided: enqueue is idempotent, hand back the existing row
		job, err = scanJob(pool.QueryRow(ctx, jobByDedupeSQL, req.DedupeKey))
	}
	if err != nil {
		return nil, fmt.Errorf("job queue: enqueue: %w", err)
	}
	return &job, nil
}

func (q *PgJobQueue) Claim(ctx context.Context, limit int, workerID string) ([]models.Job, error) {
	pool, err := q.ensurePool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := pool.Query(ctx, jobClaimSQL, limit, workerID, q.staleAfter.Seconds())
	if err != nil {
		return nil, fmt.Errorf("job queue: claim: %w", err)
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("job queue: claim scan: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job queue: claim rows: %w", err)
	}
	// UPDATE ... RETURNING does not preserve the CTE order
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Priority != out[b].Priority {
			return out[a].Priority > out[b].Priority
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out, nil
}

func (q *PgJobQueue) Succeed(ctx context.Context, jobID, workerID string, result json.RawMessage) error {
	pool, err := q.ensurePool()
	if err != nil {
		return err
	}
	id, err := parseJobID(jobID)
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, jobSucceedSQL, id, nullableJSON(result), workerID)
	if err != nil {
		return fmt.Errorf("job queue: succeed %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job queue: succeed %s: %w", jobID, repository.ErrLockLost)
	}
	return nil
}

func (q *PgJobQueue) Fail(ctx context.Context, jobID, workerID, errMsg string, attempts, maxAttempts int) error {
	pool, err := q.ensurePool()
	if err != nil {
		return err
	}
	id, err := parseJobID(jobID)
	if err != nil {
		return err
	}
	var tag pgconn.CommandTag
	if attempts+1 < maxAttempts {
		tag, err = pool.Exec(ctx, jobRequeueSQL, id, errMsg, attempts+1, models.RetryDelay(attempts).Seconds(), workerID)
	} else {
		tag, err = pool.Exec(ctx, jobFailSQL, id, errMsg, attempts+1, workerID)
	}
	if err != nil {
		return fmt.Errorf("job queue: fail %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job queue: fail %s: %w", jobID, repository.ErrLockLost)
	}
	return nil
}

func (q *PgJobQueue) Get(ctx context.Context, jobID string) (*models.Job, error) {
	pool, err := q.ensurePool()
	if err != nil {
		return nil, err
	}
	id, err := parseJobID(jobID)
	if err != nil {
		return nil, err
	}
	j, err := scanJob(pool.QueryRow(ctx, jobByIDSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("job queue: get %s: %w", jobID, err)
	}
	return &j, nil
}

func (q *PgJobQueue) List(ctx context.Context, filter models.JobFilter) ([]models.Job, error) {
	pool, err := q.ensurePool()
	if err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	sql := `SELECT ` + jobColumns + ` FROM jobs
WHERE ($1 = '' OR status = $1) AND ($2 = '' OR type = $2)
ORDER BY created_at DESC
LIMIT $3;`
	rows, err := pool.Query(ctx, sql, string(filter.Status), filter.Type, limit)
	if err != nil {
		return nil, fmt.Errorf("job queue: list: %w", err)
	}
	defer rows.Close()

	out := make([]models.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("job queue: list scan: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (q *PgJobQueue) transition(ctx context.Context, sql, op, jobID string) (*models.Job, error) {
	pool, err := q.ensurePool()
	if err != nil {
		return nil, err
	}
	id, err := parseJobID(jobID)
	if err != nil {
		return nil, err
	}
	j, err := scanJob(pool.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := q.Get(ctx, jobID); gerr != nil {
			return nil, gerr
		}
		return nil, fmt.Errorf("%s job %s: %w", op, jobID, repository.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("job queue: %s %s: %w", op, jobID, err)
	}
	return &j, nil
}

func (q *PgJobQueue) Retry(ctx context.Context, jobID string) (*models.Job, error) {
	return q.transition(ctx, jobRetrySQL, "retry", jobID)
}

func (q *PgJobQueue) Cancel(ctx context.Context, jobID string) (*models.Job, error) {
	return q.transition(ctx, jobCancelSQL, "cancel", jobID)
}

func (q *PgJobQueue) Approve(ctx context.Context, jobID string) (*models.Job, error) {
	return q.transition(ctx, jobApproveSQL, "approve", jobID)
}

var _ repository.JobQueue = (*PgJobQueue)(nil)
