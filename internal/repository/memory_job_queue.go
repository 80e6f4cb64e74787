package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
)

// MemoryJobQueue is the in-process JobQueue used when no database is configured.
// A single mutex gives Claim the same exclusivity row locks give in Postgres.
type MemoryJobQueue struct {
	mu         sync.Mutex
	jobs       map[string]*models.Job
	byDedupe   map[string]string
	staleAfter time.Duration
	now        func() time.Time
}

func NewMemoryJobQueue(staleAfter time.Duration) *MemoryJobQueue {
	return &MemoryJobQueue{
		jobs:       make(map[string]*models.Job),
		byDedupe:   make(map[string]string),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// WithClock swaps the time source; tests use it to step through backoff.
func (q *MemoryJobQueue) WithClock(now func() time.Time) *MemoryJobQueue {
	q.now = now
	return q
}

func cloneJob(j *models.Job) models.Job {
	out := *j
	out.Payload = append(json.RawMessage(nil), j.Payload...)
	out.Result = append(json.RawMessage(nil), j.Result...)
	if j.LockedAt != nil {
		t := *j.LockedAt
		out.LockedAt = &t
	}
	return out
}

func (q *MemoryJobQueue) Enqueue(_ context.Context, req models.EnqueueRequest) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if req.DedupeKey != "" {
		if id, ok := q.byDedupe[req.DedupeKey]; ok {
			j := cloneJob(q.jobs[id])
			return &j, nil
		}
	}

	now := q.now()
	next := req.NextRunAt
	if next.IsZero() {
		next = now
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	j := &models.Job{
		ID:          uuid.NewString(),
		Type:        req.Type,
		Payload:     append(json.RawMessage(nil), req.Payload...),
		Status:      models.JobPending,
		Priority:    req.Priority,
		DedupeKey:   req.DedupeKey,
		MaxAttempts: maxAttempts,
		NextRunAt:   next,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	q.jobs[j.ID] = j
	if req.DedupeKey != "" {
		q.byDedupe[req.DedupeKey] = j.ID
	}
	out := cloneJob(j)
	return &out, nil
}

func (q *MemoryJobQueue) claimable(j *models.Job, now time.Time) bool {
	stale := j.LockedAt != nil && j.LockedAt.Before(now.Add(-q.staleAfter))
	switch j.Status {
	case models.JobPending:
		return !j.NextRunAt.After(now) && (j.LockedAt == nil || stale)
	case models.JobRunning:
		return stale
	}
	return false
}

func (q *MemoryJobQueue) Claim(_ context.Context, limit int, workerID string) ([]models.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var eligible []*models.Job
	for _, j := range q.jobs {
		if q.claimable(j, now) {
			eligible = append(eligible, j)
		}
	}
	sort.Slice(eligible, func(a, b int) bool {
		ja, jb := eligible[a], eligible[b]
		if ja.Priority != jb.Priority {
			return ja.Priority > jb.Priority
		}
		if !ja.CreatedAt.Equal(jb.CreatedAt) {
			return ja.CreatedAt.Before(jb.CreatedAt)
		}
		return ja.ID < jb.ID
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	out := make([]models.Job, 0, len(eligible))
	for _, j := range eligible {
		lockedAt := now
		j.Status = models.JobRunning
		j.LockedAt = &lockedAt
		j.LockedBy = workerID
		j.UpdatedAt = now
		out = append(out, cloneJob(j))
	}
	return out, nil
}

func (q *MemoryJobQueue) Succeed(_ context.Context, jobID, workerID string, result json.RawMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[jobID]
	if !ok {
		return repository.ErrNotFound
	}
	if j.Status != models.JobRunning || j.LockedBy != workerID {
		return repository.ErrLockLost
	}
	j.Status = models.JobSucceeded
	j.Result = append(json.RawMessage(nil), result...)
	j.Error = ""
	j.LockedAt = nil
	j.LockedBy = ""
	j.UpdatedAt = q.now()
	return nil
}

func (q *MemoryJobQueue) Fail(_ context.Context, jobID, workerID, errMsg string, attempts, maxAttempts int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[jobID]
	if !ok {
		return repository.ErrNotFound
	}
	if j.Status != models.JobRunning || j.LockedBy != workerID {
		return repository.ErrLockLost
	}
	now := q.now()
	j.Attempts = attempts + 1
	j.Error = errMsg
	j.LockedAt = nil
	j.LockedBy = ""
	j.UpdatedAt = now
	if attempts+1 < maxAttempts {
		j.Status = models.JobPending
		j.NextRunAt = now.Add(models.RetryDelay(attempts))
	} else {
		j.Status = models.JobFailed
	}
	return nil
}

func (q *MemoryJobQueue) Get(_ context.Context, jobID string) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[jobID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneJob(j)
	return &out, nil
}

func (q *MemoryJobQueue) List(_ context.Context, filter models.JobFilter) ([]models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.Job, 0)
	for _, j := range q.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.Type != "" && j.Type != filter.Type {
			continue
		}
		out = append(out, cloneJob(j))
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID > out[b].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (q *MemoryJobQueue) transition(jobID string, fn func(j *models.Job) error) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[jobID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if err := fn(j); err != nil {
		return nil, err
	}
	j.UpdatedAt = q.now()
	out := cloneJob(j)
	return &out, nil
}

func (q *MemoryJobQueue) Retry(_ context.Context, jobID string) (*models.Job, error) {
	return q.transition(jobID, func(j *models.Job) error {
		if j.Status != models.JobFailed && j.Status != models.JobCancelled {
			return fmt.Errorf("retry job in status %s: %w", j.Status, repository.ErrConflict)
		}
		j.Status = models.JobPending
		j.Attempts = 0
		j.Error = ""
		j.NextRunAt = q.now()
		return nil
	})
}

func (q *MemoryJobQueue) Cancel(_ context.Context, jobID string) (*models.Job, error) {
	return q.transition(jobID, func(j *models.Job) error {
		if j.Status != models.JobPending {
			return fmt.Errorf("cancel job in status %s: %w", j.Status, repository.ErrConflict)
		}
		j.Status = models.JobCancelled
		return nil
	})
}

func (q *MemoryJobQueue) Approve(_ context.Context, jobID string) (*models.Job, error) {
	return q.transition(jobID, func(j *models.Job) error {
		if j.Status.Terminal() {
			return fmt.Errorf("approve job in status %s: %w", j.Status, repository.ErrConflict)
		}
		j.Approvals++
		return nil
	})
}

var _ repository.JobQueue = (*MemoryJobQueue)(nil)
