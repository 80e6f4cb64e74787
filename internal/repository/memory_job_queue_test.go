package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newQueue(clock *stepClock) *MemoryJobQueue {
	return NewMemoryJobQueue(time.Minute).WithClock(clock.Now)
}

func enqueue(t *testing.T, q *MemoryJobQueue, req models.EnqueueRequest) *models.Job {
	t.Helper()
	if req.Type == "" {
		req.Type = models.JobTypeProcessEvent
	}
	if req.Payload == nil {
		req.Payload = json.RawMessage(`{"eventId":"e1"}`)
	}
	j, err := q.Enqueue(context.Background(), req)
	require.NoError(t, err)
	return j
}

func TestMemoryJobQueueClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	q := newQueue(&stepClock{t: time.Unix(1_700_000_000, 0)})
	for i := 0; i < 60; i++ {
		enqueue(t, q, models.EnqueueRequest{MaxAttempts: 3})
	}

	var (
		mu   sync.Mutex
		seen = map[string]string{}
		dups []string
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				jobs, err := q.Claim(ctx, 4, worker)
				if err != nil || len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					if prev, ok := seen[j.ID]; ok {
						dups = append(dups, j.ID+" "+prev+"/"+worker)
					}
					seen[j.ID] = worker
				}
				mu.Unlock()
			}
		}(fmt.Sprintf("w%d", w))
	}
	wg.Wait()

	assert.Empty(t, dups)
	assert.Len(t, seen, 60)
}

func TestMemoryJobQueueClaimOrder(t *testing.T) {
	ctx := context.Background()
	clock := &stepClock{t: time.Unix(1_700_000_000, 0)}
	q := newQueue(clock)

	low := enqueue(t, q, models.EnqueueRequest{})
	clock.Advance(time.Second)
	high := enqueue(t, q, models.EnqueueRequest{Priority: 5})
	clock.Advance(time.Second)
	enqueue(t, q, models.EnqueueRequest{NextRunAt: clock.Now().Add(time.Hour)})

	jobs, err := q.Claim(ctx, 10, "w1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, high.ID, jobs[0].ID)
	assert.Equal(t, low.ID, jobs[1].ID)
	assert.Equal(t, models.JobRunning, jobs[0].Status)
	assert.Equal(t, "w1", jobs[0].LockedBy)
}

func TestMemoryJobQueueFailBacksOffThenTerminates(t *testing.T) {
	ctx := context.Background()
	clock := &stepClock{t: time.Unix(1_700_000_000, 0)}
	q := newQueue(clock)
	job := enqueue(t, q, models.EnqueueRequest{MaxAttempts: 3})

	claimOne := func() models.Job {
		t.Helper()
		jobs, err := q.Claim(ctx, 1, "w1")
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		return jobs[0]
	}

	j := claimOne()
	require.NoError(t, q.Fail(ctx, j.ID, "w1", "boom", j.Attempts, j.MaxAttempts))
	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, clock.Now().Add(10*time.Second), got.NextRunAt)

	clock.Advance(9 * time.Second)
	jobs, err := q.Claim(ctx, 1, "w1")
	require.NoError(t, err)
	assert.Empty(t, jobs)

	clock.Advance(time.Second)
	j = claimOne()
	require.NoError(t, q.Fail(ctx, j.ID, "w1", "boom", j.Attempts, j.MaxAttempts))
	got, _ = q.Get(ctx, job.ID)
	assert.Equal(t, clock.Now().Add(20*time.Second), got.NextRunAt)

	clock.Advance(20 * time.Second)
	j = claimOne()
	require.NoError(t, q.Fail(ctx, j.ID, "w1", "boom again", j.Attempts, j.MaxAttempts))
	got, _ = q.Get(ctx, job.ID)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, "boom again", got.Error)

	// terminal rows reject late completions and are never claimed again
	assert.ErrorIs(t, q.Succeed(ctx, job.ID, "w1", json.RawMessage(`{}`)), repository.ErrLockLost)
	clock.Advance(time.Hour)
	jobs, err = q.Claim(ctx, 5, "w2")
	require.NoError(t, err)
	assert.Empty(t, jobs)
	got, _ = q.Get(ctx, job.ID)
	assert.Equal(t, models.JobFailed, got.Status)
}

func TestMemoryJobQueueSucceed(t *testing.T) {
	ctx := context.Background()
	q := newQueue(&stepClock{t: time.Unix(1_700_000_000, 0)})
	job := enqueue(t, q, models.EnqueueRequest{})

	jobs, err := q.Claim(ctx, 1, "w1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NoError(t, q.Succeed(ctx, job.ID, "w1", json.RawMessage(`{"outcome":"REJECT"}`)))

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, got.Status)
	assert.JSONEq(t, `{"outcome":"REJECT"}`, string(got.Result))
	assert.Nil(t, got.LockedAt)
	assert.Empty(t, got.LockedBy)
}

func TestMemoryJobQueueEnqueueDedupe(t *testing.T) {
	q := newQueue(&stepClock{t: time.Unix(1_700_000_000, 0)})
	a := enqueue(t, q, models.EnqueueRequest{DedupeKey: "evt-1"})
	b := enqueue(t, q, models.EnqueueRequest{DedupeKey: "evt-1"})
	c := enqueue(t, q, models.EnqueueRequest{DedupeKey: "evt-2"})

	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)

	all, err := q.List(context.Background(), models.JobFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryJobQueueReclaimsStaleLocks(t *testing.T) {
	ctx := context.Background()
	clock := &stepClock{t: time.Unix(1_700_000_000, 0)}
	q := newQueue(clock)
	job := enqueue(t, q, models.EnqueueRequest{})

	_, err := q.Claim(ctx, 1, "crashed")
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	jobs, err := q.Claim(ctx, 1, "w2")
	require.NoError(t, err)
	assert.Empty(t, jobs)

	clock.Advance(time.Minute)
	jobs, err = q.Claim(ctx, 1, "w2")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
	assert.Equal(t, "w2", jobs[0].LockedBy)

	// the original holder wakes up late and must not overwrite w2's run
	assert.ErrorIs(t, q.Succeed(ctx, job.ID, "crashed", json.RawMessage(`{"outcome":"stale"}`)), repository.ErrLockLost)
	assert.ErrorIs(t, q.Fail(ctx, job.ID, "crashed", "late", jobs[0].Attempts, jobs[0].MaxAttempts), repository.ErrLockLost)
	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, got.Status)
	assert.Equal(t, "w2", got.LockedBy)
	assert.Empty(t, got.Error)

	require.NoError(t, q.Succeed(ctx, job.ID, "w2", json.RawMessage(`{"outcome":"APPROVE"}`)))
	got, err = q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, got.Status)
	assert.JSONEq(t, `{"outcome":"APPROVE"}`, string(got.Result))
}

func TestMemoryJobQueueOperatorTransitions(t *testing.T) {
	ctx := context.Background()
	q := newQueue(&stepClock{t: time.Unix(1_700_000_000, 0)})

	job := enqueue(t, q, models.EnqueueRequest{MaxAttempts: 1})
	approved, err := q.Approve(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, approved.Approvals)

	_, err = q.Retry(ctx, job.ID)
	assert.ErrorIs(t, err, repository.ErrConflict)

	cancelled, err := q.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, cancelled.Status)

	_, err = q.Approve(ctx, job.ID)
	assert.ErrorIs(t, err, repository.ErrConflict)
	_, err = q.Cancel(ctx, job.ID)
	assert.ErrorIs(t, err, repository.ErrConflict)

	retried, err := q.Retry(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, retried.Status)
	assert.Zero(t, retried.Attempts)

	_, err = q.Get(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = q.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMemoryJobQueueListFilters(t *testing.T) {
	ctx := context.Background()
	clock := &stepClock{t: time.Unix(1_700_000_000, 0)}
	q := newQueue(clock)
	first := enqueue(t, q, models.EnqueueRequest{})
	clock.Advance(time.Second)
	second := enqueue(t, q, models.EnqueueRequest{Type: "other"})
	_, err := q.Cancel(ctx, first.ID)
	require.NoError(t, err)

	all, err := q.List(ctx, models.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)

	cancelled, err := q.List(ctx, models.JobFilter{Status: models.JobCancelled})
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, first.ID, cancelled[0].ID)

	other, err := q.List(ctx, models.JobFilter{Type: "other", Limit: 1})
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, second.ID, other[0].ID)
}

func TestRetryDelaySchedule(t *testing.T) {
	assert.Equal(t, 10*time.Second, models.RetryDelay(0))
	assert.Equal(t, 20*time.Second, models.RetryDelay(1))
	assert.Equal(t, 40*time.Second, models.RetryDelay(2))
	assert.Equal(t, 1280*time.Second, models.RetryDelay(7))
	assert.Equal(t, 1800*time.Second, models.RetryDelay(8))
	assert.Equal(t, 1800*time.Second, models.RetryDelay(30))
}
