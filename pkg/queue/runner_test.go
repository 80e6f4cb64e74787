package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/repository"
	"SignalGate/pkg/logger"
)

type echoJob struct {
	calls atomic.Int32
	fail  bool
}

func (j *echoJob) Name() string { return "echo" }
func (j *echoJob) Type() string { return "echo" }

func (j *echoJob) Handle(_ context.Context, job models.Job) ([]byte, error) {
	j.calls.Add(1)
	if j.fail {
		return nil, errors.New("boom")
	}
	return job.Payload, nil
}

type countingRecorder struct {
	mu   sync.Mutex
	jobs map[string]int
}

func (c *countingRecorder) RecordJob(jobType, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.jobs == nil {
		c.jobs = map[string]int{}
	}
	c.jobs[jobType+"/"+status]++
}

func (c *countingRecorder) RecordLatency(string, float64) {}

func enqueue(t *testing.T, q *repository.MemoryJobQueue, typ string, maxAttempts int) string {
	t.Helper()
	job, err := q.Enqueue(context.Background(), models.EnqueueRequest{
		Type:        typ,
		Payload:     []byte(`{"n":1}`),
		MaxAttempts: maxAttempts,
	})
	require.NoError(t, err)
	return job.ID
}

func TestRunOnceSucceeds(t *testing.T) {
	ctx := context.Background()
	q := repository.NewMemoryJobQueue(time.Minute)
	rec := &countingRecorder{}
	job := &echoJob{}
	r := NewRunner(logger.Nop(), Config{BatchSize: 10, WorkerID: "w1"}, q, rec, job)

	id := enqueue(t, q, "echo", 3)
	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, got.Status)
	assert.JSONEq(t, `{"n":1}`, string(got.Result))
	assert.Equal(t, 1, rec.jobs["echo/SUCCEEDED"])

	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunOnceFailsIntoRetry(t *testing.T) {
	ctx := context.Background()
	q := repository.NewMemoryJobQueue(time.Minute)
	rec := &countingRecorder{}
	r := NewRunner(logger.Nop(), Config{BatchSize: 10}, q, rec, &echoJob{fail: true})

	retry := enqueue(t, q, "echo", 3)
	last := enqueue(t, q, "echo", 1)
	_, err := r.RunOnce(ctx)
	require.NoError(t, err)

	got, err := q.Get(ctx, retry)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "boom", got.Error)

	got, err = q.Get(ctx, last)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, 1, rec.jobs["echo/PENDING"])
	assert.Equal(t, 1, rec.jobs["echo/FAILED"])
}

func TestUnknownJobTypeFails(t *testing.T) {
	ctx := context.Background()
	q := repository.NewMemoryJobQueue(time.Minute)
	r := NewRunner(logger.Nop(), Config{}, q, nil)

	id := enqueue(t, q, "mystery", 1)
	_, err := r.RunOnce(ctx)
	require.NoError(t, err)

	got, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Contains(t, got.Error, "no handler")
}

// stallingJob outlives its lock: another worker reclaims the row mid-run.
type stallingJob struct {
	q       *repository.MemoryJobQueue
	advance func()
}

func (j *stallingJob) Name() string { return "stall" }
func (j *stallingJob) Type() string { return "stall" }

func (j *stallingJob) Handle(ctx context.Context, job models.Job) ([]byte, error) {
	j.advance()
	if _, err := j.q.Claim(ctx, 1, "w2"); err != nil {
		return nil, err
	}
	return []byte(`{"late":true}`), nil
}

func TestRunOnceLeavesReclaimedJobAlone(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	q := repository.NewMemoryJobQueue(time.Minute).WithClock(func() time.Time { return now })
	rec := &countingRecorder{}
	job := &stallingJob{q: q, advance: func() { now = now.Add(2 * time.Minute) }}
	r := NewRunner(logger.Nop(), Config{BatchSize: 1, WorkerID: "w1"}, q, rec, job)

	id := enqueue(t, q, "stall", 3)
	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, got.Status)
	assert.Equal(t, "w2", got.LockedBy)
	assert.Empty(t, got.Result)
	assert.Zero(t, rec.jobs["stall/SUCCEEDED"])
}

func TestStartStopDrainsQueue(t *testing.T) {
	ctx := context.Background()
	q := repository.NewMemoryJobQueue(time.Minute)
	job := &echoJob{}
	r := NewRunner(logger.Nop(), Config{Workers: 3, BatchSize: 2, PollInterval: 10 * time.Millisecond}, q, nil, job)

	for i := 0; i < 10; i++ {
		enqueue(t, q, "echo", 1)
	}
	require.NoError(t, r.Start())
	require.Error(t, r.Start())

	require.Eventually(t, func() bool { return job.calls.Load() == 10 }, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, r.Stop(stopCtx))
	require.NoError(t, r.Stop(stopCtx))

	done, err := q.List(ctx, models.JobFilter{Status: models.JobSucceeded})
	require.NoError(t, err)
	assert.Len(t, done, 10)
}

func TestDecodePayload(t *testing.T) {
	pl, err := DecodePayload[models.ProcessEventPayload](models.Job{ID: "j", Payload: []byte(`{"eventId":"e1"}`)})
	require.NoError(t, err)
	assert.Equal(t, "e1", pl.EventID)

	_, err = DecodePayload[models.ProcessEventPayload](models.Job{ID: "j"})
	assert.Error(t, err)
}
