//go:build integration

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
	applogger "SignalGate/pkg/logger"
	"SignalGate/pkg/postgres/migrations"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "signalgate"},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres container: %v\n", err)
		os.Exit(1)
	}

	code, err := runWithDatabase(ctx, container, m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres integration tests skipped: %v\n", err)
	}
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func runWithDatabase(ctx context.Context, c testcontainers.Container, m *testing.M) (int, error) {
	host, err := c.Host(ctx)
	if err != nil {
		return 0, err
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return 0, err
	}
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/signalgate?sslmode=disable", host, port.Port())
	if err := migrations.Apply(ctx, dsn, migrations.Up, applogger.Nop()); err != nil {
		return 0, err
	}
	testPool, err = pgxpool.New(ctx, dsn)
	if err != nil {
		return 0, err
	}
	defer testPool.Close()
	return m.Run(), nil
}

func truncate(t *testing.T) {
	t.Helper()
	_, err := testPool.Exec(context.Background(), "TRUNCATE jobs, webhook_events")
	require.NoError(t, err)
}

func TestPgJobQueueConcurrentClaim(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	q := NewPgJobQueue(testPool, time.Minute)
	for i := 0; i < 40; i++ {
		_, err := q.Enqueue(ctx, models.EnqueueRequest{
			Type:        models.JobTypeProcessEvent,
			Payload:     json.RawMessage(fmt.Sprintf(`{"eventId":"e%d"}`, i)),
			MaxAttempts: 3,
		})
		require.NoError(t, err)
	}

	var (
		mu    sync.Mutex
		seen  = map[string]int{}
		wg    sync.WaitGroup
		clErr error
	)
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				jobs, err := q.Claim(ctx, 3, worker)
				if err != nil {
					mu.Lock()
					clErr = err
					mu.Unlock()
					return
				}
				if len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					seen[j.ID]++
				}
				mu.Unlock()
			}
		}(fmt.Sprintf("w%d", w))
	}
	wg.Wait()

	require.NoError(t, clErr)
	assert.Len(t, seen, 40)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func TestPgJobQueueLifecycle(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	q := NewPgJobQueue(testPool, time.Minute)

	first, err := q.Enqueue(ctx, models.EnqueueRequest{Type: models.JobTypeProcessEvent, Payload: json.RawMessage(`{}`), DedupeKey: "evt-1", MaxAttempts: 2})
	require.NoError(t, err)
	again, err := q.Enqueue(ctx, models.EnqueueRequest{Type: models.JobTypeProcessEvent, Payload: json.RawMessage(`{}`), DedupeKey: "evt-1", MaxAttempts: 2})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	jobs, err := q.Claim(ctx, 1, "w1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.ErrorIs(t, q.Fail(ctx, first.ID, "w2", "boom", jobs[0].Attempts, jobs[0].MaxAttempts), repository.ErrLockLost)
	require.NoError(t, q.Fail(ctx, first.ID, "w1", "boom", jobs[0].Attempts, jobs[0].MaxAttempts))

	got, err := q.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.True(t, got.NextRunAt.After(time.Now().Add(5*time.Second)))

	_, err = q.Retry(ctx, first.ID)
	assert.ErrorIs(t, err, repository.ErrConflict)

	cancelled, err := q.Cancel(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, cancelled.Status)

	retried, err := q.Retry(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, retried.Status)
	assert.Zero(t, retried.Attempts)

	approved, err := q.Approve(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, approved.Approvals)

	_, err = q.Get(ctx, "8a4c1c36-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPgEventStore(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	store := NewPgEventStore(testPool)

	a := models.WebhookEvent{
		ID: "0b8f5a34-1111-4000-8000-000000000001", TraceID: "t1", StrategyID: "trend",
		Status: models.StatusAccepted, IdempotencyKey: "k1", DedupeKey: "d1",
		Payload: json.RawMessage(`{"event":"TRADE_SIGNAL"}`), ReceivedAt: 1710254100,
	}
	b := a
	b.ID = "0b8f5a34-1111-4000-8000-000000000002"
	b.Status = models.StatusDuplicate
	b.DuplicateOf = a.ID
	require.NoError(t, store.Insert(ctx, a))
	require.NoError(t, store.Insert(ctx, b))

	found, err := store.FindAccepted(ctx, "d1", b.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)

	byKey, err := store.FindByIdempotencyKey(ctx, "k1", b.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, byKey.ID)

	_, err = store.FindAccepted(ctx, "d1", a.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
