package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"

	"SignalGate/internal/domain/models"
)

// Store is the part of the durable job queue a Runner drives.
type Store interface {
	Claim(ctx context.Context, limit int, workerID string) ([]models.Job, error)
	Succeed(ctx context.Context, jobID, workerID string, result json.RawMessage) error
	Fail(ctx context.Context, jobID, workerID, errMsg string, attempts, maxAttempts int) error
}

type Recorder interface {
	RecordJob(jobType, status string)
	RecordLatency(op string, seconds float64)
}

// Config contains the configuration for the runner
type Config struct {
	Workers      int           // number of polling workers
	BatchSize    int           // jobs claimed per poll
	PollInterval time.Duration // idle wait between empty polls
	WorkerID     string        // lock owner recorded on claimed jobs
}

// DecodePayload unmarshals a job payload into T.
func DecodePayload[T any](job models.Job) (*T, error) {
	var out T
	if len(job.Payload) == 0 {
		return nil, fmt.Errorf("job %s: empty payload", job.ID)
	}
	if err := gojson.Unmarshal(job.Payload, &out); err != nil {
		return nil, fmt.Errorf("job %s: decode payload: %w", job.ID, err)
	}
	return &out, nil
}
