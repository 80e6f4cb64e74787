package queue

import (
	"context"

	"SignalGate/internal/domain/models"
)

// Job defines a queue job handler.
type Job interface {
	// Name returns the unique identifier of the job.
	Name() string

	// Type returns the job type it handles.
	Type() string

	// Handle processes one claimed job. The returned bytes are stored as the
	// job result; an error fails the attempt and lets the store schedule a retry.
	Handle(ctx context.Context, job models.Job) ([]byte, error)
}
