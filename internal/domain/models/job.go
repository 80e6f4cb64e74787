package models

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCancelled
}

// JobTypeProcessEvent re-runs the decision pipeline for an accepted webhook event.
const JobTypeProcessEvent = "process_event"

type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      JobStatus       `json:"status"`
	Priority    int             `json:"priority"`
	DedupeKey   string          `json:"dedupeKey,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	Approvals   int             `json:"approvals"`
	NextRunAt   time.Time       `json:"nextRunAt"`
	LockedAt    *time.Time      `json:"lockedAt,omitempty"`
	LockedBy    string          `json:"lockedBy,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type EnqueueRequest struct {
	Type        string
	Payload     json.RawMessage
	Priority    int
	DedupeKey   string
	MaxAttempts int
	NextRunAt   time.Time
}

// ProcessEventPayload is the payload of a process_event job.
type ProcessEventPayload struct {
	EventID    string `json:"eventId"`
	TraceID    string `json:"traceId"`
	StrategyID string `json:"strategyId"`
	DedupeKey  string `json:"dedupeKey"`
}

type JobFilter struct {
	Status JobStatus
	Type   string
	Limit  int
}

// RetryDelay is the requeue delay after a failure at the given attempt count.
func RetryDelay(attempts int) time.Duration {
	const maxSeconds = 1800
	if attempts < 0 {
		attempts = 0
	}
	if attempts >= 8 {
		return maxSeconds * time.Second
	}
	s := 10 << attempts
	if s > maxSeconds {
		s = maxSeconds
	}
	return time.Duration(s) * time.Second
}
