package models

import "encoding/json"

type WebhookStatus string

const (
	StatusAccepted  WebhookStatus = "ACCEPTED"
	StatusDuplicate WebhookStatus = "DUPLICATE"
	StatusRejected  WebhookStatus = "REJECTED"
	StatusError     WebhookStatus = "ERROR"
)

// WebhookEvent is the persisted row for one delivery, whatever happened to it.
type WebhookEvent struct {
	ID             string          `json:"id"`
	TraceID        string          `json:"traceId"`
	StrategyID     string          `json:"strategyId"`
	Status         WebhookStatus   `json:"status"`
	ErrorCode      string          `json:"errorCode,omitempty"`
	ErrorFields    []string        `json:"errorFields,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	DedupeKey      string          `json:"dedupeKey,omitempty"`
	DuplicateOf    string          `json:"duplicateOf,omitempty"`
	JobID          string          `json:"jobId,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	Event          *MarketEvent    `json:"event,omitempty"`
	ReceivedAt     int64           `json:"receivedAt"`
}

type AuditEventRecord struct {
	EventID        string          `json:"eventId"`
	TraceID        string          `json:"traceId"`
	StrategyID     string          `json:"strategyId"`
	Event          string          `json:"event"`
	Symbol         string          `json:"symbol"`
	Timeframe      string          `json:"timeframe"`
	Status         WebhookStatus   `json:"status"`
	IdempotencyKey string          `json:"idempotencyKey"`
	DedupeKey      string          `json:"dedupeKey,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	ReceivedAt     int64           `json:"receivedAt"`
}

type AuditDecisionRecord struct {
	EventID    string         `json:"eventId"`
	TraceID    string         `json:"traceId"`
	Decision   DecisionRecord `json:"decision"`
	RecordedAt int64          `json:"recordedAt"`
}
