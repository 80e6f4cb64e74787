package usecase

import (
	"context"
	"strings"

	pkgkafka "SignalGate/pkg/kafka"
	applogger "SignalGate/pkg/logger"
)

// KafkaAlertHandler feeds alerts relayed through Kafka into the same
// admission path as the HTTP webhook. The strategy comes from the
// "strategy" header, else the message key, else the body.
type KafkaAlertHandler struct {
	topic    string
	ingestor *Ingestor
	log      *applogger.Logger
}

func NewKafkaAlertHandler(topic string, ingestor *Ingestor, log *applogger.Logger) *KafkaAlertHandler {
	return &KafkaAlertHandler{topic: topic, ingestor: ingestor, log: log}
}

func (h *KafkaAlertHandler) Topic() string { return h.topic }

// Handle never fails: rejected alerts are persisted by the ingestor.
func (h *KafkaAlertHandler) Handle(ctx context.Context, msg pkgkafka.Message) error {
	hint := msg.Headers["strategy"]
	if hint == "" {
		hint = strings.TrimSpace(string(msg.Key))
	}
	resp := h.ingestor.Ingest(ctx, IngestRequest{
		StrategyHint: hint,
		Secret:       msg.Headers["x-webhook-secret"],
		TraceID:      msg.Headers["trace-id"],
		Body:         msg.Value,
	})
	h.log.Debug("kafka alert ingested",
		applogger.String("event_id", resp.EventID),
		applogger.String("status", string(resp.Status)),
		applogger.Int64("offset", msg.Offset))
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaAlertHandler)(nil)
