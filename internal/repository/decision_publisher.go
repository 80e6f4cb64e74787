package repository

import (
	"context"

	"github.com/segmentio/kafka-go"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
)

// messagePublisher is the slice of the Kafka producer the publisher needs.
type messagePublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}, headers ...kafka.Header) error
	Close() error
}

// KafkaDecisionPublisher writes every recorded decision to a topic, keyed by
// strategy so one strategy's decisions stay ordered within a partition.
type KafkaDecisionPublisher struct {
	producer messagePublisher
	topic    string
}

func NewKafkaDecisionPublisher(p messagePublisher, topic string) *KafkaDecisionPublisher {
	return &KafkaDecisionPublisher{producer: p, topic: topic}
}

func (p *KafkaDecisionPublisher) PublishDecision(ctx context.Context, rec models.AuditDecisionRecord) error {
	return p.producer.Publish(ctx, p.topic, []byte(rec.Decision.StrategyID), rec,
		kafka.Header{Key: "outcome", Value: []byte(rec.Decision.Outcome)})
}

func (p *KafkaDecisionPublisher) Close() error { return p.producer.Close() }

// NopDecisionPublisher is used when no brokers are configured.
type NopDecisionPublisher struct{}

func (NopDecisionPublisher) PublishDecision(context.Context, models.AuditDecisionRecord) error {
	return nil
}

func (NopDecisionPublisher) Close() error { return nil }

var (
	_ repository.DecisionPublisher = (*KafkaDecisionPublisher)(nil)
	_ repository.DecisionPublisher = NopDecisionPublisher{}
)
