package repository

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalGate/internal/domain/models"
)

type recordingProducer struct {
	topic   string
	key     []byte
	value   interface{}
	headers []kafka.Header
	closed  bool
}

func (r *recordingProducer) Publish(_ context.Context, topic string, key []byte, value interface{}, headers ...kafka.Header) error {
	r.topic, r.key, r.value, r.headers = topic, key, value, headers
	return nil
}

func (r *recordingProducer) Close() error {
	r.closed = true
	return nil
}

func TestKafkaDecisionPublisherKeysByStrategy(t *testing.T) {
	prod := &recordingProducer{}
	pub := NewKafkaDecisionPublisher(prod, "signalgate.decisions")
	rec := models.AuditDecisionRecord{
		EventID:  "e1",
		Decision: models.DecisionRecord{StrategyID: "trend", Outcome: models.OutcomeExecutePaper},
	}

	require.NoError(t, pub.PublishDecision(context.Background(), rec))
	require.NoError(t, pub.Close())

	assert.Equal(t, "signalgate.decisions", prod.topic)
	assert.Equal(t, []byte("trend"), prod.key)
	assert.Equal(t, rec, prod.value)
	require.Len(t, prod.headers, 1)
	assert.Equal(t, "EXECUTE_PAPER", string(prod.headers[0].Value))
	assert.True(t, prod.closed)
}
