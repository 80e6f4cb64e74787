package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalGate/internal/domain/models"
	pkgkafka "SignalGate/pkg/kafka"
	applogger "SignalGate/pkg/logger"
)

func TestKafkaAlertHandler(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "s3cret")
	handler := NewKafkaAlertHandler("tv-alerts", h.ing, applogger.Nop())
	assert.Equal(t, "tv-alerts", handler.Topic())

	require.NoError(t, handler.Handle(ctx, pkgkafka.Message{
		Key:     []byte("trend"),
		Value:   []byte(biasLong),
		Headers: map[string]string{"x-webhook-secret": "s3cret", "trace-id": "tr-1"},
	}))
	st := h.state(t, "trend:ES:5m")
	assert.Equal(t, models.BiasLong, st.Bias)

	// a bad secret is persisted as rejected, never returned as an error
	require.NoError(t, handler.Handle(ctx, pkgkafka.Message{
		Value:   []byte(`{"event":"SESSION_CLOSE","symbol":"ES","timeframe":"5"}`),
		Headers: map[string]string{"strategy": "trend", "x-webhook-secret": "nope"},
	}))

	recs, err := h.audit.ListEvents(ctx, "trend", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	byStatus := map[models.WebhookStatus]models.AuditEventRecord{}
	for _, r := range recs {
		byStatus[r.Status] = r
	}
	assert.Equal(t, "tr-1", byStatus[models.StatusAccepted].TraceID)

	row, err := h.events.Get(ctx, byStatus[models.StatusRejected].EventID)
	require.NoError(t, err)
	assert.Equal(t, "UNAUTHORIZED", row.ErrorCode)
}
