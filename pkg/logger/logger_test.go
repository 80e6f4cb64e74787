package logger

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("component", "ingest"))

	l.Info("event accepted", String("strategy", "trend"), Int("queued", 1), Float64("score", 81.5), Bool("approved", true))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "event accepted", line["message"])
	assert.Equal(t, "ingest", line["component"])
	assert.Equal(t, "trend", line["strategy"])
	assert.EqualValues(t, 1, line["queued"])
	assert.EqualValues(t, 81.5, line["score"])
	assert.Equal(t, true, line["approved"])
}

func TestLoggerLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")
	l.Info("dropped")
	assert.Zero(t, buf.Len())
	l.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud", Output: "stdout"})
	require.Error(t, err)
}

func TestCollectorAggregatesAndFlushesOnClose(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 50, Topic: "errors", Publisher: pub})

	for i := 0; i < 3; i++ {
		l.Error("redis down", Error(errors.New("dial tcp: refused")))
	}
	l.Error("postgres down")
	assert.Equal(t, 2, l.collector.Pending())

	l.RemoveCollector()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 1)
	assert.Equal(t, "errors", pub.topic)
	counts := map[string]int{}
	for _, e := range pub.batches[0] {
		counts[e.Message] = e.Count
	}
	assert.Equal(t, 3, counts["redis down"])
	assert.Equal(t, 1, counts["postgres down"])
}
