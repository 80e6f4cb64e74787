package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	applogger "SignalGate/pkg/logger"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducerPublishEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "snappy")

	require.NoError(t, p.Publish(context.Background(), "decisions", []byte("trend"), map[string]int{"qty": 2}))
	require.NoError(t, p.PublishMessage(context.Background(), "errors", "plain"))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "decisions", w.msgs[0].Topic)
	assert.Equal(t, []byte("trend"), w.msgs[0].Key)
	var body map[string]int
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &body))
	assert.Equal(t, 2, body["qty"])
	assert.Equal(t, []byte("plain"), w.msgs[1].Value)
}

func TestProducerPublishPropagatesWriteError(t *testing.T) {
	p := newProducer(&fakeWriter{err: errors.New("broker down")}, "snappy")
	assert.Error(t, p.Publish(context.Background(), "t", nil, "x"))
}

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) Committed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func TestConsumerHandlesAndCommitsEveryMessage(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Value: []byte(`{"a":1}`), Headers: []kafka.Header{{Key: "strategy", Value: []byte("trend")}}},
		{Offset: 2, Value: []byte(`{"a":2}`)},
		{Offset: 3, Value: []byte(`{"a":3}`)},
	}}

	var mu sync.Mutex
	var seen []Message
	handler := HandlerFunc(func(_ context.Context, msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg)
		if msg.Offset == 2 {
			return errors.New("always fails")
		}
		return nil
	})

	cfg := &ConsumerConfig{Topic: "alerts", WorkerCount: 2, BufferSize: 4, RetryMax: 2}
	c := newConsumer(cfg, reader, handler, applogger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return reader.Committed() == 3 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	// offset 2 is retried once before giving up
	assert.Len(t, seen, 4)
	for _, m := range seen {
		if m.Offset == 1 {
			assert.Equal(t, "trend", m.Headers["strategy"])
		}
	}
}
