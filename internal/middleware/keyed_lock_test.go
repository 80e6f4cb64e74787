package middleware

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalGate/pkg/metrics"
)

func TestKeyedLockerSerializesSameKey(t *testing.T) {
	l := NewKeyedLocker(metrics.Nop{})
	var (
		inside  int32
		maxSeen int32
		counter int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Do(context.Background(), "trend:SPY:5m", func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxSeen)
					if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
						break
					}
				}
				counter++
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
	assert.Equal(t, 20, counter)
	assert.Zero(t, l.Held())
}

func TestKeyedLockerIndependentKeys(t *testing.T) {
	l := NewKeyedLocker(nil)
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = l.Do(context.Background(), "a", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	done := make(chan error, 1)
	go func() {
		done <- l.Do(context.Background(), "b", func(context.Context) error { return nil })
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("key b blocked behind key a")
	}
	close(release)
}

func TestKeyedLockerHonoursContext(t *testing.T) {
	l := NewKeyedLocker(metrics.Nop{})
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = l.Do(context.Background(), "k", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Do(ctx, "k", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}
