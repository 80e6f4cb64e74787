package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	domrepo "SignalGate/internal/domain/repository"
)

type keySlot struct {
	ch   chan struct{}
	refs int
}

// KeyedLocker serializes work per state key inside one process, so two
// deliveries for the same strategy:symbol:timeframe never interleave their
// read-modify-write. Slots are dropped once nobody holds or waits on them.
type KeyedLocker struct {
	mu      sync.Mutex
	slots   map[string]*keySlot
	metrics domrepo.Metrics
}

func NewKeyedLocker(metrics domrepo.Metrics) *KeyedLocker {
	return &KeyedLocker{slots: make(map[string]*keySlot), metrics: metrics}
}

func (l *KeyedLocker) acquire(key string) *keySlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &keySlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *KeyedLocker) release(key string, s *keySlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// Do runs fn while holding key. It gives up with ctx's error if the key
// cannot be taken before ctx is done.
func (l *KeyedLocker) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	start := time.Now()
	s := l.acquire(key)
	defer l.release(key, s)

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		if l.metrics != nil {
			l.metrics.RecordError("state_lock_timeout")
		}
		return fmt.Errorf("lock %s: %w", key, ctx.Err())
	}
	defer func() { <-s.ch }()

	if l.metrics != nil {
		l.metrics.RecordLatency("state_lock_wait", time.Since(start).Seconds())
	}
	return fn(ctx)
}

// Held reports how many keys currently have a holder or waiter.
func (l *KeyedLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
