package repository

import (
	"context"
	"encoding/json"
	"sync"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
)

// MemoryEventStore keeps the most recent webhook events in process.
type MemoryEventStore struct {
	mu    sync.RWMutex
	byID  map[string]*models.WebhookEvent
	order []string
	limit int
}

func NewMemoryEventStore(limit int) *MemoryEventStore {
	return &MemoryEventStore{byID: make(map[string]*models.WebhookEvent), limit: limit}
}

func cloneEvent(ev *models.WebhookEvent) models.WebhookEvent {
	out := *ev
	out.Payload = append(json.RawMessage(nil), ev.Payload...)
	out.ErrorFields = append([]string(nil), ev.ErrorFields...)
	if ev.Event != nil {
		me := *ev.Event
		me.Payload = append(json.RawMessage(nil), ev.Event.Payload...)
		out.Event = &me
	}
	return out
}

func (s *MemoryEventStore) Insert(_ context.Context, ev models.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[ev.ID]; exists {
		return repository.ErrConflict
	}
	c := cloneEvent(&ev)
	s.byID[ev.ID] = &c
	s.order = append(s.order, ev.ID)
	if s.limit > 0 && len(s.order) > s.limit {
		drop := s.order[0]
		s.order = s.order[1:]
		delete(s.byID, drop)
	}
	return nil
}

func (s *MemoryEventStore) Get(_ context.Context, id string) (*models.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneEvent(ev)
	return &out, nil
}

func (s *MemoryEventStore) SetJob(_ context.Context, id, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	ev.JobID = jobID
	return nil
}

func (s *MemoryEventStore) find(match func(*models.WebhookEvent) bool) (*models.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		if ev := s.byID[id]; match(ev) {
			out := cloneEvent(ev)
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *MemoryEventStore) FindAccepted(_ context.Context, dedupeKey, excludeID string) (*models.WebhookEvent, error) {
	if dedupeKey == "" {
		return nil, repository.ErrNotFound
	}
	return s.find(func(ev *models.WebhookEvent) bool {
		return ev.ID != excludeID && ev.Status == models.StatusAccepted && ev.DedupeKey == dedupeKey
	})
}

func (s *MemoryEventStore) FindByIdempotencyKey(_ context.Context, key, excludeID string) (*models.WebhookEvent, error) {
	if key == "" {
		return nil, repository.ErrNotFound
	}
	return s.find(func(ev *models.WebhookEvent) bool {
		return ev.ID != excludeID && ev.IdempotencyKey == key && ev.Status != models.StatusDuplicate
	})
}

var _ repository.EventStore = (*MemoryEventStore)(nil)
