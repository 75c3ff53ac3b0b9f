package audit

import (
	"context"
	"sync"
)

// MemoryStore keeps audit events in memory for tests and development.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SaveEvent(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
	return nil
}

func (s *MemoryStore) EventsForResource(ctx context.Context, resourceID string, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].ResourceID == resourceID {
			out = append(out, s.events[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)
