package deletion

import (
	"context"
	"sync"
)

// MemoryTombstones is an in-memory Tombstones implementation for tests and
// single-instance deployments.
type MemoryTombstones struct {
	mu      sync.RWMutex
	deleted map[string]bool
}

// NewMemoryTombstones creates an empty tombstone store.
func NewMemoryTombstones() *MemoryTombstones {
	return &MemoryTombstones{deleted: make(map[string]bool)}
}

func (s *MemoryTombstones) Set(ctx context.Context, resourceID string, deleted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if deleted {
		s.deleted[resourceID] = true
	} else {
		delete(s.deleted, resourceID)
	}
	return nil
}

func (s *MemoryTombstones) IsDeleted(ctx context.Context, resourceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.deleted[resourceID], nil
}

func (s *MemoryTombstones) FilterLive(ctx context.Context, ids []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live := make([]string, 0, len(ids))
	for _, id := range ids {
		if !s.deleted[id] {
			live = append(live, id)
		}
	}
	return live, nil
}

// Compile-time interface check
var _ Tombstones = (*MemoryTombstones)(nil)
