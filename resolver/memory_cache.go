package resolver

import (
	"context"
	"sync"
)

// MemoryCache is an in-process Cache for tests and single-instance
// deployments. Presence of a principal key marks the entry populated, so
// an empty reachable set is a hit, not a miss.
type MemoryCache struct {
	mu       sync.RWMutex
	all      map[string]map[string]string
	indirect map[string]map[string]string
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		all:      make(map[string]map[string]string),
		indirect: make(map[string]map[string]string),
	}
}

func (c *MemoryCache) ReachableGroups(ctx context.Context, principalID string) (map[string]string, bool, error) {
	return c.read(c.all, principalID)
}

func (c *MemoryCache) IndirectGroups(ctx context.Context, principalID string) (map[string]string, bool, error) {
	return c.read(c.indirect, principalID)
}

func (c *MemoryCache) read(table map[string]map[string]string, principalID string) (map[string]string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := table[principalID]
	if !ok {
		return nil, false, nil
	}
	out := make(map[string]string, len(entry))
	for g, v := range entry {
		out[g] = v
	}
	return out, true, nil
}

func (c *MemoryCache) Put(ctx context.Context, principalID string, all, indirect map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.all[principalID] = copyEntry(all)
	c.indirect[principalID] = copyEntry(indirect)
	return nil
}

func (c *MemoryCache) Invalidate(ctx context.Context, principalIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range principalIDs {
		delete(c.all, id)
		delete(c.indirect, id)
	}
	return nil
}

func copyEntry(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Compile-time interface check
var _ Cache = (*MemoryCache)(nil)
