// Package resolver answers "does principal P hold at least role R on
// resource X", resolving indirect membership through the group graph with
// a split reachability cache.
//
// The cache is derived, advisory state: entries are invalidated, never
// written with business intent, and repopulated lazily on the next read.
// The membership store stays the source of truth, so a stale cache entry
// can cause a transient misanswer on a reachability check but never state
// corruption. A cache miss always forces a fresh graph walk.
package resolver

import (
	"context"
)

// Marker is the opaque non-empty value stored per cached (principal,
// group) pair. Absence of a row means cache miss, not "not a member".
const Marker = "1"

// Cache holds two parallel tables per principal: every reachable group,
// and the strict subset reachable only indirectly. A principal that is
// both a direct and an indirect member of a group appears only in the
// first table.
type Cache interface {
	// ReachableGroups returns the cached reachable set. ok is false on a
	// miss; an empty populated set is a valid hit.
	ReachableGroups(ctx context.Context, principalID string) (groups map[string]string, ok bool, err error)

	// IndirectGroups returns the cached indirect-only set.
	IndirectGroups(ctx context.Context, principalID string) (groups map[string]string, ok bool, err error)

	// Put populates both tables for a principal in one shot, replacing any
	// previous entry.
	Put(ctx context.Context, principalID string, all, indirect map[string]string) error

	// Invalidate deletes both tables for each principal. Invalidating an
	// absent entry is a no-op; redundant invalidation is safe.
	Invalidate(ctx context.Context, principalIDs ...string) error
}
