// Package delta computes the canonical difference between a resource's
// role map and a requested batch of role changes.
//
// Feature code calls Compute before every bulk membership write: the
// resulting ChangeInfo carries the minimal change set to hand to the
// membership store plus the full before/after maps and added/updated/
// removed id lists for auditing. The engine is pure, it performs no I/O.
package delta

import (
	"sort"

	"github.com/collabstack/authz/errs"
	"github.com/collabstack/authz/role"
)

// Options tunes a Compute run.
type Options struct {
	// PromoteOnly drops removals and any change that does not strictly
	// raise the principal's existing role. Dropped entries are stripped
	// from the resulting Changes so the snapshot reflects only what will
	// actually be applied.
	PromoteOnly bool
}

// ChangeInfo is an immutable snapshot of one delta computation. It is
// created fresh per call and never mutated after return.
type ChangeInfo struct {
	// Changes holds the effective change per id; no-ops and (with
	// PromoteOnly) non-promotions are absent.
	Changes map[string]role.Change

	// Before and After are the full role maps around the change.
	Before map[string]role.Role
	After  map[string]role.Role

	// Added, Updated, and Removed classify every id in Changes. Sorted.
	Added   []string
	Updated []string
	Removed []string
}

// Empty returns the canonical zero-change snapshot, the base case for
// resources with no prior members.
func Empty() *ChangeInfo {
	return &ChangeInfo{
		Changes: map[string]role.Change{},
		Before:  map[string]role.Role{},
		After:   map[string]role.Role{},
		Added:   []string{},
		Updated: []string{},
		Removed: []string{},
	}
}

// Compute classifies each requested change against the before map.
//
// Per id: removing an existing grant lands in Removed; a role for a new id
// lands in Added; a differing role for an existing id lands in Updated.
// Anything with no net effect (granting a role already held, removing a
// non-member) is dropped entirely.
func Compute(before map[string]role.Role, changes map[string]role.Change, opts Options) (*ChangeInfo, error) {
	for id, c := range changes {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if id == "" {
			return nil, errs.InvalidArgumentf("empty principal id in change set")
		}
	}

	info := Empty()
	for id, r := range before {
		info.Before[id] = r
		info.After[id] = r
	}

	for id, c := range changes {
		existing, hasExisting := before[id]

		if c.Remove {
			if !hasExisting {
				continue // removing a non-member is a no-op
			}
			if opts.PromoteOnly {
				continue
			}
			info.Changes[id] = c
			info.Removed = append(info.Removed, id)
			delete(info.After, id)
			continue
		}

		if hasExisting && existing == c.Role {
			continue // already holds this role
		}
		if opts.PromoteOnly && hasExisting && role.Compare(c.Role, existing) <= 0 {
			continue
		}

		info.Changes[id] = c
		info.After[id] = c.Role
		if hasExisting {
			info.Updated = append(info.Updated, id)
		} else {
			info.Added = append(info.Added, id)
		}
	}

	sort.Strings(info.Added)
	sort.Strings(info.Updated)
	sort.Strings(info.Removed)
	return info, nil
}

// IsEmpty reports whether the computation found nothing to apply.
func (ci *ChangeInfo) IsEmpty() bool {
	return len(ci.Changes) == 0
}

// PrincipalIDs returns every id touched by the change set, sorted. This is
// the invalidation fan-out seed for the resolver cache.
func (ci *ChangeInfo) PrincipalIDs() []string {
	ids := make([]string, 0, len(ci.Changes))
	for id := range ci.Changes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
