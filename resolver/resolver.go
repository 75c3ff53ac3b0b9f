package resolver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/collabstack/authz/errs"
	"github.com/collabstack/authz/ident"
	"github.com/collabstack/authz/membership"
	"github.com/collabstack/authz/role"
	"github.com/collabstack/authz/telemetry"
)

// GroupFilter narrows a set of group ids before they are consulted for
// role conferral. The deletion subsystem installs one so tombstoned
// groups stop conferring roles without their grant rows being touched.
type GroupFilter func(ctx context.Context, groupIDs []string) ([]string, error)

// Resolver computes effective roles and the transitive closure of group
// membership. The membership graph is not guaranteed acyclic; traversal
// uses an explicit visited set keyed by group id, so cycles terminate and
// shared ancestors are visited once. Cost is O(V+E) over the reachable
// subgraph.
type Resolver struct {
	store  membership.Store
	cache  Cache
	filter GroupFilter
	tel    *telemetry.Provider
	log    *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for swallowed cache failures.
func WithLogger(log *zap.Logger) Option {
	return func(r *Resolver) {
		r.log = log
	}
}

// WithGroupFilter installs a filter applied to reachable groups before
// their grants confer roles. The closure itself stays unfiltered, so a
// filtered group's memberships survive intact.
func WithGroupFilter(f GroupFilter) Option {
	return func(r *Resolver) {
		r.filter = f
	}
}

// WithTelemetry wires metric recording into graph walks and cache
// invalidation.
func WithTelemetry(tel *telemetry.Provider) Option {
	return func(r *Resolver) {
		r.tel = tel
	}
}

// New creates a Resolver over a grant store and a reachability cache.
func New(store membership.Store, cache Cache, opts ...Option) *Resolver {
	r := &Resolver{store: store, cache: cache, log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HasRole reports whether the principal holds at least min on the
// resource, directly or through any reachable group that holds a
// sufficient direct grant. Group membership itself is binary; only direct
// grants carry a role.
func (r *Resolver) HasRole(ctx context.Context, principalID, resourceID string, min role.Role) (bool, error) {
	if !ident.IsPrincipal(principalID) {
		return false, errs.InvalidArgumentf("not a principal id: %q", principalID)
	}
	if !ident.IsResource(resourceID) {
		return false, errs.InvalidArgumentf("not a resource id: %q", resourceID)
	}
	if !role.Valid(min) {
		return false, errs.InvalidArgumentf("invalid role %q", min)
	}

	direct, err := r.store.RolesForPrincipals(ctx, resourceID, []string{principalID})
	if err != nil {
		return false, errs.Storage("read direct grant", err)
	}
	if role.AtLeast(direct[principalID], min) {
		return true, nil
	}

	groups, err := r.ReachableGroups(ctx, principalID)
	if err != nil {
		return false, err
	}
	if len(groups) == 0 {
		return false, nil
	}

	groupIDs := make([]string, 0, len(groups))
	for g := range groups {
		groupIDs = append(groupIDs, g)
	}
	if r.filter != nil {
		groupIDs, err = r.filter(ctx, groupIDs)
		if err != nil {
			return false, errs.Storage("filter reachable groups", err)
		}
		if len(groupIDs) == 0 {
			return false, nil
		}
	}
	groupRoles, err := r.store.RolesForPrincipals(ctx, resourceID, groupIDs)
	if err != nil {
		return false, errs.Storage("read group grants", err)
	}
	for _, held := range groupRoles {
		if role.AtLeast(held, min) {
			return true, nil
		}
	}
	return false, nil
}

// ReachableGroups returns every group the principal belongs to, directly or
// indirectly. Cache-first; a miss walks the graph and writes through.
func (r *Resolver) ReachableGroups(ctx context.Context, principalID string) (map[string]bool, error) {
	cached, ok, err := r.cache.ReachableGroups(ctx, principalID)
	if err != nil {
		// Advisory read; a broken cache degrades to a graph walk.
		r.log.Warn("reachability cache read failed", zap.String("principal_id", principalID), zap.Error(err))
	} else if ok {
		return toSet(cached), nil
	}

	all, _, err := r.walk(ctx, principalID)
	return all, err
}

// IndirectGroups returns the groups reachable only through at least one
// intermediate group. A group the principal is also a direct member of is
// absent.
func (r *Resolver) IndirectGroups(ctx context.Context, principalID string) (map[string]bool, error) {
	cached, ok, err := r.cache.IndirectGroups(ctx, principalID)
	if err != nil {
		r.log.Warn("reachability cache read failed", zap.String("principal_id", principalID), zap.Error(err))
	} else if ok {
		return toSet(cached), nil
	}

	_, indirect, err := r.walk(ctx, principalID)
	return indirect, err
}

// Refresh recomputes the principal's closure, bypassing the cache read.
// Administrative override paths use this to avoid trusting cached state.
func (r *Resolver) Refresh(ctx context.Context, principalID string) (map[string]bool, error) {
	all, _, err := r.walk(ctx, principalID)
	return all, err
}

// walk performs the breadth-first traversal from the principal's direct
// group memberships, following member-of edges outward. The returned sets
// are the full closure and its indirect-only subset; both are written
// through to the cache on success.
func (r *Resolver) walk(ctx context.Context, principalID string) (all, indirect map[string]bool, err error) {
	start := time.Now()

	directGroups, err := r.store.GroupMemberships(ctx, principalID)
	if err != nil {
		return nil, nil, errs.Storage("read group memberships", err)
	}

	direct := make(map[string]bool, len(directGroups))
	for _, g := range directGroups {
		direct[g] = true
	}

	visited := make(map[string]bool)
	queue := append([]string(nil), directGroups...)
	for len(queue) > 0 {
		g := queue[0]
		queue = queue[1:]
		// A principal is never its own reachable group, even on a cycle.
		if visited[g] || g == principalID {
			continue
		}
		visited[g] = true

		next, err := r.store.GroupMemberships(ctx, g)
		if err != nil {
			return nil, nil, errs.Storage("read group memberships", err)
		}
		queue = append(queue, next...)
	}

	all = visited
	indirect = make(map[string]bool)
	for g := range visited {
		if !direct[g] {
			indirect[g] = true
		}
	}

	if err := r.cache.Put(ctx, principalID, toMarkers(all), toMarkers(indirect)); err != nil {
		// A failed population must not fail the read it was servicing.
		r.log.Warn("reachability cache write failed", zap.String("principal_id", principalID), zap.Error(err))
	}
	if r.tel != nil {
		r.tel.RecordResolveDuration(ctx, time.Since(start))
	}
	return all, indirect, nil
}

// InvalidatePrincipals drops the cached closures for the given principals.
// Safe to run redundantly.
func (r *Resolver) InvalidatePrincipals(ctx context.Context, principalIDs ...string) error {
	if len(principalIDs) == 0 {
		return nil
	}
	if err := r.cache.Invalidate(ctx, principalIDs...); err != nil {
		return err
	}
	if r.tel != nil {
		r.tel.RecordInvalidations(ctx, len(principalIDs))
	}
	return nil
}

// MembersClosure walks the inverse direction: every principal, user or
// group, that is a direct or indirect member of the given group. These are
// exactly the principals whose reachable sets include the group.
func (r *Resolver) MembersClosure(ctx context.Context, groupID string) ([]string, error) {
	visited := make(map[string]bool)
	queue := []string{groupID}
	var members []string

	for len(queue) > 0 {
		g := queue[0]
		queue = queue[1:]

		cursor := ""
		for {
			grants, next, err := r.store.DirectGrants(ctx, g, cursor, membership.DefaultPageLimit)
			if err != nil {
				return nil, errs.Storage("read direct grants", err)
			}
			for _, grant := range grants {
				if visited[grant.PrincipalID] || grant.PrincipalID == groupID {
					continue
				}
				visited[grant.PrincipalID] = true
				members = append(members, grant.PrincipalID)
				if ident.IsGroup(grant.PrincipalID) {
					queue = append(queue, grant.PrincipalID)
				}
			}
			if next == "" {
				break
			}
			cursor = next
		}
	}
	return members, nil
}

// InvalidateGroupMembers drops the cached closure of everyone who can
// reach the group. This is the conservative fan-out used after any grant
// change on a group-type resource: cheap to reason about, redundant
// invalidation is harmless, and entries repopulate lazily.
func (r *Resolver) InvalidateGroupMembers(ctx context.Context, groupID string) error {
	members, err := r.MembersClosure(ctx, groupID)
	if err != nil {
		return err
	}
	return r.InvalidatePrincipals(ctx, members...)
}

func toSet(entry map[string]string) map[string]bool {
	out := make(map[string]bool, len(entry))
	for g := range entry {
		out[g] = true
	}
	return out
}

func toMarkers(set map[string]bool) map[string]string {
	out := make(map[string]string, len(set))
	for g := range set {
		out[g] = Marker
	}
	return out
}
