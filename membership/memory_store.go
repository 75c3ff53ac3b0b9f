package membership

import (
	"context"
	"sort"
	"sync"

	"github.com/collabstack/authz/ident"
	"github.com/collabstack/authz/role"
)

// MemoryStore is an in-memory Store for tests, development, and simple
// single-instance deployments.
type MemoryStore struct {
	mu          sync.RWMutex
	byResource  map[string]map[string]role.Role
	byPrincipal map[string]map[string]role.Role
}

// NewMemoryStore creates an empty in-memory grant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byResource:  make(map[string]map[string]role.Role),
		byPrincipal: make(map[string]map[string]role.Role),
	}
}

// DirectGrants pages through grants on a resource ordered by principal id.
func (s *MemoryStore) DirectGrants(ctx context.Context, resourceID, cursor string, limit int) ([]Grant, string, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	principals := make([]string, 0, len(s.byResource[resourceID]))
	for p := range s.byResource[resourceID] {
		if cursor == "" || p > cursor {
			principals = append(principals, p)
		}
	}
	sort.Strings(principals)

	next := ""
	if len(principals) > limit {
		principals = principals[:limit]
		next = principals[len(principals)-1]
	}

	grants := make([]Grant, 0, len(principals))
	for _, p := range principals {
		grants = append(grants, Grant{
			ResourceID:  resourceID,
			PrincipalID: p,
			Role:        s.byResource[resourceID][p],
		})
	}
	return grants, next, nil
}

// RoleMap returns a copy of the resource's principal -> role map.
func (s *MemoryStore) RoleMap(ctx context.Context, resourceID string) (map[string]role.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]role.Role, len(s.byResource[resourceID]))
	for p, r := range s.byResource[resourceID] {
		out[p] = r
	}
	return out, nil
}

// RolesForPrincipals returns direct roles on a resource for the given ids.
func (s *MemoryStore) RolesForPrincipals(ctx context.Context, resourceID string, principalIDs []string) (map[string]role.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]role.Role)
	grants := s.byResource[resourceID]
	for _, p := range principalIDs {
		if r, ok := grants[p]; ok {
			out[p] = r
		}
	}
	return out, nil
}

// AllRolesForPrincipal returns every resource of the type where the
// principal holds a direct role.
func (s *MemoryStore) AllRolesForPrincipal(ctx context.Context, principalID, resourceType string) ([]ResourceRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ResourceRole
	for resourceID, r := range s.byPrincipal[principalID] {
		if resourceType != "" {
			parsed, err := ident.Parse(resourceID)
			if err != nil || parsed.Type != resourceType {
				continue
			}
		}
		out = append(out, ResourceRole{ResourceID: resourceID, Role: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out, nil
}

// GroupMemberships returns the group ids where the principal holds any
// direct role.
func (s *MemoryStore) GroupMemberships(ctx context.Context, principalID string) ([]string, error) {
	roles, err := s.AllRolesForPrincipal(ctx, principalID, ident.TypeGroup)
	if err != nil {
		return nil, err
	}
	groups := make([]string, 0, len(roles))
	for _, rr := range roles {
		groups = append(groups, rr.ResourceID)
	}
	return groups, nil
}

// ApplyChanges applies a grant/revoke batch under one lock acquisition so
// no partial state is observable.
func (s *MemoryStore) ApplyChanges(ctx context.Context, resourceID string, changes map[string]role.Change) error {
	for _, c := range changes {
		if err := c.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for principalID, c := range changes {
		if c.Remove {
			delete(s.byResource[resourceID], principalID)
			delete(s.byPrincipal[principalID], resourceID)
			continue
		}
		if s.byResource[resourceID] == nil {
			s.byResource[resourceID] = make(map[string]role.Role)
		}
		if s.byPrincipal[principalID] == nil {
			s.byPrincipal[principalID] = make(map[string]role.Role)
		}
		s.byResource[resourceID][principalID] = c.Role
		s.byPrincipal[principalID][resourceID] = c.Role
	}
	return nil
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)
