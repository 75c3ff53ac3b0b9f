package membership

import (
	"context"

	"github.com/collabstack/authz/role"
)

// Store is the persistence contract for direct grants. Implementations
// keep both orientations queryable: by resource for member listings and by
// principal for "what can P touch" queries.
type Store interface {
	// DirectGrants returns one page of grants on a resource, ordered by
	// principal id for stable pagination. The returned cursor is empty
	// when no further page exists; pass it back verbatim to continue.
	DirectGrants(ctx context.Context, resourceID, cursor string, limit int) ([]Grant, string, error)

	// RoleMap returns every direct grant on a resource as principal -> role.
	// This is the "before" map fed to the role delta engine.
	RoleMap(ctx context.Context, resourceID string) (map[string]role.Role, error)

	// RolesForPrincipals returns the roles the given principals hold
	// directly on a resource. Principals without a grant are absent.
	RolesForPrincipals(ctx context.Context, resourceID string, principalIDs []string) (map[string]role.Role, error)

	// AllRolesForPrincipal returns every resource of the given type where
	// the principal holds a direct role. An empty resourceType matches all.
	AllRolesForPrincipal(ctx context.Context, principalID, resourceType string) ([]ResourceRole, error)

	// GroupMemberships returns the ids of group resources where the
	// principal holds any direct role. These are the outbound edges of the
	// membership graph.
	GroupMemberships(ctx context.Context, principalID string) ([]string, error)

	// ApplyChanges applies a batch of grant/revoke operations on one
	// resource as a single atomic write unit. No partial application is
	// observable.
	ApplyChanges(ctx context.Context, resourceID string, changes map[string]role.Change) error
}
