// Package membership persists direct role grants, the source of truth for
// every authorization decision.
//
// A grant is a (resource, principal, role) triple with at most one row per
// (resource, principal) pair; a write on an existing pair overwrites.
// Writes are applied as per-resource atomic batches of pre-computed
// changes, never as full replacement maps, so unrelated concurrent writers
// do not race on unrelated principals.
package membership

import (
	"github.com/collabstack/authz/role"
)

// Grant is one direct role assignment.
type Grant struct {
	ResourceID  string
	PrincipalID string
	Role        role.Role
}

// ResourceRole pairs a resource with the role a principal holds on it.
type ResourceRole struct {
	ResourceID string
	Role       role.Role
}

// DefaultPageLimit bounds DirectGrants reads when the caller passes a
// non-positive limit.
const DefaultPageLimit = 25
