// Package role defines the ordered role lattice and the resource
// visibility and joinability enumerations.
//
// Roles form a total order, viewer < member < editor < manager. A role
// change is either a grant of a role or a revocation of membership; the
// two cases are a tagged variant so the remove case is handled explicitly
// rather than smuggled through a magic value.
package role

import (
	"github.com/collabstack/authz/errs"
)

// Role is a named rank in the lattice.
type Role string

const (
	Viewer  Role = "viewer"
	Member  Role = "member"
	Editor  Role = "editor"
	Manager Role = "manager"
)

// Ordered lists the roles from lowest to highest priority.
var Ordered = []Role{Viewer, Member, Editor, Manager}

var priority = map[Role]int{
	Viewer:  0,
	Member:  1,
	Editor:  2,
	Manager: 3,
}

// Valid reports whether r names a known role.
func Valid(r Role) bool {
	_, ok := priority[r]
	return ok
}

// Priority returns r's rank in the lattice, or -1 for unknown roles.
func Priority(r Role) int {
	p, ok := priority[r]
	if !ok {
		return -1
	}
	return p
}

// Compare returns a negative, zero, or positive value as a ranks below,
// equal to, or above b. Unknown roles rank below every valid role.
func Compare(a, b Role) int {
	return Priority(a) - Priority(b)
}

// AtLeast reports whether have satisfies a minimum-role requirement.
func AtLeast(have, min Role) bool {
	return Valid(have) && Valid(min) && Priority(have) >= Priority(min)
}

// Visibility controls who can see a resource.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityLoggedIn Visibility = "loggedin"
	VisibilityPrivate  Visibility = "private"
)

// ValidVisibility reports whether v names a known visibility.
func ValidVisibility(v Visibility) bool {
	switch v {
	case VisibilityPublic, VisibilityLoggedIn, VisibilityPrivate:
		return true
	}
	return false
}

// Joinable controls how principals may join a group-type resource.
type Joinable string

const (
	JoinableNo      Joinable = "no"
	JoinableRequest Joinable = "request"
	JoinableYes     Joinable = "yes"
)

// ValidJoinable reports whether j names a known joinability.
func ValidJoinable(j Joinable) bool {
	switch j {
	case JoinableNo, JoinableRequest, JoinableYes:
		return true
	}
	return false
}

// Change is a requested mutation for one principal on one resource:
// either grant a role or revoke membership entirely.
type Change struct {
	Role   Role
	Remove bool
}

// Grant builds a change that assigns r.
func Grant(r Role) Change {
	return Change{Role: r}
}

// Revoke builds a change that removes membership.
func Revoke() Change {
	return Change{Remove: true}
}

// Validate rejects changes that neither revoke nor carry a valid role.
func (c Change) Validate() error {
	if c.Remove {
		return nil
	}
	if !Valid(c.Role) {
		return errs.InvalidArgumentf("invalid role %q", c.Role)
	}
	return nil
}
