// Package ident implements the composite identifier codec used across the
// authz core.
//
// Every principal and resource is addressed by a three-part id of the form
// "type:tenantAlias:localId". The local id may itself contain colons, so
// parsing splits on the first two separators only. Groups are both
// principals and resources, which is why the two id spaces share one shape.
//
// Classification is structural: a string is a user id because it looks like
// one, never because a row exists for it.
package ident

import (
	"regexp"
	"strings"

	"github.com/collabstack/authz/errs"
)

// Known resource type tags.
const (
	TypeUser       = "u"
	TypeGroup      = "g"
	TypeContent    = "c"
	TypeDiscussion = "d"
	TypeFolder     = "f"
)

const sep = ":"

var resourceTypes = map[string]bool{
	TypeUser:       true,
	TypeGroup:      true,
	TypeContent:    true,
	TypeDiscussion: true,
	TypeFolder:     true,
}

// ID is a parsed composite identifier.
type ID struct {
	Type   string
	Tenant string
	Local  string
}

// String returns the canonical form "type:tenant:localId".
func (id ID) String() string {
	return id.Type + sep + id.Tenant + sep + id.Local
}

// ToID builds a canonical id string from its parts.
func ToID(resourceType, tenantAlias, localID string) string {
	return ID{Type: resourceType, Tenant: tenantAlias, Local: localID}.String()
}

// Parse splits an id on its first two colons. The local segment keeps any
// further colons verbatim.
func Parse(id string) (ID, error) {
	parts := strings.SplitN(id, sep, 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return ID{}, errs.InvalidArgumentf("malformed id %q", id)
	}
	return ID{Type: parts[0], Tenant: parts[1], Local: parts[2]}, nil
}

// IsUser reports whether id is structurally a user id.
func IsUser(id string) bool {
	parsed, err := Parse(id)
	return err == nil && parsed.Type == TypeUser
}

// IsGroup reports whether id is structurally a group id.
func IsGroup(id string) bool {
	parsed, err := Parse(id)
	return err == nil && parsed.Type == TypeGroup
}

// IsPrincipal reports whether id is structurally a user or group id.
func IsPrincipal(id string) bool {
	return IsUser(id) || IsGroup(id)
}

// IsResource reports whether id is structurally a resource id of any known
// type. Groups qualify; they are principals and resources simultaneously.
func IsResource(id string) bool {
	parsed, err := Parse(id)
	return err == nil && resourceTypes[parsed.Type]
}

// emailRe is deliberately loose. The codec classifies input shapes, it does
// not verify deliverability.
var emailRe = regexp.MustCompile(`^[^\s@:]+@[^\s@:]+\.[^\s@:]+$`)

// IsEmail reports whether s is structurally an email address.
func IsEmail(s string) bool {
	return emailRe.MatchString(s)
}

// ShareTarget is the decoded form of a sharing destination. Exactly one of
// the three accepted shapes sets the fields:
//
//	principal id  -> PrincipalID
//	bare email    -> Email (lower-cased)
//	email:userId  -> both; the email asserts a credential for the user id
type ShareTarget struct {
	PrincipalID string
	Email       string
}

// ParseShareTarget classifies input as one of the three share-target forms.
// The second return is false when the input is none of them.
func ParseShareTarget(input string) (*ShareTarget, bool) {
	if IsPrincipal(input) {
		return &ShareTarget{PrincipalID: input}, true
	}
	if IsEmail(input) {
		return &ShareTarget{Email: strings.ToLower(input)}, true
	}
	// Combined form: everything before the first colon must be an email,
	// everything after must be a valid user id.
	if i := strings.Index(input, sep); i > 0 {
		email, rest := input[:i], input[i+1:]
		if IsEmail(email) && IsUser(rest) {
			return &ShareTarget{Email: strings.ToLower(email), PrincipalID: rest}, true
		}
	}
	return nil, false
}
