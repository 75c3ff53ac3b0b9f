package delta

import (
	"sort"

	"github.com/collabstack/authz/role"
)

// Principal is a resolved principal record substituted for a bare id in a
// member projection. Resolution is the caller's concern; the engine only
// carries the result.
type Principal struct {
	ID          string
	DisplayName string
	Email       string
}

// MemberChange pairs a resolved principal with its applied change.
type MemberChange struct {
	Principal Principal
	Change    role.Change
}

// MemberChangeInfo is a read-only projection of a ChangeInfo with resolved
// principals in place of bare ids.
type MemberChangeInfo struct {
	info    *ChangeInfo
	members map[string]Principal
}

// Members builds a member projection by resolving every id in the change
// set through lookup. Resolution failures abort the projection; the
// underlying ChangeInfo is untouched.
func (ci *ChangeInfo) Members(lookup func(id string) (Principal, error)) (*MemberChangeInfo, error) {
	members := make(map[string]Principal, len(ci.Changes))
	for id := range ci.Changes {
		p, err := lookup(id)
		if err != nil {
			return nil, err
		}
		members[id] = p
	}
	return &MemberChangeInfo{info: ci, members: members}, nil
}

// Changes lists the applied changes with resolved principals, ordered by id.
func (m *MemberChangeInfo) Changes() []MemberChange {
	out := make([]MemberChange, 0, len(m.info.Changes))
	for _, id := range m.info.PrincipalIDs() {
		out = append(out, MemberChange{Principal: m.members[id], Change: m.info.Changes[id]})
	}
	return out
}

func (m *MemberChangeInfo) Added() []Principal   { return m.resolve(m.info.Added) }
func (m *MemberChangeInfo) Updated() []Principal { return m.resolve(m.info.Updated) }
func (m *MemberChangeInfo) Removed() []Principal { return m.resolve(m.info.Removed) }

func (m *MemberChangeInfo) resolve(ids []string) []Principal {
	out := make([]Principal, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.members[id])
	}
	return out
}

// EmailChangeInfo is a read-only projection of a ChangeInfo whose ids are
// email addresses, as produced by the invitation ledger.
type EmailChangeInfo struct {
	info *ChangeInfo
}

// Emails wraps a ChangeInfo keyed by email addresses.
func (ci *ChangeInfo) Emails() *EmailChangeInfo {
	return &EmailChangeInfo{info: ci}
}

// Changes returns the applied changes keyed by email. The map is a copy.
func (e *EmailChangeInfo) Changes() map[string]role.Change {
	out := make(map[string]role.Change, len(e.info.Changes))
	for email, c := range e.info.Changes {
		out[email] = c
	}
	return out
}

// All returns every email touched by the change set, sorted.
func (e *EmailChangeInfo) All() []string {
	emails := e.info.PrincipalIDs()
	sort.Strings(emails)
	return emails
}

func (e *EmailChangeInfo) Added() []string   { return append([]string(nil), e.info.Added...) }
func (e *EmailChangeInfo) Updated() []string { return append([]string(nil), e.info.Updated...) }
func (e *EmailChangeInfo) Removed() []string { return append([]string(nil), e.info.Removed...) }
