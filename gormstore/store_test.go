package gormstore

import (
	"context"
	"reflect"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/collabstack/authz/audit"
	"github.com/collabstack/authz/invitation"
	"github.com/collabstack/authz/role"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open("sqlite", ":memory:", nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	return db
}

func TestGrantStoreApplyAndQuery(t *testing.T) {
	s := NewGrantStore(openTestDB(t))
	ctx := context.Background()

	err := s.ApplyChanges(ctx, "c:t:doc", map[string]role.Change{
		"u:t:alice": role.Grant(role.Editor),
		"g:t:team":  role.Grant(role.Viewer),
	})
	if err != nil {
		t.Fatalf("ApplyChanges failed: %v", err)
	}

	m, err := s.RoleMap(ctx, "c:t:doc")
	if err != nil {
		t.Fatalf("RoleMap failed: %v", err)
	}
	want := map[string]role.Role{"u:t:alice": role.Editor, "g:t:team": role.Viewer}
	if !reflect.DeepEqual(m, want) {
		t.Errorf("RoleMap = %v, want %v", m, want)
	}

	// Re-granting upserts rather than duplicating.
	err = s.ApplyChanges(ctx, "c:t:doc", map[string]role.Change{
		"u:t:alice": role.Grant(role.Manager),
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	roles, err := s.RolesForPrincipals(ctx, "c:t:doc", []string{"u:t:alice"})
	if err != nil {
		t.Fatalf("RolesForPrincipals failed: %v", err)
	}
	if roles["u:t:alice"] != role.Manager {
		t.Errorf("role = %v, want manager", roles["u:t:alice"])
	}

	// Revocation deletes the row.
	err = s.ApplyChanges(ctx, "c:t:doc", map[string]role.Change{
		"g:t:team": role.Revoke(),
	})
	if err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	m, _ = s.RoleMap(ctx, "c:t:doc")
	if _, ok := m["g:t:team"]; ok {
		t.Error("revoked grant should be gone")
	}
}

func TestGrantStorePagination(t *testing.T) {
	s := NewGrantStore(openTestDB(t))
	ctx := context.Background()

	err := s.ApplyChanges(ctx, "c:t:doc", map[string]role.Change{
		"u:t:a": role.Grant(role.Viewer),
		"u:t:b": role.Grant(role.Viewer),
		"u:t:c": role.Grant(role.Viewer),
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	page, next, err := s.DirectGrants(ctx, "c:t:doc", "", 2)
	if err != nil {
		t.Fatalf("DirectGrants failed: %v", err)
	}
	if len(page) != 2 || page[0].PrincipalID != "u:t:a" || page[1].PrincipalID != "u:t:b" {
		t.Fatalf("unexpected first page: %v", page)
	}
	if next == "" {
		t.Fatal("expected a continuation cursor")
	}

	page, next, err = s.DirectGrants(ctx, "c:t:doc", next, 2)
	if err != nil {
		t.Fatalf("DirectGrants failed: %v", err)
	}
	if len(page) != 1 || page[0].PrincipalID != "u:t:c" {
		t.Errorf("unexpected second page: %v", page)
	}
	if next != "" {
		t.Errorf("final page should end pagination, got cursor %q", next)
	}
}

func TestGrantStorePrincipalOrientation(t *testing.T) {
	s := NewGrantStore(openTestDB(t))
	ctx := context.Background()

	for resource, r := range map[string]role.Role{
		"c:t:doc":  role.Viewer,
		"g:t:team": role.Member,
	} {
		err := s.ApplyChanges(ctx, resource, map[string]role.Change{
			"u:t:alice": role.Grant(r),
		})
		if err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	all, err := s.AllRolesForPrincipal(ctx, "u:t:alice", "")
	if err != nil {
		t.Fatalf("AllRolesForPrincipal failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 resources, got %v", all)
	}

	groups, err := s.GroupMemberships(ctx, "u:t:alice")
	if err != nil {
		t.Fatalf("GroupMemberships failed: %v", err)
	}
	if !reflect.DeepEqual(groups, []string{"g:t:team"}) {
		t.Errorf("GroupMemberships = %v", groups)
	}
}

func TestInvitationStoreTokenRoundTrip(t *testing.T) {
	s := NewInvitationStore(openTestDB(t))
	ctx := context.Background()

	inv := invitation.Invitation{
		ResourceID: "c:t:doc",
		Email:      "alice@example.com",
		InviterID:  "u:t:admin",
		Role:       role.Editor,
		CreatedAt:  time.Now(),
	}
	if err := s.Upsert(ctx, inv); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// No token yet.
	token, err := s.Token(ctx, "alice@example.com")
	if err != nil || token != "" {
		t.Fatalf("expected no token, got %q err=%v", token, err)
	}

	if err := s.SetToken(ctx, "alice@example.com", "tok-1"); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}
	email, err := s.EmailByToken(ctx, "tok-1")
	if err != nil || email != "alice@example.com" {
		t.Fatalf("EmailByToken = %q err=%v", email, err)
	}

	// Replacing the token keeps a single active one.
	if err := s.SetToken(ctx, "alice@example.com", "tok-2"); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}
	if token, _ = s.Token(ctx, "alice@example.com"); token != "tok-2" {
		t.Errorf("Token = %q, want tok-2", token)
	}
	if email, _ = s.EmailByToken(ctx, "tok-1"); email != "" {
		t.Errorf("replaced token should resolve nothing, got %q", email)
	}

	invs, err := s.ByEmail(ctx, "alice@example.com")
	if err != nil || len(invs) != 1 || invs[0].ResourceID != "c:t:doc" {
		t.Fatalf("ByEmail = %v err=%v", invs, err)
	}

	if err := s.Delete(ctx, "c:t:doc", "alice@example.com"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.DeleteToken(ctx, "tok-2"); err != nil {
		t.Fatalf("DeleteToken failed: %v", err)
	}
	if invs, _ = s.ByEmail(ctx, "alice@example.com"); len(invs) != 0 {
		t.Errorf("invitations should be gone, got %v", invs)
	}
	if email, _ = s.EmailByToken(ctx, "tok-2"); email != "" {
		t.Errorf("deleted token should resolve nothing, got %q", email)
	}
}

func TestTombstoneStore(t *testing.T) {
	s := NewTombstoneStore(openTestDB(t))
	ctx := context.Background()

	if err := s.Set(ctx, "g:t:doomed", true); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	// Setting an existing tombstone is idempotent.
	if err := s.Set(ctx, "g:t:doomed", true); err != nil {
		t.Fatalf("repeated Set failed: %v", err)
	}

	deleted, err := s.IsDeleted(ctx, "g:t:doomed")
	if err != nil || !deleted {
		t.Errorf("IsDeleted = %v err=%v", deleted, err)
	}

	live, err := s.FilterLive(ctx, []string{"g:t:alive", "g:t:doomed", "c:t:doc"})
	if err != nil {
		t.Fatalf("FilterLive failed: %v", err)
	}
	if !reflect.DeepEqual(live, []string{"g:t:alive", "c:t:doc"}) {
		t.Errorf("FilterLive = %v", live)
	}

	if err := s.Set(ctx, "g:t:doomed", false); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if deleted, _ = s.IsDeleted(ctx, "g:t:doomed"); deleted {
		t.Error("cleared tombstone should read live")
	}
}

func TestAuditStoreRoundTrip(t *testing.T) {
	s := NewAuditStore(openTestDB(t))
	ctx := context.Background()

	events := []*audit.Event{
		{
			ID:          "evt-1",
			Type:        audit.TypeGrantsChange,
			ActorID:     "u:t:admin",
			ResourceID:  "c:t:doc",
			TenantAlias: "t",
			Before:      map[string]role.Role{"u:t:bob": role.Viewer},
			After:       map[string]role.Role{"u:t:bob": role.Editor},
			Updated:     []string{"u:t:bob"},
			CreatedAt:   time.Now().Add(-time.Minute),
		},
		{
			ID:         "evt-2",
			Type:       audit.TypeGrantsChange,
			ActorID:    "u:t:admin",
			ResourceID: "c:t:doc",
			Added:      []string{"u:t:carol"},
			CreatedAt:  time.Now(),
		},
	}
	for _, e := range events {
		if err := s.SaveEvent(ctx, e); err != nil {
			t.Fatalf("SaveEvent failed: %v", err)
		}
	}

	got, err := s.EventsForResource(ctx, "c:t:doc", 10)
	if err != nil {
		t.Fatalf("EventsForResource failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].ID != "evt-2" || got[1].ID != "evt-1" {
		t.Errorf("events should be newest first: %s, %s", got[0].ID, got[1].ID)
	}
	if got[1].Before["u:t:bob"] != role.Viewer || got[1].After["u:t:bob"] != role.Editor {
		t.Errorf("role maps did not survive the round trip: %+v", got[1])
	}
	if len(got[1].Updated) != 1 || got[1].Updated[0] != "u:t:bob" {
		t.Errorf("Updated = %v", got[1].Updated)
	}
}
