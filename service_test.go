package authz

import (
	"context"
	"testing"
	"time"

	"github.com/collabstack/authz/audit"
	"github.com/collabstack/authz/delta"
	"github.com/collabstack/authz/deletion"
	"github.com/collabstack/authz/errs"
	"github.com/collabstack/authz/invitation"
	"github.com/collabstack/authz/membership"
	"github.com/collabstack/authz/resolver"
	"github.com/collabstack/authz/role"
	"github.com/collabstack/authz/telemetry"
)

func newTestCore() *Core {
	return NewCore(
		membership.NewMemoryStore(),
		resolver.NewMemoryCache(),
		invitation.NewMemoryStore(),
		deletion.NewMemoryTombstones(),
		audit.NewMemoryStore(),
		nil,
	)
}

func setGrants(t *testing.T, core *Core, actorID, resourceID string, changes map[string]role.Change) {
	t.Helper()
	ci, err := core.Service.ComputeRoleChanges(context.Background(), resourceID, changes, delta.Options{})
	if err != nil {
		t.Fatalf("ComputeRoleChanges failed: %v", err)
	}
	if err := core.Service.SetGrants(context.Background(), actorID, resourceID, ci); err != nil {
		t.Fatalf("SetGrants failed: %v", err)
	}
}

func TestSetGrantsAndCheck(t *testing.T) {
	core := newTestCore()
	ctx := context.Background()

	setGrants(t, core, "u:t:admin", "c:t:doc", map[string]role.Change{
		"u:t:alice": role.Grant(role.Editor),
	})

	if err := core.Service.RequireRole(ctx, "u:t:alice", "c:t:doc", role.Viewer); err != nil {
		t.Errorf("editor should satisfy viewer: %v", err)
	}
	if err := core.Service.RequireRole(ctx, "u:t:alice", "c:t:doc", role.Manager); !errs.IsUnauthorized(err) {
		t.Errorf("editor must not satisfy manager, got %v", err)
	}
	if err := core.Service.RequireRole(ctx, "u:t:stranger", "c:t:doc", role.Viewer); !errs.IsUnauthorized(err) {
		t.Errorf("stranger must be denied, got %v", err)
	}
}

// Role checks must reflect a group membership change immediately, even
// when a cached closure predates it.
func TestGroupChangeInvalidatesCachedClosures(t *testing.T) {
	core := newTestCore()
	ctx := context.Background()

	setGrants(t, core, "u:t:admin", "g:t:team", map[string]role.Change{
		"u:t:bob": role.Grant(role.Member),
	})
	setGrants(t, core, "u:t:admin", "c:t:doc", map[string]role.Change{
		"g:t:team": role.Grant(role.Editor),
	})

	// Warm bob's cached closure.
	ok, err := core.Service.HasRole(ctx, "u:t:bob", "c:t:doc", role.Editor)
	if err != nil || !ok {
		t.Fatalf("bob should inherit editor through the team: ok=%v err=%v", ok, err)
	}

	// Kick bob out of the team.
	setGrants(t, core, "u:t:admin", "g:t:team", map[string]role.Change{
		"u:t:bob": role.Revoke(),
	})

	ok, err = core.Service.HasRole(ctx, "u:t:bob", "c:t:doc", role.Viewer)
	if err != nil {
		t.Fatalf("HasRole failed: %v", err)
	}
	if ok {
		t.Error("revoked membership must take effect immediately")
	}

	// Re-adding him restores the inherited role.
	setGrants(t, core, "u:t:admin", "g:t:team", map[string]role.Change{
		"u:t:bob": role.Grant(role.Member),
	})
	ok, err = core.Service.HasRole(ctx, "u:t:bob", "c:t:doc", role.Editor)
	if err != nil || !ok {
		t.Errorf("re-added membership should restore the role: ok=%v err=%v", ok, err)
	}
}

func TestNestedGroupChangeInvalidatesIndirectMembers(t *testing.T) {
	core := newTestCore()
	ctx := context.Background()

	// carol -> inner -> outer, outer holds viewer on the doc.
	setGrants(t, core, "u:t:admin", "g:t:inner", map[string]role.Change{
		"u:t:carol": role.Grant(role.Member),
	})
	setGrants(t, core, "u:t:admin", "g:t:outer", map[string]role.Change{
		"g:t:inner": role.Grant(role.Member),
	})
	setGrants(t, core, "u:t:admin", "c:t:doc", map[string]role.Change{
		"g:t:outer": role.Grant(role.Viewer),
	})

	ok, err := core.Service.HasRole(ctx, "u:t:carol", "c:t:doc", role.Viewer)
	if err != nil || !ok {
		t.Fatalf("carol should inherit through two hops: ok=%v err=%v", ok, err)
	}

	// Detaching inner from outer must invalidate carol's closure too,
	// even though the change never names her.
	setGrants(t, core, "u:t:admin", "g:t:outer", map[string]role.Change{
		"g:t:inner": role.Revoke(),
	})

	ok, err = core.Service.HasRole(ctx, "u:t:carol", "c:t:doc", role.Viewer)
	if err != nil {
		t.Fatalf("HasRole failed: %v", err)
	}
	if ok {
		t.Error("carol's stale closure should have been invalidated transitively")
	}
}

func TestSetGrantsValidation(t *testing.T) {
	core := newTestCore()
	ctx := context.Background()

	if err := core.Service.SetGrants(ctx, "u:t:admin", "c:t:doc", nil); !errs.IsInvalidArgument(err) {
		t.Errorf("nil change info must fail InvalidArgument, got %v", err)
	}

	// An empty delta is a valid no-op.
	if err := core.Service.SetGrants(ctx, "u:t:admin", "c:t:doc", delta.Empty()); err != nil {
		t.Errorf("empty delta should be a no-op: %v", err)
	}

	_, err := core.Service.ComputeRoleChanges(ctx, "nonsense", nil, delta.Options{})
	if !errs.IsInvalidArgument(err) {
		t.Errorf("malformed resource id must fail InvalidArgument, got %v", err)
	}
	_, err = core.Service.ComputeRoleChanges(ctx, "c:t:doc",
		map[string]role.Change{"c:t:other": role.Grant(role.Viewer)}, delta.Options{})
	if !errs.IsInvalidArgument(err) {
		t.Errorf("content ids are not principals, got %v", err)
	}
}

func TestDeletedResourceFailsNotFound(t *testing.T) {
	core := newTestCore()
	ctx := context.Background()

	setGrants(t, core, "u:t:admin", "g:t:team", map[string]role.Change{
		"u:t:alice": role.Grant(role.Manager),
	})
	if err := core.Deletion.DeleteGroup(ctx, "g:t:team"); err != nil {
		t.Fatalf("DeleteGroup failed: %v", err)
	}

	if _, err := core.Service.HasRole(ctx, "u:t:alice", "g:t:team", role.Viewer); !errs.IsNotFound(err) {
		t.Errorf("checks against a deleted resource must fail NotFound, got %v", err)
	}
	if _, _, err := core.Service.DirectGrants(ctx, "g:t:team", "", 10); !errs.IsNotFound(err) {
		t.Errorf("listing a deleted resource must fail NotFound, got %v", err)
	}
	if err := core.Service.SetGrants(ctx, "u:t:admin", "g:t:team", delta.Empty()); !errs.IsNotFound(err) {
		t.Errorf("writing to a deleted resource must fail NotFound, got %v", err)
	}

	// The grant rows survive; restore brings the membership back.
	if err := core.Deletion.RestoreGroup(ctx, "g:t:team"); err != nil {
		t.Fatalf("RestoreGroup failed: %v", err)
	}
	ok, err := core.Service.HasRole(ctx, "u:t:alice", "g:t:team", role.Manager)
	if err != nil || !ok {
		t.Errorf("membership should survive a delete/restore cycle: ok=%v err=%v", ok, err)
	}
}

// A tombstoned group must stop conferring its grants immediately, without
// its rows being touched, and confer them again after restore.
func TestDeletedGroupStopsConferringRoles(t *testing.T) {
	core := newTestCore()
	ctx := context.Background()

	setGrants(t, core, "u:t:admin", "g:t:team", map[string]role.Change{
		"u:t:bob": role.Grant(role.Member),
	})
	setGrants(t, core, "u:t:admin", "c:t:doc", map[string]role.Change{
		"g:t:team": role.Grant(role.Viewer),
	})

	ok, err := core.Service.HasRole(ctx, "u:t:bob", "c:t:doc", role.Viewer)
	if err != nil || !ok {
		t.Fatalf("bob should inherit viewer through the team: ok=%v err=%v", ok, err)
	}

	if err := core.Deletion.DeleteGroup(ctx, "g:t:team"); err != nil {
		t.Fatalf("DeleteGroup failed: %v", err)
	}

	ok, err = core.Service.HasRole(ctx, "u:t:bob", "c:t:doc", role.Viewer)
	if err != nil {
		t.Fatalf("HasRole failed: %v", err)
	}
	if ok {
		t.Error("a deleted group's grants must not confer roles")
	}

	if err := core.Deletion.RestoreGroup(ctx, "g:t:team"); err != nil {
		t.Fatalf("RestoreGroup failed: %v", err)
	}
	ok, err = core.Service.HasRole(ctx, "u:t:bob", "c:t:doc", role.Viewer)
	if err != nil || !ok {
		t.Errorf("restore should bring the inherited role back: ok=%v err=%v", ok, err)
	}
}

func TestAllRolesForPrincipalExcludesDeleted(t *testing.T) {
	core := newTestCore()
	ctx := context.Background()

	setGrants(t, core, "u:t:admin", "g:t:alive", map[string]role.Change{
		"u:t:alice": role.Grant(role.Member),
	})
	setGrants(t, core, "u:t:admin", "g:t:doomed", map[string]role.Change{
		"u:t:alice": role.Grant(role.Member),
	})
	if err := core.Deletion.DeleteGroup(ctx, "g:t:doomed"); err != nil {
		t.Fatalf("DeleteGroup failed: %v", err)
	}

	roles, err := core.Service.AllRolesForPrincipal(ctx, "u:t:alice", "g")
	if err != nil {
		t.Fatalf("AllRolesForPrincipal failed: %v", err)
	}
	if len(roles) != 1 || roles[0].ResourceID != "g:t:alive" {
		t.Errorf("deleted resources should be filtered out, got %v", roles)
	}
}

func TestInvitationFlowGrantsRoles(t *testing.T) {
	core := newTestCore()
	ctx := context.Background()

	token, err := core.Invitations.Invite(ctx, "c:t:doc", "alice@example.com", "u:t:admin", role.Editor)
	if err != nil {
		t.Fatalf("Invite failed: %v", err)
	}

	acc, err := core.Invitations.Accept(ctx, token, "u:t:alice")
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if len(acc.ResourceIDs) != 1 || acc.ResourceIDs[0] != "c:t:doc" {
		t.Errorf("ResourceIDs = %v", acc.ResourceIDs)
	}

	ok, err := core.Service.HasRole(ctx, "u:t:alice", "c:t:doc", role.Editor)
	if err != nil || !ok {
		t.Errorf("acceptance should grant the invited role: ok=%v err=%v", ok, err)
	}

	if _, err := core.Invitations.Accept(ctx, token, "u:t:alice"); !errs.IsNotFound(err) {
		t.Errorf("a consumed token must fail NotFound, got %v", err)
	}
}

// Accepting an invitation and a plain grant write must record events of
// distinct types, so activity feeds can tell the flows apart.
func TestAuditEventTypesPerFlow(t *testing.T) {
	events := audit.NewMemoryStore()
	core := NewCore(
		membership.NewMemoryStore(),
		resolver.NewMemoryCache(),
		invitation.NewMemoryStore(),
		deletion.NewMemoryTombstones(),
		events,
		nil,
	)
	ctx := context.Background()

	setGrants(t, core, "u:t:admin", "c:t:doc", map[string]role.Change{
		"u:t:bob": role.Grant(role.Viewer),
	})

	token, err := core.Invitations.Invite(ctx, "c:t:doc", "alice@example.com", "u:t:admin", role.Editor)
	if err != nil {
		t.Fatalf("Invite failed: %v", err)
	}
	if _, err := core.Invitations.Accept(ctx, token, "u:t:alice"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	// Recording is detached from the write path; poll until both events
	// land.
	got := waitForEvents(t, events, "c:t:doc", 2)
	types := map[string]bool{}
	for _, e := range got {
		types[e.Type] = true
	}
	if !types[audit.TypeGrantsChange] {
		t.Errorf("grant write should record %s, got %v", audit.TypeGrantsChange, types)
	}
	if !types[audit.TypeInvitationAccept] {
		t.Errorf("acceptance should record %s, got %v", audit.TypeInvitationAccept, types)
	}
}

func waitForEvents(t *testing.T, store audit.Store, resourceID string, want int) []*audit.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := store.EventsForResource(context.Background(), resourceID, 10)
		if err != nil {
			t.Fatalf("EventsForResource failed: %v", err)
		}
		if len(got) >= want {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d events for %s, got %d", want, resourceID, len(got))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// A core assembled with a telemetry provider must record through every
// instrumented path without disturbing results. A disabled provider keeps
// the instruments nil, so this also covers the no-op guards.
func TestTelemetryWiring(t *testing.T) {
	tel, err := telemetry.NewProvider(telemetry.Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	core := NewMemoryCore(nil, WithTelemetryProvider(tel))
	ctx := context.Background()

	setGrants(t, core, "u:t:admin", "g:t:team", map[string]role.Change{
		"u:t:bob": role.Grant(role.Member),
	})
	setGrants(t, core, "u:t:admin", "c:t:doc", map[string]role.Change{
		"g:t:team": role.Grant(role.Editor),
	})

	ok, err := core.Service.HasRole(ctx, "u:t:bob", "c:t:doc", role.Editor)
	if err != nil || !ok {
		t.Errorf("instrumented check should behave identically: ok=%v err=%v", ok, err)
	}
}

func TestPromoteOnlyThroughService(t *testing.T) {
	core := newTestCore()
	ctx := context.Background()

	setGrants(t, core, "u:t:admin", "c:t:doc", map[string]role.Change{
		"u:t:alice": role.Grant(role.Manager),
	})

	// A joining flow may only raise roles, never lower or remove them.
	ci, err := core.Service.ComputeRoleChanges(ctx, "c:t:doc", map[string]role.Change{
		"u:t:alice": role.Grant(role.Viewer),
		"u:t:bob":   role.Grant(role.Member),
	}, delta.Options{PromoteOnly: true})
	if err != nil {
		t.Fatalf("ComputeRoleChanges failed: %v", err)
	}
	if err := core.Service.SetGrants(ctx, "u:t:admin", "c:t:doc", ci); err != nil {
		t.Fatalf("SetGrants failed: %v", err)
	}

	ok, err := core.Service.HasRole(ctx, "u:t:alice", "c:t:doc", role.Manager)
	if err != nil || !ok {
		t.Errorf("the demotion should have been dropped: ok=%v err=%v", ok, err)
	}
	ok, err = core.Service.HasRole(ctx, "u:t:bob", "c:t:doc", role.Member)
	if err != nil || !ok {
		t.Errorf("the fresh grant should have been applied: ok=%v err=%v", ok, err)
	}
}
