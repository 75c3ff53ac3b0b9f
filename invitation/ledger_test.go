package invitation

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/collabstack/authz/errs"
	"github.com/collabstack/authz/role"
)

// --- Mocks ---

type appliedChange struct {
	actorID    string
	resourceID string
	changes    map[string]role.Change
}

// recordingApplier captures every grant conversion.
type recordingApplier struct {
	applied []appliedChange
	fail    error
}

func (a *recordingApplier) ApplyRoleChanges(ctx context.Context, actorID, resourceID string, changes map[string]role.Change) error {
	if a.fail != nil {
		return a.fail
	}
	a.applied = append(a.applied, appliedChange{actorID: actorID, resourceID: resourceID, changes: changes})
	return nil
}

func newTestLedger(applier GrantApplier) *Ledger {
	l := NewLedger(NewMemoryStore(), applier)
	n := 0
	l.newToken = func() string {
		n++
		return fmt.Sprintf("token-%d", n)
	}
	l.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return l
}

// --- Tests ---

func TestInviteMintsOneTokenPerEmail(t *testing.T) {
	l := newTestLedger(&recordingApplier{})
	ctx := context.Background()

	first, err := l.Invite(ctx, "c:t:doc1", "Alice@Example.com", "u:t:inviter", role.Viewer)
	if err != nil {
		t.Fatalf("Invite failed: %v", err)
	}
	second, err := l.Invite(ctx, "c:t:doc2", "alice@example.com", "u:t:inviter", role.Editor)
	if err != nil {
		t.Fatalf("Invite failed: %v", err)
	}
	if first != second {
		t.Errorf("one email must carry one active token, got %q and %q", first, second)
	}

	// The mixed-case address normalizes to one email bucket.
	invs, err := l.store.ByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("ByEmail failed: %v", err)
	}
	if len(invs) != 2 {
		t.Errorf("expected 2 pending invitations, got %d", len(invs))
	}
}

func TestInviteValidation(t *testing.T) {
	l := newTestLedger(&recordingApplier{})
	ctx := context.Background()

	cases := []struct {
		name     string
		resource string
		email    string
		inviter  string
		r        role.Role
	}{
		{"bad resource", "nonsense", "a@b.com", "u:t:i", role.Viewer},
		{"bad email", "c:t:doc", "not-an-email", "u:t:i", role.Viewer},
		{"group inviter", "c:t:doc", "a@b.com", "g:t:team", role.Viewer},
		{"bad role", "c:t:doc", "a@b.com", "u:t:i", "bogus"},
	}
	for _, tc := range cases {
		if _, err := l.Invite(ctx, tc.resource, tc.email, tc.inviter, tc.r); !errs.IsInvalidArgument(err) {
			t.Errorf("%s: want InvalidArgument, got %v", tc.name, err)
		}
	}
}

func TestAcceptConvertsAndConsumes(t *testing.T) {
	applier := &recordingApplier{}
	l := newTestLedger(applier)
	ctx := context.Background()

	token, err := l.Invite(ctx, "c:t:doc2", "alice@example.com", "u:t:inviter", role.Editor)
	if err != nil {
		t.Fatalf("Invite failed: %v", err)
	}
	if _, err := l.Invite(ctx, "c:t:doc1", "alice@example.com", "u:t:inviter", role.Viewer); err != nil {
		t.Fatalf("Invite failed: %v", err)
	}

	acc, err := l.Accept(ctx, token, "u:t:alice")
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if acc.Email != "alice@example.com" {
		t.Errorf("Email = %q", acc.Email)
	}
	if !reflect.DeepEqual(acc.ResourceIDs, []string{"c:t:doc1", "c:t:doc2"}) {
		t.Errorf("ResourceIDs = %v", acc.ResourceIDs)
	}

	if len(applier.applied) != 2 {
		t.Fatalf("expected 2 grant conversions, got %d", len(applier.applied))
	}
	for _, a := range applier.applied {
		if a.actorID != "u:t:alice" {
			t.Errorf("actor = %q, want the accepting user", a.actorID)
		}
		if len(a.changes) != 1 {
			t.Errorf("each conversion targets exactly the accepting user, got %v", a.changes)
		}
	}

	// The invitation rows are gone.
	left, err := l.store.ByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("ByEmail failed: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("accepted invitations should be deleted, got %v", left)
	}
}

func TestAcceptConsumedTokenFailsNotFound(t *testing.T) {
	l := newTestLedger(&recordingApplier{})
	ctx := context.Background()

	token, err := l.Invite(ctx, "c:t:doc", "alice@example.com", "u:t:inviter", role.Viewer)
	if err != nil {
		t.Fatalf("Invite failed: %v", err)
	}
	if _, err := l.Accept(ctx, token, "u:t:alice"); err != nil {
		t.Fatalf("first Accept failed: %v", err)
	}

	if _, err := l.Accept(ctx, token, "u:t:alice"); !errs.IsNotFound(err) {
		t.Errorf("second Accept must fail NotFound, got %v", err)
	}
}

func TestAcceptUnknownTokenFailsNotFound(t *testing.T) {
	l := newTestLedger(&recordingApplier{})
	if _, err := l.Accept(context.Background(), "never-minted", "u:t:alice"); !errs.IsNotFound(err) {
		t.Errorf("unknown token must fail NotFound, got %v", err)
	}
}

func TestAcceptRejectsNonUser(t *testing.T) {
	l := newTestLedger(&recordingApplier{})
	if _, err := l.Accept(context.Background(), "token-1", "g:t:team"); !errs.IsInvalidArgument(err) {
		t.Errorf("groups cannot accept invitations, got %v", err)
	}
}

func TestAcceptSurfacesGrantFailure(t *testing.T) {
	applier := &recordingApplier{fail: errs.Storage("apply grant changes", context.DeadlineExceeded)}
	l := newTestLedger(applier)
	ctx := context.Background()

	token, err := l.Invite(ctx, "c:t:doc", "alice@example.com", "u:t:inviter", role.Viewer)
	if err != nil {
		t.Fatalf("Invite failed: %v", err)
	}

	if _, err := l.Accept(ctx, token, "u:t:alice"); !errs.IsStorage(err) {
		t.Fatalf("grant failure must surface, got %v", err)
	}

	// The token survives a failed conversion so the user can retry.
	email, err := l.store.EmailByToken(ctx, token)
	if err != nil {
		t.Fatalf("EmailByToken failed: %v", err)
	}
	if email != "alice@example.com" {
		t.Error("token must not be consumed when conversion fails")
	}
}
