// Package invitation implements the email-keyed parallel grant store.
//
// An invitation is a pending role grant addressed to an email instead of a
// principal id, redeemable with a secret token. Acceptance migrates every
// pending invitation for the email into direct grants for the accepting
// principal and deletes the rows, so a token can be redeemed exactly once.
package invitation

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/collabstack/authz/errs"
	"github.com/collabstack/authz/ident"
	"github.com/collabstack/authz/role"
)

// Invitation is one pending email-addressed role grant.
type Invitation struct {
	ResourceID string
	Email      string
	InviterID  string
	Role       role.Role
	CreatedAt  time.Time
}

// Store persists invitations and the token/email reverse indices. A single
// token is active per email at a time.
type Store interface {
	// Upsert creates or replaces the invitation for (resource, email).
	Upsert(ctx context.Context, inv Invitation) error

	// ByEmail returns every pending invitation for the email.
	ByEmail(ctx context.Context, email string) ([]Invitation, error)

	// Delete removes the invitation for (resource, email). Deleting an
	// absent row is a no-op.
	Delete(ctx context.Context, resourceID, email string) error

	// Token returns the active token for the email, or "" if none exists.
	Token(ctx context.Context, email string) (string, error)

	// SetToken makes token the single active token for the email.
	SetToken(ctx context.Context, email, token string) error

	// EmailByToken resolves a token to its email, or "" if unknown.
	EmailByToken(ctx context.Context, token string) (string, error)

	// DeleteToken removes a token and its reverse-index entry.
	DeleteToken(ctx context.Context, token string) error
}

// GrantApplier converts accepted invitations into direct grants. The authz
// service implements it so acceptance flows through the same invalidation
// and audit path as any other membership write.
type GrantApplier interface {
	ApplyRoleChanges(ctx context.Context, actorID, resourceID string, changes map[string]role.Change) error
}

// Acceptance is the result of redeeming a token.
type Acceptance struct {
	Email       string
	ResourceIDs []string
}

// Ledger is the invitation manager.
type Ledger struct {
	store    Store
	grants   GrantApplier
	log      *zap.Logger
	newToken func() string
	now      func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the ledger's logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) {
		l.log = log
	}
}

// NewLedger creates an invitation ledger over a store and a grant applier.
func NewLedger(store Store, grants GrantApplier, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		grants:   grants,
		log:      zap.NewNop(),
		newToken: uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Invite upserts an invitation and returns the email's active token,
// minting one if none exists. Idempotent per (resource, email).
func (l *Ledger) Invite(ctx context.Context, resourceID, email, inviterUserID string, r role.Role) (string, error) {
	if !ident.IsResource(resourceID) {
		return "", errs.InvalidArgumentf("not a resource id: %q", resourceID)
	}
	if !ident.IsEmail(email) {
		return "", errs.InvalidArgumentf("not an email: %q", email)
	}
	if !ident.IsUser(inviterUserID) {
		return "", errs.InvalidArgumentf("not a user id: %q", inviterUserID)
	}
	if !role.Valid(r) {
		return "", errs.InvalidArgumentf("invalid role %q", r)
	}
	email = strings.ToLower(email)

	inv := Invitation{
		ResourceID: resourceID,
		Email:      email,
		InviterID:  inviterUserID,
		Role:       r,
		CreatedAt:  l.now(),
	}
	if err := l.store.Upsert(ctx, inv); err != nil {
		return "", errs.Storage("upsert invitation", err)
	}

	token, err := l.store.Token(ctx, email)
	if err != nil {
		return "", errs.Storage("read invitation token", err)
	}
	if token == "" {
		token = l.newToken()
		if err := l.store.SetToken(ctx, email, token); err != nil {
			return "", errs.Storage("write invitation token", err)
		}
	}

	l.log.Info("invitation created",
		zap.String("resource_id", resourceID),
		zap.String("email", email),
		zap.String("role", string(r)))
	return token, nil
}

// Accept redeems a token for an authenticated user: every pending
// invitation for the token's email becomes a direct grant for the user,
// the invitation rows are deleted, and the token is consumed. An unknown
// or already-consumed token fails NotFound.
func (l *Ledger) Accept(ctx context.Context, token, acceptingUserID string) (*Acceptance, error) {
	if !ident.IsUser(acceptingUserID) {
		return nil, errs.InvalidArgumentf("not a user id: %q", acceptingUserID)
	}

	email, err := l.store.EmailByToken(ctx, token)
	if err != nil {
		return nil, errs.Storage("resolve invitation token", err)
	}
	if email == "" {
		return nil, errs.NotFoundf("unknown invitation token")
	}

	invitations, err := l.store.ByEmail(ctx, email)
	if err != nil {
		return nil, errs.Storage("read invitations", err)
	}

	resourceIDs := make([]string, 0, len(invitations))
	for _, inv := range invitations {
		changes := map[string]role.Change{acceptingUserID: role.Grant(inv.Role)}
		if err := l.grants.ApplyRoleChanges(ctx, acceptingUserID, inv.ResourceID, changes); err != nil {
			return nil, err
		}
		if err := l.store.Delete(ctx, inv.ResourceID, email); err != nil {
			return nil, errs.Storage("delete invitation", err)
		}
		resourceIDs = append(resourceIDs, inv.ResourceID)
	}

	if err := l.store.DeleteToken(ctx, token); err != nil {
		return nil, errs.Storage("delete invitation token", err)
	}
	sort.Strings(resourceIDs)

	l.log.Info("invitation accepted",
		zap.String("email", email),
		zap.String("user_id", acceptingUserID),
		zap.Int("resources", len(resourceIDs)))
	return &Acceptance{Email: email, ResourceIDs: resourceIDs}, nil
}
