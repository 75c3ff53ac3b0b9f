package authz

import (
	"context"

	"go.uber.org/zap"

	"github.com/collabstack/authz/audit"
	"github.com/collabstack/authz/delta"
	"github.com/collabstack/authz/deletion"
	"github.com/collabstack/authz/errs"
	"github.com/collabstack/authz/ident"
	"github.com/collabstack/authz/membership"
	"github.com/collabstack/authz/resolver"
	"github.com/collabstack/authz/role"
	"github.com/collabstack/authz/telemetry"
)

// Service is the collaborator-facing surface of the authz core. Feature
// code checks roles through it and expresses every bulk membership write
// as a pre-computed delta, so the write path stays a minimal diff and the
// cache invalidation fan-out is derivable from the change set.
type Service struct {
	store    membership.Store
	resolver *resolver.Resolver
	deletion *deletion.Coordinator
	recorder *audit.Recorder
	tel      *telemetry.Provider
	log      *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDeletion wires the deletion coordinator so read paths exclude
// tombstoned resources.
func WithDeletion(c *deletion.Coordinator) ServiceOption {
	return func(s *Service) {
		s.deletion = c
	}
}

// WithAudit wires an audit recorder; every applied delta emits one event.
func WithAudit(r *audit.Recorder) ServiceOption {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(log *zap.Logger) ServiceOption {
	return func(s *Service) {
		s.log = log
	}
}

// WithTelemetry wires metric recording into the grant write path.
func WithTelemetry(tel *telemetry.Provider) ServiceOption {
	return func(s *Service) {
		s.tel = tel
	}
}

// NewService creates the orchestrating service over a grant store and a
// resolver.
func NewService(store membership.Store, res *resolver.Resolver, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		resolver: res,
		recorder: audit.NewRecorder(nil, nil),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolver exposes the underlying membership resolver.
func (s *Service) Resolver() *resolver.Resolver {
	return s.resolver
}

// HasRole reports whether the principal holds at least min on the
// resource. A tombstoned resource fails NotFound rather than answering
// from historical grants.
func (s *Service) HasRole(ctx context.Context, principalID, resourceID string, min role.Role) (bool, error) {
	if err := s.requireLive(ctx, resourceID); err != nil {
		return false, err
	}
	return s.resolver.HasRole(ctx, principalID, resourceID, min)
}

// RequireRole fails Unauthorized when the principal does not hold at least
// min on the resource.
func (s *Service) RequireRole(ctx context.Context, principalID, resourceID string, min role.Role) error {
	allowed, err := s.HasRole(ctx, principalID, resourceID, min)
	if err != nil {
		return err
	}
	if !allowed {
		return errs.Unauthorizedf("%s does not have %s on %s", principalID, min, resourceID)
	}
	return nil
}

// DirectGrants pages through the direct grants on a resource.
func (s *Service) DirectGrants(ctx context.Context, resourceID, cursor string, limit int) ([]membership.Grant, string, error) {
	if err := s.requireLive(ctx, resourceID); err != nil {
		return nil, "", err
	}
	grants, next, err := s.store.DirectGrants(ctx, resourceID, cursor, limit)
	if err != nil {
		return nil, "", errs.Storage("read direct grants", err)
	}
	return grants, next, nil
}

// AllRolesForPrincipal returns every live resource of the given type where
// the principal holds a direct role.
func (s *Service) AllRolesForPrincipal(ctx context.Context, principalID, resourceType string) ([]membership.ResourceRole, error) {
	all, err := s.store.AllRolesForPrincipal(ctx, principalID, resourceType)
	if err != nil {
		return nil, errs.Storage("read principal roles", err)
	}
	if s.deletion == nil {
		return all, nil
	}

	ids := make([]string, len(all))
	for i, rr := range all {
		ids[i] = rr.ResourceID
	}
	live, err := s.deletion.FilterDeleted(ctx, ids)
	if err != nil {
		return nil, err
	}
	liveSet := make(map[string]bool, len(live))
	for _, id := range live {
		liveSet[id] = true
	}
	out := all[:0]
	for _, rr := range all {
		if liveSet[rr.ResourceID] {
			out = append(out, rr)
		}
	}
	return out, nil
}

// ComputeRoleChanges reads the resource's current role map and computes
// the canonical delta for the requested changes. Pure beyond the single
// read; nothing is written.
func (s *Service) ComputeRoleChanges(ctx context.Context, resourceID string, changes map[string]role.Change, opts delta.Options) (*delta.ChangeInfo, error) {
	if !ident.IsResource(resourceID) {
		return nil, errs.InvalidArgumentf("not a resource id: %q", resourceID)
	}
	for id := range changes {
		if !ident.IsPrincipal(id) {
			return nil, errs.InvalidArgumentf("not a principal id: %q", id)
		}
	}
	before, err := s.store.RoleMap(ctx, resourceID)
	if err != nil {
		return nil, errs.Storage("read role map", err)
	}
	return delta.Compute(before, changes, opts)
}

// SetGrants applies a pre-computed delta to a resource as one atomic
// batch, fans out cache invalidation, and emits an audit event. The
// change set must come from ComputeRoleChanges (or delta.Compute); raw
// replacement maps are not accepted anywhere in the core.
func (s *Service) SetGrants(ctx context.Context, actorID, resourceID string, ci *delta.ChangeInfo) error {
	return s.applyDelta(ctx, actorID, resourceID, ci, audit.TypeGrantsChange)
}

func (s *Service) applyDelta(ctx context.Context, actorID, resourceID string, ci *delta.ChangeInfo, eventType string) error {
	if ci == nil {
		return errs.InvalidArgumentf("nil change info")
	}
	if err := s.requireLive(ctx, resourceID); err != nil {
		return err
	}
	if ci.IsEmpty() {
		return nil
	}

	// Snapshot the group's members before the write: principals detached
	// by this change are only reachable on the pre-change graph, and their
	// cached closures must be dropped too.
	var priorMembers []string
	if ident.IsGroup(resourceID) {
		var err error
		priorMembers, err = s.resolver.MembersClosure(ctx, resourceID)
		if err != nil {
			s.log.Warn("pre-change members snapshot failed",
				zap.String("group_id", resourceID), zap.Error(err))
		}
	}

	if err := s.store.ApplyChanges(ctx, resourceID, ci.Changes); err != nil {
		if errs.IsInvalidArgument(err) {
			return err
		}
		// Source-of-truth path: never swallowed.
		return errs.Storage("apply grant changes", err)
	}

	s.invalidate(ctx, resourceID, ci, priorMembers)
	s.recorder.RecordChangeAsync(eventType, actorID, resourceID, ci)
	if s.tel != nil {
		resourceType := ""
		if parsed, err := ident.Parse(resourceID); err == nil {
			resourceType = parsed.Type
		}
		s.tel.RecordGrantChanges(ctx, resourceType, len(ci.Changes))
	}

	s.log.Info("grants applied",
		zap.String("resource_id", resourceID),
		zap.String("actor_id", actorID),
		zap.Int("added", len(ci.Added)),
		zap.Int("updated", len(ci.Updated)),
		zap.Int("removed", len(ci.Removed)))
	return nil
}

// ApplyRoleChanges computes and applies a delta in one call. The
// invitation ledger uses it to convert accepted invitations through the
// same invalidation path as any other write; the recorded event carries
// the acceptance type so activity feeds can tell the flows apart.
func (s *Service) ApplyRoleChanges(ctx context.Context, actorID, resourceID string, changes map[string]role.Change) error {
	ci, err := s.ComputeRoleChanges(ctx, resourceID, changes, delta.Options{})
	if err != nil {
		return err
	}
	return s.applyDelta(ctx, actorID, resourceID, ci, audit.TypeInvitationAccept)
}

// invalidate drops the cached closures of every principal the change
// touched and, when the resource is itself a group, of everyone who can
// reach that group on either side of the change: the post-change closure
// covers principals attached by the write, priorMembers covers those it
// detached. Failures degrade to stale-cache behavior and are retried
// out-of-band; they never fail the write.
func (s *Service) invalidate(ctx context.Context, resourceID string, ci *delta.ChangeInfo, priorMembers []string) {
	if ident.IsGroup(resourceID) {
		if err := s.resolver.InvalidateGroupMembers(ctx, resourceID); err != nil {
			s.log.Warn("group member invalidation failed",
				zap.String("group_id", resourceID), zap.Error(err))
		}
		if err := s.resolver.InvalidatePrincipals(ctx, priorMembers...); err != nil {
			s.log.Warn("prior member invalidation failed",
				zap.String("group_id", resourceID), zap.Error(err))
		}
	}
	if err := s.resolver.InvalidatePrincipals(ctx, ci.PrincipalIDs()...); err != nil {
		s.log.Warn("principal invalidation failed",
			zap.String("resource_id", resourceID), zap.Error(err))
	}
}

func (s *Service) requireLive(ctx context.Context, resourceID string) error {
	if s.deletion == nil {
		return nil
	}
	deleted, err := s.deletion.IsDeleted(ctx, resourceID)
	if err != nil {
		return err
	}
	if deleted {
		return errs.NotFoundf("resource %s is deleted", resourceID)
	}
	return nil
}
