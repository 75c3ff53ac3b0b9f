// Package deletion soft-deletes resources and cascades invalidation to
// dependent caches and derived indices.
//
// Deletion is a tombstone, not a physical delete: historical grant rows
// survive so a restore brings membership back intact. Registered handlers
// (library purge, search de-index) run with graph snapshots captured
// before the change, on delete and again on restore so derived indices can
// be torn down and rebuilt symmetrically.
package deletion

import (
	"context"

	"go.uber.org/zap"

	"github.com/collabstack/authz/audit"
	"github.com/collabstack/authz/errs"
	"github.com/collabstack/authz/ident"
	"github.com/collabstack/authz/resolver"
)

// Tombstones persists the soft-delete flags.
type Tombstones interface {
	// Set marks or clears the deleted flag for a resource.
	Set(ctx context.Context, resourceID string, deleted bool) error

	// IsDeleted reports whether a resource carries a tombstone.
	IsDeleted(ctx context.Context, resourceID string) (bool, error)

	// FilterLive returns the subset of ids without a tombstone, preserving
	// input order.
	FilterLive(ctx context.Context, ids []string) ([]string, error)
}

// GraphSnapshot captures a group's surroundings before a lifecycle change:
// the groups it reaches (its memberships graph) and the principals that
// reach it (its members graph).
type GraphSnapshot struct {
	GroupID     string
	Memberships map[string]bool
	Members     []string
}

// Handler reacts to a group lifecycle change. Handlers are external
// collaborators; a failing handler is logged and retried out-of-band, it
// does not roll back the lifecycle change.
type Handler func(ctx context.Context, snap GraphSnapshot) error

// Coordinator drives soft deletion and restoration of groups.
type Coordinator struct {
	stones   Tombstones
	resolver *resolver.Resolver
	handlers []Handler
	recorder *audit.Recorder
	log      *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Coordinator) {
		c.log = log
	}
}

// WithAudit wires an audit recorder; every delete and restore emits a
// lifecycle event.
func WithAudit(r *audit.Recorder) Option {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

// NewCoordinator creates a Coordinator over a tombstone store and the
// membership resolver.
func NewCoordinator(stones Tombstones, res *resolver.Resolver, opts ...Option) *Coordinator {
	c := &Coordinator{stones: stones, resolver: res, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnChange registers a handler invoked on every group delete and restore.
func (c *Coordinator) OnChange(h Handler) {
	c.handlers = append(c.handlers, h)
}

// DeleteGroup tombstones a group, invokes the registered handlers with
// pre-deletion graph snapshots, and invalidates the resolver cache for
// every principal in those snapshots. Deleting an already-deleted group
// fails NotFound.
func (c *Coordinator) DeleteGroup(ctx context.Context, groupID string) error {
	snap, err := c.prepare(ctx, groupID, false)
	if err != nil {
		return err
	}
	if err := c.stones.Set(ctx, groupID, true); err != nil {
		return errs.Storage("write tombstone", err)
	}
	c.finish(ctx, "deleted", audit.TypeGroupDeleted, snap)
	return nil
}

// RestoreGroup clears the tombstone and re-invokes the same handlers so
// derived indices are rebuilt, then invalidates the same cache entries.
// Restoring a live group fails NotFound.
func (c *Coordinator) RestoreGroup(ctx context.Context, groupID string) error {
	snap, err := c.prepare(ctx, groupID, true)
	if err != nil {
		return err
	}
	if err := c.stones.Set(ctx, groupID, false); err != nil {
		return errs.Storage("clear tombstone", err)
	}
	c.finish(ctx, "restored", audit.TypeGroupRestored, snap)
	return nil
}

func (c *Coordinator) prepare(ctx context.Context, groupID string, wantDeleted bool) (GraphSnapshot, error) {
	if !ident.IsGroup(groupID) {
		return GraphSnapshot{}, errs.InvalidArgumentf("not a group id: %q", groupID)
	}
	deleted, err := c.stones.IsDeleted(ctx, groupID)
	if err != nil {
		return GraphSnapshot{}, errs.Storage("read tombstone", err)
	}
	if deleted != wantDeleted {
		if wantDeleted {
			return GraphSnapshot{}, errs.NotFoundf("group %s is not deleted", groupID)
		}
		return GraphSnapshot{}, errs.NotFoundf("group %s is deleted", groupID)
	}

	// Snapshot before the flag flips; Refresh bypasses the cache so the
	// snapshot reflects the graph, not stale derived state.
	memberships, err := c.resolver.Refresh(ctx, groupID)
	if err != nil {
		return GraphSnapshot{}, err
	}
	members, err := c.resolver.MembersClosure(ctx, groupID)
	if err != nil {
		return GraphSnapshot{}, err
	}
	return GraphSnapshot{GroupID: groupID, Memberships: memberships, Members: members}, nil
}

func (c *Coordinator) finish(ctx context.Context, event, eventType string, snap GraphSnapshot) {
	for _, h := range c.handlers {
		if err := h(ctx, snap); err != nil {
			c.log.Warn("lifecycle handler failed",
				zap.String("event", event),
				zap.String("group_id", snap.GroupID),
				zap.Error(err))
		}
	}

	if c.recorder != nil {
		c.recorder.RecordLifecycle(ctx, eventType, snap.GroupID)
	}

	affected := append([]string{snap.GroupID}, snap.Members...)
	for g := range snap.Memberships {
		affected = append(affected, g)
	}
	if err := c.resolver.InvalidatePrincipals(ctx, affected...); err != nil {
		// Degrades to stale-cache behavior; retried out-of-band.
		c.log.Warn("cascade invalidation failed",
			zap.String("group_id", snap.GroupID),
			zap.Int("principals", len(affected)),
			zap.Error(err))
	}

	c.log.Info("group "+event,
		zap.String("group_id", snap.GroupID),
		zap.Int("members", len(snap.Members)))
}

// FilterDeleted returns the subset of ids that are not tombstoned, in
// input order. Read paths use it to exclude deleted resources without a
// join.
func (c *Coordinator) FilterDeleted(ctx context.Context, ids []string) ([]string, error) {
	live, err := c.stones.FilterLive(ctx, ids)
	if err != nil {
		return nil, errs.Storage("filter tombstones", err)
	}
	return live, nil
}

// IsDeleted reports whether the resource is tombstoned.
func (c *Coordinator) IsDeleted(ctx context.Context, resourceID string) (bool, error) {
	deleted, err := c.stones.IsDeleted(ctx, resourceID)
	if err != nil {
		return false, errs.Storage("read tombstone", err)
	}
	return deleted, nil
}
