// Package audit records role-change events for activity feeds and
// compliance review.
//
// Every applied role delta produces one event carrying the full before and
// after maps plus the added/updated/removed id lists, so downstream
// consumers can reconstruct exactly what a bulk change did without
// replaying it.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/collabstack/authz/delta"
	"github.com/collabstack/authz/ident"
	"github.com/collabstack/authz/role"
)

// Event types emitted by the authz core.
const (
	TypeGrantsChange     = "authz.grants.change"
	TypeInvitationAccept = "authz.invitation.accept"
	TypeGroupDeleted     = "authz.group.deleted"
	TypeGroupRestored    = "authz.group.restored"
)

// Event is one recorded authorization change.
type Event struct {
	ID          string               `json:"id"`
	Type        string               `json:"type"`
	ActorID     string               `json:"actor_id"`
	ResourceID  string               `json:"resource_id"`
	TenantAlias string               `json:"tenant_alias,omitempty"`
	Before      map[string]role.Role `json:"before,omitempty"`
	After       map[string]role.Role `json:"after,omitempty"`
	Added       []string             `json:"added,omitempty"`
	Updated     []string             `json:"updated,omitempty"`
	Removed     []string             `json:"removed,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

// Store persists audit events.
type Store interface {
	// SaveEvent persists one event.
	SaveEvent(ctx context.Context, event *Event) error

	// EventsForResource returns the most recent events for a resource,
	// newest first.
	EventsForResource(ctx context.Context, resourceID string, limit int) ([]*Event, error)
}

// Recorder builds and saves events. Recording is best-effort: a failed
// save is logged, never propagated, since audit must not fail the write it
// describes.
type Recorder struct {
	store Store
	log   *zap.Logger
}

// NewRecorder creates a Recorder. A nil store disables recording.
func NewRecorder(store Store, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{store: store, log: log}
}

// RecordChange saves an event for an applied role delta.
func (r *Recorder) RecordChange(ctx context.Context, eventType, actorID, resourceID string, ci *delta.ChangeInfo) {
	if r.store == nil {
		return
	}
	event := &Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		ActorID:    actorID,
		ResourceID: resourceID,
		Before:     ci.Before,
		After:      ci.After,
		Added:      ci.Added,
		Updated:    ci.Updated,
		Removed:    ci.Removed,
		CreatedAt:  time.Now(),
	}
	if parsed, err := ident.Parse(resourceID); err == nil {
		event.TenantAlias = parsed.Tenant
	}

	if err := r.store.SaveEvent(ctx, event); err != nil {
		r.log.Warn("audit event save failed",
			zap.String("type", eventType),
			zap.String("resource_id", resourceID),
			zap.Error(err))
	}
}

// RecordLifecycle saves an event for a resource lifecycle change (delete,
// restore). Lifecycle events carry no role maps.
func (r *Recorder) RecordLifecycle(ctx context.Context, eventType, resourceID string) {
	if r.store == nil {
		return
	}
	event := &Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		ResourceID: resourceID,
		CreatedAt:  time.Now(),
	}
	if parsed, err := ident.Parse(resourceID); err == nil {
		event.TenantAlias = parsed.Tenant
	}

	if err := r.store.SaveEvent(ctx, event); err != nil {
		r.log.Warn("audit event save failed",
			zap.String("type", eventType),
			zap.String("resource_id", resourceID),
			zap.Error(err))
	}
}

// RecordChangeAsync records on a detached context so the decision path is
// never blocked on the audit store.
func (r *Recorder) RecordChangeAsync(eventType, actorID, resourceID string, ci *delta.ChangeInfo) {
	if r.store == nil {
		return
	}
	go r.RecordChange(context.Background(), eventType, actorID, resourceID, ci)
}
