// Package gormstore provides the GORM-backed implementations of the authz
// persistence contracts: direct grants, invitations, tombstones, and audit
// events. All models and repositories live here so the core packages stay
// storage-free.
package gormstore

import (
	"encoding/json"
	"time"

	"github.com/collabstack/authz/audit"
	"github.com/collabstack/authz/invitation"
	"github.com/collabstack/authz/membership"
	"github.com/collabstack/authz/role"
)

const pairSep = "#"

// gormGrant stores one direct role grant. The content-derived primary key
// makes the (resource, principal) pair naturally unique; composite indexes
// serve both query orientations.
type gormGrant struct {
	ID           string    `gorm:"primaryKey"`
	ResourceID   string    `gorm:"size:255;index:idx_resource,priority:1"`
	ResourceType string    `gorm:"size:64;index:idx_principal,priority:2"`
	PrincipalID  string    `gorm:"size:255;index:idx_resource,priority:2;index:idx_principal,priority:1"`
	Role         string    `gorm:"size:32"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (gormGrant) TableName() string {
	return "authz_grants"
}

func grantID(resourceID, principalID string) string {
	return resourceID + pairSep + principalID
}

func toCoreGrant(g *gormGrant) membership.Grant {
	return membership.Grant{
		ResourceID:  g.ResourceID,
		PrincipalID: g.PrincipalID,
		Role:        role.Role(g.Role),
	}
}

// gormInvitation stores one pending email-addressed grant.
type gormInvitation struct {
	ID         string    `gorm:"primaryKey"`
	ResourceID string    `gorm:"size:255;index"`
	Email      string    `gorm:"size:255;index"`
	InviterID  string    `gorm:"size:255"`
	Role       string    `gorm:"size:32"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (gormInvitation) TableName() string {
	return "authz_invitations"
}

func invitationID(resourceID, email string) string {
	return resourceID + pairSep + email
}

func toCoreInvitation(gi *gormInvitation) invitation.Invitation {
	return invitation.Invitation{
		ResourceID: gi.ResourceID,
		Email:      gi.Email,
		InviterID:  gi.InviterID,
		Role:       role.Role(gi.Role),
		CreatedAt:  gi.CreatedAt,
	}
}

// gormInvitationToken keeps the single active token per email, indexed in
// both directions for the acceptance flow.
type gormInvitationToken struct {
	Email     string    `gorm:"primaryKey;size:255"`
	Token     string    `gorm:"size:64;uniqueIndex"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (gormInvitationToken) TableName() string {
	return "authz_invitation_tokens"
}

// gormTombstone marks a resource soft-deleted. Absence of a row means live.
type gormTombstone struct {
	ResourceID string    `gorm:"primaryKey;size:255"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (gormTombstone) TableName() string {
	return "authz_tombstones"
}

// gormAuditEvent stores one role-change event; maps and lists are
// serialized as JSON text.
type gormAuditEvent struct {
	ID          string    `gorm:"primaryKey;size:64"`
	Type        string    `gorm:"size:64;index"`
	ActorID     string    `gorm:"size:255"`
	ResourceID  string    `gorm:"size:255;index"`
	TenantAlias string    `gorm:"size:255"`
	Before      string    `gorm:"type:text"`
	After       string    `gorm:"type:text"`
	Added       string    `gorm:"type:text"`
	Updated     string    `gorm:"type:text"`
	Removed     string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index"`
}

func (gormAuditEvent) TableName() string {
	return "authz_audit_events"
}

func fromCoreEvent(e *audit.Event) (*gormAuditEvent, error) {
	out := &gormAuditEvent{
		ID:          e.ID,
		Type:        e.Type,
		ActorID:     e.ActorID,
		ResourceID:  e.ResourceID,
		TenantAlias: e.TenantAlias,
		CreatedAt:   e.CreatedAt,
	}
	for _, field := range []struct {
		dst *string
		src any
	}{
		{&out.Before, e.Before},
		{&out.After, e.After},
		{&out.Added, e.Added},
		{&out.Updated, e.Updated},
		{&out.Removed, e.Removed},
	} {
		raw, err := json.Marshal(field.src)
		if err != nil {
			return nil, err
		}
		*field.dst = string(raw)
	}
	return out, nil
}

func toCoreEvent(ge *gormAuditEvent) (*audit.Event, error) {
	out := &audit.Event{
		ID:          ge.ID,
		Type:        ge.Type,
		ActorID:     ge.ActorID,
		ResourceID:  ge.ResourceID,
		TenantAlias: ge.TenantAlias,
		CreatedAt:   ge.CreatedAt,
	}
	for _, field := range []struct {
		dst any
		src string
	}{
		{&out.Before, ge.Before},
		{&out.After, ge.After},
		{&out.Added, ge.Added},
		{&out.Updated, ge.Updated},
		{&out.Removed, ge.Removed},
	} {
		if field.src == "" {
			continue
		}
		if err := json.Unmarshal([]byte(field.src), field.dst); err != nil {
			return nil, err
		}
	}
	return out, nil
}
