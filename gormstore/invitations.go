package gormstore

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/collabstack/authz/invitation"
)

// InvitationStore implements invitation.Store using GORM.
type InvitationStore struct {
	db *gorm.DB
}

// NewInvitationStore creates an invitation store over an opened database.
func NewInvitationStore(db *gorm.DB) *InvitationStore {
	return &InvitationStore{db: db}
}

// Upsert creates or replaces the invitation for (resource, email).
func (s *InvitationStore) Upsert(ctx context.Context, inv invitation.Invitation) error {
	row := &gormInvitation{
		ID:         invitationID(inv.ResourceID, inv.Email),
		ResourceID: inv.ResourceID,
		Email:      inv.Email,
		InviterID:  inv.InviterID,
		Role:       string(inv.Role),
		CreatedAt:  inv.CreatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"inviter_id", "role"}),
	}).Create(row).Error
}

// ByEmail returns every pending invitation for the email.
func (s *InvitationStore) ByEmail(ctx context.Context, email string) ([]invitation.Invitation, error) {
	var rows []gormInvitation
	if err := s.db.WithContext(ctx).
		Where("email = ?", email).
		Order("resource_id").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]invitation.Invitation, len(rows))
	for i := range rows {
		out[i] = toCoreInvitation(&rows[i])
	}
	return out, nil
}

// Delete removes the invitation for (resource, email).
func (s *InvitationStore) Delete(ctx context.Context, resourceID, email string) error {
	return s.db.WithContext(ctx).Delete(&gormInvitation{}, "id = ?", invitationID(resourceID, email)).Error
}

// Token returns the active token for the email, or "" if none exists.
func (s *InvitationStore) Token(ctx context.Context, email string) (string, error) {
	var row gormInvitationToken
	err := s.db.WithContext(ctx).First(&row, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.Token, nil
}

// SetToken makes token the single active token for the email.
func (s *InvitationStore) SetToken(ctx context.Context, email, token string) error {
	row := &gormInvitationToken{Email: email, Token: token}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"token", "updated_at"}),
	}).Create(row).Error
}

// EmailByToken resolves a token to its email, or "" if unknown.
func (s *InvitationStore) EmailByToken(ctx context.Context, token string) (string, error) {
	var row gormInvitationToken
	err := s.db.WithContext(ctx).First(&row, "token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.Email, nil
}

// DeleteToken removes a token row.
func (s *InvitationStore) DeleteToken(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Delete(&gormInvitationToken{}, "token = ?", token).Error
}

// Compile-time interface check
var _ invitation.Store = (*InvitationStore)(nil)
