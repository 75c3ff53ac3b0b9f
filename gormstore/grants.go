package gormstore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/collabstack/authz/errs"
	"github.com/collabstack/authz/ident"
	"github.com/collabstack/authz/membership"
	"github.com/collabstack/authz/role"
)

// GrantStore implements membership.Store using GORM.
type GrantStore struct {
	db *gorm.DB
}

// NewGrantStore creates a grant store over an opened database.
func NewGrantStore(db *gorm.DB) *GrantStore {
	return &GrantStore{db: db}
}

// DirectGrants pages through grants on a resource ordered by principal id.
func (s *GrantStore) DirectGrants(ctx context.Context, resourceID, cursor string, limit int) ([]membership.Grant, string, error) {
	if limit <= 0 {
		limit = membership.DefaultPageLimit
	}

	query := s.db.WithContext(ctx).
		Where("resource_id = ?", resourceID).
		Order("principal_id")
	if cursor != "" {
		query = query.Where("principal_id > ?", cursor)
	}

	var rows []gormGrant
	// One extra row tells us whether another page exists.
	if err := query.Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, "", err
	}

	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		next = rows[len(rows)-1].PrincipalID
	}

	grants := make([]membership.Grant, len(rows))
	for i := range rows {
		grants[i] = toCoreGrant(&rows[i])
	}
	return grants, next, nil
}

// RoleMap returns every grant on a resource as principal -> role.
func (s *GrantStore) RoleMap(ctx context.Context, resourceID string) (map[string]role.Role, error) {
	var rows []gormGrant
	if err := s.db.WithContext(ctx).Where("resource_id = ?", resourceID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]role.Role, len(rows))
	for i := range rows {
		out[rows[i].PrincipalID] = role.Role(rows[i].Role)
	}
	return out, nil
}

// RolesForPrincipals returns the roles the given principals hold directly
// on a resource.
func (s *GrantStore) RolesForPrincipals(ctx context.Context, resourceID string, principalIDs []string) (map[string]role.Role, error) {
	if len(principalIDs) == 0 {
		return map[string]role.Role{}, nil
	}
	var rows []gormGrant
	if err := s.db.WithContext(ctx).
		Where("resource_id = ? AND principal_id IN ?", resourceID, principalIDs).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]role.Role, len(rows))
	for i := range rows {
		out[rows[i].PrincipalID] = role.Role(rows[i].Role)
	}
	return out, nil
}

// AllRolesForPrincipal returns every resource of the type where the
// principal holds a direct role, ordered by resource id.
func (s *GrantStore) AllRolesForPrincipal(ctx context.Context, principalID, resourceType string) ([]membership.ResourceRole, error) {
	query := s.db.WithContext(ctx).
		Where("principal_id = ?", principalID).
		Order("resource_id")
	if resourceType != "" {
		query = query.Where("resource_type = ?", resourceType)
	}

	var rows []gormGrant
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]membership.ResourceRole, len(rows))
	for i := range rows {
		out[i] = membership.ResourceRole{ResourceID: rows[i].ResourceID, Role: role.Role(rows[i].Role)}
	}
	return out, nil
}

// GroupMemberships returns the group ids where the principal holds any
// direct role.
func (s *GrantStore) GroupMemberships(ctx context.Context, principalID string) ([]string, error) {
	var groups []string
	err := s.db.WithContext(ctx).
		Model(&gormGrant{}).
		Where("principal_id = ? AND resource_type = ?", principalID, ident.TypeGroup).
		Order("resource_id").
		Pluck("resource_id", &groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// ApplyChanges applies a grant/revoke batch in one transaction so no
// partial application is observable.
func (s *GrantStore) ApplyChanges(ctx context.Context, resourceID string, changes map[string]role.Change) error {
	for _, c := range changes {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	resourceType := ""
	if parsed, err := ident.Parse(resourceID); err == nil {
		resourceType = parsed.Type
	} else {
		return errs.InvalidArgumentf("malformed resource id %q", resourceID)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for principalID, c := range changes {
			if c.Remove {
				if err := tx.Delete(&gormGrant{}, "id = ?", grantID(resourceID, principalID)).Error; err != nil {
					return err
				}
				continue
			}

			row := &gormGrant{
				ID:           grantID(resourceID, principalID),
				ResourceID:   resourceID,
				ResourceType: resourceType,
				PrincipalID:  principalID,
				Role:         string(c.Role),
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"role", "updated_at"}),
			}).Create(row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Compile-time interface check
var _ membership.Store = (*GrantStore)(nil)
