package gormstore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/collabstack/authz/deletion"
)

// TombstoneStore implements deletion.Tombstones using GORM. A row marks a
// resource deleted; absence means live.
type TombstoneStore struct {
	db *gorm.DB
}

// NewTombstoneStore creates a tombstone store over an opened database.
func NewTombstoneStore(db *gorm.DB) *TombstoneStore {
	return &TombstoneStore{db: db}
}

func (s *TombstoneStore) Set(ctx context.Context, resourceID string, deleted bool) error {
	if !deleted {
		return s.db.WithContext(ctx).Delete(&gormTombstone{}, "resource_id = ?", resourceID).Error
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resource_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"updated_at"}),
	}).Create(&gormTombstone{ResourceID: resourceID}).Error
}

func (s *TombstoneStore) IsDeleted(ctx context.Context, resourceID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&gormTombstone{}).
		Where("resource_id = ?", resourceID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *TombstoneStore) FilterLive(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var deleted []string
	err := s.db.WithContext(ctx).
		Model(&gormTombstone{}).
		Where("resource_id IN ?", ids).
		Pluck("resource_id", &deleted).Error
	if err != nil {
		return nil, err
	}

	deletedSet := make(map[string]bool, len(deleted))
	for _, id := range deleted {
		deletedSet[id] = true
	}
	live := make([]string, 0, len(ids))
	for _, id := range ids {
		if !deletedSet[id] {
			live = append(live, id)
		}
	}
	return live, nil
}

// Compile-time interface check
var _ deletion.Tombstones = (*TombstoneStore)(nil)
