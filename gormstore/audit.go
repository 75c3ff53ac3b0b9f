package gormstore

import (
	"context"

	"gorm.io/gorm"

	"github.com/collabstack/authz/audit"
)

// AuditStore implements audit.Store using GORM.
type AuditStore struct {
	db *gorm.DB
}

// NewAuditStore creates an audit store over an opened database.
func NewAuditStore(db *gorm.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) SaveEvent(ctx context.Context, event *audit.Event) error {
	row, err := fromCoreEvent(event)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(row).Error
}

func (s *AuditStore) EventsForResource(ctx context.Context, resourceID string, limit int) ([]*audit.Event, error) {
	query := s.db.WithContext(ctx).
		Where("resource_id = ?", resourceID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []gormAuditEvent
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*audit.Event, len(rows))
	for i := range rows {
		event, err := toCoreEvent(&rows[i])
		if err != nil {
			return nil, err
		}
		out[i] = event
	}
	return out, nil
}

// Compile-time interface check
var _ audit.Store = (*AuditStore)(nil)
