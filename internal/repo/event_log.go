package repo

import (
	"context"

	"github.com/google/uuid"
	"github.com/richardliu001/doubles-registration/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AppendEventLog inserts entry inside tx. A duplicate (organization, type, idempotency key)
// is not an error: the existing row is returned instead.
func (r *Repository) AppendEventLog(ctx context.Context, tx *gorm.DB, entry *model.EventLogEntry) (*model.EventLogEntry, error) {
	if entry.ID == 0 {
		entry.ID = r.node.Generate().Int64()
	}
	if entry.EventID == "" {
		entry.EventID = uuid.NewString()
	}
	db := r.conn(ctx, tx)
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "organization_id"}, {Name: "event_type"}, {Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(entry)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		return entry, nil
	}
	var existing model.EventLogEntry
	if err := db.Where("organization_id = ? AND event_type = ? AND idempotency_key = ?",
		entry.OrganizationID, entry.EventType, entry.IdempotencyKey).First(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

// EventLogExists checks duplicate by idem key.
func (r *Repository) EventLogExists(ctx context.Context, tx *gorm.DB, orgID uint64, eventType, idemKey string) (bool, error) {
	var n int64
	err := r.conn(ctx, tx).Model(&model.EventLogEntry{}).
		Where("organization_id = ? AND event_type = ? AND idempotency_key = ?", orgID, eventType, idemKey).
		Count(&n).Error
	return n > 0, err
}
