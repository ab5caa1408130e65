package repo

import (
	"context"
	"time"

	"github.com/richardliu001/doubles-registration/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxAttempt is the outcome of a failed dispatch.
type OutboxAttempt struct {
	Status        model.OutboxStatus
	Attempts      int
	LastError     string
	NextAttemptAt *time.Time
}

// RecordOutboxEvent enqueues evt keyed by DedupeKey. When the key already exists the stored row
// is returned untouched and created is false.
func (r *Repository) RecordOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) (*model.OutboxEvent, bool, error) {
	if evt.Status == "" {
		evt.Status = model.OutboxPending
	}
	db := r.conn(ctx, tx)
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedupe_key"}},
		DoNothing: true,
	}).Create(evt)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return evt, true, nil
	}
	var existing model.OutboxEvent
	if err := db.Where("dedupe_key = ?", evt.DedupeKey).First(&existing).Error; err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

// PollOutbox pulls pending events whose retry time has come.
func (r *Repository) PollOutbox(ctx context.Context, limit int, now time.Time) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)", model.OutboxPending, now.UTC()).
		Order("id").Limit(limit).Find(&evts).Error
	return evts, err
}

// FindOutboxByDedupeKey returns (nil, nil) when no row carries key.
func (r *Repository) FindOutboxByDedupeKey(ctx context.Context, tx *gorm.DB, key string) (*model.OutboxEvent, error) {
	var evt model.OutboxEvent
	err := r.conn(ctx, tx).Where("dedupe_key = ?", key).First(&evt).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

func (r *Repository) GetOutboxEvent(ctx context.Context, id uint64) (*model.OutboxEvent, error) {
	var evt model.OutboxEvent
	if err := r.db.WithContext(ctx).First(&evt, id).Error; err != nil {
		return nil, err
	}
	return &evt, nil
}

// MarkOutboxHandled flips a pending row to HANDLED. It reports false if the row was no longer pending.
func (r *Repository) MarkOutboxHandled(ctx context.Context, id uint64, at time.Time) (bool, error) {
	at = at.UTC()
	res := r.db.WithContext(ctx).Model(&model.OutboxEvent{}).
		Where("id = ? AND status = ?", id, model.OutboxPending).
		Updates(map[string]interface{}{
			"status":          model.OutboxHandled,
			"handled_at":      &at,
			"next_attempt_at": nil,
			"last_error":      nil,
		})
	return res.RowsAffected == 1, res.Error
}

// MarkOutboxAttempt records a failed dispatch.
func (r *Repository) MarkOutboxAttempt(ctx context.Context, id uint64, a OutboxAttempt) error {
	msg := a.LastError
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).
		Where("id = ? AND status = ?", id, model.OutboxPending).
		Updates(map[string]interface{}{
			"status":          a.Status,
			"attempts":        a.Attempts,
			"last_error":      &msg,
			"next_attempt_at": a.NextAttemptAt,
		}).Error
}
