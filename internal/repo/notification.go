package repo

import (
	"context"

	"github.com/richardliu001/doubles-registration/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClaimNotification inserts the delivery record. It returns false when the dedupe key was
// already claimed, meaning the notification must not be sent again.
func (r *Repository) ClaimNotification(ctx context.Context, tx *gorm.DB, n *model.NotificationDelivery) (bool, error) {
	res := r.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedupe_key"}},
		DoNothing: true,
	}).Create(n)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
