package repo

import (
	"context"

	"github.com/richardliu001/doubles-registration/internal/model"
	"gorm.io/gorm"
)

// FindTicketByIntent returns (nil, nil) when no ticket was issued for the intent yet.
func (r *Repository) FindTicketByIntent(ctx context.Context, tx *gorm.DB, intentID string, role model.SlotRole) (*model.Ticket, error) {
	var t model.Ticket
	err := r.conn(ctx, tx).Where("payment_intent_id = ? AND slot_role = ?", intentID, role).First(&t).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repository) CreateTicket(ctx context.Context, tx *gorm.DB, t *model.Ticket) error {
	return r.conn(ctx, tx).Create(t).Error
}

// DetachTickets clears ownership of every ticket of the pairing held by ownerUserID.
func (r *Repository) DetachTickets(ctx context.Context, tx *gorm.DB, pairingID uint64, ownerUserID string) (int64, error) {
	res := r.conn(ctx, tx).Model(&model.Ticket{}).
		Where("pairing_id = ? AND owner_user_id = ?", pairingID, ownerUserID).
		Update("owner_user_id", nil)
	return res.RowsAffected, res.Error
}

// ClaimUnownedTicket assigns the unowned ticket of a seat to its new occupant.
func (r *Repository) ClaimUnownedTicket(ctx context.Context, tx *gorm.DB, pairingID uint64, role model.SlotRole, ownerUserID string) (int64, error) {
	res := r.conn(ctx, tx).Model(&model.Ticket{}).
		Where("pairing_id = ? AND slot_role = ? AND owner_user_id IS NULL", pairingID, role).
		Update("owner_user_id", ownerUserID)
	return res.RowsAffected, res.Error
}
