package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/richardliu001/doubles-registration/internal/model"
	"github.com/richardliu001/doubles-registration/internal/pairing"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrInvalidAmount means non-positive amount passed.
var ErrInvalidAmount = errors.New("amount must be positive")

// PaymentRequest is the reaction to a payment intent settling at the gateway.
type PaymentRequest struct {
	PairingID       uint64
	SlotRole        model.SlotRole
	PaymentIntentID string
	Amount          decimal.Decimal
	Paid            bool
}

// RecordSlotPayment marks seats paid and issues their tickets. Replaying the same payment
// intent is a no-op. In FULL mode one payment covers both seats.
func (s *PairingService) RecordSlotPayment(ctx context.Context, req PaymentRequest) (*model.Pairing, error) {
	if !req.Paid {
		return s.GetPairing(ctx, req.PairingID)
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	var out *model.Pairing
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.lock(ctx, tx, req.PairingID)
		if err != nil {
			return err
		}
		out = p

		roles := []model.SlotRole{req.SlotRole}
		if p.PaymentMode == model.PaymentModeFull {
			roles = []model.SlotRole{model.SlotCaptain, model.SlotPartner}
		}
		existing, err := s.repo.FindTicketByIntent(ctx, tx, req.PaymentIntentID, roles[0])
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		if p.RegistrationStatus.Terminal() {
			return pairing.ErrPairingCancelled
		}

		share := req.Amount
		if len(roles) == 2 {
			share = req.Amount.Div(decimal.NewFromInt(2))
		}
		for _, role := range roles {
			slot := p.Slot(role)
			if slot == nil {
				return pairing.ErrSlotNotFilled
			}
			if slot.Paid() {
				return pairing.ErrAlreadyPaid
			}
			if p.PaymentMode == model.PaymentModeSplit && !slot.Filled() {
				return pairing.ErrSlotNotFilled
			}
			slot.PaymentStatus = model.SlotPaid
			slot.AmountPaid = slot.AmountPaid.Add(share)
			if err := s.repo.CreateTicket(ctx, tx, &model.Ticket{
				PairingID:       p.ID,
				SlotRole:        role,
				PaymentIntentID: req.PaymentIntentID,
				OwnerUserID:     slot.ProfileID,
				Amount:          share,
			}); err != nil {
				return err
			}
		}

		tr := pairing.Recompute(p)
		if err := s.commit(ctx, tx, p, tr, nil); err != nil {
			return err
		}
		payload := s.event(p)
		payload.SlotRole = req.SlotRole
		payload.PaymentIntentID = req.PaymentIntentID
		key := fmt.Sprintf("pairing:%d:slot:%s:paid:%s", p.ID, req.SlotRole, req.PaymentIntentID)
		return s.emit(ctx, tx, p, EventSlotPaid, key, nil, payload)
	})
	if err != nil {
		return nil, err
	}
	s.cache(ctx, out)
	return out, nil
}
