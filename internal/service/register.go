package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/doubles-registration/internal/model"
	"github.com/richardliu001/doubles-registration/internal/pairing"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InviteTarget identifies who the partner seat is offered to.
type InviteTarget struct {
	UserID  string
	Contact string
}

func (t InviteTarget) empty() bool { return t.UserID == "" && pairing.NormalizeContact(t.Contact) == "" }

type RegisterRequest struct {
	EventID       uint64
	CategoryID    *uint64
	PaymentMode   model.PaymentMode
	Partner       *InviteTarget
	InviteMinutes *int
}

// RegisterPairing creates a pairing with the actor as captain, after the event and category
// capacity checks.
func (s *PairingService) RegisterPairing(ctx context.Context, actor pairing.Actor, req RegisterRequest) (*model.Pairing, error) {
	if req.PaymentMode != model.PaymentModeFull && req.PaymentMode != model.PaymentModeSplit {
		return nil, pairing.ErrInvalidPaymentMode
	}
	if req.Partner != nil && req.Partner.UserID != "" && req.Partner.UserID == actor.UserID {
		return nil, pairing.ErrSelfInvite
	}
	now := s.now()
	var out *model.Pairing
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		comp, err := s.repo.GetCompetition(ctx, tx, req.EventID)
		if err != nil {
			return mapNotFound(err, pairing.ErrEventNotFound)
		}
		hours := 0
		if comp.SplitDeadlineHours != nil {
			hours = *comp.SplitDeadlineHours
		}
		deadline := s.policy.ComputeSplitDeadlineAt(now, comp.StartsAt, hours)
		if req.PaymentMode == model.PaymentModeSplit && !now.Before(deadline) {
			return pairing.ErrSplitDeadlinePassed
		}
		if err := s.guard.Check(ctx, tx, CapacityRequest{EventID: req.EventID, CategoryID: req.CategoryID, Players: 1}); err != nil {
			return err
		}

		captain := actor.UserID
		p := &model.Pairing{
			OrganizationID:            comp.OrganizationID,
			EventID:                   comp.ID,
			CategoryID:                req.CategoryID,
			PaymentMode:               req.PaymentMode,
			JoinMode:                  model.JoinModeLookingForPartner,
			CreatedByUserID:           captain,
			DeadlineAt:                &deadline,
			PartnerSwapAllowedUntilAt: &deadline,
			Slots: []model.PairingSlot{
				{SlotRole: model.SlotCaptain, SlotStatus: model.SlotFilled, PaymentStatus: model.SlotUnpaid, ProfileID: &captain, InvitedUserID: &captain, AmountPaid: decimal.Zero},
				{SlotRole: model.SlotPartner, SlotStatus: model.SlotPending, PaymentStatus: model.SlotUnpaid, AmountPaid: decimal.Zero},
			},
		}
		if req.Partner != nil && !req.Partner.empty() {
			s.offerSeat(p, *req.Partner, req.InviteMinutes, now)
		}
		pairing.Recompute(p)
		if err := s.repo.CreatePairing(ctx, tx, p); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, p, EventPairingRegistered, fmt.Sprintf("pairing:%d:registered", p.ID), &actor, s.event(p)); err != nil {
			return err
		}
		if p.PartnerLinkToken != nil {
			key := fmt.Sprintf("pairing:%d:invited:v%d", p.ID, p.Version)
			if err := s.emit(ctx, tx, p, EventPartnerInvited, key, &actor, s.event(p)); err != nil {
				return err
			}
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache(ctx, out)
	return out, nil
}

// offerSeat points the partner slot at target and issues a fresh single-use link token.
func (s *PairingService) offerSeat(p *model.Pairing, target InviteTarget, minutes *int, now time.Time) {
	token := uuid.NewString()
	expires := s.policy.ComputePartnerLinkExpiresAt(now, minutes)
	if p.DeadlineAt != nil && p.DeadlineAt.After(now) {
		expires = pairing.EarliestOf(expires, p.DeadlineAt)
	}
	partner := p.Slot(model.SlotPartner)
	partner.InvitedUserID = nil
	partner.InvitedContact = nil
	if target.UserID != "" {
		partner.InvitedUserID = strPtr(target.UserID)
	}
	if c := pairing.NormalizeContact(target.Contact); c != "" {
		partner.InvitedContact = strPtr(c)
	}
	p.JoinMode = model.JoinModeInvitePartner
	p.PartnerInviteToken = &token
	p.PartnerLinkToken = &token
	p.PartnerLinkExpiresAt = &expires
	p.PartnerInvitedAt = &now
}

// CancelPairing is the explicit terminal cancel by the captain or staff. Cancelling twice is a no-op.
func (s *PairingService) CancelPairing(ctx context.Context, pairingID uint64, actor pairing.Actor) (*model.Pairing, error) {
	var out *model.Pairing
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.lock(ctx, tx, pairingID)
		if err != nil {
			return err
		}
		if !actor.Staff && actor.UserID != p.CreatedByUserID {
			return pairing.ErrNotCaptain
		}
		out = p
		if p.RegistrationStatus.Terminal() {
			return nil
		}
		if p.Slot(model.SlotCaptain).Paid() || p.Slot(model.SlotPartner).Paid() {
			return pairing.ErrAlreadyPaid
		}
		clearInvite(p)
		clearSwap(p)
		tr := pairing.Terminate(p, model.RegistrationCancelled)
		if err := s.commit(ctx, tx, p, tr, &actor); err != nil {
			return err
		}
		return s.emit(ctx, tx, p, EventPairingCancelled, fmt.Sprintf("pairing:%d:cancelled", p.ID), &actor, s.event(p))
	})
	if err != nil {
		return nil, err
	}
	s.cache(ctx, out)
	return out, nil
}
