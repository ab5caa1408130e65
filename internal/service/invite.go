package service

import (
	"context"
	"fmt"
	"time"

	"github.com/richardliu001/doubles-registration/internal/model"
	"github.com/richardliu001/doubles-registration/internal/pairing"
	"gorm.io/gorm"
)

type InviteRequest struct {
	Target  InviteTarget
	Minutes *int
}

type InviteResult struct {
	Pairing   *model.Pairing
	Token     string
	ExpiresAt time.Time
}

// InvitePartner issues a single-use partner link. Only the captain or staff may invite.
func (s *PairingService) InvitePartner(ctx context.Context, pairingID uint64, actor pairing.Actor, req InviteRequest) (*InviteResult, error) {
	now := s.now()
	var out *InviteResult
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.lock(ctx, tx, pairingID)
		if err != nil {
			return err
		}
		if !actor.Staff && actor.UserID != p.CreatedByUserID {
			return pairing.ErrNotCaptain
		}
		if p.RegistrationStatus.Terminal() {
			return pairing.ErrPairingCancelled
		}
		if p.PartnerUserID != nil || p.Slot(model.SlotPartner).Filled() {
			return pairing.ErrInviteAlreadyUsed
		}
		if p.PaymentMode == model.PaymentModeSplit && pairing.Expired(now, p.DeadlineAt) {
			return pairing.ErrSplitDeadlinePassed
		}
		if req.Target.UserID != "" && req.Target.UserID == p.CreatedByUserID {
			return pairing.ErrSelfInvite
		}

		s.offerSeat(p, req.Target, req.Minutes, now)
		tr := pairing.Recompute(p)
		if err := s.commit(ctx, tx, p, tr, &actor); err != nil {
			return err
		}
		key := fmt.Sprintf("pairing:%d:invited:v%d", p.ID, p.Version)
		if err := s.emit(ctx, tx, p, EventPartnerInvited, key, &actor, s.event(p)); err != nil {
			return err
		}
		out = &InviteResult{Pairing: p, Token: *p.PartnerLinkToken, ExpiresAt: *p.PartnerLinkExpiresAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache(ctx, out.Pairing)
	return out, nil
}

// AcceptInvite consumes a partner link and seats the actor as partner.
func (s *PairingService) AcceptInvite(ctx context.Context, token string, actor pairing.Actor) (*model.Pairing, error) {
	now := s.now()
	var out *model.Pairing
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.repo.FindPairingByLinkToken(ctx, tx, token)
		if err != nil {
			return mapNotFound(err, pairing.ErrInviteNotFound)
		}
		if p.RegistrationStatus.Terminal() {
			return pairing.ErrPairingCancelled
		}
		partner := p.Slot(model.SlotPartner)
		if p.PartnerUserID != nil || partner.Filled() {
			return pairing.ErrInviteAlreadyUsed
		}
		// a paid seat stays claimable after the link lapses
		if pairing.Expired(now, p.PartnerLinkExpiresAt) && !partner.Paid() {
			return pairing.ErrInviteExpired
		}
		if actor.UserID == "" {
			return pairing.ErrNotInvitee
		}
		if actor.UserID == p.CreatedByUserID {
			return pairing.ErrSelfInvite
		}
		targeted := partner.InvitedUserID != nil || partner.InvitedContact != nil
		if targeted && !pairing.IsInvitee(partner, actor) {
			return pairing.ErrNotInvitee
		}
		if err := s.guard.CheckCategoryCapacity(ctx, tx, CapacityRequest{
			EventID: p.EventID, CategoryID: p.CategoryID, ExcludePairingID: p.ID, Players: 2,
		}); err != nil {
			return err
		}

		partner.SlotStatus = model.SlotFilled
		partner.ProfileID = strPtr(actor.UserID)
		partner.InvitedUserID = strPtr(actor.UserID)
		p.PartnerUserID = strPtr(actor.UserID)
		p.PartnerAcceptedAt = &now
		p.PartnerInviteToken = nil
		p.PartnerLinkToken = nil
		p.PartnerLinkExpiresAt = nil
		if partner.Paid() {
			if _, err := s.repo.ClaimUnownedTicket(ctx, tx, p.ID, model.SlotPartner, actor.UserID); err != nil {
				return err
			}
		}

		tr := pairing.Recompute(p)
		if err := s.commit(ctx, tx, p, tr, &actor); err != nil {
			return err
		}
		key := fmt.Sprintf("pairing:%d:accepted:%s:v%d", p.ID, actor.UserID, p.Version)
		if err := s.emit(ctx, tx, p, EventPartnerAccepted, key, &actor, s.event(p)); err != nil {
			return err
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

// DeclinePartnerInvite lets the invited identity turn the seat down. A paid seat cannot be
// declined, only swapped.
func (s *PairingService) DeclinePartnerInvite(ctx context.Context, pairingID uint64, actor pairing.Actor) (*model.Pairing, error) {
	var out *model.Pairing
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.lock(ctx, tx, pairingID)
		if err != nil {
			return err
		}
		if p.RegistrationStatus.Terminal() {
			return pairing.ErrPairingCancelled
		}
		partner := p.Slot(model.SlotPartner)
		if !pairing.IsInvitee(partner, actor) {
			return pairing.ErrNotInvitee
		}
		if partner.Paid() {
			return pairing.ErrAlreadyPaid
		}
		payload := s.event(p)

		clearPartnerSlot(partner)
		partner.PaymentStatus = model.SlotUnpaid
		p.PartnerUserID = nil
		p.PartnerAcceptedAt = nil
		p.JoinMode = model.JoinModeLookingForPartner
		clearInvite(p)
		clearSwap(p)

		tr := pairing.Recompute(p)
		if err := s.commit(ctx, tx, p, tr, &actor); err != nil {
			return err
		}
		payload.Version = p.Version
		key := fmt.Sprintf("pairing:%d:declined:v%d", p.ID, p.Version)
		if err := s.emit(ctx, tx, p, EventInviteDeclined, key, &actor, payload); err != nil {
			return err
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
