package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/doubles-registration/internal/model"
	"github.com/richardliu001/doubles-registration/internal/pairing"
	"gorm.io/gorm"
)

type SwapRequestResult struct {
	Pairing   *model.Pairing
	Token     string
	ExpiresAt time.Time
}

// RequestPartnerSwap gives the paid partner a single-use token to confirm leaving the seat.
func (s *PairingService) RequestPartnerSwap(ctx context.Context, pairingID uint64, actor pairing.Actor) (*SwapRequestResult, error) {
	now := s.now()
	var out *SwapRequestResult
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.lock(ctx, tx, pairingID)
		if err != nil {
			return err
		}
		if p.RegistrationStatus.Terminal() {
			return pairing.ErrPairingCancelled
		}
		partner := p.Slot(model.SlotPartner)
		if !pairing.IsOccupant(partner, actor) {
			return pairing.ErrNotOccupant
		}
		if !partner.Paid() {
			return pairing.ErrSwapNotRequired
		}
		if !pairing.CanSwapPartner(p.LifecycleStatus, now, p.PartnerSwapAllowedUntilAt) {
			return pairing.ErrSwapNotAllowed
		}

		token := uuid.NewString()
		expires := pairing.EarliestOf(now.Add(s.policy.SwapConfirmTTL), p.PartnerSwapAllowedUntilAt)
		p.SwapConfirmToken = &token
		p.SwapConfirmExpiresAt = &expires
		if err := s.commit(ctx, tx, p, pairing.Recompute(p), &actor); err != nil {
			return err
		}
		key := fmt.Sprintf("pairing:%d:swap-requested:v%d", p.ID, p.Version)
		if err := s.emit(ctx, tx, p, EventSwapRequested, key, &actor, s.event(p)); err != nil {
			return err
		}
		out = &SwapRequestResult{Pairing: p, Token: token, ExpiresAt: expires}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConfirmPartnerSwap releases the paid partner seat. The payment stays on the seat, tickets
// held by the outgoing partner become unowned, and the pairing waits for a new partner.
func (s *PairingService) ConfirmPartnerSwap(ctx context.Context, token string, actor pairing.Actor) (*model.Pairing, error) {
	now := s.now()
	var out *model.Pairing
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.repo.FindPairingBySwapToken(ctx, tx, token)
		if err != nil {
			return mapNotFound(err, pairing.ErrSwapTokenNotFound)
		}
		if p.RegistrationStatus.Terminal() {
			return pairing.ErrPairingCancelled
		}
		if pairing.Expired(now, p.SwapConfirmExpiresAt) {
			return pairing.ErrSwapConfirmExpired
		}
		partner := p.Slot(model.SlotPartner)
		if !pairing.IsOccupant(partner, actor) {
			return pairing.ErrNotOccupant
		}
		if !partner.Paid() {
			return pairing.ErrSwapNotRequired
		}
		if !pairing.CanSwapPartner(p.LifecycleStatus, now, p.PartnerSwapAllowedUntilAt) {
			return pairing.ErrSwapNotAllowed
		}

		outgoing := *partner.ProfileID
		if _, err := s.repo.DetachTickets(ctx, tx, p.ID, outgoing); err != nil {
			return err
		}
		clearPartnerSlot(partner)
		p.PartnerUserID = nil
		p.PartnerAcceptedAt = nil
		p.JoinMode = model.JoinModeInvitePartner
		clearInvite(p)
		clearSwap(p)

		tr := pairing.Recompute(p)
		if err := s.commit(ctx, tx, p, tr, &actor); err != nil {
			return err
		}
		payload := s.event(p)
		payload.OutgoingUserID = outgoing
		key := fmt.Sprintf("pairing:%d:swapped:v%d", p.ID, p.Version)
		if err := s.emit(ctx, tx, p, EventPartnerSwapped, key, &actor, payload); err != nil {
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

// ExchangePartners lets staff trade the partners of two unpaid pairings in the same category.
func (s *PairingService) ExchangePartners(ctx context.Context, actor pairing.Actor, firstID, secondID uint64) ([]*model.Pairing, error) {
	if !actor.Staff {
		return nil, pairing.ErrStaffOnly
	}
	if firstID == secondID {
		return nil, pairing.ErrSwapNotAllowed
	}
	var out []*model.Pairing
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		// lock pairings in deterministic order
		lo, hi := firstID, secondID
		if hi < lo {
			lo, hi = hi, lo
		}
		a, err := s.lock(ctx, tx, lo)
		if err != nil {
			return err
		}
		b, err := s.lock(ctx, tx, hi)
		if err != nil {
			return err
		}
		if a.EventID != b.EventID || !sameCategory(a.CategoryID, b.CategoryID) {
			return pairing.ErrSwapNotAllowed
		}
		for _, p := range []*model.Pairing{a, b} {
			if p.RegistrationStatus.Terminal() {
				return pairing.ErrPairingCancelled
			}
			if p.RegistrationStatus == model.RegistrationConfirmed {
				return pairing.ErrSwapNotAllowed
			}
			if p.Slot(model.SlotPartner).Paid() {
				return pairing.ErrAlreadyPaid
			}
			if !p.Slot(model.SlotPartner).Filled() {
				return pairing.ErrSlotNotFilled
			}
		}
		pa, pb := a.Slot(model.SlotPartner), b.Slot(model.SlotPartner)
		if *pa.ProfileID == b.CreatedByUserID || *pb.ProfileID == a.CreatedByUserID {
			return pairing.ErrSelfInvite
		}

		pa.ProfileID, pb.ProfileID = pb.ProfileID, pa.ProfileID
		pa.InvitedUserID, pb.InvitedUserID = pb.InvitedUserID, pa.InvitedUserID
		pa.InvitedContact, pb.InvitedContact = pb.InvitedContact, pa.InvitedContact
		a.PartnerUserID, b.PartnerUserID = b.PartnerUserID, a.PartnerUserID

		for _, p := range []*model.Pairing{a, b} {
			if err := s.commit(ctx, tx, p, pairing.Recompute(p), &actor); err != nil {
				return err
			}
			key := fmt.Sprintf("pairing:%d:exchanged:v%d", p.ID, p.Version)
			if err := s.emit(ctx, tx, p, EventPartnersExchanged, key, &actor, s.event(p)); err != nil {
				return err
			}
		}
		out = []*model.Pairing{a, b}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, p := range out {
		s.cache(ctx, p)
	}
	return out, nil
}

func sameCategory(a, b *uint64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
