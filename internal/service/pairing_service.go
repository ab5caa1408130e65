package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richardliu001/doubles-registration/internal/model"
	"github.com/richardliu001/doubles-registration/internal/outbox"
	"github.com/richardliu001/doubles-registration/internal/pairing"
	"github.com/richardliu001/doubles-registration/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Event types emitted by the pairing lifecycle.
const (
	EventPairingRegistered    = "PAIRING_REGISTERED"
	EventPartnerInvited       = "PAIRING_PARTNER_INVITED"
	EventPartnerAccepted      = "PAIRING_PARTNER_ACCEPTED"
	EventInviteDeclined       = "PAIRING_INVITE_DECLINED"
	EventSlotPaid             = "PAIRING_SLOT_PAID"
	EventSwapRequested        = "PAIRING_SWAP_REQUESTED"
	EventPartnerSwapped       = "PAIRING_PARTNER_SWAPPED"
	EventPartnersExchanged    = "PAIRING_PARTNERS_EXCHANGED"
	EventPairingCancelled     = "PAIRING_CANCELLED"
	EventDeadlineReached      = "PAIRING_DEADLINE_REACHED"
	EventPairingExpired       = "PAIRING_EXPIRED"
	EventPairingStatusChanged = "PAIRING_STATUS_CHANGED"
)

const sourcePairing = "pairing"

// PairingEvent is the payload of every pairing outbox event.
type PairingEvent struct {
	PairingID       uint64                   `json:"pairing_id"`
	OrganizationID  uint64                   `json:"organization_id"`
	EventID         uint64                   `json:"event_id"`
	CaptainUserID   string                   `json:"captain_user_id"`
	PartnerUserID   string                   `json:"partner_user_id,omitempty"`
	InvitedUserID   string                   `json:"invited_user_id,omitempty"`
	InvitedContact  string                   `json:"invited_contact,omitempty"`
	OutgoingUserID  string                   `json:"outgoing_user_id,omitempty"`
	ActorUserID     string                   `json:"actor_user_id,omitempty"`
	SlotRole        model.SlotRole           `json:"slot_role,omitempty"`
	PaymentIntentID string                   `json:"payment_intent_id,omitempty"`
	From            model.RegistrationStatus `json:"from,omitempty"`
	To              model.RegistrationStatus `json:"to,omitempty"`
	Version         uint64                   `json:"version"`
	DeadlineAt      *time.Time               `json:"deadline_at,omitempty"`
}

// PairingService owns the doubles registration lifecycle. Every operation runs in one
// transaction: capacity check, slot mutation, event log append and outbox enqueue commit together.
type PairingService struct {
	repo     repo.RepositoryInterface
	producer *outbox.Producer
	guard    *CapacityGuard
	policy   pairing.Policy
	log      *zap.SugaredLogger
	now      func() time.Time
}

// NewPairingService returns PairingService.
func NewPairingService(r repo.RepositoryInterface, producer *outbox.Producer, policy pairing.Policy, logger *zap.SugaredLogger) *PairingService {
	return &PairingService{
		repo:     r,
		producer: producer,
		guard:    NewCapacityGuard(r),
		policy:   policy,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// GetPairing loads a pairing with its slots.
func (s *PairingService) GetPairing(ctx context.Context, id uint64) (*model.Pairing, error) {
	p, err := s.repo.GetPairing(ctx, nil, id)
	if err != nil {
		return nil, mapNotFound(err, pairing.ErrPairingNotFound)
	}
	return p, nil
}

// GetStatus serves the status snapshot from Redis, falling back to the database.
func (s *PairingService) GetStatus(ctx context.Context, id uint64) (repo.StatusSnapshot, error) {
	if snap, err := s.repo.GetCachedPairingStatus(ctx, id); err == nil {
		return *snap, nil
	}
	p, err := s.GetPairing(ctx, id)
	if err != nil {
		return repo.StatusSnapshot{}, err
	}
	s.cache(ctx, p)
	return repo.SnapshotOf(p), nil
}

func mapNotFound(err, notFound error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return err
}

func (s *PairingService) lock(ctx context.Context, tx *gorm.DB, id uint64) (*model.Pairing, error) {
	p, err := s.repo.GetPairingForUpdate(ctx, tx, id)
	if err != nil {
		return nil, mapNotFound(err, pairing.ErrPairingNotFound)
	}
	return p, nil
}

func (s *PairingService) event(p *model.Pairing) PairingEvent {
	evt := PairingEvent{
		PairingID:      p.ID,
		OrganizationID: p.OrganizationID,
		EventID:        p.EventID,
		CaptainUserID:  p.CreatedByUserID,
		Version:        p.Version,
		DeadlineAt:     p.DeadlineAt,
	}
	if p.PartnerUserID != nil {
		evt.PartnerUserID = *p.PartnerUserID
	}
	if partner := p.Slot(model.SlotPartner); partner != nil {
		if partner.InvitedUserID != nil {
			evt.InvitedUserID = *partner.InvitedUserID
		}
		if partner.InvitedContact != nil {
			evt.InvitedContact = *partner.InvitedContact
		}
	}
	return evt
}

func (s *PairingService) emit(ctx context.Context, tx *gorm.DB, p *model.Pairing, eventType, key string, actor *pairing.Actor, payload PairingEvent) error {
	src, srcID := sourcePairing, fmt.Sprintf("%d", p.ID)
	var actorID *string
	if actor != nil && actor.UserID != "" {
		actorID = strPtr(actor.UserID)
		payload.ActorUserID = actor.UserID
	}
	_, err := s.producer.Emit(ctx, tx, outbox.Fact{
		OrganizationID: p.OrganizationID,
		EventType:      eventType,
		IdempotencyKey: key,
		Payload:        payload,
		ActorUserID:    actorID,
		SourceType:     &src,
		SourceID:       &srcID,
	})
	return err
}

// commit recomputes the derived statuses, saves with the version guard and records the
// status-changed fact when the registration status moved.
func (s *PairingService) commit(ctx context.Context, tx *gorm.DB, p *model.Pairing, tr pairing.Transition, actor *pairing.Actor) error {
	if err := s.repo.SavePairing(ctx, tx, p); err != nil {
		return err
	}
	if !tr.Changed() {
		return nil
	}
	payload := s.event(p)
	payload.From, payload.To = tr.From, tr.To
	key := fmt.Sprintf("pairing:%d:status:%s:%s:v%d", p.ID, tr.From, tr.To, p.Version)
	return s.emit(ctx, tx, p, EventPairingStatusChanged, key, actor, payload)
}

func (s *PairingService) cache(ctx context.Context, p *model.Pairing) {
	if p == nil {
		return
	}
	if err := s.repo.CachePairingStatus(ctx, repo.SnapshotOf(p)); err != nil {
		s.log.Warnw("cache pairing status", "pairing_id", p.ID, "error", err)
	}
}

func clearPartnerSlot(slot *model.PairingSlot) {
	slot.SlotStatus = model.SlotPending
	slot.InvitedUserID = nil
	slot.InvitedContact = nil
	slot.ProfileID = nil
}

func clearInvite(p *model.Pairing) {
	p.PartnerInviteToken = nil
	p.PartnerLinkToken = nil
	p.PartnerLinkExpiresAt = nil
	p.PartnerInvitedAt = nil
}

func clearSwap(p *model.Pairing) {
	p.SwapConfirmToken = nil
	p.SwapConfirmExpiresAt = nil
}

func strPtr(s string) *string { return &s }
