package service

import (
	"context"
	"fmt"

	"github.com/richardliu001/doubles-registration/internal/model"
	"github.com/richardliu001/doubles-registration/internal/notify"
	"github.com/richardliu001/doubles-registration/internal/outbox"
	"github.com/richardliu001/doubles-registration/internal/pairing"
	"go.uber.org/zap"
)

// Notification types sent to users.
const (
	NotifyPartnerInvited  = "PARTNER_INVITED"
	NotifyInviteDeclined  = "INVITE_DECLINED"
	NotifyPartnerAccepted = "PARTNER_ACCEPTED"
	NotifySlotPaid        = "SLOT_PAID"
	NotifyConfirmed       = "PAIRING_CONFIRMED"
	NotifyExpired         = "PAIRING_EXPIRED"
	NotifyCancelled       = "PAIRING_CANCELLED"
	NotifySwapRequested   = "PARTNER_SWAP_REQUESTED"
	NotifyPartnerSwapped  = "PARTNER_SWAPPED"
	NotifyPartnerChanged  = "PARTNER_CHANGED"
)

// Consumers applies pairing outbox events. Each handler is safe to run twice: state changes go
// through the idempotent service operations and notifications are claimed in the delivery
// ledger before the sink is called.
type Consumers struct {
	svc      *PairingService
	notifier notify.Notifier
	log      *zap.SugaredLogger
}

func NewConsumers(svc *PairingService, notifier notify.Notifier, logger *zap.SugaredLogger) *Consumers {
	return &Consumers{svc: svc, notifier: notifier, log: logger}
}

// Register binds every pairing event type.
func (c *Consumers) Register(reg *outbox.Registry) error {
	handlers := map[string]func(context.Context, outbox.Event, PairingEvent) error{
		EventPairingRegistered:    c.onRegistered,
		EventPartnerInvited:       c.onInvited,
		EventInviteDeclined:       c.notifyCaptain(NotifyInviteDeclined),
		EventPartnerAccepted:      c.notifyCaptain(NotifyPartnerAccepted),
		EventSlotPaid:             c.onSlotPaid,
		EventSwapRequested:        c.notifyCaptain(NotifySwapRequested),
		EventPartnerSwapped:       c.onSwapped,
		EventPartnersExchanged:    c.notifyBoth(NotifyPartnerChanged),
		EventPairingCancelled:     c.notifyBoth(NotifyCancelled),
		EventDeadlineReached:      c.onDeadlineReached,
		EventPairingExpired:       c.notifyBoth(NotifyExpired),
		EventPairingStatusChanged: c.onStatusChanged,
	}
	for eventType, h := range handlers {
		if err := reg.Register(eventType, c.wrap(h)); err != nil {
			return fmt.Errorf("register %s: %w", eventType, err)
		}
	}
	return nil
}

func (c *Consumers) wrap(h func(context.Context, outbox.Event, PairingEvent) error) outbox.Consumer {
	return func(ctx context.Context, evt outbox.Event) error {
		var payload PairingEvent
		if err := evt.Decode(&payload); err != nil {
			return err
		}
		if err := h(ctx, evt, payload); err != nil {
			if pairing.KindOf(err) != 0 {
				return outbox.Permanent(err)
			}
			return err
		}
		return nil
	}
}

// notifyOnce claims the delivery and calls the sink. Sink failures are logged, never returned:
// the state transition that produced the event already committed.
func (c *Consumers) notifyOnce(ctx context.Context, evt outbox.Event, userID, notificationType string, payload PairingEvent) error {
	if userID == "" {
		return nil
	}
	claimed, err := c.svc.repo.ClaimNotification(ctx, nil, &model.NotificationDelivery{
		DedupeKey: fmt.Sprintf("notify:%s:%s:%s", evt.EventID, userID, notificationType),
		UserID:    userID,
		Type:      notificationType,
	})
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	if err := c.notifier.Notify(ctx, userID, notificationType, payload); err != nil {
		c.log.Warnw("notify failed", "event_id", evt.EventID, "user_id", userID, "type", notificationType, "error", err)
	}
	return nil
}

func (c *Consumers) notifyCaptain(notificationType string) func(context.Context, outbox.Event, PairingEvent) error {
	return func(ctx context.Context, evt outbox.Event, p PairingEvent) error {
		return c.notifyOnce(ctx, evt, p.CaptainUserID, notificationType, p)
	}
}

func (c *Consumers) notifyBoth(notificationType string) func(context.Context, outbox.Event, PairingEvent) error {
	return func(ctx context.Context, evt outbox.Event, p PairingEvent) error {
		if err := c.notifyOnce(ctx, evt, p.CaptainUserID, notificationType, p); err != nil {
			return err
		}
		return c.notifyOnce(ctx, evt, p.PartnerUserID, notificationType, p)
	}
}

func (c *Consumers) onRegistered(ctx context.Context, _ outbox.Event, p PairingEvent) error {
	_, err := c.svc.GetStatus(ctx, p.PairingID)
	return err
}

func (c *Consumers) onInvited(ctx context.Context, evt outbox.Event, p PairingEvent) error {
	target := p.InvitedUserID
	if target == "" {
		target = p.InvitedContact
	}
	return c.notifyOnce(ctx, evt, target, NotifyPartnerInvited, p)
}

func (c *Consumers) onSlotPaid(ctx context.Context, evt outbox.Event, p PairingEvent) error {
	if err := c.notifyOnce(ctx, evt, p.CaptainUserID, NotifySlotPaid, p); err != nil {
		return err
	}
	if p.SlotRole == model.SlotPartner {
		return c.notifyOnce(ctx, evt, p.PartnerUserID, NotifySlotPaid, p)
	}
	return nil
}

func (c *Consumers) onSwapped(ctx context.Context, evt outbox.Event, p PairingEvent) error {
	if err := c.notifyOnce(ctx, evt, p.CaptainUserID, NotifyPartnerSwapped, p); err != nil {
		return err
	}
	return c.notifyOnce(ctx, evt, p.OutgoingUserID, NotifyPartnerSwapped, p)
}

func (c *Consumers) onDeadlineReached(ctx context.Context, _ outbox.Event, p PairingEvent) error {
	expired, err := c.svc.ExpirePairing(ctx, p.PairingID)
	if err != nil {
		return err
	}
	if !expired {
		c.log.Debugw("deadline event without effect", "pairing_id", p.PairingID)
	}
	return nil
}

func (c *Consumers) onStatusChanged(ctx context.Context, evt outbox.Event, p PairingEvent) error {
	if p.To != model.RegistrationConfirmed {
		return nil
	}
	return c.notifyBoth(NotifyConfirmed)(ctx, evt, p)
}
