package pairing

import (
	"testing"

	"github.com/richardliu001/doubles-registration/internal/model"
	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func newPairing(mode model.PaymentMode, join model.JoinMode) *model.Pairing {
	return &model.Pairing{
		PaymentMode:        mode,
		JoinMode:           join,
		RegistrationStatus: model.RegistrationPendingPartner,
		Slots: []model.PairingSlot{
			{SlotRole: model.SlotCaptain, SlotStatus: model.SlotFilled, PaymentStatus: model.SlotUnpaid, ProfileID: strPtr("captain")},
			{SlotRole: model.SlotPartner, SlotStatus: model.SlotPending, PaymentStatus: model.SlotUnpaid},
		},
	}
}

func TestDeriveRegistrationStatus(t *testing.T) {
	p := newPairing(model.PaymentModeSplit, model.JoinModeLookingForPartner)
	assert.Equal(t, model.RegistrationMatchmaking, DeriveRegistrationStatus(p))

	p.Slot(model.SlotPartner).InvitedContact = strPtr("a@b.c")
	assert.Equal(t, model.RegistrationPendingPartner, DeriveRegistrationStatus(p))

	p.Slot(model.SlotCaptain).PaymentStatus = model.SlotPaid
	partner := p.Slot(model.SlotPartner)
	partner.SlotStatus = model.SlotFilled
	partner.ProfileID = strPtr("partner")
	assert.Equal(t, model.RegistrationPendingPayment, DeriveRegistrationStatus(p))

	partner.PaymentStatus = model.SlotPaid
	assert.Equal(t, model.RegistrationConfirmed, DeriveRegistrationStatus(p))

	// swapped out: seat stays paid but has no occupant
	partner.SlotStatus = model.SlotPending
	partner.ProfileID = nil
	assert.Equal(t, model.RegistrationPendingPartner, DeriveRegistrationStatus(p))
}

func TestDeriveRegistrationStatus_FullMode(t *testing.T) {
	p := newPairing(model.PaymentModeFull, model.JoinModeInvitePartner)
	p.Slots[0].PaymentStatus = model.SlotPaid
	p.Slots[1].PaymentStatus = model.SlotPaid
	assert.Equal(t, model.RegistrationPendingPartner, DeriveRegistrationStatus(p))

	p.Slots[1].SlotStatus = model.SlotFilled
	p.Slots[1].ProfileID = strPtr("partner")
	assert.Equal(t, model.RegistrationConfirmed, DeriveRegistrationStatus(p))

	tr := Recompute(p)
	assert.True(t, tr.Changed())
	assert.Equal(t, model.LifecycleConfirmedCaptainFull, p.LifecycleStatus)
	assert.Equal(t, model.PairingComplete, p.PairingStatus)
}

func TestDeriveRegistrationStatus_TerminalIsSticky(t *testing.T) {
	p := newPairing(model.PaymentModeSplit, model.JoinModeInvitePartner)
	Terminate(p, model.RegistrationExpired)
	p.Slots[0].PaymentStatus = model.SlotPaid
	p.Slots[1].PaymentStatus = model.SlotPaid
	p.Slots[1].SlotStatus = model.SlotFilled

	tr := Recompute(p)
	assert.False(t, tr.Changed())
	assert.Equal(t, model.LifecycleCancelledIncomplete, p.LifecycleStatus)
	assert.Equal(t, model.PairingCancelled, p.PairingStatus)
	assert.False(t, Active(p))
}

// Both mapping directions must agree for every status.
func TestLifecycleMappingIsConsistentBothWays(t *testing.T) {
	modes := []model.PaymentMode{model.PaymentModeFull, model.PaymentModeSplit}
	registrations := []model.RegistrationStatus{
		model.RegistrationMatchmaking,
		model.RegistrationPendingPartner,
		model.RegistrationPendingPayment,
		model.RegistrationConfirmed,
		model.RegistrationCancelled,
	}
	for _, mode := range modes {
		for _, r := range registrations {
			assert.Equal(t, r, RegistrationFor(LifecycleFor(r, mode)), "%s/%s", mode, r)
		}
		assert.Equal(t, model.RegistrationCancelled, RegistrationFor(LifecycleFor(model.RegistrationExpired, mode)))
	}

	lifecycles := map[model.LifecycleStatus]model.PaymentMode{
		model.LifecycleMatchmaking:           model.PaymentModeSplit,
		model.LifecyclePendingOnePaid:        model.PaymentModeSplit,
		model.LifecyclePendingPartnerPayment: model.PaymentModeSplit,
		model.LifecycleConfirmedBothPaid:     model.PaymentModeSplit,
		model.LifecycleConfirmedCaptainFull:  model.PaymentModeFull,
		model.LifecycleCancelledIncomplete:   model.PaymentModeFull,
	}
	for l, mode := range lifecycles {
		assert.Equal(t, l, LifecycleFor(RegistrationFor(l), mode), "%s", l)
	}
}

func TestPairingStatusFor(t *testing.T) {
	assert.Equal(t, model.PairingIncomplete, PairingStatusFor(model.RegistrationPendingPayment))
	assert.Equal(t, model.PairingComplete, PairingStatusFor(model.RegistrationConfirmed))
	assert.Equal(t, model.PairingCancelled, PairingStatusFor(model.RegistrationExpired))
	assert.Equal(t, model.PairingCancelled, PairingStatusFor(model.RegistrationCancelled))
}

func TestIsInvitee(t *testing.T) {
	slot := &model.PairingSlot{InvitedContact: strPtr("  Partner@Example.com ")}
	assert.True(t, IsInvitee(slot, Actor{Contact: "partner@example.COM"}))
	assert.False(t, IsInvitee(slot, Actor{Contact: "other@example.com"}))

	slot.InvitedUserID = strPtr("u-2")
	assert.True(t, IsInvitee(slot, Actor{UserID: "u-2"}))
	assert.False(t, IsInvitee(slot, Actor{UserID: "u-3"}))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindConflict, KindOf(ErrCategoryFull))
	assert.Equal(t, KindNotFound, KindOf(ErrPairingNotFound))
	assert.Equal(t, Kind(0), KindOf(assert.AnError))
}
