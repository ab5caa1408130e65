package pairing

import "github.com/richardliu001/doubles-registration/internal/model"

// DeriveRegistrationStatus computes the registration status from the slot facts.
// Terminal statuses are sticky: once EXPIRED or CANCELLED nothing moves the pairing again.
func DeriveRegistrationStatus(p *model.Pairing) model.RegistrationStatus {
	if p.RegistrationStatus.Terminal() {
		return p.RegistrationStatus
	}
	captain := p.Slot(model.SlotCaptain)
	partner := p.Slot(model.SlotPartner)

	switch p.PaymentMode {
	case model.PaymentModeFull:
		if captain.Paid() && partner.Paid() && partner.Filled() {
			return model.RegistrationConfirmed
		}
	case model.PaymentModeSplit:
		if captain.Filled() && captain.Paid() && partner.Filled() && partner.Paid() {
			return model.RegistrationConfirmed
		}
	}

	if partner.Filled() {
		return model.RegistrationPendingPayment
	}
	// A paid seat without an occupant is waiting for a replacement partner.
	if partner.Paid() {
		return model.RegistrationPendingPartner
	}
	if p.JoinMode == model.JoinModeLookingForPartner && !hasInviteTarget(p, partner) {
		return model.RegistrationMatchmaking
	}
	return model.RegistrationPendingPartner
}

func hasInviteTarget(p *model.Pairing, partner *model.PairingSlot) bool {
	if p.PartnerLinkToken != nil || p.PartnerInviteToken != nil {
		return true
	}
	return partner != nil && (partner.InvitedUserID != nil || partner.InvitedContact != nil)
}

// LifecycleFor maps a registration status onto the denormalized lifecycle view.
func LifecycleFor(status model.RegistrationStatus, mode model.PaymentMode) model.LifecycleStatus {
	switch status {
	case model.RegistrationMatchmaking:
		return model.LifecycleMatchmaking
	case model.RegistrationPendingPartner:
		return model.LifecyclePendingOnePaid
	case model.RegistrationPendingPayment:
		return model.LifecyclePendingPartnerPayment
	case model.RegistrationConfirmed:
		if mode == model.PaymentModeFull {
			return model.LifecycleConfirmedCaptainFull
		}
		return model.LifecycleConfirmedBothPaid
	default:
		return model.LifecycleCancelledIncomplete
	}
}

// RegistrationFor is the inverse of LifecycleFor. EXPIRED and CANCELLED share one lifecycle
// value, so the inverse of CANCELLED_INCOMPLETE is CANCELLED.
func RegistrationFor(lifecycle model.LifecycleStatus) model.RegistrationStatus {
	switch lifecycle {
	case model.LifecycleMatchmaking:
		return model.RegistrationMatchmaking
	case model.LifecyclePendingOnePaid:
		return model.RegistrationPendingPartner
	case model.LifecyclePendingPartnerPayment:
		return model.RegistrationPendingPayment
	case model.LifecycleConfirmedBothPaid, model.LifecycleConfirmedCaptainFull:
		return model.RegistrationConfirmed
	default:
		return model.RegistrationCancelled
	}
}

func PairingStatusFor(status model.RegistrationStatus) model.PairingStatus {
	switch {
	case status == model.RegistrationConfirmed:
		return model.PairingComplete
	case status.Terminal():
		return model.PairingCancelled
	default:
		return model.PairingIncomplete
	}
}

// Transition describes the effect of Recompute on a pairing.
type Transition struct {
	From model.RegistrationStatus
	To   model.RegistrationStatus
}

func (t Transition) Changed() bool { return t.From != t.To }

// Recompute re-derives every status column of p from its slots. All mutation paths call it
// before persisting so the three columns cannot drift apart.
func Recompute(p *model.Pairing) Transition {
	from := p.RegistrationStatus
	to := DeriveRegistrationStatus(p)
	p.RegistrationStatus = to
	p.LifecycleStatus = LifecycleFor(to, p.PaymentMode)
	p.PairingStatus = PairingStatusFor(to)
	return Transition{From: from, To: to}
}

// Terminate moves p into a terminal status (EXPIRED or CANCELLED) and refreshes derived columns.
func Terminate(p *model.Pairing, status model.RegistrationStatus) Transition {
	from := p.RegistrationStatus
	p.RegistrationStatus = status
	p.LifecycleStatus = LifecycleFor(status, p.PaymentMode)
	p.PairingStatus = PairingStatusFor(status)
	return Transition{From: from, To: status}
}

// Active reports whether p counts against capacity.
func Active(p *model.Pairing) bool {
	return p.PairingStatus != model.PairingCancelled && p.LifecycleStatus != model.LifecycleCancelledIncomplete
}

// Settled reports whether both seats are committed according to the payment mode.
func Settled(p *model.Pairing) bool {
	return DeriveRegistrationStatus(p) == model.RegistrationConfirmed
}
