package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMode string

const (
	PaymentModeFull  PaymentMode = "FULL"
	PaymentModeSplit PaymentMode = "SPLIT"
)

type JoinMode string

const (
	JoinModeInvitePartner     JoinMode = "INVITE_PARTNER"
	JoinModeLookingForPartner JoinMode = "LOOKING_FOR_PARTNER"
)

type PairingStatus string

const (
	PairingIncomplete PairingStatus = "INCOMPLETE"
	PairingComplete   PairingStatus = "COMPLETE"
	PairingCancelled  PairingStatus = "CANCELLED"
)

// RegistrationStatus is the stored status of a pairing's registration.
type RegistrationStatus string

const (
	RegistrationMatchmaking    RegistrationStatus = "MATCHMAKING"
	RegistrationPendingPartner RegistrationStatus = "PENDING_PARTNER"
	RegistrationPendingPayment RegistrationStatus = "PENDING_PAYMENT"
	RegistrationConfirmed      RegistrationStatus = "CONFIRMED"
	RegistrationExpired        RegistrationStatus = "EXPIRED"
	RegistrationCancelled      RegistrationStatus = "CANCELLED"
)

// Terminal reports whether no further transition may leave the status.
func (s RegistrationStatus) Terminal() bool {
	return s == RegistrationExpired || s == RegistrationCancelled
}

// LifecycleStatus is the denormalized view of a pairing derived from its registration status.
type LifecycleStatus string

const (
	LifecycleMatchmaking           LifecycleStatus = "MATCHMAKING"
	LifecyclePendingOnePaid        LifecycleStatus = "PENDING_ONE_PAID"
	LifecyclePendingPartnerPayment LifecycleStatus = "PENDING_PARTNER_PAYMENT"
	LifecycleConfirmedBothPaid     LifecycleStatus = "CONFIRMED_BOTH_PAID"
	LifecycleConfirmedCaptainFull  LifecycleStatus = "CONFIRMED_CAPTAIN_FULL"
	LifecycleCancelledIncomplete   LifecycleStatus = "CANCELLED_INCOMPLETE"
)

type SlotRole string

const (
	SlotCaptain SlotRole = "CAPTAIN"
	SlotPartner SlotRole = "PARTNER"
)

type SlotStatus string

const (
	SlotPending SlotStatus = "PENDING"
	SlotFilled  SlotStatus = "FILLED"
)

type SlotPaymentStatus string

const (
	SlotUnpaid SlotPaymentStatus = "UNPAID"
	SlotPaid   SlotPaymentStatus = "PAID"
)

// Pairing is the doubles registration aggregate: one row plus exactly two slots.
type Pairing struct {
	ID                        uint64             `gorm:"primaryKey"`
	OrganizationID            uint64             `gorm:"not null;index"`
	EventID                   uint64             `gorm:"not null;index"`
	CategoryID                *uint64            `gorm:"index"`
	PaymentMode               PaymentMode        `gorm:"size:16;not null"`
	JoinMode                  JoinMode           `gorm:"size:32;not null"`
	PairingStatus             PairingStatus      `gorm:"size:16;not null"`
	RegistrationStatus        RegistrationStatus `gorm:"size:32;not null;index"`
	LifecycleStatus           LifecycleStatus    `gorm:"size:32;not null"`
	CreatedByUserID           string             `gorm:"size:64;not null"`
	PartnerUserID             *string            `gorm:"size:64"`
	PartnerInviteToken        *string            `gorm:"size:64;uniqueIndex"`
	PartnerLinkToken          *string            `gorm:"size:64;uniqueIndex"`
	PartnerLinkExpiresAt      *time.Time
	PartnerInvitedAt          *time.Time
	PartnerAcceptedAt         *time.Time
	SwapConfirmToken          *string `gorm:"size:64;uniqueIndex"`
	SwapConfirmExpiresAt      *time.Time
	DeadlineAt                *time.Time `gorm:"index"`
	PartnerSwapAllowedUntilAt *time.Time
	Version                   uint64    `gorm:"not null;default:0"`
	CreatedAt                 time.Time `gorm:"autoCreateTime"`
	UpdatedAt                 time.Time `gorm:"autoUpdateTime"`

	Slots []PairingSlot `gorm:"foreignKey:PairingID"`
}

func (Pairing) TableName() string { return "pairings" }

// Slot returns the slot with the given role, or nil if the aggregate was loaded without it.
func (p *Pairing) Slot(role SlotRole) *PairingSlot {
	for i := range p.Slots {
		if p.Slots[i].SlotRole == role {
			return &p.Slots[i]
		}
	}
	return nil
}

type PairingSlot struct {
	ID             uint64            `gorm:"primaryKey"`
	PairingID      uint64            `gorm:"not null;uniqueIndex:ux_pairing_slot_role"`
	SlotRole       SlotRole          `gorm:"size:16;not null;uniqueIndex:ux_pairing_slot_role"`
	SlotStatus     SlotStatus        `gorm:"size:16;not null"`
	PaymentStatus  SlotPaymentStatus `gorm:"size:16;not null"`
	InvitedUserID  *string           `gorm:"size:64"`
	InvitedContact *string           `gorm:"size:255"`
	ProfileID      *string           `gorm:"size:64;index"`
	AmountPaid     decimal.Decimal   `gorm:"type:numeric(20,8);not null"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime"`
}

func (PairingSlot) TableName() string { return "pairing_slots" }

func (s *PairingSlot) Filled() bool { return s != nil && s.SlotStatus == SlotFilled }

func (s *PairingSlot) Paid() bool { return s != nil && s.PaymentStatus == SlotPaid }
