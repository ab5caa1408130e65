package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticket is the entitlement issued for a paid slot. OwnerUserID is nil while unowned.
type Ticket struct {
	ID              uint64          `gorm:"primaryKey"`
	PairingID       uint64          `gorm:"not null;index"`
	SlotRole        SlotRole        `gorm:"size:16;not null;uniqueIndex:ux_ticket_intent_slot"`
	PaymentIntentID string          `gorm:"size:128;not null;uniqueIndex:ux_ticket_intent_slot"`
	OwnerUserID     *string         `gorm:"size:64;index"`
	Amount          decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	CreatedAt       time.Time       `gorm:"autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime"`
}

func (Ticket) TableName() string { return "tickets" }
