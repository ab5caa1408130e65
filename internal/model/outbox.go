package model

import (
	"time"

	"gorm.io/datatypes"
)

type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "PENDING"
	OutboxHandled    OutboxStatus = "HANDLED"
	OutboxFailed     OutboxStatus = "FAILED"
	OutboxDeadLetter OutboxStatus = "DEAD_LETTER"
)

// OutboxEvent tracks delivery of one business event. DedupeKey collapses repeated enqueues.
type OutboxEvent struct {
	ID            uint64         `gorm:"primaryKey"`
	EventID       string         `gorm:"size:64;not null;index"`
	EventType     string         `gorm:"size:64;not null;index"`
	DedupeKey     string         `gorm:"size:255;not null;uniqueIndex"`
	Payload       datatypes.JSON `gorm:"not null"`
	CorrelationID *string        `gorm:"size:128"`
	Status        OutboxStatus   `gorm:"size:16;not null;index"`
	Attempts      int            `gorm:"not null;default:0"`
	LastError     *string
	NextAttemptAt *time.Time `gorm:"index"`
	HandledAt     *time.Time
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (OutboxEvent) TableName() string { return "event_outbox" }
