package model

import (
	"time"

	"gorm.io/datatypes"
)

// EventLogEntry is an immutable, organization-scoped fact. Rows are never updated or deleted.
type EventLogEntry struct {
	ID             int64          `gorm:"primaryKey;autoIncrement:false"`
	EventID        string         `gorm:"size:64;not null;uniqueIndex"`
	OrganizationID uint64         `gorm:"not null;uniqueIndex:ux_event_log_idem,priority:1"`
	EventType      string         `gorm:"size:64;not null;uniqueIndex:ux_event_log_idem,priority:2"`
	IdempotencyKey string         `gorm:"size:255;not null;uniqueIndex:ux_event_log_idem,priority:3"`
	Payload        datatypes.JSON `gorm:"not null"`
	ActorUserID    *string        `gorm:"size:64"`
	SourceType     *string        `gorm:"size:64"`
	SourceID       *string        `gorm:"size:64"`
	CorrelationID  *string        `gorm:"size:128"`
	CreatedAt      time.Time      `gorm:"autoCreateTime"`
}

func (EventLogEntry) TableName() string { return "event_log" }
