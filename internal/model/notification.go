package model

import "time"

// NotificationDelivery records that a notification was handed to the sink.
type NotificationDelivery struct {
	ID        uint64    `gorm:"primaryKey"`
	DedupeKey string    `gorm:"size:255;not null;uniqueIndex"`
	UserID    string    `gorm:"size:64;not null"`
	Type      string    `gorm:"size:64;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (NotificationDelivery) TableName() string { return "notification_deliveries" }
