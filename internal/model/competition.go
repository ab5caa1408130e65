package model

import "time"

// Competition is the event instance pairings register for.
type Competition struct {
	ID                 uint64 `gorm:"primaryKey"`
	OrganizationID     uint64 `gorm:"not null;index"`
	Title              string `gorm:"size:255;not null"`
	StartsAt           *time.Time
	SplitDeadlineHours *int
	MaxEntriesTotal    *int
	CreatedAt          time.Time `gorm:"autoCreateTime"`
}

func (Competition) TableName() string { return "competitions" }

// Category carries the optional team and player caps of a competition division.
// A nil cap means unlimited.
type Category struct {
	ID              uint64 `gorm:"primaryKey"`
	EventID         uint64 `gorm:"not null;index"`
	Label           string `gorm:"size:128;not null"`
	CapacityTeams   *int
	CapacityPlayers *int
}

func (Category) TableName() string { return "categories" }
