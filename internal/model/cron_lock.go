package model

import "time"

// CronJobLock is the lease row for one (job, environment) pair.
type CronJobLock struct {
	JobKey      string  `gorm:"primaryKey;size:128"`
	Env         string  `gorm:"primaryKey;size:32"`
	LockedBy    *string `gorm:"size:64"`
	LockedAt    *time.Time
	LockedUntil *time.Time
	UpdatedAt   time.Time
}

func (CronJobLock) TableName() string { return "cron_job_locks" }
