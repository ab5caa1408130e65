// Package cronlock implements lease-based mutual exclusion for scheduled jobs, keyed by
// (job key, environment) and backed by the cron_job_locks table.
package cronlock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/richardliu001/doubles-registration/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultTTL is generous relative to a job tick so a slow run is not taken over mid-flight.
const DefaultTTL = 90 * time.Second

// Lease is a held lock. Degraded leases were granted without storage and release nothing.
type Lease struct {
	JobKey      string
	Env         string
	Token       string
	LockedUntil time.Time
	Degraded    bool
}

// Locker acquires and releases leases.
type Locker struct {
	db  *gorm.DB
	env string
	log *zap.SugaredLogger
	now func() time.Time
}

func NewLocker(db *gorm.DB, env string, logger *zap.SugaredLogger) *Locker {
	return &Locker{db: db, env: env, log: logger, now: time.Now}
}

// TryAcquire takes the lease for jobKey if nobody holds an unexpired one. It never blocks:
// acquired=false means the caller skips this cycle.
func (l *Locker) TryAcquire(ctx context.Context, jobKey string, ttl time.Duration) (*Lease, bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := l.now().UTC()
	until := now.Add(ttl)
	token := uuid.NewString()

	row := model.CronJobLock{
		JobKey:      jobKey,
		Env:         l.env,
		LockedBy:    &token,
		LockedAt:    &now,
		LockedUntil: &until,
		UpdatedAt:   now,
	}
	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_key"}, {Name: "env"}},
		DoUpdates: clause.AssignmentColumns([]string{"locked_by", "locked_at", "locked_until", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "cron_job_locks.locked_until IS NULL OR cron_job_locks.locked_until < ?", Vars: []interface{}{now}},
		}},
	}).Create(&row)
	if res.Error != nil {
		if missingTable(res.Error) {
			l.log.Warnw("cron lock storage unavailable, running without mutual exclusion",
				"job", jobKey, "env", l.env, "error", res.Error)
			return &Lease{JobKey: jobKey, Env: l.env, Token: token, LockedUntil: until, Degraded: true}, true, nil
		}
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		l.log.Debugw("lock busy, skip", "job", jobKey, "env", l.env)
		return nil, false, nil
	}
	return &Lease{JobKey: jobKey, Env: l.env, Token: token, LockedUntil: until}, true, nil
}

// Release clears the lease only if it is still held by the same token.
func (l *Locker) Release(ctx context.Context, lease *Lease) error {
	if lease == nil || lease.Degraded {
		return nil
	}
	res := l.db.WithContext(ctx).Model(&model.CronJobLock{}).
		Where("job_key = ? AND env = ? AND locked_by = ?", lease.JobKey, lease.Env, lease.Token).
		Updates(map[string]interface{}{
			"locked_by":    nil,
			"locked_at":    nil,
			"locked_until": nil,
			"updated_at":   l.now().UTC(),
		})
	if res.Error != nil {
		if missingTable(res.Error) {
			return nil
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		l.log.Warnw("lease no longer held at release", "job", lease.JobKey, "env", lease.Env)
	}
	return nil
}

// missingTable recognizes "relation does not exist" on Postgres and its SQLite equivalent.
func missingTable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P01"
	}
	return strings.Contains(err.Error(), "no such table")
}
