// Package scheduler runs periodic jobs in-process. Each tick takes the job's CronLock lease
// first, so only one replica per environment runs a job at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richardliu001/doubles-registration/internal/cronlock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidJob is returned by NewScheduler for jobs without a key, run function or interval.
var ErrInvalidJob = errors.New("invalid job")

// Job is one periodic unit of work.
type Job struct {
	Key      string
	Interval time.Duration
	LeaseTTL time.Duration
	Run      func(ctx context.Context) error
}

// Locker is the lease API the scheduler needs.
type Locker interface {
	TryAcquire(ctx context.Context, jobKey string, ttl time.Duration) (*cronlock.Lease, bool, error)
	Release(ctx context.Context, lease *cronlock.Lease) error
}

// Outcome of a single tick.
type Outcome int

const (
	Ran Outcome = iota + 1
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Ran:
		return "ran"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

type Scheduler struct {
	locker Locker
	jobs   []Job
	log    *zap.SugaredLogger
}

func NewScheduler(locker Locker, logger *zap.SugaredLogger, jobs ...Job) (*Scheduler, error) {
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if j.Key == "" || j.Run == nil || j.Interval <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidJob, j.Key)
		}
		if seen[j.Key] {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidJob, j.Key)
		}
		seen[j.Key] = true
	}
	return &Scheduler{locker: locker, jobs: jobs, log: logger}, nil
}

// RunOnce runs a single tick of job: acquire the lease, run, release. A busy lease is a skip,
// not an error.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) (Outcome, error) {
	lease, ok, err := s.locker.TryAcquire(ctx, job.Key, job.LeaseTTL)
	if err != nil {
		s.log.Errorw("acquire lease", "job", job.Key, "error", err)
		return Failed, fmt.Errorf("acquire %s: %w", job.Key, err)
	}
	if !ok {
		return Skipped, nil
	}
	defer func() {
		// ctx may already be cancelled at shutdown
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.locker.Release(rctx, lease); err != nil {
			s.log.Warnw("release lease", "job", job.Key, "error", err)
		}
	}()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.log.Errorw("job failed", "job", job.Key, "elapsed", time.Since(start), "error", err)
		return Failed, fmt.Errorf("run %s: %w", job.Key, err)
	}
	s.log.Debugw("job done", "job", job.Key, "elapsed", time.Since(start), "degraded", lease.Degraded)
	return Ran, nil
}

// RunAll runs one tick of every job concurrently and returns the first failure.
func (s *Scheduler) RunAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		j := j
		g.Go(func() error {
			_, err := s.RunOnce(gctx, j)
			return err
		})
	}
	return g.Wait()
}

// Start ticks every job on its own interval until ctx is cancelled. Job failures are logged and
// the loop keeps going.
func (s *Scheduler) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		j := j
		g.Go(func() error {
			s.loop(gctx, j)
			return nil
		})
	}
	s.log.Infow("scheduler started", "jobs", len(s.jobs))
	err := g.Wait()
	s.log.Infow("scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		_, _ = s.RunOnce(ctx, job)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
