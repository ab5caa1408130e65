package outbox

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/richardliu001/doubles-registration/internal/model"
	"github.com/richardliu001/doubles-registration/internal/repo"
	"go.uber.org/zap"
)

// DeliveryStore is what the dispatcher needs from persistence.
type DeliveryStore interface {
	PollOutbox(ctx context.Context, limit int, now time.Time) ([]model.OutboxEvent, error)
	MarkOutboxHandled(ctx context.Context, id uint64, at time.Time) (bool, error)
	MarkOutboxAttempt(ctx context.Context, id uint64, a repo.OutboxAttempt) error
}

type Config struct {
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 5 * time.Minute
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = 6 * time.Hour
	}
	return c
}

// Result is the outcome of one dispatch.
type Result struct {
	Status   model.OutboxStatus
	Attempts int
}

// BatchResult counts the outcomes of one polling cycle.
type BatchResult struct {
	Polled       int
	Handled      int
	Retried      int
	Failed       int
	DeadLettered int
}

// Dispatcher delivers pending outbox rows to registered consumers.
type Dispatcher struct {
	store    DeliveryStore
	registry *Registry
	cfg      Config
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewDispatcher(store DeliveryStore, registry *Registry, cfg Config, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{store: store, registry: registry, cfg: cfg.withDefaults(), log: logger, now: time.Now}
}

// Backoff returns base * 2^(attempt-1), capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Dispatch runs the consumer for one row and records the outcome. The consumer error is returned
// after the row has been updated so callers can observe it.
func (d *Dispatcher) Dispatch(ctx context.Context, row model.OutboxEvent) (Result, error) {
	consumer, ok := d.registry.Lookup(row.EventType)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrConsumerNotRegistered, row.EventType)
		return d.fail(ctx, row, model.OutboxFailed, err)
	}

	if err := d.invoke(ctx, consumer, eventFromRow(row)); err != nil {
		status := model.OutboxPending
		switch {
		case IsPermanent(err):
			status = model.OutboxFailed
		case row.Attempts+1 >= d.cfg.MaxAttempts:
			status = model.OutboxDeadLetter
		}
		return d.fail(ctx, row, status, err)
	}

	handled, err := d.store.MarkOutboxHandled(ctx, row.ID, d.now())
	if err != nil {
		return Result{Status: row.Status, Attempts: row.Attempts}, fmt.Errorf("mark handled %d: %w", row.ID, err)
	}
	if !handled {
		d.log.Debugw("outbox event already settled", "outbox_id", row.ID, "event_id", row.EventID)
	}
	return Result{Status: model.OutboxHandled, Attempts: row.Attempts}, nil
}

func (d *Dispatcher) invoke(ctx context.Context, c Consumer, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consumer panic: %v", r)
			d.log.Errorw("consumer panic", "event_id", evt.EventID, "event_type", evt.EventType, "stack", string(debug.Stack()))
		}
	}()
	return c(ctx, evt)
}

func (d *Dispatcher) fail(ctx context.Context, row model.OutboxEvent, status model.OutboxStatus, cause error) (Result, error) {
	attempts := row.Attempts + 1
	var next *time.Time
	if status == model.OutboxPending {
		at := d.now().Add(Backoff(d.cfg.BaseBackoff, d.cfg.MaxBackoff, attempts)).UTC()
		next = &at
	}
	d.log.Errorw("outbox dispatch failed",
		"outbox_id", row.ID, "event_id", row.EventID, "event_type", row.EventType,
		"attempts", attempts, "status", status, "error", cause)

	if err := d.store.MarkOutboxAttempt(ctx, row.ID, repo.OutboxAttempt{
		Status:        status,
		Attempts:      attempts,
		LastError:     cause.Error(),
		NextAttemptAt: next,
	}); err != nil {
		d.log.Errorw("record outbox attempt", "outbox_id", row.ID, "error", err)
	}
	return Result{Status: status, Attempts: attempts}, fmt.Errorf("dispatch %s (%s): %w", row.EventID, row.EventType, cause)
}

// DispatchBatch polls due rows and dispatches each in isolation. Only a polling failure is returned.
func (d *Dispatcher) DispatchBatch(ctx context.Context) (BatchResult, error) {
	var out BatchResult
	rows, err := d.store.PollOutbox(ctx, d.cfg.BatchSize, d.now())
	if err != nil {
		return out, fmt.Errorf("poll outbox: %w", err)
	}
	out.Polled = len(rows)
	for _, row := range rows {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		res, _ := d.Dispatch(ctx, row)
		switch res.Status {
		case model.OutboxHandled:
			out.Handled++
		case model.OutboxPending:
			out.Retried++
		case model.OutboxFailed:
			out.Failed++
		case model.OutboxDeadLetter:
			out.DeadLettered++
		}
	}
	if out.Polled > 0 {
		d.log.Infow("outbox batch dispatched", "polled", out.Polled, "handled", out.Handled,
			"retried", out.Retried, "failed", out.Failed, "dead_lettered", out.DeadLettered)
	}
	return out, nil
}
