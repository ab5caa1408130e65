package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/richardliu001/doubles-registration/internal/logger"
	"github.com/richardliu001/doubles-registration/internal/model"
	"github.com/richardliu001/doubles-registration/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*repo.Repository, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:outbox_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, repo.Migrate(db))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log, err := logger.NewLogger("error")
	require.NoError(t, err)
	return repo.NewRepository(db, nil, node, log), db
}

func newTestDispatcher(t *testing.T, store DeliveryStore, reg *Registry) *Dispatcher {
	t.Helper()
	log, err := logger.NewLogger("error")
	require.NoError(t, err)
	d := NewDispatcher(store, reg, Config{BatchSize: 10, MaxAttempts: 3, BaseBackoff: time.Minute, MaxBackoff: time.Hour}, log)
	d.now = func() time.Time { return fixedNow }
	return d
}

func emit(t *testing.T, r *repo.Repository, db *gorm.DB, eventType, key string) *model.OutboxEvent {
	t.Helper()
	evt, err := NewProducer(r).Emit(context.Background(), db, Fact{
		OrganizationID: 1, EventType: eventType, IdempotencyKey: key,
		Payload: map[string]interface{}{"pairing_id": 1},
	})
	require.NoError(t, err)
	return evt
}

func TestProducer_EmitIsIdempotent(t *testing.T) {
	r, db := newTestStore(t)

	first := emit(t, r, db, "PAIRING_SLOT_PAID", "pairing:1:slot:PARTNER:paid:pi_1")
	second := emit(t, r, db, "PAIRING_SLOT_PAID", "pairing:1:slot:PARTNER:paid:pi_1")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.EventID, second.EventID)

	var logs, rows int64
	db.Model(&model.EventLogEntry{}).Count(&logs)
	db.Model(&model.OutboxEvent{}).Count(&rows)
	assert.EqualValues(t, 1, logs)
	assert.EqualValues(t, 1, rows)

	var entry model.EventLogEntry
	require.NoError(t, db.First(&entry).Error)
	assert.Equal(t, entry.EventID, first.EventID)
}

func TestProducer_RollbackLeavesNothing(t *testing.T) {
	r, db := newTestStore(t)
	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := NewProducer(r).Emit(context.Background(), tx, Fact{
			OrganizationID: 1, EventType: "T", IdempotencyKey: "k", Payload: struct{}{},
		}); err != nil {
			return err
		}
		return errors.New("business write failed")
	})
	require.Error(t, err)

	var logs, rows int64
	db.Model(&model.EventLogEntry{}).Count(&logs)
	db.Model(&model.OutboxEvent{}).Count(&rows)
	assert.Zero(t, logs)
	assert.Zero(t, rows)
}

func TestProducer_RequiresKeys(t *testing.T) {
	r, db := newTestStore(t)
	_, err := NewProducer(r).Emit(context.Background(), db, Fact{EventType: "T"})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	noop := func(context.Context, Event) error { return nil }

	require.NoError(t, reg.Register("A", noop))
	assert.ErrorIs(t, reg.Register("A", noop), ErrConsumerAlreadyRegistered)
	assert.ErrorIs(t, reg.Register(" ", noop), ErrInvalidConsumer)
	assert.ErrorIs(t, reg.Register("B", nil), ErrInvalidConsumer)

	_, ok := reg.Lookup("A")
	assert.True(t, ok)
	_, ok = reg.Lookup("missing")
	assert.False(t, ok)

	require.NoError(t, reg.Register(" C ", noop))
	_, ok = reg.Lookup("C")
	assert.True(t, ok)
	_, ok = reg.Lookup(" A\n")
	assert.True(t, ok)
	assert.ErrorIs(t, reg.Register("C", noop), ErrConsumerAlreadyRegistered)
}

func TestDispatch_Success(t *testing.T) {
	r, db := newTestStore(t)
	row := emit(t, r, db, "A", "a")

	var seen Event
	reg := NewRegistry()
	require.NoError(t, reg.Register("A", func(_ context.Context, evt Event) error {
		seen = evt
		return nil
	}))

	res, err := newTestDispatcher(t, r, reg).Dispatch(context.Background(), *row)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxHandled, res.Status)
	assert.Equal(t, row.EventID, seen.EventID)

	var payload struct {
		PairingID uint64 `json:"pairing_id"`
	}
	require.NoError(t, seen.Decode(&payload))
	assert.EqualValues(t, 1, payload.PairingID)

	stored, err := r.GetOutboxEvent(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxHandled, stored.Status)
	assert.NotNil(t, stored.HandledAt)
}

func TestDispatch_UnknownTypeFails(t *testing.T) {
	r, db := newTestStore(t)
	row := emit(t, r, db, "NOBODY_LISTENS", "x")

	res, err := newTestDispatcher(t, r, NewRegistry()).Dispatch(context.Background(), *row)
	assert.ErrorIs(t, err, ErrConsumerNotRegistered)
	assert.Equal(t, model.OutboxFailed, res.Status)

	stored, _ := r.GetOutboxEvent(context.Background(), row.ID)
	assert.Equal(t, model.OutboxFailed, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
}

func TestDispatch_RetryThenDeadLetter(t *testing.T) {
	r, db := newTestStore(t)
	row := emit(t, r, db, "A", "a")
	boom := errors.New("sink down")
	reg := NewRegistry()
	require.NoError(t, reg.Register("A", func(context.Context, Event) error { return boom }))
	d := newTestDispatcher(t, r, reg)
	ctx := context.Background()

	res, err := d.Dispatch(ctx, *row)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, model.OutboxPending, res.Status)

	stored, _ := r.GetOutboxEvent(ctx, row.ID)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.NextAttemptAt)
	assert.True(t, stored.NextAttemptAt.Equal(fixedNow.Add(time.Minute)))

	// not due yet
	due, err := r.PollOutbox(ctx, 10, fixedNow)
	require.NoError(t, err)
	assert.Empty(t, due)

	res, _ = d.Dispatch(ctx, *stored)
	assert.Equal(t, model.OutboxPending, res.Status)
	stored, _ = r.GetOutboxEvent(ctx, row.ID)
	assert.True(t, stored.NextAttemptAt.Equal(fixedNow.Add(2*time.Minute)))

	res, _ = d.Dispatch(ctx, *stored)
	assert.Equal(t, model.OutboxDeadLetter, res.Status)
	stored, _ = r.GetOutboxEvent(ctx, row.ID)
	assert.Equal(t, model.OutboxDeadLetter, stored.Status)
	assert.Equal(t, 3, stored.Attempts)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "sink down")
}

func TestDispatch_PermanentAndPanic(t *testing.T) {
	r, db := newTestStore(t)
	perm := emit(t, r, db, "PERM", "p")
	pan := emit(t, r, db, "PANIC", "q")
	reg := NewRegistry()
	require.NoError(t, reg.Register("PERM", func(_ context.Context, evt Event) error {
		var v []int
		return evt.Decode(&v)
	}))
	require.NoError(t, reg.Register("PANIC", func(context.Context, Event) error { panic("nil map") }))
	d := newTestDispatcher(t, r, reg)

	res, err := d.Dispatch(context.Background(), *perm)
	assert.ErrorIs(t, err, ErrMalformedPayload)
	assert.Equal(t, model.OutboxFailed, res.Status)

	res, err = d.Dispatch(context.Background(), *pan)
	assert.Error(t, err)
	assert.Equal(t, model.OutboxPending, res.Status)
}

func TestDispatchBatch_IsolatesFailures(t *testing.T) {
	r, db := newTestStore(t)
	emit(t, r, db, "OK", "1")
	emit(t, r, db, "BAD", "2")
	emit(t, r, db, "OK", "3")

	var calls atomic.Int32
	reg := NewRegistry()
	require.NoError(t, reg.Register("OK", func(context.Context, Event) error { calls.Add(1); return nil }))
	require.NoError(t, reg.Register("BAD", func(context.Context, Event) error { return errors.New("nope") }))

	res, err := newTestDispatcher(t, r, reg).DispatchBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Polled: 3, Handled: 2, Retried: 1}, res)
	assert.EqualValues(t, 2, calls.Load())

	// handled rows are not polled again; the failed one waits for its backoff
	res, err = newTestDispatcher(t, r, reg).DispatchBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Polled)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Minute, Backoff(time.Minute, time.Hour, 0))
	assert.Equal(t, time.Minute, Backoff(time.Minute, time.Hour, 1))
	assert.Equal(t, 4*time.Minute, Backoff(time.Minute, time.Hour, 3))
	assert.Equal(t, time.Hour, Backoff(time.Minute, time.Hour, 10))
	assert.Equal(t, time.Hour, Backoff(time.Minute, time.Hour, 200))
}
