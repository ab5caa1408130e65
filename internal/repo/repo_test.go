package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-redis/redismock/v8"
	"github.com/richardliu001/doubles-registration/internal/logger"
	"github.com/richardliu001/doubles-registration/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

func newTestRepo(t *testing.T) (*Repository, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, Migrate(db))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewRepository(db, nil, node, must(logger.NewLogger("info"))), db
}

func must(l *zap.SugaredLogger, err error) *zap.SugaredLogger {
	if err != nil {
		panic(err)
	}
	return l
}

func TestAppendEventLog_DuplicateReturnsExisting(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()

	first := &model.EventLogEntry{
		OrganizationID: 7, EventType: "pairing.created", IdempotencyKey: "pairing:1:created",
		Payload: datatypes.JSON(`{"pairing_id":1}`),
	}
	got, err := r.AppendEventLog(ctx, db, first)
	require.NoError(t, err)
	assert.NotZero(t, got.ID)
	assert.NotEmpty(t, got.EventID)

	second := &model.EventLogEntry{
		OrganizationID: 7, EventType: "pairing.created", IdempotencyKey: "pairing:1:created",
		Payload: datatypes.JSON(`{"pairing_id":1,"retry":true}`),
	}
	dup, err := r.AppendEventLog(ctx, db, second)
	require.NoError(t, err)
	assert.Equal(t, got.EventID, dup.EventID)

	var n int64
	db.Model(&model.EventLogEntry{}).Count(&n)
	assert.EqualValues(t, 1, n)

	// same key in another organization is a different fact
	_, err = r.AppendEventLog(ctx, db, &model.EventLogEntry{
		OrganizationID: 8, EventType: "pairing.created", IdempotencyKey: "pairing:1:created",
		Payload: datatypes.JSON(`{}`),
	})
	require.NoError(t, err)
	exists, err := r.EventLogExists(ctx, nil, 8, "pairing.created", "pairing:1:created")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestAppendEventLog_RolledBackWithTransaction(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := r.AppendEventLog(ctx, tx, &model.EventLogEntry{
			OrganizationID: 1, EventType: "x", IdempotencyKey: "k", Payload: datatypes.JSON(`{}`),
		}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	exists, err := r.EventLogExists(ctx, nil, 1, "x", "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRecordOutboxEvent_Dedupe(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()

	evt, created, err := r.RecordOutboxEvent(ctx, db, &model.OutboxEvent{
		EventID: "e-1", EventType: "PAIRING_SLOT_PAID", DedupeKey: "pairing:1:paid", Payload: datatypes.JSON(`{}`),
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.OutboxPending, evt.Status)

	at := time.Now().UTC()
	ok, err := r.MarkOutboxHandled(ctx, evt.ID, at)
	require.NoError(t, err)
	assert.True(t, ok)

	again, created, err := r.RecordOutboxEvent(ctx, db, &model.OutboxEvent{
		EventID: "e-2", EventType: "PAIRING_SLOT_PAID", DedupeKey: "pairing:1:paid", Payload: datatypes.JSON(`{}`),
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, evt.ID, again.ID)
	assert.Equal(t, model.OutboxHandled, again.Status, "second enqueue must not re-queue")

	var n int64
	db.Model(&model.OutboxEvent{}).Count(&n)
	assert.EqualValues(t, 1, n)
}

func TestPollOutbox_RespectsRetryTime(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a, _, err := r.RecordOutboxEvent(ctx, db, &model.OutboxEvent{EventID: "a", EventType: "T", DedupeKey: "a", Payload: datatypes.JSON(`{}`)})
	require.NoError(t, err)
	b, _, err := r.RecordOutboxEvent(ctx, db, &model.OutboxEvent{EventID: "b", EventType: "T", DedupeKey: "b", Payload: datatypes.JSON(`{}`)})
	require.NoError(t, err)

	later := now.Add(time.Minute)
	require.NoError(t, r.MarkOutboxAttempt(ctx, b.ID, OutboxAttempt{
		Status: model.OutboxPending, Attempts: 1, LastError: "boom", NextAttemptAt: &later,
	}))

	due, err := r.PollOutbox(ctx, 10, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, a.ID, due[0].ID)

	due, err = r.PollOutbox(ctx, 10, later)
	require.NoError(t, err)
	assert.Len(t, due, 2)

	stored, err := r.GetOutboxEvent(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "boom", *stored.LastError)
}

func seedPairing(t *testing.T, r *Repository, db *gorm.DB, eventID uint64, categoryID *uint64) *model.Pairing {
	t.Helper()
	captain := "captain"
	p := &model.Pairing{
		OrganizationID: 1, EventID: eventID, CategoryID: categoryID,
		PaymentMode: model.PaymentModeSplit, JoinMode: model.JoinModeInvitePartner,
		PairingStatus: model.PairingIncomplete, RegistrationStatus: model.RegistrationPendingPartner,
		LifecycleStatus: model.LifecyclePendingOnePaid, CreatedByUserID: captain,
		Slots: []model.PairingSlot{
			{SlotRole: model.SlotCaptain, SlotStatus: model.SlotFilled, PaymentStatus: model.SlotUnpaid, ProfileID: &captain},
			{SlotRole: model.SlotPartner, SlotStatus: model.SlotPending, PaymentStatus: model.SlotUnpaid},
		},
	}
	require.NoError(t, r.CreatePairing(context.Background(), db, p))
	return p
}

func TestSavePairing_OptimisticLock(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()
	p := seedPairing(t, r, db, 1, nil)

	stale, err := r.GetPairing(ctx, nil, p.ID)
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		cur, err := r.GetPairingForUpdate(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		require.Len(t, cur.Slots, 2)
		cur.Slot(model.SlotCaptain).PaymentStatus = model.SlotPaid
		return r.SavePairing(ctx, tx, cur)
	})
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		return r.SavePairing(ctx, tx, stale)
	})
	assert.ErrorIs(t, err, ErrConcurrentModification)

	got, err := r.GetPairing(ctx, nil, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Version)
	assert.Equal(t, model.SlotPaid, got.Slot(model.SlotCaptain).PaymentStatus)
}

func TestSavePairing_ConcurrentWritersOneWins(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()
	p := seedPairing(t, r, db, 1, nil)

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 2; i++ {
		snapshot, err := r.GetPairing(ctx, nil, p.ID)
		require.NoError(t, err)
		wg.Add(1)
		go func(cur *model.Pairing) {
			defer wg.Done()
			if err := db.Transaction(func(tx *gorm.DB) error { return r.SavePairing(ctx, tx, cur) }); err == nil {
				wins.Add(1)
			}
		}(snapshot)
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load(), "only one writer should succeed with optimistic lock")
}

func TestCapacityCounts(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()
	cat := uint64(3)
	a := seedPairing(t, r, db, 1, &cat)
	b := seedPairing(t, r, db, 1, &cat)
	seedPairing(t, r, db, 2, &cat)

	n, err := r.CountActivePairings(ctx, nil, 1, &cat, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = r.CountActivePairings(ctx, nil, 1, &cat, a.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = r.CountFilledSlots(ctx, nil, 1, &cat, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	require.NoError(t, db.Model(&model.Pairing{}).Where("id = ?", b.ID).
		Updates(map[string]interface{}{"pairing_status": model.PairingCancelled, "lifecycle_status": model.LifecycleCancelledIncomplete}).Error)
	n, err = r.CountActivePairings(ctx, nil, 1, nil, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestListDuePairings(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Hour), now.Add(time.Hour)

	due := seedPairing(t, r, db, 1, nil)
	notDue := seedPairing(t, r, db, 1, nil)
	require.NoError(t, db.Model(&model.Pairing{}).Where("id = ?", due.ID).Update("deadline_at", past).Error)
	require.NoError(t, db.Model(&model.Pairing{}).Where("id = ?", notDue.ID).Update("deadline_at", future).Error)

	ps, err := r.ListDuePairings(ctx, now, 0, 10)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, due.ID, ps[0].ID)
}

func TestTickets_DetachAndClaim(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()
	p := seedPairing(t, r, db, 1, nil)
	owner := "partner-1"

	require.NoError(t, r.CreateTicket(ctx, db, &model.Ticket{
		PairingID: p.ID, SlotRole: model.SlotPartner, PaymentIntentID: "pi_1", OwnerUserID: &owner,
	}))
	n, err := r.DetachTickets(ctx, db, p.ID, owner)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	tk, err := r.FindTicketByIntent(ctx, nil, "pi_1", model.SlotPartner)
	require.NoError(t, err)
	require.NotNil(t, tk)
	assert.Nil(t, tk.OwnerUserID)

	n, err = r.ClaimUnownedTicket(ctx, db, p.ID, model.SlotPartner, "partner-2")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	missing, err := r.FindTicketByIntent(ctx, nil, "pi_unknown", model.SlotPartner)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestClaimNotification(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()

	ok, err := r.ClaimNotification(ctx, db, &model.NotificationDelivery{DedupeKey: "notify:e1:u1:CONFIRMED", UserID: "u1", Type: "CONFIRMED"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.ClaimNotification(ctx, db, &model.NotificationDelivery{DedupeKey: "notify:e1:u1:CONFIRMED", UserID: "u1", Type: "CONFIRMED"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPairingStatusCache(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	node, _ := snowflake.NewNode(1)
	r := NewRepository(nil, rdb, node, must(logger.NewLogger("info")))
	ctx := context.Background()

	snap := StatusSnapshot{
		PairingID: 9, RegistrationStatus: model.RegistrationConfirmed,
		LifecycleStatus: model.LifecycleConfirmedBothPaid, PairingStatus: model.PairingComplete, Version: 4,
	}
	raw, _ := json.Marshal(snap)
	mock.ExpectSet("pairing:status:9", string(raw), StatusTTL).SetVal("OK")
	mock.ExpectGet("pairing:status:9").SetVal(string(raw))
	mock.ExpectGet("pairing:status:10").RedisNil()

	require.NoError(t, r.CachePairingStatus(ctx, snap))
	got, err := r.GetCachedPairingStatus(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, snap, *got)

	_, err = r.GetCachedPairingStatus(ctx, 10)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifySchema(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:schema_%d?mode=memory&cache=shared", dbSeq.Add(1))), &gorm.Config{})
	require.NoError(t, err)

	err = VerifySchema(db)
	assert.ErrorIs(t, err, ErrSchemaNotReady)

	require.NoError(t, Migrate(db))
	assert.NoError(t, VerifySchema(db))
}

func TestFindPairingByToken_ReplacedBeforeLock(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()
	p := seedPairing(t, r, db, 1, nil)
	require.NoError(t, db.Model(&model.Pairing{}).Where("id = ?", p.ID).
		Updates(map[string]interface{}{"partner_link_token": "link-a", "swap_confirm_token": "swap-a"}).Error)

	err := db.Transaction(func(tx *gorm.DB) error {
		id, err := r.findPairingIDBy(ctx, tx, colLinkToken, "link-a")
		require.NoError(t, err)
		swapID, err := r.findPairingIDBy(ctx, tx, colSwapToken, "swap-a")
		require.NoError(t, err)

		// the captain re-issues both links after the lookups resolved the old ones
		require.NoError(t, tx.Model(&model.Pairing{}).Where("id = ?", p.ID).
			Updates(map[string]interface{}{"partner_link_token": "link-b", "swap_confirm_token": "swap-b"}).Error)

		_, err = r.lockHoldingToken(ctx, tx, id, colLinkToken, "link-a")
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
		_, err = r.lockHoldingToken(ctx, tx, swapID, colSwapToken, "swap-a")
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

		got, err := r.lockHoldingToken(ctx, tx, id, colLinkToken, "link-b")
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)
		return nil
	})
	require.NoError(t, err)

	_, err = r.FindPairingByLinkToken(ctx, db, "link-a")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	got, err := r.FindPairingBySwapToken(ctx, db, "swap-b")
	require.NoError(t, err)
	assert.Len(t, got.Slots, 2)
}

func TestListDuePairings_PagesByID(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	var ids []uint64
	for i := 0; i < 3; i++ {
		p := seedPairing(t, r, db, 1, nil)
		require.NoError(t, db.Model(&model.Pairing{}).Where("id = ?", p.ID).Update("deadline_at", past).Error)
		ids = append(ids, p.ID)
	}

	first, err := r.ListDuePairings(ctx, now, 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	rest, err := r.ListDuePairings(ctx, now, first[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, ids[2], rest[0].ID)
}

func TestFindOutboxByDedupeKey(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()

	got, err := r.FindOutboxByDedupeKey(ctx, nil, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, _, err = r.RecordOutboxEvent(ctx, db, &model.OutboxEvent{
		EventID: "e1", EventType: "T", DedupeKey: "k1", Payload: datatypes.JSON(`{}`),
	})
	require.NoError(t, err)
	got, err = r.FindOutboxByDedupeKey(ctx, nil, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.OutboxPending, got.Status)
}

func TestGetForUpdate_CompetitionAndCategory(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, db.Create(&model.Competition{ID: 3, OrganizationID: 1, Title: "Cup"}).Error)
	require.NoError(t, db.Create(&model.Category{ID: 4, EventID: 3, Label: "Mixed"}).Error)

	err := db.Transaction(func(tx *gorm.DB) error {
		c, err := r.GetCompetitionForUpdate(ctx, tx, 3)
		require.NoError(t, err)
		assert.Equal(t, "Cup", c.Title)
		cat, err := r.GetCategoryForUpdate(ctx, tx, 4)
		require.NoError(t, err)
		assert.EqualValues(t, 3, cat.EventID)
		_, err = r.GetCategoryForUpdate(ctx, tx, 99)
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
		return nil
	})
	require.NoError(t, err)
}
