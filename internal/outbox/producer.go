package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/richardliu001/doubles-registration/internal/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Store is the persistence the producer needs. Both calls run on the caller's tx.
type Store interface {
	AppendEventLog(ctx context.Context, tx *gorm.DB, entry *model.EventLogEntry) (*model.EventLogEntry, error)
	RecordOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) (*model.OutboxEvent, bool, error)
}

// Fact is a business fact to be logged and enqueued.
type Fact struct {
	OrganizationID uint64
	EventType      string
	// IdempotencyKey identifies the fact in the event log; DedupeKey the delivery.
	// DedupeKey defaults to IdempotencyKey.
	IdempotencyKey string
	DedupeKey      string
	Payload        interface{}
	ActorUserID    *string
	SourceType     *string
	SourceID       *string
	CorrelationID  *string
}

// Producer writes the event log entry and the outbox row as one unit inside the caller's tx.
type Producer struct {
	store Store
}

func NewProducer(s Store) *Producer { return &Producer{store: s} }

// Emit logs the fact and enqueues it. Retried transactions converge on the same rows because both
// keys are deterministic; a duplicate call returns the existing outbox row.
func (p *Producer) Emit(ctx context.Context, tx *gorm.DB, f Fact) (*model.OutboxEvent, error) {
	if f.IdempotencyKey == "" || f.EventType == "" {
		return nil, fmt.Errorf("emit %q: event type and idempotency key are required", f.EventType)
	}
	dedupe := f.DedupeKey
	if dedupe == "" {
		dedupe = f.IdempotencyKey
	}
	raw, err := json.Marshal(f.Payload)
	if err != nil {
		return nil, fmt.Errorf("emit %s: marshal payload: %w", f.EventType, err)
	}

	entry, err := p.store.AppendEventLog(ctx, tx, &model.EventLogEntry{
		OrganizationID: f.OrganizationID,
		EventType:      f.EventType,
		IdempotencyKey: f.IdempotencyKey,
		Payload:        datatypes.JSON(raw),
		ActorUserID:    f.ActorUserID,
		SourceType:     f.SourceType,
		SourceID:       f.SourceID,
		CorrelationID:  f.CorrelationID,
	})
	if err != nil {
		return nil, fmt.Errorf("emit %s: append event log: %w", f.EventType, err)
	}
	evt, _, err := p.store.RecordOutboxEvent(ctx, tx, &model.OutboxEvent{
		EventID:       entry.EventID,
		EventType:     f.EventType,
		DedupeKey:     dedupe,
		Payload:       datatypes.JSON(raw),
		CorrelationID: f.CorrelationID,
		Status:        model.OutboxPending,
	})
	if err != nil {
		return nil, fmt.Errorf("emit %s: record outbox: %w", f.EventType, err)
	}
	return evt, nil
}
