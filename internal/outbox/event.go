package outbox

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/richardliu001/doubles-registration/internal/model"
)

// ErrMalformedPayload marks a payload a consumer cannot decode. It is never retried.
var ErrMalformedPayload = errors.New("malformed outbox payload")

// Event is what a consumer receives.
type Event struct {
	OutboxID      uint64
	EventID       string
	EventType     string
	Payload       json.RawMessage
	CorrelationID *string
	Attempts      int
}

func eventFromRow(row model.OutboxEvent) Event {
	return Event{
		OutboxID:      row.ID,
		EventID:       row.EventID,
		EventType:     row.EventType,
		Payload:       json.RawMessage(row.Payload),
		CorrelationID: row.CorrelationID,
		Attempts:      row.Attempts,
	}
}

// Decode unmarshals the payload into v, wrapping failures as non-retryable.
func (e Event) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return Permanent(fmt.Errorf("%w: %s: %v", ErrMalformedPayload, e.EventType, err))
	}
	return nil
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying: the dispatcher moves the event straight to FAILED.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
