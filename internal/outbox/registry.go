package outbox

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrConsumerNotRegistered is recorded when no consumer exists for an event type.
	ErrConsumerNotRegistered = errors.New("consumer not registered")
	// ErrConsumerAlreadyRegistered is returned on a second Register for the same type.
	ErrConsumerAlreadyRegistered = errors.New("consumer already registered")
	ErrInvalidConsumer           = errors.New("invalid consumer")
)

// Consumer applies one event. It must be safe to call again with the same event.
type Consumer func(ctx context.Context, evt Event) error

// Registry maps event types to consumers.
type Registry struct {
	mu        sync.RWMutex
	consumers map[string]Consumer
}

func NewRegistry() *Registry {
	return &Registry{consumers: make(map[string]Consumer)}
}

func (r *Registry) Register(eventType string, c Consumer) error {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" || c == nil {
		return ErrInvalidConsumer
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.consumers[eventType]; ok {
		return ErrConsumerAlreadyRegistered
	}
	r.consumers[eventType] = c
	return nil
}

func (r *Registry) Lookup(eventType string) (Consumer, bool) {
	eventType = strings.TrimSpace(eventType)
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.consumers[eventType]
	return c, ok
}
