// Package events carries domain events from the operation that produced them to the
// services that react to them. Verification returns an event instead of calling
// issuance directly; the dispatcher forwards it.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Event is an explicit domain message.
type Event struct {
	Type       string                 `json:"type"`
	DocumentID uuid.UUID              `json:"document_id"`
	ProjectID  uuid.UUID              `json:"project_id"`
	ActorID    string                 `json:"actor_id"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// Handler reacts to an event. Handlers must be idempotent: an event may be delivered
// again after a failure.
type Handler func(ctx context.Context, ev Event) error

// Dispatcher delivers events synchronously to every subscribed handler, in
// subscription order.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: map[string][]Handler{}}
}

func (d *Dispatcher) Subscribe(eventType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], h)
}

// Dispatch runs all handlers for ev.Type and joins their errors.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	d.mu.RLock()
	hs := append([]Handler(nil), d.handlers[ev.Type]...)
	d.mu.RUnlock()

	var errs []error
	for _, h := range hs {
		if err := h(ctx, ev); err != nil {
			log.Warn().Err(err).Str("event", ev.Type).Str("document_id", ev.DocumentID.String()).
				Msg("event handler failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
