package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/emirsalihagic/miniERP-sub001/internal/tenant"
)

var errInvalidPayload = errors.New("payload is not valid json")

// Event is a persisted domain event. TenantID is nil for events raised
// outside a tenant scope.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	TenantID    *uuid.UUID      `json:"tenantId,omitempty"`
	Topic       string          `json:"topic"`
	AggregateID uuid.UUID       `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// EventStore appends events; the store assigns ID and OccurredAt.
type EventStore interface {
	InsertDomainEvent(ctx context.Context, ev Event) (Event, error)
}

// Notifier is told about every event after it has been stored.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Bus writes domain events to the store, then fans them out.
type Bus struct {
	Store     EventStore
	Notifiers []Notifier
}

// Emit stores an event for aggregateID under the tenant in ctx. payload may
// be nil, raw JSON bytes or a JSON string, or any value json.Marshal accepts.
// Once the event is stored, notifier errors do not undo it: they are joined
// and returned next to the stored event.
func (b *Bus) Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (Event, error) {
	if b == nil || b.Store == nil {
		return Event{}, errors.New("events: store not configured")
	}
	ev := Event{Topic: strings.TrimSpace(topic), AggregateID: aggregateID}
	switch {
	case ev.Topic == "":
		return Event{}, errors.New("events: topic is required")
	case ev.AggregateID == uuid.Nil:
		return Event{}, errors.New("events: aggregate id is required")
	}
	var err error
	if ev.Payload, err = encodePayload(payload); err != nil {
		return Event{}, fmt.Errorf("events: encode %s payload: %w", ev.Topic, err)
	}
	if tid, err := tenant.UUID(ctx); err == nil {
		ev.TenantID = &tid
	}

	stored, err := b.Store.InsertDomainEvent(ctx, ev)
	if err != nil {
		return Event{}, fmt.Errorf("events: persist %s: %w", ev.Topic, err)
	}
	trace.SpanFromContext(ctx).AddEvent("domain_event", trace.WithAttributes(
		attribute.String("event.topic", stored.Topic),
		attribute.String("event.id", stored.ID.String()),
	))

	var errs []error
	for _, n := range b.Notifiers {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, stored); err != nil {
			errs = append(errs, fmt.Errorf("events: notify %s: %w", stored.Topic, err))
		}
	}
	return stored, errors.Join(errs...)
}

// LogNotifier writes each event to the request logger when ctx carries one,
// otherwise to Logger.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, event Event) error {
	logger := n.Logger
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		logger = *l
	}
	evt := logger.Info().
		Str("event_id", event.ID.String()).
		Str("topic", event.Topic).
		Str("aggregate_id", event.AggregateID.String())
	if event.TenantID != nil {
		evt = evt.Str("tenant_id", event.TenantID.String())
	}
	evt.Msg("domain_event")
	return nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	var raw []byte
	switch v := payload.(type) {
	case nil:
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(strings.TrimSpace(v))
	default:
		return json.Marshal(v)
	}
	if len(raw) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(raw) {
		return nil, errInvalidPayload
	}
	return append(json.RawMessage(nil), raw...), nil
}
