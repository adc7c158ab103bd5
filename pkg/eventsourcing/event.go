package eventsourcing

import (
	"context"
	"time"
)

// Event is an immutable fact that happened to one aggregate instance.
//
// Each aggregate type declares a closed set of variants, usually as a domain
// interface embedding Event plus an unexported marker method.
type Event interface {
	// EventType returns the stable symbolic name of the variant (e.g. "credited").
	// It must be unique per variant and never change once events are stored.
	EventType() string

	// AggregateID returns the identity of the aggregate the event belongs to.
	AggregateID() string
}

// Envelope is the serialized form of an event as kept by a StreamStore.
type Envelope struct {
	// ID is the unique identifier of the stored event (ULID)
	ID string `json:"id"`

	// AggregateType is the type name of the aggregate (e.g., "BankAccount")
	AggregateType string `json:"aggregate_type"`

	// AggregateID is the identifier of the aggregate this event belongs to
	AggregateID string `json:"aggregate_id"`

	// EventType is the symbolic name of the event variant
	EventType string `json:"event_type"`

	// Version is the aggregate generation after applying this event
	Version int64 `json:"version"`

	// Position is the global insertion sequence assigned by the store
	Position int64 `json:"position"`

	// Timestamp is when the event was recorded
	Timestamp time.Time `json:"timestamp"`

	// Data is the encoded event payload
	Data []byte `json:"data"`

	// Metadata contains additional contextual information
	Metadata Metadata `json:"metadata"`
}

// Metadata contains contextual information about an event.
type Metadata struct {
	// CausationID is the ID of the command that caused this event
	CausationID string `json:"causation_id,omitempty"`

	// CorrelationID is used to trace related events across aggregates
	CorrelationID string `json:"correlation_id,omitempty"`

	// PrincipalID identifies who triggered the event
	PrincipalID string `json:"principal_id,omitempty"`
}

type metadataKey struct{}

// WithMetadata returns a context carrying md. Stores stamp it onto every
// envelope appended under that context.
func WithMetadata(ctx context.Context, md Metadata) context.Context {
	return context.WithValue(ctx, metadataKey{}, md)
}

// MetadataFrom returns the metadata carried by ctx, if any.
func MetadataFrom(ctx context.Context) Metadata {
	md, _ := ctx.Value(metadataKey{}).(Metadata)
	return md
}

// EventFilter defines criteria for filtering published events.
type EventFilter struct {
	// AggregateTypes filters by aggregate type (empty = all types)
	AggregateTypes []string

	// EventTypes filters by event type (empty = all types)
	EventTypes []string
}

// Matches reports whether env passes the filter.
func (f EventFilter) Matches(env Envelope) bool {
	return matchAny(f.AggregateTypes, env.AggregateType) && matchAny(f.EventTypes, env.EventType)
}

func matchAny(values []string, v string) bool {
	if len(values) == 0 {
		return true
	}
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// EventHandler processes a published envelope.
// Return an error to nack it (redelivery depends on the bus).
type EventHandler func(ctx context.Context, env Envelope) error

// Subscription represents an active event subscription.
type Subscription interface {
	// Unsubscribe stops receiving events and cleans up resources.
	Unsubscribe() error
}

// EventBus publishes stored events to interested subscribers.
type EventBus interface {
	// Publish publishes envelopes in order.
	Publish(ctx context.Context, envs []Envelope) error

	// Subscribe calls handler for each published envelope matching filter.
	Subscribe(filter EventFilter, handler EventHandler) (Subscription, error)

	// Close closes the event bus and releases resources.
	Close() error
}
