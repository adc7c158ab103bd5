package eventsourcing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/plaenen/eventfold/pkg/idgen"
)

// EventStore is the narrow, typed storage boundary used by repositories.
// It is append-only and partitioned by aggregate identity.
type EventStore[E Event] interface {
	// GetEvents returns every event saved for aggregateID, oldest first.
	// An unknown ID yields an empty slice, not an error.
	GetEvents(ctx context.Context, aggregateID string) ([]E, error)

	// SaveEvents appends events atomically: either all become visible to
	// later GetEvents calls or none do. expectedGeneration is the number of
	// events the caller believes are already stored; a stale value fails with
	// ErrConcurrencyConflict.
	SaveEvents(ctx context.Context, aggregateID string, expectedGeneration int64, events []E) error
}

// StreamStore persists serialized envelopes. Implementations must serialize
// concurrent access and keep a single total order per aggregate stream.
type StreamStore interface {
	// Load returns the envelopes of one stream in append order.
	// Unknown streams yield an empty slice.
	Load(ctx context.Context, aggregateType, aggregateID string) ([]Envelope, error)

	// Append appends envs atomically if the stream is at expectedVersion and
	// returns them with their assigned positions.
	Append(ctx context.Context, aggregateType, aggregateID string, expectedVersion int64, envs []Envelope) ([]Envelope, error)

	// LoadAll returns up to limit envelopes across all streams with a
	// position greater than afterPosition, in global order. limit <= 0 means all.
	LoadAll(ctx context.Context, afterPosition int64, limit int) ([]Envelope, error)

	// Version returns the current version of a stream, 0 if it does not exist.
	Version(ctx context.Context, aggregateType, aggregateID string) (int64, error)

	// Close releases resources.
	Close() error
}

type storeConfig struct {
	logger    *slog.Logger
	publisher EventBus
	newID     func() string
}

// StoreOption configures a Store.
type StoreOption func(*storeConfig)

// WithStoreLogger sets the logger.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(c *storeConfig) {
		c.logger = logger
	}
}

// WithPublisher publishes envelopes after every successful append.
// Publishing is best effort: the events are already durable, so a publish
// failure is logged and does not fail SaveEvents.
func WithPublisher(bus EventBus) StoreOption {
	return func(c *storeConfig) {
		c.publisher = bus
	}
}

// WithIDGenerator overrides the event ID generator (ULIDs by default).
func WithIDGenerator(fn func() string) StoreOption {
	return func(c *storeConfig) {
		c.newID = fn
	}
}

// Store adapts a StreamStore to the typed EventStore of one aggregate type.
type Store[E Event] struct {
	streams       StreamStore
	aggregateType string
	codec         Codec[E]
	config        storeConfig
}

// NewStore creates a typed store for aggregateType on top of streams.
func NewStore[E Event](streams StreamStore, aggregateType string, codec Codec[E], opts ...StoreOption) *Store[E] {
	config := storeConfig{
		logger: slog.Default(),
		newID:  idgen.MustGenerateSortableID,
	}
	for _, opt := range opts {
		opt(&config)
	}
	config.logger = config.logger.With(slog.String("aggregate_type", aggregateType))

	return &Store[E]{
		streams:       streams,
		aggregateType: aggregateType,
		codec:         codec,
		config:        config,
	}
}

// AggregateType returns the aggregate type this store is bound to.
func (s *Store[E]) AggregateType() string { return s.aggregateType }

// GetEvents implements EventStore.
func (s *Store[E]) GetEvents(ctx context.Context, aggregateID string) ([]E, error) {
	envs, err := s.streams.Load(ctx, s.aggregateType, aggregateID)
	if err != nil {
		return nil, NewStoreError("load", err)
	}

	events := make([]E, 0, len(envs))
	for _, env := range envs {
		e, err := s.codec.Decode(env.EventType, env.Data)
		if err != nil {
			return nil, NewStoreError("decode", fmt.Errorf("event %s: %w", env.ID, err))
		}
		events = append(events, e)
	}
	return events, nil
}

// SaveEvents implements EventStore.
func (s *Store[E]) SaveEvents(ctx context.Context, aggregateID string, expectedGeneration int64, events []E) error {
	if len(events) == 0 {
		return nil
	}

	md := MetadataFrom(ctx)
	now := Now()
	envs := make([]Envelope, len(events))
	for i, e := range events {
		if e.AggregateID() != aggregateID {
			return fmt.Errorf("%w: %s event for %s saved under %s",
				ErrAggregateMismatch, e.EventType(), e.AggregateID(), aggregateID)
		}
		data, err := s.codec.Encode(e)
		if err != nil {
			return fmt.Errorf("encode %s: %w", e.EventType(), err)
		}
		envs[i] = Envelope{
			ID:            s.config.newID(),
			AggregateType: s.aggregateType,
			AggregateID:   aggregateID,
			EventType:     e.EventType(),
			Version:       expectedGeneration + int64(i) + 1,
			Timestamp:     now,
			Data:          data,
			Metadata:      md,
		}
	}

	stored, err := s.streams.Append(ctx, s.aggregateType, aggregateID, expectedGeneration, envs)
	if err != nil {
		return NewStoreError("append", err)
	}

	s.config.logger.DebugContext(ctx, "events saved",
		slog.String("aggregate_id", aggregateID),
		slog.Int("count", len(stored)),
		slog.Int64("version", expectedGeneration+int64(len(stored))),
	)

	if s.config.publisher != nil {
		if err := s.config.publisher.Publish(ctx, stored); err != nil {
			s.config.logger.ErrorContext(ctx, "failed to publish events",
				slog.String("aggregate_id", aggregateID),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

var _ EventStore[Event] = (*Store[Event])(nil)
