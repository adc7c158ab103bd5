// Package nats publishes stored events on NATS JetStream.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/plaenen/eventfold/pkg/eventsourcing"
	"github.com/plaenen/eventfold/pkg/idgen"
)

// EventBus is a NATS-based implementation of eventsourcing.EventBus.
// Uses JetStream for durable event streaming with at-least-once delivery.
type EventBus struct {
	nc            *nats.Conn
	js            nats.JetStreamContext
	streamName    string
	subjectPrefix string
	logger        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds configuration for the NATS event bus.
type Config struct {
	// URL is the NATS server URL
	URL string

	// Name identifies the client connection
	Name string

	// StreamName is the JetStream stream name for events
	StreamName string

	// SubjectPrefix is the first subject token (default: "events").
	// Envelopes are published on <prefix>.<aggregate type>.<event type>.
	SubjectPrefix string

	// MaxAge is how long to retain events in the stream
	MaxAge time.Duration

	// MaxBytes is the maximum bytes the stream can store
	MaxBytes int64

	// Storage is where JetStream keeps the stream
	Storage nats.StorageType

	// Logger receives delivery failures
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for NATS event bus.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "eventfold",
		StreamName:    "EVENTS",
		SubjectPrefix: "events",
		MaxAge:        7 * 24 * time.Hour, // 7 days
		MaxBytes:      1024 * 1024 * 1024, // 1 GB
		Storage:       nats.FileStorage,
	}
}

// TestConfig returns a config suitable for testing with embedded NATS.
func TestConfig(serverURL string) Config {
	config := DefaultConfig()
	config.URL = serverURL
	config.StreamName = "TEST_EVENTS"
	config.MaxAge = time.Minute
	config.MaxBytes = 10 * 1024 * 1024
	config.Storage = nats.MemoryStorage
	return config
}

// NewEventBus creates a new NATS-based event bus.
func NewEventBus(config Config) (*EventBus, error) {
	if config.SubjectPrefix == "" {
		config.SubjectPrefix = "events"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	nc, err := nats.Connect(config.URL, nats.Name(config.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bus := &EventBus{
		nc:            nc,
		js:            js,
		streamName:    config.StreamName,
		subjectPrefix: config.SubjectPrefix,
		logger:        config.Logger.With(slog.String("bus", "nats")),
		ctx:           ctx,
		cancel:        cancel,
		subs:          make(map[string]*nats.Subscription),
	}

	if err := bus.ensureStream(config); err != nil {
		cancel()
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return bus, nil
}

// ensureStream creates or updates the JetStream stream.
func (b *EventBus) ensureStream(config Config) error {
	streamConfig := &nats.StreamConfig{
		Name:      config.StreamName,
		Subjects:  []string{config.SubjectPrefix + ".>"},
		Retention: nats.InterestPolicy, // Messages deleted when all consumers have processed them
		MaxAge:    config.MaxAge,
		MaxBytes:  config.MaxBytes,
		Storage:   config.Storage,
		Replicas:  1,
	}

	stream, err := b.js.StreamInfo(config.StreamName)
	if err != nil {
		if _, err := b.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		return nil
	}

	if stream.Config.MaxAge != config.MaxAge || stream.Config.MaxBytes != config.MaxBytes {
		if _, err := b.js.UpdateStream(streamConfig); err != nil {
			return fmt.Errorf("failed to update stream: %w", err)
		}
	}

	return nil
}

// Subject returns the subject an envelope is published on.
func (b *EventBus) Subject(env eventsourcing.Envelope) string {
	return fmt.Sprintf("%s.%s.%s", b.subjectPrefix, token(env.AggregateType), token(env.EventType))
}

// token makes s safe to use as a single subject token.
func token(s string) string {
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
}

// Publish publishes envelopes to JetStream in order. The envelope ID is the
// message ID, so republishing the same envelope is deduplicated by the server.
func (b *EventBus) Publish(ctx context.Context, envs []eventsourcing.Envelope) error {
	for _, env := range envs {
		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("failed to serialize event %s: %w", env.ID, err)
		}

		if _, err := b.js.Publish(b.Subject(env), data, nats.MsgId(env.ID), nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to publish event %s: %w", env.ID, err)
		}
	}
	return nil
}

// buildSubject builds a NATS subject from an event filter. Filters that
// cannot be expressed as one subject subscribe to everything and are
// matched in the callback.
func (b *EventBus) buildSubject(filter eventsourcing.EventFilter) string {
	switch {
	case len(filter.AggregateTypes) == 1 && len(filter.EventTypes) == 0:
		return fmt.Sprintf("%s.%s.>", b.subjectPrefix, token(filter.AggregateTypes[0]))
	case len(filter.AggregateTypes) == 1 && len(filter.EventTypes) == 1:
		return fmt.Sprintf("%s.%s.%s", b.subjectPrefix, token(filter.AggregateTypes[0]), token(filter.EventTypes[0]))
	default:
		return b.subjectPrefix + ".>"
	}
}

// Subscribe delivers every envelope published after the call that matches
// filter. A handler error naks the message for redelivery.
func (b *EventBus) Subscribe(filter eventsourcing.EventFilter, handler eventsourcing.EventHandler) (eventsourcing.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	consumerName := "consumer_" + idgen.MustGenerateSortableID()

	sub, err := b.js.Subscribe(
		b.buildSubject(filter),
		func(msg *nats.Msg) {
			var env eventsourcing.Envelope
			if err := json.Unmarshal(msg.Data, &env); err != nil {
				b.logger.Error("dropping undecodable message",
					slog.String("subject", msg.Subject),
					slog.String("error", err.Error()),
				)
				_ = msg.Term()
				return
			}

			if !filter.Matches(env) {
				_ = msg.Ack()
				return
			}

			if err := handler(b.ctx, env); err != nil {
				b.logger.Warn("handler failed, message will be redelivered",
					slog.String("consumer", consumerName),
					slog.String("event_id", env.ID),
					slog.String("error", err.Error()),
				)
				_ = msg.Nak()
				return
			}
			_ = msg.Ack()
		},
		nats.Durable(consumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.DeliverNew(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	b.subs[consumerName] = sub

	return &subscription{
		bus:          b,
		sub:          sub,
		consumerName: consumerName,
	}, nil
}

// Close closes the event bus and all subscriptions.
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cancel()
	for name, sub := range b.subs {
		_ = sub.Unsubscribe()
		delete(b.subs, name)
	}
	b.nc.Close()
	return nil
}

// subscription implements eventsourcing.Subscription.
type subscription struct {
	bus          *EventBus
	sub          *nats.Subscription
	consumerName string
}

func (s *subscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if _, ok := s.bus.subs[s.consumerName]; !ok {
		return nil
	}
	delete(s.bus.subs, s.consumerName)
	return s.sub.Unsubscribe()
}

var _ eventsourcing.EventBus = (*EventBus)(nil)
