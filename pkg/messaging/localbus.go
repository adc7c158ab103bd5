// Package messaging provides an in-process event bus.
//
// LocalBus delivers published envelopes synchronously to every matching
// subscriber before Publish returns. It suits single-process deployments
// and tests; use pkg/nats for delivery across processes.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/plaenen/eventfold/pkg/eventsourcing"
)

// ErrClosed is returned by a LocalBus after Close.
var ErrClosed = errors.New("event bus closed")

// LocalBus is a synchronous, in-process eventsourcing.EventBus.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
	logger *slog.Logger
}

// Option configures a LocalBus.
type Option func(*LocalBus)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *LocalBus) {
		b.logger = logger
	}
}

// NewLocalBus creates an empty bus.
func NewLocalBus(opts ...Option) *LocalBus {
	b := &LocalBus{
		subs:   make(map[uint64]*subscription),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type subscription struct {
	bus     *LocalBus
	id      uint64
	filter  eventsourcing.EventFilter
	handler eventsourcing.EventHandler
	once    sync.Once
}

// Unsubscribe implements eventsourcing.Subscription.
func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
	})
	return nil
}

// Publish delivers envs in order to each matching subscriber. Handler errors
// are logged and joined into the returned error; they never stop delivery to
// other subscribers.
func (b *LocalBus) Publish(ctx context.Context, envs []eventsourcing.Envelope) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	var errs []error
	for _, env := range envs {
		for _, s := range subs {
			if !s.filter.Matches(env) {
				continue
			}
			if err := s.handler(ctx, env); err != nil {
				b.logger.WarnContext(ctx, "subscriber failed",
					slog.String("event_id", env.ID),
					slog.String("event_type", env.EventType),
					slog.String("error", err.Error()),
				)
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Subscribe implements eventsourcing.EventBus.
func (b *LocalBus) Subscribe(filter eventsourcing.EventFilter, handler eventsourcing.EventHandler) (eventsourcing.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	b.nextID++
	s := &subscription{bus: b, id: b.nextID, filter: filter, handler: handler}
	b.subs[s.id] = s
	return s, nil
}

// Close drops all subscriptions. Later calls fail with ErrClosed.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.subs = make(map[uint64]*subscription)
	return nil
}

var _ eventsourcing.EventBus = (*LocalBus)(nil)
