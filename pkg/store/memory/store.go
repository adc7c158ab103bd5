// Package memory provides an in-process StreamStore for tests and demos.
package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/plaenen/eventfold/pkg/eventsourcing"
)

// Store keeps every envelope in a single insertion-ordered log, indexed by
// stream. All access is serialized by one mutex.
type Store struct {
	mu      sync.RWMutex
	log     []eventsourcing.Envelope
	streams map[streamKey][]int
	logger  *slog.Logger
	closed  bool
}

type streamKey struct {
	aggregateType string
	aggregateID   string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		streams: make(map[streamKey][]int),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("store", "memory"))
	return s
}

// Load implements eventsourcing.StreamStore.
func (s *Store) Load(_ context.Context, aggregateType, aggregateID string) ([]eventsourcing.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	idx := s.streams[streamKey{aggregateType, aggregateID}]
	out := make([]eventsourcing.Envelope, len(idx))
	for i, pos := range idx {
		out[i] = s.log[pos]
	}
	return out, nil
}

// Append implements eventsourcing.StreamStore.
func (s *Store) Append(
	_ context.Context,
	aggregateType string,
	aggregateID string,
	expectedVersion int64,
	envs []eventsourcing.Envelope,
) ([]eventsourcing.Envelope, error) {
	if len(envs) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	key := streamKey{aggregateType, aggregateID}
	if current := int64(len(s.streams[key])); current != expectedVersion {
		return nil, eventsourcing.ErrConcurrencyConflict
	}

	// Validate the whole batch before touching the log so a rejected append
	// leaves nothing behind.
	for _, env := range envs {
		if env.AggregateType != aggregateType || env.AggregateID != aggregateID {
			return nil, eventsourcing.ErrAggregateMismatch
		}
	}

	stored := make([]eventsourcing.Envelope, len(envs))
	for i, env := range envs {
		pos := len(s.log)
		env.Position = int64(pos) + 1
		s.log = append(s.log, env)
		s.streams[key] = append(s.streams[key], pos)
		stored[i] = env
	}

	s.logger.Debug("append",
		slog.String("aggregate_id", aggregateID),
		slog.Int64("last_position", stored[len(stored)-1].Position),
		slog.Int("num_events", len(stored)),
	)

	return stored, nil
}

// LoadAll implements eventsourcing.StreamStore.
func (s *Store) LoadAll(_ context.Context, afterPosition int64, limit int) ([]eventsourcing.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	if afterPosition < 0 {
		afterPosition = 0
	}
	if afterPosition >= int64(len(s.log)) {
		return []eventsourcing.Envelope{}, nil
	}
	rest := s.log[afterPosition:]
	if limit > 0 && limit < len(rest) {
		rest = rest[:limit]
	}
	out := make([]eventsourcing.Envelope, len(rest))
	copy(out, rest)
	return out, nil
}

// Version implements eventsourcing.StreamStore.
func (s *Store) Version(_ context.Context, aggregateType, aggregateID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}
	return int64(len(s.streams[streamKey{aggregateType, aggregateID}])), nil
}

// Close implements eventsourcing.StreamStore. Later calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

var _ eventsourcing.StreamStore = (*Store)(nil)
