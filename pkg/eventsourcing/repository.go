package eventsourcing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

const (
	retryBackoff    = 10 * time.Millisecond
	maxRetryBackoff = 500 * time.Millisecond
)

// Repository loads aggregates by replaying their history and saves the
// events recorded since.
type Repository[A Aggregate[E, C], E Event, C Command] struct {
	store   EventStore[E]
	factory func() A
	logger  *slog.Logger
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*repositoryConfig)

type repositoryConfig struct {
	logger *slog.Logger
}

// WithRepositoryLogger sets the logger.
func WithRepositoryLogger(logger *slog.Logger) RepositoryOption {
	return func(c *repositoryConfig) {
		c.logger = logger
	}
}

// NewRepository creates a repository. factory must return a fresh,
// uninitialized aggregate on every call.
func NewRepository[A Aggregate[E, C], E Event, C Command](
	store EventStore[E],
	factory func() A,
	opts ...RepositoryOption,
) *Repository[A, E, C] {
	config := repositoryConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&config)
	}
	return &Repository[A, E, C]{
		store:   store,
		factory: factory,
		logger:  config.logger,
	}
}

// Load replays the history of id into a fresh aggregate. An aggregate with
// no history is returned in its initial state.
func (r *Repository[A, E, C]) Load(ctx context.Context, id string) (*Root[A, E, C], error) {
	events, err := r.store.GetEvents(ctx, id)
	if err != nil {
		return nil, err
	}

	aggregate := r.factory()
	if err := Replay[A, E, C](aggregate, events); err != nil {
		return nil, err
	}

	r.logger.DebugContext(ctx, "aggregate loaded",
		slog.String("aggregate_type", aggregate.AggregateType()),
		slog.String("aggregate_id", id),
		slog.Int64("generation", aggregate.Generation()),
	)

	return NewRoot[A, E, C](id, aggregate), nil
}

// Save persists only the events recorded on root since it was loaded,
// guarded by the generation it was loaded at.
func (r *Repository[A, E, C]) Save(ctx context.Context, root *Root[A, E, C]) error {
	if err := root.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrAggregateFailed, err)
	}
	pending := root.Pending()
	if len(pending) == 0 {
		return nil
	}

	if err := r.store.SaveEvents(ctx, root.ID(), root.Base(), pending); err != nil {
		return err
	}
	root.commit()
	return nil
}

// Exists reports whether any events are stored for id.
func (r *Repository[A, E, C]) Exists(ctx context.Context, id string) (bool, error) {
	events, err := r.store.GetEvents(ctx, id)
	if err != nil {
		return false, err
	}
	return len(events) > 0, nil
}

// RetryOnConflict calls fn until it succeeds, fails with an error other than
// ErrConcurrencyConflict, or attempts are exhausted. fn should load a fresh
// aggregate on every call. Retrying is a caller decision; handlers never
// retry on their own.
func RetryOnConflict(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}

		// Jittered backoff before retry, capped at maxRetryBackoff
		backoff := min(retryBackoff<<min(attempt, 16), maxRetryBackoff)
		backoff = backoff/2 + rand.N(backoff/2+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}
