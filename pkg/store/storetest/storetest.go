// Package storetest provides a conformance suite for
// eventsourcing.StreamStore implementations.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/eventfold/pkg/eventsourcing"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) eventsourcing.StreamStore

const aggregateType = "Counter"

// Envelopes builds n envelopes for one stream, versions from+1 to from+n.
func Envelopes(aggregateID string, from int64, n int) []eventsourcing.Envelope {
	envs := make([]eventsourcing.Envelope, n)
	for i := range envs {
		version := from + int64(i) + 1
		envs[i] = eventsourcing.Envelope{
			ID:            fmt.Sprintf("%s-%d", aggregateID, version),
			AggregateType: aggregateType,
			AggregateID:   aggregateID,
			EventType:     "incremented",
			Version:       version,
			Timestamp:     time.Date(2024, 1, 1, 0, 0, int(version), 0, time.UTC),
			Data:          []byte(fmt.Sprintf(`{"n":%d}`, version)),
			Metadata:      eventsourcing.Metadata{CorrelationID: "corr-" + aggregateID},
		}
	}
	return envs
}

// Run runs the suite against stores created by newStore.
func Run(t *testing.T, newStore Factory) {
	open := func(t *testing.T) eventsourcing.StreamStore {
		s := newStore(t)
		t.Cleanup(func() { s.Close() })
		return s
	}

	t.Run("AppendAndLoad", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		stored, err := s.Append(ctx, aggregateType, "a", 0, Envelopes("a", 0, 2))
		require.NoError(t, err)
		require.Len(t, stored, 2)
		assert.Less(t, stored[0].Position, stored[1].Position)

		loaded, err := s.Load(ctx, aggregateType, "a")
		require.NoError(t, err)
		require.Len(t, loaded, 2)
		assert.Equal(t, stored, loaded)
		assert.Equal(t, "corr-a", loaded[0].Metadata.CorrelationID)
		assert.True(t, loaded[1].Timestamp.Equal(Envelopes("a", 0, 2)[1].Timestamp))

		version, err := s.Version(ctx, aggregateType, "a")
		require.NoError(t, err)
		assert.Equal(t, int64(2), version)
	})

	t.Run("UnknownStreamIsEmpty", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		loaded, err := s.Load(ctx, aggregateType, "missing")
		require.NoError(t, err)
		assert.Empty(t, loaded)

		version, err := s.Version(ctx, aggregateType, "missing")
		require.NoError(t, err)
		assert.Zero(t, version)
	})

	t.Run("PartitionIsolation", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		_, err := s.Append(ctx, aggregateType, "100", 0, Envelopes("100", 0, 1))
		require.NoError(t, err)
		_, err = s.Append(ctx, aggregateType, "101", 0, Envelopes("101", 0, 1))
		require.NoError(t, err)
		_, err = s.Append(ctx, aggregateType, "100", 1, Envelopes("100", 1, 1))
		require.NoError(t, err)

		loaded, err := s.Load(ctx, aggregateType, "100")
		require.NoError(t, err)
		require.Len(t, loaded, 2)
		for i, env := range loaded {
			assert.Equal(t, "100", env.AggregateID)
			assert.Equal(t, int64(i+1), env.Version)
		}

		other, err := s.Load(ctx, "Other", "100")
		require.NoError(t, err)
		assert.Empty(t, other, "streams are partitioned by aggregate type too")
	})

	t.Run("ConcurrencyConflict", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		_, err := s.Append(ctx, aggregateType, "a", 0, Envelopes("a", 0, 1))
		require.NoError(t, err)

		_, err = s.Append(ctx, aggregateType, "a", 0, Envelopes("a", 0, 1))
		assert.ErrorIs(t, err, eventsourcing.ErrConcurrencyConflict)

		_, err = s.Append(ctx, aggregateType, "a", 5, Envelopes("a", 5, 1))
		assert.ErrorIs(t, err, eventsourcing.ErrConcurrencyConflict)
	})

	t.Run("AppendIsAtomic", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		envs := Envelopes("a", 0, 3)
		envs[2].AggregateID = "b"

		_, err := s.Append(ctx, aggregateType, "a", 0, envs)
		require.ErrorIs(t, err, eventsourcing.ErrAggregateMismatch)

		loaded, err := s.Load(ctx, aggregateType, "a")
		require.NoError(t, err)
		assert.Empty(t, loaded, "a rejected batch must leave nothing behind")

		all, err := s.LoadAll(ctx, 0, 0)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("LoadAllInGlobalOrder", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		_, err := s.Append(ctx, aggregateType, "a", 0, Envelopes("a", 0, 2))
		require.NoError(t, err)
		_, err = s.Append(ctx, aggregateType, "b", 0, Envelopes("b", 0, 1))
		require.NoError(t, err)
		_, err = s.Append(ctx, aggregateType, "a", 2, Envelopes("a", 2, 1))
		require.NoError(t, err)

		all, err := s.LoadAll(ctx, 0, 0)
		require.NoError(t, err)
		require.Len(t, all, 4)
		ids := make([]string, len(all))
		for i, env := range all {
			ids[i] = env.ID
		}
		assert.Equal(t, []string{"a-1", "a-2", "b-1", "a-3"}, ids)

		page, err := s.LoadAll(ctx, all[0].Position, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "a-2", page[0].ID)
		assert.Equal(t, "b-1", page[1].ID)

		rest, err := s.LoadAll(ctx, all[3].Position, 10)
		require.NoError(t, err)
		assert.Empty(t, rest)
	})

	t.Run("ConcurrentAppendsSingleWinner", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			conflicts int
		)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				envs := Envelopes("a", 0, 1)
				envs[0].ID = fmt.Sprintf("writer-%d", w)
				_, err := s.Append(ctx, aggregateType, "a", 0, envs)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case assert.ErrorIs(t, err, eventsourcing.ErrConcurrencyConflict):
					conflicts++
				}
			}(w)
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
		assert.Equal(t, writers-1, conflicts)

		loaded, err := s.Load(ctx, aggregateType, "a")
		require.NoError(t, err)
		assert.Len(t, loaded, 1)
	})
}
