package eventsourcing_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/eventfold/pkg/eventsourcing"
)

func TestReplay(t *testing.T) {
	c, err := replay(Created{ID: "c1"}, Incremented{ID: "c1", By: 2}, Incremented{ID: "c1", By: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, c.value)
	assert.Equal(t, int64(3), c.Generation())
}

func TestReplay_StopsAtFirstIllegalEvent(t *testing.T) {
	c, err := replay(
		Created{ID: "c1"},
		&Stopped{ID: "c1"},
		Incremented{ID: "c1", By: 1},
		Incremented{ID: "c1", By: 1},
	)

	var eventErr *eventsourcing.EventError
	require.ErrorAs(t, err, &eventErr)
	assert.Equal(t, 2, eventErr.Position)
	assert.Equal(t, "incremented", eventErr.EventType)
	assert.Equal(t, counterType, eventErr.AggregateType)
	assert.ErrorIs(t, err, errNotActive)
	assert.ErrorIs(t, err, eventsourcing.ErrEventRejected)
	assert.Equal(t, int64(2), c.Generation(), "the failing event must not be counted")
}

func TestReplay_IsDeterministic(t *testing.T) {
	history := []counterEvent{Created{ID: "c1"}, Incremented{ID: "c1", By: 7}, Incremented{ID: "c1", By: 1}}

	a, err := replay(history...)
	require.NoError(t, err)
	b, err := replay(history...)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRoot_Handle(t *testing.T) {
	root := eventsourcing.NewRoot[*counter, counterEvent, counterCommand]("c1", newCounter())

	events, err := root.Handle(Create{ID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, []counterEvent{Created{ID: "c1"}}, events)

	_, err = root.Handle(Increment{ID: "c1", By: 4})
	require.NoError(t, err)

	assert.Equal(t, int64(0), root.Base())
	assert.Equal(t, int64(2), root.Generation())
	assert.Len(t, root.Pending(), 2)
	assert.Equal(t, 4, root.Aggregate().value)
}

func TestRoot_ExecuteRejection(t *testing.T) {
	root := eventsourcing.NewRoot[*counter, counterEvent, counterCommand]("c1", newCounter())

	_, err := root.Handle(Increment{ID: "c1", By: 1})

	var cmdErr *eventsourcing.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "increment", cmdErr.CommandType)
	assert.Equal(t, "c1", cmdErr.AggregateID)
	assert.ErrorIs(t, err, errNotActive)
	assert.ErrorIs(t, err, eventsourcing.ErrCommandRejected)
	assert.NoError(t, root.Err(), "a rejected command does not fail the root")
	assert.Empty(t, root.Pending())
}

func TestRoot_RecordFailureIsSticky(t *testing.T) {
	root := eventsourcing.NewRoot[*counter, counterEvent, counterCommand]("c1", newCounter())

	err := root.Record(Created{ID: "c1"}, Incremented{ID: "c1", By: 1}, Created{ID: "c1"})
	var eventErr *eventsourcing.EventError
	require.ErrorAs(t, err, &eventErr)
	assert.Equal(t, 2, eventErr.Position)
	assert.ErrorIs(t, err, errExists)
	assert.Empty(t, root.Pending(), "a failed batch is not buffered")

	// Valid events are refused once the root has failed
	err = root.Record(Incremented{ID: "c1", By: 1})
	assert.Same(t, root.Err(), err)
	_, err = root.Handle(Increment{ID: "c1", By: 1})
	assert.True(t, errors.Is(err, errExists))
}

func TestRoot_RecordForeignEvent(t *testing.T) {
	root := eventsourcing.NewRoot[*counter, counterEvent, counterCommand]("c1", newCounter())

	err := root.Record(Created{ID: "c2"})
	assert.ErrorIs(t, err, eventsourcing.ErrAggregateMismatch)
	assert.Zero(t, root.Generation())
}

func TestRoot_PendingIsACopy(t *testing.T) {
	root := eventsourcing.NewRoot[*counter, counterEvent, counterCommand]("c1", newCounter())
	require.NoError(t, root.Record(Created{ID: "c1"}))

	pending := root.Pending()
	pending[0] = Created{ID: "changed"}
	assert.Equal(t, Created{ID: "c1"}, root.Pending()[0])
}
