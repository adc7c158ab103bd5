package messaging_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/eventfold/pkg/eventsourcing"
	"github.com/plaenen/eventfold/pkg/messaging"
)

func env(id, aggregateType, eventType string) eventsourcing.Envelope {
	return eventsourcing.Envelope{ID: id, AggregateType: aggregateType, AggregateID: "1", EventType: eventType}
}

func TestLocalBus_DeliversInOrder(t *testing.T) {
	bus := messaging.NewLocalBus()
	defer bus.Close()

	var got []string
	_, err := bus.Subscribe(eventsourcing.EventFilter{}, func(_ context.Context, e eventsourcing.Envelope) error {
		got = append(got, e.ID)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), []eventsourcing.Envelope{
		env("1", "A", "x"), env("2", "A", "y"), env("3", "B", "x"),
	}))
	assert.Equal(t, []string{"1", "2", "3"}, got)
}

func TestLocalBus_Filter(t *testing.T) {
	bus := messaging.NewLocalBus()
	defer bus.Close()

	var got []string
	_, err := bus.Subscribe(eventsourcing.EventFilter{
		AggregateTypes: []string{"A"},
		EventTypes:     []string{"y"},
	}, func(_ context.Context, e eventsourcing.Envelope) error {
		got = append(got, e.ID)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), []eventsourcing.Envelope{
		env("1", "A", "x"), env("2", "A", "y"), env("3", "B", "y"),
	}))
	assert.Equal(t, []string{"2"}, got)
}

func TestLocalBus_HandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := messaging.NewLocalBus()
	defer bus.Close()

	boom := errors.New("boom")
	_, err := bus.Subscribe(eventsourcing.EventFilter{}, func(context.Context, eventsourcing.Envelope) error {
		return boom
	})
	require.NoError(t, err)

	calls := 0
	_, err = bus.Subscribe(eventsourcing.EventFilter{}, func(context.Context, eventsourcing.Envelope) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	err = bus.Publish(context.Background(), []eventsourcing.Envelope{env("1", "A", "x")})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestLocalBus_Unsubscribe(t *testing.T) {
	bus := messaging.NewLocalBus()
	defer bus.Close()

	calls := 0
	sub, err := bus.Subscribe(eventsourcing.EventFilter{}, func(context.Context, eventsourcing.Envelope) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, bus.Publish(context.Background(), []eventsourcing.Envelope{env("1", "A", "x")}))
	assert.Zero(t, calls)
}

func TestLocalBus_Closed(t *testing.T) {
	bus := messaging.NewLocalBus()
	require.NoError(t, bus.Close())

	_, err := bus.Subscribe(eventsourcing.EventFilter{}, func(context.Context, eventsourcing.Envelope) error { return nil })
	assert.ErrorIs(t, err, messaging.ErrClosed)
	assert.ErrorIs(t, bus.Publish(context.Background(), nil), messaging.ErrClosed)
}
