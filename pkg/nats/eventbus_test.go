package nats_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/eventfold/pkg/eventsourcing"
	natspkg "github.com/plaenen/eventfold/pkg/nats"
)

func envelope(id, aggregateType, eventType string) eventsourcing.Envelope {
	return eventsourcing.Envelope{
		ID:            id,
		AggregateType: aggregateType,
		AggregateID:   "agg-1",
		EventType:     eventType,
		Version:       1,
		Position:      1,
		Timestamp:     time.Now().UTC(),
		Data:          []byte(`{"n":1}`),
		Metadata:      eventsourcing.Metadata{PrincipalID: "test-user"},
	}
}

func collect(ch chan eventsourcing.Envelope) eventsourcing.EventHandler {
	return func(_ context.Context, env eventsourcing.Envelope) error {
		ch <- env
		return nil
	}
}

func TestEmbeddedNATSEventBus(t *testing.T) {
	bus, srv, err := natspkg.NewEmbeddedEventBus(t.TempDir())
	require.NoError(t, err)
	defer srv.Shutdown()
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		received := make(chan eventsourcing.Envelope, 1)
		sub, err := bus.Subscribe(eventsourcing.EventFilter{AggregateTypes: []string{"TestAggregate"}}, collect(received))
		require.NoError(t, err)
		defer sub.Unsubscribe()

		sent := envelope("test-event-1", "TestAggregate", "created")
		require.NoError(t, bus.Publish(ctx, []eventsourcing.Envelope{sent}))

		select {
		case got := <-received:
			assert.Equal(t, sent.ID, got.ID)
			assert.Equal(t, sent.AggregateID, got.AggregateID)
			assert.Equal(t, sent.Data, got.Data)
			assert.Equal(t, "test-user", got.Metadata.PrincipalID)
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for event")
		}
	})

	t.Run("FilterByEventType", func(t *testing.T) {
		received := make(chan eventsourcing.Envelope, 4)
		sub, err := bus.Subscribe(eventsourcing.EventFilter{
			AggregateTypes: []string{"Filtered", "Other"},
			EventTypes:     []string{"wanted"},
		}, collect(received))
		require.NoError(t, err)
		defer sub.Unsubscribe()

		require.NoError(t, bus.Publish(ctx, []eventsourcing.Envelope{
			envelope("filtered-1", "Filtered", "unwanted"),
			envelope("filtered-2", "Filtered", "wanted"),
		}))

		select {
		case got := <-received:
			assert.Equal(t, "filtered-2", got.ID)
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for event")
		}
		select {
		case got := <-received:
			t.Fatalf("unexpected event %s", got.ID)
		case <-time.After(300 * time.Millisecond):
		}
	})

	t.Run("EventIdempotency", func(t *testing.T) {
		received := make(chan eventsourcing.Envelope, 10)
		sub, err := bus.Subscribe(eventsourcing.EventFilter{AggregateTypes: []string{"IdempotentAggregate"}}, collect(received))
		require.NoError(t, err)
		defer sub.Unsubscribe()

		// Same ID twice: the server deduplicates
		sent := envelope("idempotent-event-1", "IdempotentAggregate", "created")
		require.NoError(t, bus.Publish(ctx, []eventsourcing.Envelope{sent}))
		require.NoError(t, bus.Publish(ctx, []eventsourcing.Envelope{sent}))

		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for first event")
		}
		select {
		case <-received:
			t.Error("received duplicate event (deduplication failed)")
		case <-time.After(500 * time.Millisecond):
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		received1 := make(chan eventsourcing.Envelope, 1)
		received2 := make(chan eventsourcing.Envelope, 1)

		sub1, err := bus.Subscribe(eventsourcing.EventFilter{AggregateTypes: []string{"MultiSubAggregate"}}, collect(received1))
		require.NoError(t, err)
		defer sub1.Unsubscribe()

		sub2, err := bus.Subscribe(eventsourcing.EventFilter{AggregateTypes: []string{"MultiSubAggregate"}}, collect(received2))
		require.NoError(t, err)
		defer sub2.Unsubscribe()

		require.NoError(t, bus.Publish(ctx, []eventsourcing.Envelope{envelope("multi-sub-event-1", "MultiSubAggregate", "created")}))

		timeout := time.After(2 * time.Second)
		for count := 0; count < 2; {
			select {
			case <-received1:
				count++
			case <-received2:
				count++
			case <-timeout:
				t.Fatalf("timeout: only received %d/2 events", count)
			}
		}
	})

	t.Run("HandlerErrorRedelivers", func(t *testing.T) {
		attempts := make(chan struct{}, 10)
		sub, err := bus.Subscribe(eventsourcing.EventFilter{AggregateTypes: []string{"Flaky"}},
			func(_ context.Context, _ eventsourcing.Envelope) error {
				attempts <- struct{}{}
				if len(attempts) < 2 {
					return assert.AnError
				}
				return nil
			})
		require.NoError(t, err)
		defer sub.Unsubscribe()

		require.NoError(t, bus.Publish(ctx, []eventsourcing.Envelope{envelope("flaky-1", "Flaky", "created")}))

		for i := 0; i < 2; i++ {
			select {
			case <-attempts:
			case <-time.After(5 * time.Second):
				t.Fatalf("expected redelivery, got %d attempts", i)
			}
		}
	})
}

func TestSubject(t *testing.T) {
	bus, srv, err := natspkg.NewEmbeddedEventBus(t.TempDir())
	require.NoError(t, err)
	defer srv.Shutdown()
	defer bus.Close()

	assert.Equal(t, "events.BankAccount.credited", bus.Subject(envelope("x", "BankAccount", "credited")))
	assert.Equal(t, "events.bank_account.v1_opened", bus.Subject(envelope("x", "bank.account", "v1.opened")))
}
