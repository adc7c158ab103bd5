package eventsourcing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/eventfold/pkg/eventsourcing"
)

func TestJSONCodec(t *testing.T) {
	codec := newCounterCodec()
	assert.Equal(t, 3, codec.EventTypes())

	t.Run("value variant", func(t *testing.T) {
		data, err := codec.Encode(Incremented{ID: "c1", By: 3})
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"c1","by":3}`, string(data))

		e, err := codec.Decode("incremented", data)
		require.NoError(t, err)
		assert.Equal(t, Incremented{ID: "c1", By: 3}, e)
	})

	t.Run("pointer variant", func(t *testing.T) {
		data, err := codec.Encode(&Stopped{ID: "c1"})
		require.NoError(t, err)

		e, err := codec.Decode("stopped", data)
		require.NoError(t, err)
		assert.Equal(t, &Stopped{ID: "c1"}, e)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := codec.Decode("renamed", []byte(`{}`))
		assert.ErrorIs(t, err, eventsourcing.ErrUnknownEvent)

		partial := eventsourcing.NewJSONCodec[counterEvent](Created{})
		_, err = partial.Encode(Incremented{ID: "c1"})
		assert.ErrorIs(t, err, eventsourcing.ErrUnknownEvent)
	})

	t.Run("malformed data", func(t *testing.T) {
		_, err := codec.Decode("created", []byte(`{`))
		assert.Error(t, err)
	})
}
