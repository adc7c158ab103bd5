package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func recorded(j *journal, name string, startErr error) Service {
	return NewService(name,
		func(context.Context) error {
			j.add("start " + name)
			return startErr
		},
		func(context.Context) error {
			j.add("stop " + name)
			return nil
		},
	)
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRunner_StartsInOrderStopsInReverse(t *testing.T) {
	j := &journal{}
	r := New([]Service{recorded(j, "a", nil), recorded(j, "b", nil)}, quiet(), WithSignals())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return len(j.list()) == 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, j.list())
}

func TestRunner_StartFailureStopsStarted(t *testing.T) {
	j := &journal{}
	boom := errors.New("boom")
	r := New([]Service{
		recorded(j, "a", nil),
		recorded(j, "b", boom),
		recorded(j, "c", nil),
	}, quiet(), WithSignals())

	err := r.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "start service b")
	assert.Equal(t, []string{"start a", "start b", "stop a"}, j.list())
}

func TestRunner_StopErrorsAreJoined(t *testing.T) {
	failing := errors.New("cannot stop")
	r := New([]Service{
		NewService("a", nil, func(context.Context) error { return failing }),
		NewService("b", nil, nil),
	}, quiet(), WithSignals())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx)
	require.ErrorIs(t, err, failing)
	assert.Contains(t, err.Error(), "stop a")
}
