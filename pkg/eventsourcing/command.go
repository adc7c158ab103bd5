package eventsourcing

import (
	"context"
	"fmt"
)

// Command represents a request to change one aggregate.
// Commands carry no state beyond their payload.
type Command interface {
	// CommandType returns the stable symbolic name of the variant (e.g. "deposit_money").
	CommandType() string

	// AggregateID returns the ID of the aggregate this command targets.
	AggregateID() string
}

// Result describes the outcome of a dispatched command.
type Result struct {
	// AggregateID is the aggregate the command was executed against
	AggregateID string

	// Events are the events produced and saved, in order
	Events []Event
}

// CommandHandler processes a command end to end.
type CommandHandler interface {
	Handle(ctx context.Context, cmd Command) (Result, error)
}

// CommandHandlerFunc is a function adapter for CommandHandler.
type CommandHandlerFunc func(ctx context.Context, cmd Command) (Result, error)

// Handle implements CommandHandler.
func (f CommandHandlerFunc) Handle(ctx context.Context, cmd Command) (Result, error) {
	return f(ctx, cmd)
}

// CommandMiddleware wraps command handlers with cross-cutting concerns.
type CommandMiddleware func(CommandHandler) CommandHandler

// HandleFunc adapts a handler for one concrete command type. Commands of any
// other type are refused with ErrInvalidCommand.
func HandleFunc[C Command, E Event](fn func(ctx context.Context, cmd C) ([]E, error)) CommandHandler {
	return CommandHandlerFunc(func(ctx context.Context, cmd Command) (Result, error) {
		typed, ok := cmd.(C)
		if !ok {
			return Result{}, fmt.Errorf("%w: got %T", ErrInvalidCommand, cmd)
		}
		events, err := fn(ctx, typed)
		if err != nil {
			return Result{}, err
		}
		out := make([]Event, len(events))
		for i, e := range events {
			out[i] = e
		}
		return Result{AggregateID: cmd.AggregateID(), Events: out}, nil
	})
}
