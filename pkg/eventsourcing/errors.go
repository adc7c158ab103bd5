package eventsourcing

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrencyConflict is returned when the expected generation passed to
	// SaveEvents no longer matches the stream.
	ErrConcurrencyConflict = errors.New("concurrency conflict: aggregate generation mismatch")

	// ErrAggregateMismatch is returned when an event is saved under a different aggregate ID.
	ErrAggregateMismatch = errors.New("event does not belong to aggregate")

	// ErrAggregateFailed is returned when saving a root whose recording failed.
	ErrAggregateFailed = errors.New("aggregate recording failed")

	// ErrCommandRejected matches every *CommandError.
	ErrCommandRejected = errors.New("command rejected")

	// ErrEventRejected matches every *EventError.
	ErrEventRejected = errors.New("event rejected")

	// ErrUnknownEvent is returned for an event variant the aggregate or codec does not know.
	ErrUnknownEvent = errors.New("unknown event type")

	// ErrUnknownCommand is returned for a command variant the aggregate does not know.
	ErrUnknownCommand = errors.New("unknown command type")

	// ErrCommandNotFound is returned when no handler is registered for a command type.
	ErrCommandNotFound = errors.New("command handler not found")

	// ErrHandlerExists is returned when registering a second handler for a command type.
	ErrHandlerExists = errors.New("command handler already registered")

	// ErrInvalidCommand is returned when a command is nil or has the wrong type.
	ErrInvalidCommand = errors.New("invalid command")
)

// CommandError reports a command refused by business rules while executing
// against the current state. Nothing is recorded or saved.
type CommandError struct {
	AggregateType string
	AggregateID   string
	CommandType   string
	Err           error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s: command %s: %v", e.AggregateType, e.AggregateID, e.CommandType, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

func (e *CommandError) Is(target error) bool {
	return target == ErrCommandRejected
}

// EventError reports an event that is illegal for the aggregate's current
// lifecycle state. During replay it means the history is corrupt or out of order.
type EventError struct {
	AggregateType string
	AggregateID   string
	EventType     string
	// Position is the index of the event within the replayed or recorded batch.
	Position int
	Err      error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("%s %s: event %s at position %d: %v",
		e.AggregateType, e.AggregateID, e.EventType, e.Position, e.Err)
}

func (e *EventError) Unwrap() error { return e.Err }

func (e *EventError) Is(target error) bool {
	return target == ErrEventRejected
}

// StoreError wraps a failure of the backing store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("event store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err unless it is nil or already a *StoreError.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsRejection reports whether err is a business-rule refusal of a command,
// as opposed to an infrastructure or history failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrCommandRejected)
}
