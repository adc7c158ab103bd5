package eventsourcing_test

import (
	"errors"

	"github.com/plaenen/eventfold/pkg/eventsourcing"
)

// A small counter aggregate used across the package tests.

const counterType = "Counter"

var (
	errExists    = errors.New("counter already exists")
	errNotActive = errors.New("counter is not active")
	errInvalidBy = errors.New("increment must be positive")
)

type counterEvent interface {
	eventsourcing.Event
	isCounterEvent()
}

type Created struct {
	ID string `json:"id"`
}

type Incremented struct {
	ID string `json:"id"`
	By int    `json:"by"`
}

type Stopped struct {
	ID string `json:"id"`
}

func (Created) EventType() string     { return "created" }
func (e Created) AggregateID() string { return e.ID }
func (Created) isCounterEvent()       {}

func (Incremented) EventType() string     { return "incremented" }
func (e Incremented) AggregateID() string { return e.ID }
func (Incremented) isCounterEvent()       {}

func (*Stopped) EventType() string     { return "stopped" }
func (e *Stopped) AggregateID() string { return e.ID }
func (*Stopped) isCounterEvent()       {}

type counterCommand interface {
	eventsourcing.Command
	isCounterCommand()
}

type Create struct{ ID string }
type Increment struct {
	ID string
	By int
}
type Stop struct{ ID string }

func (Create) CommandType() string   { return "create" }
func (c Create) AggregateID() string { return c.ID }
func (Create) isCounterCommand()     {}

func (Increment) CommandType() string   { return "increment" }
func (c Increment) AggregateID() string { return c.ID }
func (Increment) isCounterCommand()     {}

func (Stop) CommandType() string   { return "stop" }
func (c Stop) AggregateID() string { return c.ID }
func (Stop) isCounterCommand()     {}

type counter struct {
	created    bool
	stopped    bool
	value      int
	generation int64
}

func newCounter() *counter { return &counter{} }

func (c *counter) AggregateType() string { return counterType }
func (c *counter) Generation() int64     { return c.generation }

func (c *counter) active() bool { return c.created && !c.stopped }

func (c *counter) Apply(e counterEvent) error {
	switch e := e.(type) {
	case Created:
		if c.created {
			return errExists
		}
		c.created = true
	case Incremented:
		if !c.active() {
			return errNotActive
		}
		c.value += e.By
	case *Stopped:
		if !c.active() {
			return errNotActive
		}
		c.stopped = true
	default:
		return eventsourcing.ErrUnknownEvent
	}
	c.generation++
	return nil
}

func (c *counter) Execute(cmd counterCommand) ([]counterEvent, error) {
	switch cmd := cmd.(type) {
	case Create:
		if c.created {
			return nil, errExists
		}
		return []counterEvent{Created{ID: cmd.ID}}, nil
	case Increment:
		if !c.active() {
			return nil, errNotActive
		}
		if cmd.By <= 0 {
			return nil, errInvalidBy
		}
		return []counterEvent{Incremented{ID: cmd.ID, By: cmd.By}}, nil
	case Stop:
		if !c.active() {
			return nil, errNotActive
		}
		return []counterEvent{&Stopped{ID: cmd.ID}}, nil
	default:
		return nil, eventsourcing.ErrUnknownCommand
	}
}

type (
	counterRoot = eventsourcing.Root[*counter, counterEvent, counterCommand]
	counterRepo = eventsourcing.Repository[*counter, counterEvent, counterCommand]
)

func newCounterCodec() *eventsourcing.JSONCodec[counterEvent] {
	return eventsourcing.NewJSONCodec[counterEvent](Created{}, Incremented{}, &Stopped{})
}

func newCounterRepo(streams eventsourcing.StreamStore, opts ...eventsourcing.StoreOption) *counterRepo {
	store := eventsourcing.NewStore[counterEvent](streams, counterType, newCounterCodec(), opts...)
	return eventsourcing.NewRepository[*counter, counterEvent, counterCommand](store, newCounter)
}

func replay(events ...counterEvent) (*counter, error) {
	c := newCounter()
	err := eventsourcing.Replay[*counter, counterEvent, counterCommand](c, events)
	return c, err
}
