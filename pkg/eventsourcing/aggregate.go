package eventsourcing

// Aggregate is a consistency boundary whose state is a pure fold over its
// ordered event history. E is the aggregate's closed event union and C its
// closed command union.
type Aggregate[E Event, C Command] interface {
	// AggregateType returns the type name of the aggregate (e.g. "BankAccount").
	AggregateType() string

	// Generation returns the number of events successfully applied so far.
	Generation() int64

	// Apply applies exactly one event. It validates the transition for the
	// current lifecycle state, mutates in place and increments the generation.
	// On error the state and generation must be left untouched.
	Apply(event E) error

	// Execute validates cmd against the current state and returns the events
	// that would result. It never mutates the aggregate. Refusals are
	// expressed as events; errors mean the command cannot run at all.
	Execute(cmd C) ([]E, error)
}

// Replay folds events into agg in order. Replay stops at the first event that
// cannot be applied and reports it as an *EventError; the partially folded
// aggregate must then be discarded.
func Replay[A Aggregate[E, C], E Event, C Command](agg A, events []E) error {
	for i, e := range events {
		if err := agg.Apply(e); err != nil {
			return &EventError{
				AggregateType: agg.AggregateType(),
				AggregateID:   e.AggregateID(),
				EventType:     e.EventType(),
				Position:      i,
				Err:           err,
			}
		}
	}
	return nil
}

// Root is the working copy of an aggregate for a single load/command cycle.
// It separates the history loaded from the store from the events recorded
// since, which are the only ones Save persists.
//
// A Root is owned by one caller and must not be shared between goroutines.
type Root[A Aggregate[E, C], E Event, C Command] struct {
	id        string
	aggregate A
	base      int64
	pending   []E
	failed    error
}

// NewRoot wraps an aggregate already holding its history.
func NewRoot[A Aggregate[E, C], E Event, C Command](id string, aggregate A) *Root[A, E, C] {
	return &Root[A, E, C]{
		id:        id,
		aggregate: aggregate,
		base:      aggregate.Generation(),
	}
}

// ID returns the aggregate identity.
func (r *Root[A, E, C]) ID() string { return r.id }

// Aggregate returns the underlying aggregate for read access.
func (r *Root[A, E, C]) Aggregate() A { return r.aggregate }

// Base returns the generation the aggregate had when it was loaded or last saved.
func (r *Root[A, E, C]) Base() int64 { return r.base }

// Generation returns the current generation including pending events.
func (r *Root[A, E, C]) Generation() int64 { return r.aggregate.Generation() }

// Err returns the error that aborted recording, if any.
func (r *Root[A, E, C]) Err() error { return r.failed }

// Pending returns a copy of the events recorded since load.
func (r *Root[A, E, C]) Pending() []E {
	out := make([]E, len(r.pending))
	copy(out, r.pending)
	return out
}

// Execute runs cmd against the current state. Business-rule rejections are
// returned as *CommandError.
func (r *Root[A, E, C]) Execute(cmd C) ([]E, error) {
	events, err := r.aggregate.Execute(cmd)
	if err != nil {
		return nil, &CommandError{
			AggregateType: r.aggregate.AggregateType(),
			AggregateID:   r.id,
			CommandType:   cmd.CommandType(),
			Err:           err,
		}
	}
	return events, nil
}

// Record applies each event and appends it to the pending buffer.
// The first apply failure aborts recording for the whole root: the error is
// kept and every later Record or Save fails with it.
func (r *Root[A, E, C]) Record(events ...E) error {
	if r.failed != nil {
		return r.failed
	}
	for i, e := range events {
		if e.AggregateID() != r.id {
			r.failed = &EventError{
				AggregateType: r.aggregate.AggregateType(),
				AggregateID:   r.id,
				EventType:     e.EventType(),
				Position:      len(r.pending) + i,
				Err:           ErrAggregateMismatch,
			}
			return r.failed
		}
		if err := r.aggregate.Apply(e); err != nil {
			r.failed = &EventError{
				AggregateType: r.aggregate.AggregateType(),
				AggregateID:   r.id,
				EventType:     e.EventType(),
				Position:      len(r.pending) + i,
				Err:           err,
			}
			return r.failed
		}
	}
	r.pending = append(r.pending, events...)
	return nil
}

// Handle executes cmd and records the resulting events.
func (r *Root[A, E, C]) Handle(cmd C) ([]E, error) {
	events, err := r.Execute(cmd)
	if err != nil {
		return nil, err
	}
	if err := r.Record(events...); err != nil {
		return nil, err
	}
	return events, nil
}

// commit marks the pending events as persisted.
func (r *Root[A, E, C]) commit() {
	r.pending = nil
	r.base = r.aggregate.Generation()
}
