// Package eventsourcing implements the mechanics of event-sourced aggregates.
//
// State is never stored directly. An aggregate's current state is derived by
// replaying its ordered history of immutable events (Replay). Commands are
// validated against that state (Aggregate.Execute) and produce new events,
// which are applied to the in-memory state and buffered on a Root
// (Root.Record). A Repository saves only the buffered events through an
// EventStore, guarded by the generation the aggregate was loaded at so that
// two concurrent load/execute/save cycles cannot silently overwrite each
// other.
//
// The typical flow for one command is:
//
//	root, err := repo.Load(ctx, cmd.AggregateID())
//	events, err := root.Handle(cmd)       // Execute + Record
//	err = repo.Save(ctx, root)            // append pending events only
//
// Handler wraps exactly that flow, and CommandBus routes commands to
// handlers registered explicitly at startup.
package eventsourcing
