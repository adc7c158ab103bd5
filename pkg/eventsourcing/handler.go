package eventsourcing

import "context"

// Handler runs one use case end to end: load, execute, record, save.
// Any failure short-circuits and is returned unchanged. Nothing is retried.
type Handler[A Aggregate[E, C], E Event, C Command] struct {
	repo *Repository[A, E, C]
}

// NewHandler creates a handler on top of repo.
func NewHandler[A Aggregate[E, C], E Event, C Command](repo *Repository[A, E, C]) *Handler[A, E, C] {
	return &Handler[A, E, C]{repo: repo}
}

// Handle executes cmd against the aggregate it targets and returns the
// events that were saved.
func (h *Handler[A, E, C]) Handle(ctx context.Context, cmd C) ([]E, error) {
	root, err := h.repo.Load(ctx, cmd.AggregateID())
	if err != nil {
		return nil, err
	}

	events, err := root.Handle(cmd)
	if err != nil {
		return nil, err
	}

	if err := h.repo.Save(ctx, root); err != nil {
		return nil, err
	}
	return events, nil
}

// CommandHandler adapts the handler to a CommandBus for commands of type C.
func (h *Handler[A, E, C]) CommandHandler() CommandHandler {
	return HandleFunc(h.Handle)
}
