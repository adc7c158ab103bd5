package eventsourcing

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// CommandBus routes commands to handlers registered explicitly at startup.
type CommandBus struct {
	handlers   map[string]CommandHandler
	middleware []CommandMiddleware
	mu         sync.RWMutex
}

// NewCommandBus creates a new command bus instance.
func NewCommandBus() *CommandBus {
	return &CommandBus{
		handlers: make(map[string]CommandHandler),
	}
}

// Register registers a handler for a command type.
func (b *CommandBus) Register(commandType string, handler CommandHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[commandType]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerExists, commandType)
	}
	b.handlers[commandType] = handler
	return nil
}

// Use adds middleware to the command processing pipeline.
// Middleware is executed in the order it was added (first added = outermost).
func (b *CommandBus) Use(middleware CommandMiddleware) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.middleware = append(b.middleware, middleware)
}

// Dispatch sends a command to its registered handler. Handler errors are
// returned unchanged so callers can match them with errors.Is/As.
func (b *CommandBus) Dispatch(ctx context.Context, cmd Command) (Result, error) {
	if cmd == nil {
		return Result{}, ErrInvalidCommand
	}

	b.mu.RLock()
	handler, exists := b.handlers[cmd.CommandType()]
	middleware := b.middleware
	b.mu.RUnlock()

	if !exists {
		return Result{}, fmt.Errorf("%w: %s", ErrCommandNotFound, cmd.CommandType())
	}

	// Build middleware chain (reverse order so first added is outermost)
	final := handler
	for i := len(middleware) - 1; i >= 0; i-- {
		final = middleware[i](final)
	}

	return final.Handle(ctx, cmd)
}

// RegisteredCommands returns the registered command types, sorted.
func (b *CommandBus) RegisteredCommands() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	types := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
