package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/plaenen/eventfold/pkg/eventsourcing"
)

// ErrHandlerPanicked is returned when a command handler panics.
var ErrHandlerPanicked = errors.New("command handler panicked")

// RecoveryMiddleware recovers from panics in command handlers.
func RecoveryMiddleware(logger *slog.Logger) eventsourcing.CommandMiddleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next eventsourcing.CommandHandler) eventsourcing.CommandHandler {
		return eventsourcing.CommandHandlerFunc(func(ctx context.Context, cmd eventsourcing.Command) (result eventsourcing.Result, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "command handler panicked",
						slog.String("command_type", cmd.CommandType()),
						slog.String("aggregate_id", cmd.AggregateID()),
						slog.Any("panic", r),
						slog.String("stack_trace", string(debug.Stack())),
					)

					result = eventsourcing.Result{}
					err = fmt.Errorf("%w: %v", ErrHandlerPanicked, r)
				}
			}()

			return next.Handle(ctx, cmd)
		})
	}
}
