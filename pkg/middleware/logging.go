// Package middleware provides command bus middleware for logging, panic
// recovery, metadata stamping, tracing and metrics.
package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/plaenen/eventfold/pkg/eventsourcing"
)

// LoggingMiddleware logs command execution with timing information using slog.
// Business-rule rejections are logged at Info, other failures at Error.
func LoggingMiddleware(logger *slog.Logger) eventsourcing.CommandMiddleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next eventsourcing.CommandHandler) eventsourcing.CommandHandler {
		return eventsourcing.CommandHandlerFunc(func(ctx context.Context, cmd eventsourcing.Command) (eventsourcing.Result, error) {
			start := time.Now()
			md := eventsourcing.MetadataFrom(ctx)

			logger.DebugContext(ctx, "executing command",
				slog.String("command_type", cmd.CommandType()),
				slog.String("aggregate_id", cmd.AggregateID()),
				slog.String("principal_id", md.PrincipalID),
				slog.String("correlation_id", md.CorrelationID),
			)

			result, err := next.Handle(ctx, cmd)
			duration := time.Since(start)

			switch {
			case err == nil:
				logger.InfoContext(ctx, "command executed",
					slog.String("command_type", cmd.CommandType()),
					slog.String("aggregate_id", cmd.AggregateID()),
					slog.Int("events_count", len(result.Events)),
					slog.Int64("duration_ms", duration.Milliseconds()),
				)
			case eventsourcing.IsRejection(err):
				logger.InfoContext(ctx, "command rejected",
					slog.String("command_type", cmd.CommandType()),
					slog.String("aggregate_id", cmd.AggregateID()),
					slog.String("reason", err.Error()),
				)
			default:
				logger.ErrorContext(ctx, "command execution failed",
					slog.String("command_type", cmd.CommandType()),
					slog.String("aggregate_id", cmd.AggregateID()),
					slog.Int64("duration_ms", duration.Milliseconds()),
					slog.String("error", err.Error()),
				)
			}

			return result, err
		})
	}
}
