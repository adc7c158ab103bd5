package middleware

import (
	"context"
	"time"

	"github.com/plaenen/eventfold/pkg/eventsourcing"
	"github.com/plaenen/eventfold/pkg/observability"
)

// MetricsMiddleware records command count, duration and errors.
func MetricsMiddleware(metrics *observability.Metrics) eventsourcing.CommandMiddleware {
	return func(next eventsourcing.CommandHandler) eventsourcing.CommandHandler {
		return eventsourcing.CommandHandlerFunc(func(ctx context.Context, cmd eventsourcing.Command) (eventsourcing.Result, error) {
			start := time.Now()
			result, err := next.Handle(ctx, cmd)
			metrics.RecordCommand(ctx, cmd.CommandType(), time.Since(start), err)
			return result, err
		})
	}
}
