package middleware

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/plaenen/eventfold/pkg/eventsourcing"
	"github.com/plaenen/eventfold/pkg/observability"
)

// TracingMiddleware starts one span per command on tracer.
func TracingMiddleware(tracer trace.Tracer) eventsourcing.CommandMiddleware {
	return func(next eventsourcing.CommandHandler) eventsourcing.CommandHandler {
		return eventsourcing.CommandHandlerFunc(func(ctx context.Context, cmd eventsourcing.Command) (eventsourcing.Result, error) {
			md := eventsourcing.MetadataFrom(ctx)
			spanCtx, span := tracer.Start(ctx, "command."+cmd.CommandType(),
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					observability.AttrCommandType.String(cmd.CommandType()),
					observability.AttrAggregateID.String(cmd.AggregateID()),
					observability.AttrPrincipalID.String(md.PrincipalID),
					observability.AttrCorrelationID.String(md.CorrelationID),
				),
			)

			result, err := next.Handle(spanCtx, cmd)
			if err != nil {
				span.SetAttributes(observability.AttrErrorKind.String(observability.ErrorKind(err)))
			} else {
				eventTypes := make([]string, len(result.Events))
				for i, e := range result.Events {
					eventTypes[i] = e.EventType()
				}
				span.SetAttributes(
					observability.AttrEventCount.Int(len(result.Events)),
					observability.AttrEventTypes.StringSlice(eventTypes),
				)
			}
			observability.EndSpan(span, err)

			return result, err
		})
	}
}
