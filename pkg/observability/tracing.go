package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EndSpan ends a span, recording err if it is not nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// TraceID returns the hex trace ID of the span in ctx, or "" without one.
func TraceID(ctx context.Context) string {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}

// Span attribute keys shared by the store, projection and command spans.
var (
	AttrAggregateID   = attribute.Key("aggregate.id")
	AttrAggregateType = attribute.Key("aggregate.type")
	AttrVersion       = attribute.Key("aggregate.version")

	AttrCommandType   = attribute.Key("command.type")
	AttrCorrelationID = attribute.Key("command.correlation_id")
	AttrPrincipalID   = attribute.Key("command.principal_id")

	AttrEventTypes = attribute.Key("event.types")
	AttrEventCount = attribute.Key("event.count")
	AttrPosition   = attribute.Key("event.position")

	AttrProjection = attribute.Key("projection.name")
	AttrErrorKind  = attribute.Key("error.kind")
)

// AggregateAttrs identifies one stream at one version.
func AggregateAttrs(aggregateType, id string, version int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAggregateType.String(aggregateType),
		AttrAggregateID.String(id),
		AttrVersion.Int64(version),
	}
}
