package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/plaenen/eventfold/pkg/eventsourcing"
)

// Metrics holds all metric instruments
type Metrics struct {
	// Command metrics
	CommandDuration metric.Float64Histogram
	CommandTotal    metric.Int64Counter
	CommandErrors   metric.Int64Counter

	// Event store metrics
	EventsAppended    metric.Int64Counter
	EventStoreLatency metric.Float64Histogram

	// Projection metrics
	ProjectionEvents metric.Int64Counter
	ProjectionErrors metric.Int64Counter
}

// NewMetrics creates all metric instruments
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.CommandDuration, err = meter.Float64Histogram(
		"eventsourcing.command.duration",
		metric.WithDescription("Command execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.duration: %w", err)
	}

	m.CommandTotal, err = meter.Int64Counter(
		"eventsourcing.command.total",
		metric.WithDescription("Total commands executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.total: %w", err)
	}

	m.CommandErrors, err = meter.Int64Counter(
		"eventsourcing.command.errors",
		metric.WithDescription("Total command errors by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.errors: %w", err)
	}

	m.EventsAppended, err = meter.Int64Counter(
		"eventsourcing.events.appended",
		metric.WithDescription("Total events appended to the event store"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events.appended: %w", err)
	}

	m.EventStoreLatency, err = meter.Float64Histogram(
		"eventsourcing.eventstore.latency",
		metric.WithDescription("Event store operation latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating eventstore.latency: %w", err)
	}

	m.ProjectionEvents, err = meter.Int64Counter(
		"eventsourcing.projection.events",
		metric.WithDescription("Events handled by projections"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating projection.events: %w", err)
	}

	m.ProjectionErrors, err = meter.Int64Counter(
		"eventsourcing.projection.errors",
		metric.WithDescription("Projection processing errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating projection.errors: %w", err)
	}

	return m, nil
}

// ErrorKind classifies err for metric attributes: "rejected", "illegal_event",
// "conflict", "store", "not_found" or "other".
func ErrorKind(err error) string {
	var storeErr *eventsourcing.StoreError
	switch {
	case errors.Is(err, eventsourcing.ErrCommandRejected):
		return "rejected"
	case errors.Is(err, eventsourcing.ErrEventRejected), errors.Is(err, eventsourcing.ErrAggregateFailed):
		return "illegal_event"
	case errors.Is(err, eventsourcing.ErrConcurrencyConflict):
		return "conflict"
	case errors.As(err, &storeErr):
		return "store"
	case errors.Is(err, eventsourcing.ErrCommandNotFound):
		return "not_found"
	default:
		return "other"
	}
}

// RecordCommand records command execution metrics
func (m *Metrics) RecordCommand(ctx context.Context, commandType string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("command_type", commandType))

	m.CommandDuration.Record(ctx, duration.Seconds(), attrs)
	m.CommandTotal.Add(ctx, 1, attrs)

	if err != nil {
		m.CommandErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("command_type", commandType),
			attribute.String("error_kind", ErrorKind(err)),
		))
	}
}

// RecordEventStoreOperation records event store operation metrics
func (m *Metrics) RecordEventStoreOperation(ctx context.Context, operation string, duration time.Duration, eventCount int) {
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	m.EventStoreLatency.Record(ctx, duration.Seconds(), attrs)
	if operation == "append" {
		m.EventsAppended.Add(ctx, int64(eventCount), attrs)
	}
}

// RecordProjection records one event handled by a projection.
func (m *Metrics) RecordProjection(ctx context.Context, projectionName string, err error) {
	attrs := metric.WithAttributes(attribute.String("projection", projectionName))

	m.ProjectionEvents.Add(ctx, 1, attrs)
	if err != nil {
		m.ProjectionErrors.Add(ctx, 1, attrs)
	}
}
