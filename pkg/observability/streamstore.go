package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/plaenen/eventfold/pkg/eventsourcing"
)

// StreamStore wraps an eventsourcing.StreamStore with a span and latency
// metrics per operation.
type StreamStore struct {
	next    eventsourcing.StreamStore
	tracer  trace.Tracer
	metrics *Metrics
}

// InstrumentStreamStore wraps next with tel's tracer and metrics.
func InstrumentStreamStore(next eventsourcing.StreamStore, tel *Telemetry) *StreamStore {
	return &StreamStore{
		next:    next,
		tracer:  tel.Tracer(),
		metrics: tel.Metrics,
	}
}

// Load implements eventsourcing.StreamStore.
func (s *StreamStore) Load(ctx context.Context, aggregateType, aggregateID string) ([]eventsourcing.Envelope, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.load", trace.WithAttributes(
		AttrAggregateType.String(aggregateType),
		AttrAggregateID.String(aggregateID),
	))

	start := time.Now()
	envs, err := s.next.Load(ctx, aggregateType, aggregateID)
	s.metrics.RecordEventStoreOperation(ctx, "load", time.Since(start), len(envs))

	span.SetAttributes(AttrEventCount.Int(len(envs)))
	EndSpan(span, err)
	return envs, err
}

// Append implements eventsourcing.StreamStore.
func (s *StreamStore) Append(
	ctx context.Context,
	aggregateType string,
	aggregateID string,
	expectedVersion int64,
	envs []eventsourcing.Envelope,
) ([]eventsourcing.Envelope, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.append", trace.WithAttributes(
		AttrAggregateType.String(aggregateType),
		AttrAggregateID.String(aggregateID),
		AttrVersion.Int64(expectedVersion),
		AttrEventCount.Int(len(envs)),
	))

	start := time.Now()
	stored, err := s.next.Append(ctx, aggregateType, aggregateID, expectedVersion, envs)
	s.metrics.RecordEventStoreOperation(ctx, "append", time.Since(start), len(stored))

	if err != nil {
		span.SetAttributes(AttrErrorKind.String(ErrorKind(err)))
	} else if len(stored) > 0 {
		span.SetAttributes(AttrPosition.Int64(stored[len(stored)-1].Position))
	}
	EndSpan(span, err)
	return stored, err
}

// LoadAll implements eventsourcing.StreamStore.
func (s *StreamStore) LoadAll(ctx context.Context, afterPosition int64, limit int) ([]eventsourcing.Envelope, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.load_all", trace.WithAttributes(
		AttrPosition.Int64(afterPosition),
	))

	start := time.Now()
	envs, err := s.next.LoadAll(ctx, afterPosition, limit)
	s.metrics.RecordEventStoreOperation(ctx, "load_all", time.Since(start), len(envs))

	span.SetAttributes(AttrEventCount.Int(len(envs)))
	EndSpan(span, err)
	return envs, err
}

// Version implements eventsourcing.StreamStore.
func (s *StreamStore) Version(ctx context.Context, aggregateType, aggregateID string) (int64, error) {
	return s.next.Version(ctx, aggregateType, aggregateID)
}

// Close implements eventsourcing.StreamStore.
func (s *StreamStore) Close() error {
	return s.next.Close()
}

var _ eventsourcing.StreamStore = (*StreamStore)(nil)

type projection struct {
	eventsourcing.Projection
	tracer  trace.Tracer
	metrics *Metrics
}

// InstrumentProjection wraps p so every handled event gets a span and is
// counted.
func InstrumentProjection(p eventsourcing.Projection, tel *Telemetry) eventsourcing.Projection {
	return &projection{Projection: p, tracer: tel.Tracer(), metrics: tel.Metrics}
}

func (p *projection) Handle(ctx context.Context, env eventsourcing.Envelope) error {
	ctx, span := p.tracer.Start(ctx, "projection.handle", trace.WithAttributes(
		AttrProjection.String(p.Name()),
		AttrAggregateType.String(env.AggregateType),
		AttrAggregateID.String(env.AggregateID),
		AttrPosition.Int64(env.Position),
	))

	err := p.Projection.Handle(ctx, env)
	p.metrics.RecordProjection(ctx, p.Name(), err)
	EndSpan(span, err)
	return err
}
