// Package observability provides OpenTelemetry-based tracing and metrics
// for command handling, event storage and projections.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName is the tracer and meter name used by this module.
const InstrumentationName = "github.com/plaenen/eventfold"

// Config configures the observability stack
type Config struct {
	// Service metadata
	ServiceName    string
	ServiceVersion string
	Environment    string // dev, staging, prod

	// Tracing
	TraceExporter   sdktrace.SpanExporter // Pluggable exporter (stdout, in-memory, OTLP...)
	TraceSampleRate float64               // 0.0 to 1.0 (1.0 = trace everything)

	// SyncExport exports each span when it ends instead of batching.
	// Useful for CLIs and tests.
	SyncExport bool

	// Metrics
	MetricReader sdkmetric.Reader // Pluggable reader (manual, periodic...)

	// SetGlobal installs the providers as the otel globals.
	SetGlobal bool

	// Logging
	Logger *slog.Logger
}

// Telemetry manages the observability stack
type Telemetry struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Metrics        *Metrics
	Logger         *slog.Logger

	shutdown func(context.Context) error
}

// Init initializes OpenTelemetry with graceful degradation.
// A nil exporter or reader disables that signal; calls become no-ops.
func Init(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tel := &Telemetry{
		Logger: cfg.Logger,
	}

	var shutdownFuncs []func(context.Context) error

	if cfg.TraceExporter != nil {
		tp := newTracerProvider(res, cfg)
		tel.TracerProvider = tp
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown)
		cfg.Logger.Debug("tracing initialized", slog.String("service", cfg.ServiceName))
	} else {
		tel.TracerProvider = tracenoop.NewTracerProvider()
	}

	if cfg.MetricReader != nil {
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(cfg.MetricReader),
		)
		tel.MeterProvider = mp
		shutdownFuncs = append(shutdownFuncs, mp.Shutdown)
		cfg.Logger.Debug("metrics initialized", slog.String("service", cfg.ServiceName))
	} else {
		tel.MeterProvider = metricnoop.NewMeterProvider()
	}

	tel.Metrics, err = NewMetrics(tel.MeterProvider.Meter(InstrumentationName))
	if err != nil {
		return nil, err
	}

	if cfg.SetGlobal {
		otel.SetTracerProvider(tel.TracerProvider)
		otel.SetMeterProvider(tel.MeterProvider)
		otel.SetTextMapPropagator(
			propagation.NewCompositeTextMapPropagator(
				propagation.TraceContext{},
				propagation.Baggage{},
			),
		)
	}

	tel.shutdown = func(ctx context.Context) error {
		var errs []error
		for _, shutdown := range shutdownFuncs {
			if err := shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	return tel, nil
}

// InitStdout initializes tracing to w in a human-readable form, with
// metrics disabled. It is what the CLI uses for --trace.
func InitStdout(ctx context.Context, w io.Writer, serviceName string, logger *slog.Logger) (*Telemetry, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
		stdouttrace.WithoutTimestamps(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}
	return Init(ctx, Config{
		ServiceName:     serviceName,
		TraceExporter:   exporter,
		TraceSampleRate: 1,
		SyncExport:      true,
		Logger:          logger,
	})
}

func newTracerProvider(res *resource.Resource, cfg Config) *sdktrace.TracerProvider {
	var sampler sdktrace.Sampler
	switch {
	case cfg.TraceSampleRate <= 0:
		sampler = sdktrace.NeverSample()
	case cfg.TraceSampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.TraceSampleRate)
	}

	export := sdktrace.WithBatcher(cfg.TraceExporter)
	if cfg.SyncExport {
		export = sdktrace.WithSyncer(cfg.TraceExporter)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		export,
		sdktrace.WithSampler(sampler),
	)
}

// Shutdown flushes and shuts down the telemetry stack
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.shutdown != nil {
		return t.shutdown(ctx)
	}
	return nil
}

// Tracer returns the module tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.TracerProvider.Tracer(InstrumentationName)
}
