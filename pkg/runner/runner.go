// Package runner starts a set of services and stops them again on
// cancellation or an interrupt signal.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Runner manages the lifecycle of multiple services.
type Runner struct {
	services        []Service
	logger          *slog.Logger
	shutdownTimeout time.Duration
	startupTimeout  time.Duration
	signals         []os.Signal
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger for the runner.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithShutdownTimeout sets the timeout for graceful shutdown.
// Default is 30 seconds.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		r.shutdownTimeout = timeout
	}
}

// WithStartupTimeout bounds each service's Start. Default is 1 minute.
func WithStartupTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		r.startupTimeout = timeout
	}
}

// WithSignals replaces the signals that trigger shutdown. With none, only
// context cancellation stops the runner.
func WithSignals(sigs ...os.Signal) Option {
	return func(r *Runner) {
		r.signals = sigs
	}
}

// New creates a new Runner with the given services and options.
func New(services []Service, opts ...Option) *Runner {
	r := &Runner{
		services:        services,
		logger:          slog.Default(),
		shutdownTimeout: 30 * time.Second,
		startupTimeout:  time.Minute,
		signals:         []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts the services in order and blocks until ctx is cancelled or a
// shutdown signal arrives. Services are stopped in reverse order.
// If a service fails to start, those already started are stopped and the
// start error is returned.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.signals) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, r.signals...)
		defer stop()
	}

	r.logger.Info("starting services", slog.Int("count", len(r.services)))
	started := make([]Service, 0, len(r.services))
	for _, svc := range r.services {
		startCtx, cancel := context.WithTimeout(ctx, r.startupTimeout)
		err := svc.Start(startCtx)
		cancel()
		if err != nil {
			r.logger.Error("failed to start service",
				slog.String("service", svc.Name()),
				slog.Any("error", err))
			return errors.Join(
				fmt.Errorf("start service %s: %w", svc.Name(), err),
				r.stopServices(started),
			)
		}
		started = append(started, svc)
		r.logger.Debug("service started", slog.String("service", svc.Name()))
	}

	<-ctx.Done()
	r.logger.Info("shutting down services", slog.Duration("timeout", r.shutdownTimeout))
	return r.stopServices(started)
}

func (r *Runner) stopServices(services []Service) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		if err := svc.Stop(ctx); err != nil {
			r.logger.Error("error stopping service",
				slog.String("service", svc.Name()),
				slog.Any("error", err))
			errs = append(errs, fmt.Errorf("stop %s: %w", svc.Name(), err))
			continue
		}
		r.logger.Debug("service stopped", slog.String("service", svc.Name()))
	}
	if ctx.Err() != nil {
		errs = append(errs, fmt.Errorf("shutdown timeout exceeded: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}
