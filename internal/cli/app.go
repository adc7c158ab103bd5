package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/plaenen/eventfold/examples/bankaccount"
	"github.com/plaenen/eventfold/examples/bankaccount/handlers"
	"github.com/plaenen/eventfold/internal/config"
	"github.com/plaenen/eventfold/pkg/eventsourcing"
	"github.com/plaenen/eventfold/pkg/messaging"
	"github.com/plaenen/eventfold/pkg/middleware"
	natspkg "github.com/plaenen/eventfold/pkg/nats"
	"github.com/plaenen/eventfold/pkg/observability"
	"github.com/plaenen/eventfold/pkg/store/memory"
	"github.com/plaenen/eventfold/pkg/store/sqlite"
)

// app is the wiring behind one CLI invocation.
type app struct {
	logger    *slog.Logger
	streams   eventsourcing.StreamStore
	sqlite    *sqlite.EventStore
	events    eventsourcing.EventBus
	telemetry *observability.Telemetry
	repo      *bankaccount.Repository
	commands  *eventsourcing.CommandBus
	queries   *handlers.AccountQueryHandler
	out       *printer

	closers []func() error
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func newLogger(o *RootOptions, cmd *cobra.Command) *slog.Logger {
	level := o.LogLevel
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// openApp wires stores, bus, telemetry and handlers from the options.
func openApp(ctx context.Context, o *RootOptions, cmd *cobra.Command) (_ *app, err error) {
	a := &app{
		logger: newLogger(o, cmd),
		out:    &printer{format: o.Format, w: cmd.OutOrStdout()},
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	switch o.Store {
	case config.StoreSQLite:
		store, err := sqlite.NewEventStore(ctx, sqlite.WithDSN(o.DSN), sqlite.WithLogger(a.logger))
		if err != nil {
			return nil, err
		}
		a.sqlite = store
		a.streams = store
	default:
		a.streams = memory.New(memory.WithLogger(a.logger))
	}
	a.onClose(a.streams.Close)

	if o.Trace {
		a.telemetry, err = observability.InitStdout(ctx, cmd.ErrOrStderr(), "bank", a.logger)
		if err != nil {
			return nil, err
		}
		a.onClose(func() error { return a.telemetry.Shutdown(context.Background()) })
		a.streams = observability.InstrumentStreamStore(a.streams, a.telemetry)
	}

	if err := a.openEventBus(o); err != nil {
		return nil, err
	}

	storeOpts := []eventsourcing.StoreOption{
		eventsourcing.WithStoreLogger(a.logger),
		eventsourcing.WithPublisher(a.events),
	}
	if o.newID != nil {
		storeOpts = append(storeOpts, eventsourcing.WithIDGenerator(o.newID))
	}
	a.repo = bankaccount.NewRepository(
		bankaccount.NewStore(a.streams, storeOpts...),
		eventsourcing.WithRepositoryLogger(a.logger),
	)

	a.commands = eventsourcing.NewCommandBus()
	a.commands.Use(middleware.RecoveryMiddleware(a.logger))
	a.commands.Use(middleware.LoggingMiddleware(a.logger))
	a.commands.Use(middleware.MetadataMiddleware(o.Principal))
	if a.telemetry != nil {
		a.commands.Use(middleware.TracingMiddleware(a.telemetry.Tracer()))
		a.commands.Use(middleware.MetricsMiddleware(a.telemetry.Metrics))
	}
	if err := handlers.Register(a.commands, a.repo); err != nil {
		return nil, err
	}
	a.queries = handlers.NewAccountQueryHandler(a.repo, a.streams)

	return a, nil
}

// openEventBus picks the bus stored events are published on: an embedded
// NATS server, a remote one, or the in-process bus.
func (a *app) openEventBus(o *RootOptions) error {
	switch {
	case o.EmbeddedNATS:
		dir, err := os.MkdirTemp("", "bank-nats-*")
		if err != nil {
			return err
		}
		a.onClose(func() error { return os.RemoveAll(dir) })

		bus, srv, err := natspkg.NewEmbeddedEventBus(dir)
		if err != nil {
			return fmt.Errorf("start embedded nats: %w", err)
		}
		a.onClose(func() error {
			srv.Shutdown()
			return nil
		})
		a.onClose(bus.Close)
		a.events = bus
		a.logger.Debug("embedded nats started", slog.String("url", srv.URL()))

	case o.NATSURL != "":
		cfg := natspkg.DefaultConfig()
		cfg.URL = o.NATSURL
		cfg.Name = "bank"
		cfg.Logger = a.logger
		bus, err := natspkg.NewEventBus(cfg)
		if err != nil {
			return err
		}
		a.onClose(bus.Close)
		a.events = bus

	default:
		bus := messaging.NewLocalBus(messaging.WithLogger(a.logger))
		a.onClose(bus.Close)
		a.events = bus
	}
	return nil
}

// withApp runs fn against a freshly wired app and closes it afterwards.
func withApp(o *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, o, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "setup failed", err)
	}
	return errors.Join(fn(ctx, a), a.Close())
}
