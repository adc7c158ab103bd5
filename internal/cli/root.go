// Package cli implements the bank command line: a thin presentation layer
// over the bank account sample and the event sourcing engine.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/plaenen/eventfold/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	config.Config

	Verbose      bool
	Trace        bool
	EmbeddedNATS bool
	Principal    string

	newID func() string
}

// Option adjusts the root command. Tests use it to make output reproducible.
type Option func(*RootOptions)

// WithIDGenerator replaces the event ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *RootOptions) {
		o.newID = fn
	}
}

// NewRootCommand creates the bank root command. cfg supplies the flag
// defaults.
func NewRootCommand(cfg config.Config, opts ...Option) *cobra.Command {
	o := &RootOptions{Config: cfg}
	for _, opt := range opts {
		opt(o)
	}

	cmd := &cobra.Command{
		Use:   "bank",
		Short: "Event-sourced bank accounts",
		Long: `Open, credit, debit and close bank accounts whose state is rebuilt
from their event history.

The memory store lives for one invocation only. Use --store sqlite to keep
accounts between runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.Validate()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&o.Store, "store", cfg.Store, "event store backend (memory|sqlite)")
	flags.StringVar(&o.DSN, "dsn", cfg.DSN, "sqlite database path")
	flags.StringVar(&o.Format, "format", cfg.Format, "output format (text|json)")
	flags.StringVar(&o.NATSURL, "nats-url", cfg.NATSURL, "publish events to this NATS server")
	flags.BoolVar(&o.EmbeddedNATS, "embedded-nats", false, "publish events to an in-process NATS server")
	flags.BoolVar(&o.Trace, "trace", false, "write OpenTelemetry spans to stderr")
	flags.BoolVarP(&o.Verbose, "verbose", "v", false, "debug logging")
	flags.StringVar(&o.Principal, "principal", "cli", "principal recorded in event metadata")

	cmd.AddCommand(
		newDemoCommand(o),
		newOpenCommand(o),
		newDepositCommand(o),
		newWithdrawCommand(o),
		newCloseCommand(o),
		newHistoryCommand(o),
		newBalanceCommand(o),
		newProjectCommand(o),
	)
	return cmd
}
