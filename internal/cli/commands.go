package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/plaenen/eventfold/examples/bankaccount/domain"
	"github.com/plaenen/eventfold/examples/bankaccount/projections"
	"github.com/plaenen/eventfold/pkg/eventsourcing"
	"github.com/plaenen/eventfold/pkg/observability"
	"github.com/plaenen/eventfold/pkg/runner"
	"github.com/plaenen/eventfold/pkg/store/memory"
	"github.com/plaenen/eventfold/pkg/store/sqlite"
)

func newDemoCommand(o *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Open account 100, deposit 49, then try to withdraw 90",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(o, cmd, func(ctx context.Context, a *app) error {
				script := []domain.Command{
					domain.OpenAccount{ID: 100, CustomerID: 20},
					domain.DepositMoney{ID: 100, Amount: 49},
					domain.WithdrawMoney{ID: 100, Amount: 90},
				}
				results := make([]resultOutput, 0, len(script))
				for _, c := range script {
					res, err := a.commands.Dispatch(ctx, c)
					if err != nil {
						return err
					}
					results = append(results, newResultOutput(c, res))
				}

				summary, err := a.queries.GetAccount(ctx, 100)
				if err != nil {
					return err
				}
				return a.out.demo(results, summary)
			})
		},
	}
}

// singleCommand builds a subcommand that parses its arguments into one
// account command and dispatches it.
func singleCommand(o *RootOptions, use, short string, nargs int, build func(args []string) (domain.Command, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := build(args)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid arguments", err)
			}
			return withApp(o, cmd, func(ctx context.Context, a *app) error {
				res, err := a.commands.Dispatch(ctx, c)
				if err != nil {
					return err
				}
				return a.out.result(c, res)
			})
		},
	}
}

func newOpenCommand(o *RootOptions) *cobra.Command {
	var customer uint64
	cmd := singleCommand(o, "open <account>", "Open an account", 1, func(args []string) (domain.Command, error) {
		id, err := parseAccountID(args[0])
		if err != nil {
			return nil, err
		}
		return domain.OpenAccount{ID: id, CustomerID: customer}, nil
	})
	cmd.Flags().Uint64Var(&customer, "customer", 0, "customer owning the account")
	_ = cmd.MarkFlagRequired("customer")
	return cmd
}

func amountCommand(o *RootOptions, use, short string, build func(id, amount uint64) domain.Command) *cobra.Command {
	return singleCommand(o, use, short, 2, func(args []string) (domain.Command, error) {
		id, err := parseAccountID(args[0])
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(args[1])
		if err != nil {
			return nil, err
		}
		return build(id, amount), nil
	})
}

func newDepositCommand(o *RootOptions) *cobra.Command {
	return amountCommand(o, "deposit <account> <amount>", "Credit an account", func(id, amount uint64) domain.Command {
		return domain.DepositMoney{ID: id, Amount: amount}
	})
}

func newWithdrawCommand(o *RootOptions) *cobra.Command {
	return amountCommand(o, "withdraw <account> <amount>", "Debit an account, or record a refusal", func(id, amount uint64) domain.Command {
		return domain.WithdrawMoney{ID: id, Amount: amount}
	})
}

func newCloseCommand(o *RootOptions) *cobra.Command {
	return singleCommand(o, "close <account>", "Close an empty account", 1, func(args []string) (domain.Command, error) {
		id, err := parseAccountID(args[0])
		if err != nil {
			return nil, err
		}
		return domain.CloseAccount{ID: id}, nil
	})
}

func newHistoryCommand(o *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <account>",
		Short: "Print the stored events of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid arguments", err)
			}
			return withApp(o, cmd, func(ctx context.Context, a *app) error {
				envs, err := a.queries.GetAccountHistory(ctx, id)
				if err != nil {
					return err
				}
				return a.out.history(envs)
			})
		},
	}
}

// accountView opens the account view next to the event store: in the same
// sqlite database, or in a scratch in-memory one for the memory store.
func (a *app) accountView(ctx context.Context) (*projections.AccountViewProjection, eventsourcing.CheckpointStore, error) {
	if a.sqlite != nil {
		view := projections.NewAccountViewProjection(a.sqlite.DB())
		if err := view.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		checkpoints, err := sqlite.NewCheckpointStore(ctx, a.sqlite.DB())
		if err != nil {
			return nil, nil, err
		}
		return view, checkpoints, nil
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, nil, err
	}
	db.SetMaxOpenConns(1)
	a.onClose(db.Close)

	view := projections.NewAccountViewProjection(db)
	if err := view.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}
	return view, memory.NewCheckpointStore(), nil
}

func (a *app) projection(p eventsourcing.Projection) eventsourcing.Projection {
	if a.telemetry == nil {
		return p
	}
	return observability.InstrumentProjection(p, a.telemetry)
}

func newBalanceCommand(o *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Rebuild the account view from the event log and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(o, cmd, func(ctx context.Context, a *app) error {
				view, checkpoints, err := a.accountView(ctx)
				if err != nil {
					return err
				}
				manager := eventsourcing.NewProjectionManager(checkpoints, a.streams, a.events,
					eventsourcing.WithProjectionLogger(a.logger))
				defer manager.StopAll()
				if err := manager.Register(a.projection(view)); err != nil {
					return err
				}
				if err := manager.Rebuild(ctx, view.Name()); err != nil {
					return err
				}

				rows, err := view.List(ctx)
				if err != nil {
					return err
				}
				total, err := view.TotalBalance(ctx)
				if err != nil {
					return err
				}
				return a.out.balances(rows, total)
			})
		},
	}
}

func newProjectCommand(o *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "project",
		Short: "Keep the account view up to date from NATS until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.NATSURL == "" && !o.EmbeddedNATS {
				return WrapExitError(ExitCommandError, "invalid arguments",
					errors.New("project needs --nats-url or --embedded-nats"))
			}
			return withApp(o, cmd, func(ctx context.Context, a *app) error {
				view, checkpoints, err := a.accountView(ctx)
				if err != nil {
					return err
				}
				manager := eventsourcing.NewProjectionManager(checkpoints, a.streams, a.events,
					eventsourcing.WithProjectionLogger(a.logger))
				if err := manager.Register(a.projection(view)); err != nil {
					return err
				}

				// The subscription outlives Start, so it hangs off the
				// command context rather than the startup deadline.
				svc := runner.NewService(view.Name(),
					func(context.Context) error {
						if err := manager.Start(ctx, view.Name()); err != nil {
							return fmt.Errorf("start %s: %w", view.Name(), err)
						}
						a.logger.Info("projection running", slog.String("projection", view.Name()))
						return nil
					},
					func(context.Context) error {
						manager.StopAll()
						return nil
					},
				)
				return runner.New([]runner.Service{svc}, runner.WithLogger(a.logger)).Run(ctx)
			})
		},
	}
}
