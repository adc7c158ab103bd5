package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/plaenen/eventfold/examples/bankaccount/handlers"
	"github.com/plaenen/eventfold/examples/bankaccount/projections"
	"github.com/plaenen/eventfold/internal/config"
	"github.com/plaenen/eventfold/pkg/eventsourcing"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // unexpected failure
	ExitCommandError = 2 // bad arguments or setup
	ExitRejected     = 3 // the account refused the command
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if eventsourcing.IsRejection(err) {
		return ExitRejected
	}
	return ExitFailure
}

type printer struct {
	format string
	w      io.Writer
}

func (p *printer) json() bool { return p.format == config.FormatJSON }

func (p *printer) encode(v any) error {
	return json.NewEncoder(p.w).Encode(v)
}

type eventOutput struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type resultOutput struct {
	Command   string        `json:"command"`
	AccountID string        `json:"account_id"`
	Events    []eventOutput `json:"events"`
}

func newResultOutput(cmd eventsourcing.Command, res eventsourcing.Result) resultOutput {
	out := resultOutput{
		Command:   cmd.CommandType(),
		AccountID: res.AggregateID,
		Events:    make([]eventOutput, len(res.Events)),
	}
	for i, e := range res.Events {
		out.Events[i] = eventOutput{Type: e.EventType(), Data: e}
	}
	return out
}

func (p *printer) textResult(r resultOutput) error {
	for _, e := range r.Events {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return err
		}
		fmt.Fprintf(p.w, "%s %s -> %s %s\n", r.Command, r.AccountID, e.Type, data)
	}
	return nil
}

func (p *printer) result(cmd eventsourcing.Command, res eventsourcing.Result) error {
	out := newResultOutput(cmd, res)
	if p.json() {
		return p.encode(out)
	}
	return p.textResult(out)
}

func (p *printer) textSummary(s handlers.AccountSummary) {
	fmt.Fprintf(p.w, "account %d customer %d %s balance %d generation %d\n",
		s.ID, s.CustomerID, s.Status, s.Balance, s.Generation)
}

func (p *printer) demo(results []resultOutput, summary handlers.AccountSummary) error {
	if p.json() {
		return p.encode(struct {
			Results []resultOutput          `json:"results"`
			Account handlers.AccountSummary `json:"account"`
		}{results, summary})
	}
	for _, r := range results {
		if err := p.textResult(r); err != nil {
			return err
		}
	}
	p.textSummary(summary)
	return nil
}

type historyOutput struct {
	Position  int64           `json:"position"`
	Version   int64           `json:"version"`
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Principal string          `json:"principal,omitempty"`
	Data      json.RawMessage `json:"data"`
}

func (p *printer) history(envs []eventsourcing.Envelope) error {
	if p.json() {
		out := make([]historyOutput, len(envs))
		for i, env := range envs {
			out[i] = historyOutput{
				Position:  env.Position,
				Version:   env.Version,
				ID:        env.ID,
				Type:      env.EventType,
				Timestamp: env.Timestamp,
				Principal: env.Metadata.PrincipalID,
				Data:      json.RawMessage(env.Data),
			}
		}
		return p.encode(out)
	}
	for _, env := range envs {
		fmt.Fprintf(p.w, "v%d %s %s %s\n",
			env.Version, env.Timestamp.Format(time.RFC3339), env.EventType, env.Data)
	}
	return nil
}

func (p *printer) balances(rows []projections.AccountRow, total decimal.Decimal) error {
	if p.json() {
		if rows == nil {
			rows = []projections.AccountRow{}
		}
		return p.encode(struct {
			Accounts []projections.AccountRow `json:"accounts"`
			Total    decimal.Decimal          `json:"total"`
		}{rows, total})
	}
	for _, r := range rows {
		fmt.Fprintf(p.w, "account %d customer %d %s balance %s refusals %d\n",
			r.AccountID, r.CustomerID, r.Status, r.Balance, r.Refusals)
	}
	fmt.Fprintf(p.w, "total %s\n", total)
	return nil
}
