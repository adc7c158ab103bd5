// Command bank drives the event-sourced bank account sample.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/plaenen/eventfold/internal/cli"
	"github.com/plaenen/eventfold/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.ExitCommandError)
	}

	if err := cli.NewRootCommand(cfg).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
