// Command glctl is the operator CLI for the general ledger engine.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/minerva-erp/glcore/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
