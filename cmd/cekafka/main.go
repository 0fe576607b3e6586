package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/drblury/cekafka/internal/cmd/cli"
)

func main() {
	// Interrupts cancel the command context; sessions flush before exit.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRoot().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
