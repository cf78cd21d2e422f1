package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"taskhub/api/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "taskhub:", err)
		stop()
		os.Exit(1)
	}
}
