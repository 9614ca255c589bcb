package main

import (
	"Netlab/cmd"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// an interrupted apply stops issuing operations and rolls back
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cmd.ExitCode(err))
}
