// Command tagcheck verifies that the container image tags referenced in
// manifests exist in their registries.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmgilman/tagcheck/internal/cmd"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
