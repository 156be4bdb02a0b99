// cmd/harvest/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/law-makers/harvest/internal/cli"
)

func main() {
	// An interrupt cancels the running command instead of exiting, so runs
	// in flight still record their final state
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := cli.Execute(ctx)
	if ctx.Err() != nil {
		log.Warn().Msg("Interrupt received, shut down gracefully")
	}
	stop()

	if err != nil {
		os.Exit(1)
	}
}
