package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/woof-software/streamer-report/app/reporter"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := reporter.Initialize(ctx)
	if err != nil {
		// no logger yet when configuration is broken
		fmt.Fprintf(os.Stderr, "Failed to generate streamer deficit report: %v\n", err)
		cancel()
		os.Exit(1)
	}

	if err := app.Start(ctx); err != nil {
		app.Logger.Error("Failed to generate streamer deficit report", zap.Error(err))
		app.Close()
		cancel()
		os.Exit(1)
	}
	app.Close()
}
