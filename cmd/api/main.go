package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"fives-agent/internal/application"
)

const build = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := application.New()
	if err := app.Start(ctx, build); err != nil {
		slog.Error("start failed", "err", err)
		stop()
		os.Exit(1)
	}

	if err := app.Wait(ctx, stop); err != nil {
		os.Exit(1)
	}
}
