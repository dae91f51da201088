package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/tendant/chi-demo/app"
	"github.com/tendant/simple-blob/pkg/simpleblob"
	"github.com/tendant/simple-blob/pkg/simpleblob/api"
	"github.com/tendant/simple-blob/pkg/simpleblob/config"
)

// files serves the blob API inside the chi-demo application shell, which
// owns the listen address and the /healthz routes.
func main() {
	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to read configuration", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	eventSink, closeEvents, err := cfg.BuildEventSink(ctx, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize event journal", "err", err)
		os.Exit(1)
	}
	defer closeEvents()

	svc, err := cfg.BuildService(simpleblob.WithEventSink(eventSink))
	if err != nil {
		slog.Error("Failed to build blob service", "err", err)
		os.Exit(1)
	}

	server := app.DefaultApp()

	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	limiter := api.NewRateLimiter(cfg.RateLimitWindow, cfg.RateLimitMaxRequests)
	api.MountBlobRoutes(server.R, svc, limiter)

	server.Run()
}
