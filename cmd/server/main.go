package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tendant/simple-blob/pkg/simpleblob"
	"github.com/tendant/simple-blob/pkg/simpleblob/api"
	"github.com/tendant/simple-blob/pkg/simpleblob/config"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Println("simple-blob server. Configuration is read from the environment:")
		fmt.Println(config.Usage())
		return
	}

	// Load configuration from environment
	serverConfig, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to load server configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.Default()
	if serverConfig.IsProduction() {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
		slog.SetDefault(logger)
	}

	ctx := context.Background()
	eventSink, closeEvents, err := serverConfig.BuildEventSink(ctx, logger)
	if err != nil {
		slog.Error("Failed to initialize event journal", "err", err)
		os.Exit(1)
	}
	defer closeEvents()

	// Build service from configuration
	svc, err := serverConfig.BuildService(
		simpleblob.WithEventSink(eventSink),
		simpleblob.WithLogger(logger),
	)
	if err != nil {
		slog.Error("Failed to build service", "err", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%s", serverConfig.Port),
		Handler: api.NewRouter(svc, api.RouterConfig{
			Environment:          serverConfig.Environment,
			RateLimitWindow:      serverConfig.RateLimitWindow,
			RateLimitMaxRequests: serverConfig.RateLimitMaxRequests,
			StaticDir:            serverConfig.StaticDir,
			Logger:               logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Simple Blob Server starting",
			"port", serverConfig.Port,
			"env", serverConfig.Environment,
			"storage", serverConfig.StorageBackend,
			"upload_folder", serverConfig.UploadFolder,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "err", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "err", err)
	}

	slog.Info("Server exiting")
}
