// Package main provides the GraphQL server for moviechat.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/moviechat/internal/app"
	"github.com/raphaelgruber/moviechat/internal/config"
	"github.com/raphaelgruber/moviechat/internal/server"
)

func main() {
	ensure := flag.Bool("ensure-collection", true, "create the collection on startup if missing")
	flag.Parse()

	cfg, err := config.Load()

	logger, closeLogger := config.SetupLogger(os.Stderr, cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLogger() }()

	if err != nil {
		// Missing credentials stop the process before anything is served.
		logger.Error("invalid configuration", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger.Info("starting moviechat-server",
		"port", cfg.ServerPort,
		"backend", cfg.VectorBackend,
		"collection", cfg.Collection,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.Build(ctx, cfg, logger)
	if err == nil && *ensure {
		err = a.Store.EnsureCollection(ctx)
	}
	cancel()
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	httpServer := server.New(a.Sessions, a.Metrics, logger).HTTPServer(":"+cfg.ServerPort, cfg.MaxTurnDuration)

	// Start server in goroutine
	go func() {
		logger.Info("GraphQL endpoint available", "url", fmt.Sprintf("http://localhost:%s/query", cfg.ServerPort))
		logger.Info("GraphQL playground available", "url", fmt.Sprintf("http://localhost:%s/playground", cfg.ServerPort))
		logger.Info("Prometheus metrics available", "url", fmt.Sprintf("http://localhost:%s/metrics", cfg.ServerPort))

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// A turn is capped by MaxTurnDuration; give in-flight turns that long.
	if err := server.Shutdown(httpServer, cfg.MaxTurnDuration+5*time.Second); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
