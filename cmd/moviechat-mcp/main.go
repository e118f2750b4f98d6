// Package main provides the entry point for the moviechat MCP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/moviechat/internal/app"
	"github.com/raphaelgruber/moviechat/internal/config"
	"github.com/raphaelgruber/moviechat/internal/server"
	"github.com/raphaelgruber/moviechat/internal/tools"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()

	// stdout carries the protocol, so logs go to stderr and the log file.
	logger, closeLogger := config.SetupLogger(os.Stderr, cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLogger() }()

	if err != nil {
		logger.Error("invalid configuration", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger.Info("moviechat-mcp starting",
		"version", version,
		"backend", cfg.VectorBackend,
		"collection", cfg.Collection,
		"llm_model", cfg.LLMModel,
		"embed_model", cfg.EmbedModel,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("closing vector store")
		_ = a.Close()
	}()

	srv := server.NewMCP(version, logger)
	tools.RegisterAll(srv.Server(), a.ToolDependencies())
	logger.Info("server ready, awaiting connections")

	// Run server (blocks until disconnect or context cancelled)
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
