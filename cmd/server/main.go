// ABOUTME: Main entry point for the recall MCP server with stdio transport
// ABOUTME: Wires storage, embedder and engine, runs embedding workers and serves MCP tools
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/harper/recall/internal/app"
	"github.com/harper/recall/internal/config"
	"github.com/harper/recall/internal/logging"
	"github.com/harper/recall/internal/mcp"
)

func main() {
	// Load .env file if it exists (for API keys)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found (this is okay for production): %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := logging.Init(cfg.LogLevel, cfg.LogFormat, os.Stderr); err != nil {
		log.Fatalf("Invalid LOG_LEVEL: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize recall: %v", err)
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			log.Printf("Warning: Error closing recall: %v", err)
		}
	}()

	server := mcpserver.NewMCPServer("recall", "0.1.0")
	mcp.RegisterTools(server, a.Engine)

	a.Engine.Start(ctx)

	logger := logging.For("server")
	logger.WithField("storage", cfg.StorageBackend).Info("recall MCP server starting on stdio")

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- mcpserver.ServeStdio(server)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("Server error")
		}
	}
}
