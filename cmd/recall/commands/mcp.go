// ABOUTME: MCP command starts Model Context Protocol server
// ABOUTME: Exposes conversational memory tools to LLM agents via stdio
package commands

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/harper/recall/internal/mcp"
)

// NewMCPCmd creates the MCP command
func NewMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for LLM agents",
		Long: `Start MCP server for LLM agents

Runs recall as an MCP (Model Context Protocol) server so agents can
append turns and search their conversation memory over stdio. Embedding
workers run in the same process.`,
		RunE: runMCP,
		Example: `  # Start MCP server (typically called by the agent host)
  recall mcp

  # Configure in the host's MCP config:
  # {
  #   "mcpServers": {
  #     "recall": {
  #       "command": "recall",
  #       "args": ["mcp"]
  #     }
  #   }
  # }`,
	}

	return cmd
}

// runMCP starts the MCP server
func runMCP(cmd *cobra.Command, args []string) error {
	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}

	server := mcpserver.NewMCPServer("recall", versionInfo.Version)
	mcp.RegisterTools(server, a.Engine)

	a.Engine.Start(ctx)

	if !quiet {
		log.Printf("%s MCP server starting on stdio...", versionInfo)
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- mcpserver.ServeStdio(server)
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		if !quiet {
			log.Println("Shutdown signal received, gracefully shutting down...")
		}
	case err := <-serverErr:
		if err != nil {
			closeApp(a)
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Stops workers, flushes telemetry and closes storage
	closeApp(a)

	if !quiet {
		log.Println("Shutdown complete")
	}
	return nil
}
