// ABOUTME: Root command, global flags and shared engine setup for the recall CLI
// ABOUTME: Every subcommand opens the app through openApp so config and logging stay uniform
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/harper/recall/internal/app"
	"github.com/harper/recall/internal/config"
	"github.com/harper/recall/internal/logging"
)

var (
	verbose      bool
	quiet        bool
	outputFormat string
	userID       string
)

const banner = `
 ██████╗ ███████╗ ██████╗ █████╗ ██╗     ██╗
 ██╔══██╗██╔════╝██╔════╝██╔══██╗██║     ██║
 ██████╔╝█████╗  ██║     ███████║██║     ██║
 ██╔══██╗██╔══╝  ██║     ██╔══██║██║     ██║
 ██║  ██║███████╗╚██████╗██║  ██║███████╗███████╗
 ╚═╝  ╚═╝╚══════╝ ╚═════╝╚═╝  ╚═╝╚══════╝╚══════╝`

// NewRootCmd creates the root command with all subcommands
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recall",
		Short: "Conversational memory with windowed hybrid retrieval",
		Long: banner + `

recall stores dialogue turns per user and conversation, compacts them into
overlapping windows, embeds the windows in the background and finds them
again with vector similarity, keyword match and recency.

Storage defaults to a local SQLite database; set RECALL_STORAGE=postgres
and DATABASE_URL for pgvector.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose && quiet {
				return fmt.Errorf("--verbose and --quiet are mutually exclusive")
			}
			return nil
		},
	}

	defaultUser := os.Getenv("RECALL_USER")
	if defaultUser == "" {
		defaultUser = "local"
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress informational output")
	cmd.PersistentFlags().StringVar(&outputFormat, "format", "auto", "Output format (auto, table, json)")
	cmd.PersistentFlags().StringVarP(&userID, "user", "u", defaultUser, "User id (defaults to $RECALL_USER)")

	cmd.AddCommand(NewAppendCmd())
	cmd.AddCommand(NewIngestCmd())
	cmd.AddCommand(NewSearchCmd())
	cmd.AddCommand(NewAskCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewConversationsCmd())
	cmd.AddCommand(NewDeleteUserCmd())
	cmd.AddCommand(NewRebuildCmd())
	cmd.AddCommand(NewEmbedCmd())
	cmd.AddCommand(NewExportCmd())
	cmd.AddCommand(NewMCPCmd())
	cmd.AddCommand(NewSyncCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command; commands stop their work when ctx ends
func ExecuteContext(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// loadConfig reads .env and the environment, then configures logging
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level := cfg.LogLevel
	switch {
	case verbose:
		level = "debug"
	case quiet:
		level = "error"
	}
	if err := logging.Init(level, cfg.LogFormat, os.Stderr); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return cfg, nil
}

// openApp loads configuration and wires the engine
func openApp(ctx context.Context, opts ...app.Option) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.Open(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing recall: %w", err)
	}
	return a, nil
}

// closeApp flushes telemetry and closes storage, reporting failures on stderr
func closeApp(a *app.App) {
	if err := a.Close(context.Background()); err != nil && !quiet {
		fmt.Fprintf(os.Stderr, "Warning: error closing recall: %v\n", err)
	}
}

// wantJSON reports whether output should be JSON
func wantJSON() bool {
	return outputFormat == "json"
}

// writeJSON prints v as indented JSON
func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintf(w, "%s\n", data)
	return nil
}
