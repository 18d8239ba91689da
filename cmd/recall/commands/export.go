// ABOUTME: CLI command to export a user's conversations to YAML or JSON
// ABOUTME: Writes to stdout or a file; window embeddings are never exported
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/harper/recall/internal/app"
	"github.com/harper/recall/internal/storage"
)

var exportFormats = []string{"yaml", "json"}

// NewExportCmd creates the export command
func NewExportCmd() *cobra.Command {
	var (
		output      string
		format      string
		withWindows bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export conversations of the user",
		Long: `Export every conversation of the user with its turns.

Examples:
  recall export > backup.yaml
  recall export -f json -o backup.json --windows`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !containsString(exportFormats, format) {
				return fmt.Errorf("unsupported format %q (use yaml or json)", format)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			data, err := storage.Export(cmd.Context(), store, userID, withWindows)
			if err != nil {
				return fmt.Errorf("exporting: %w", err)
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("creating output file: %w", err)
				}
				defer f.Close()
				w = f
			}

			if err := data.Write(w, format); err != nil {
				return err
			}
			if output != "" && !quiet {
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d conversation(s) to %s\n", len(data.Conversations), output)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Export format (yaml, json)")
	cmd.Flags().BoolVar(&withWindows, "windows", false, "Include windows")

	return cmd
}
