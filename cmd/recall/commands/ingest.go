// ABOUTME: CLI command to ingest a batch of turns from a YAML or JSON file
// ABOUTME: The batch is validated as a whole before any turn is written
package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/harper/recall/internal/models"
)

var (
	ingestFile string
)

// NewIngestCmd creates the ingest command
func NewIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <conversation>",
		Short: "Ingest a batch of turns",
		Long: `Ingest a list of turns into a conversation.

The input is a YAML or JSON list of {role, content} objects, read from
--file or stdin. Nothing is written if any turn is invalid.

Examples:
  recall ingest standup --file standup.yaml
  cat turns.json | recall ingest standup`,
		Args: cobra.ExactArgs(1),
		RunE: runIngest,
	}

	cmd.Flags().StringVarP(&ingestFile, "file", "f", "", "Read turns from file (YAML or JSON)")

	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if ingestFile != "" {
		data, err = os.ReadFile(ingestFile)
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("reading turns: %w", err)
	}

	inputs, err := parseTurnInputs(data, ingestFile)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no turns provided")
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(a)

	result, err := a.Engine.Ingest(cmd.Context(), userID, args[0], inputs)
	if err != nil {
		return fmt.Errorf("ingesting turns: %w", err)
	}

	if wantJSON() {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d turn(s) into %s, sealed %d window(s)\n",
			len(result.Turns), args[0], len(result.Build.Sealed))
	}
	return nil
}

// parseTurnInputs decodes JSON when the file says so or the payload starts with '[', YAML otherwise
func parseTurnInputs(data []byte, name string) ([]models.TurnInput, error) {
	var inputs []models.TurnInput
	trimmed := strings.TrimSpace(string(data))
	if strings.EqualFold(filepath.Ext(name), ".json") || strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &inputs); err != nil {
			return nil, fmt.Errorf("parsing JSON turns: %w", err)
		}
		return inputs, nil
	}
	if err := yaml.Unmarshal([]byte(trimmed), &inputs); err != nil {
		return nil, fmt.Errorf("parsing YAML turns: %w", err)
	}
	return inputs, nil
}
