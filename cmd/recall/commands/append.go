// ABOUTME: CLI command to append one turn to a conversation
// ABOUTME: Reads content from the argument, a file or stdin and reports any sealed windows
package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harper/recall/internal/models"
)

var (
	appendFile string
)

// NewAppendCmd creates the append command
func NewAppendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append <conversation> <role> [content]",
		Short: "Append a turn to a conversation",
		Long: `Append a single turn to a conversation ledger.

The role is one of user, assistant or system. Windows that become full
are sealed and queued for embedding the next time a worker runs.

Examples:
  recall append trip-planning user "Where should we stay in Lisbon?"
  recall append trip-planning assistant --file reply.txt
  echo "thanks" | recall append trip-planning user`,
		Args: cobra.RangeArgs(2, 3),
		RunE: runAppend,
	}

	cmd.Flags().StringVar(&appendFile, "file", "", "Read turn content from file")

	return cmd
}

func runAppend(cmd *cobra.Command, args []string) error {
	conversation := args[0]
	role, err := models.ParseRole(args[1])
	if err != nil {
		return err
	}

	var content string
	switch {
	case appendFile != "":
		data, err := os.ReadFile(appendFile)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		content = string(data)
	case len(args) > 2:
		content = args[2]
	default:
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		content = string(data)
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("no content provided")
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(a)

	result, err := a.Engine.AppendTurn(cmd.Context(), userID, conversation, role, content)
	if err != nil {
		return fmt.Errorf("appending turn: %w", err)
	}

	if wantJSON() {
		return writeJSON(cmd.OutOrStdout(), result)
	}

	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "Appended turn %d to %s\n", result.Turn.TurnIndex, conversation)
		for _, id := range result.Build.Sealed {
			fmt.Fprintf(cmd.OutOrStdout(), "Sealed window %s\n", id)
		}
	}
	return nil
}
