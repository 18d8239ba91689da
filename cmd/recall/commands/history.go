// ABOUTME: CLI commands to read stored turns and list conversations
// ABOUTME: Provides the history and conversations views over the turn ledger
package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	historyLimit int
)

// NewHistoryCmd creates the history command
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <conversation>",
		Short: "Show the latest turns of a conversation",
		Long: `Show the most recent turns of a conversation in order.

Examples:
  recall history trip-planning
  recall history trip-planning --limit 50 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: runHistory,
	}

	cmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum turns to show")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	if err := validatePositiveInt(historyLimit, "limit"); err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(a)

	turns, err := a.Engine.History(cmd.Context(), userID, args[0], historyLimit)
	if err != nil {
		return fmt.Errorf("reading history: %w", err)
	}

	if wantJSON() {
		return writeJSON(cmd.OutOrStdout(), turns)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "#\tROLE\tWHEN\tCONTENT\n")
	fmt.Fprintf(w, "-\t----\t----\t-------\n")
	for _, t := range turns {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			t.TurnIndex, t.Role, formatTime(t.CreatedAt), truncate(oneLine(t.Content), 70))
	}
	return w.Flush()
}

// NewConversationsCmd creates the conversations command
func NewConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List conversations of the user",
		Args:    cobra.NoArgs,
		RunE:    runConversations,
	}
	return cmd
}

func runConversations(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(a)

	convs, err := a.Engine.ListConversations(cmd.Context(), userID)
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}

	if wantJSON() {
		return writeJSON(cmd.OutOrStdout(), convs)
	}

	if len(convs) == 0 {
		if !quiet {
			fmt.Fprintln(cmd.OutOrStdout(), "No conversations found")
		}
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "CONVERSATION\tTURNS\tWINDOWS\tLAST\n")
	fmt.Fprintf(w, "------------\t-----\t-------\t----\n")
	for _, c := range convs {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n",
			truncate(c.ConversationID, 40), c.TurnCount, c.WindowCount, formatTime(c.LastAt))
	}
	return w.Flush()
}
