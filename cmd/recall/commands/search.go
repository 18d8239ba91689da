// ABOUTME: CLI command to search windows with hybrid retrieval
// ABOUTME: Searches one conversation by default or every conversation of the user with --cross
package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harper/recall/internal/core"
)

var (
	searchLimit        int
	searchConversation string
	searchCross        bool
	searchGroup        int
	searchSince        time.Duration
)

// NewSearchCmd creates search command
func NewSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search conversation windows",
		Long: `Search windows using vector similarity, keyword match and recency.

When the embedding provider or the vector index is unavailable the search
still answers from the keyword leg, and falls back to the most recent
windows when neither leg works. Degraded legs are reported.

Examples:
  recall search -c trip-planning "hotel near the river"
  recall search --cross --limit 10 "deployment checklist"
  recall search --cross --since 72h --format json "budget"`,
		Args: cobra.ExactArgs(1),
		RunE: runSearch,
	}

	cmd.Flags().IntVar(&searchLimit, "limit", 5, "Maximum results to return")
	cmd.Flags().StringVarP(&searchConversation, "conversation", "c", "", "Conversation to search")
	cmd.Flags().BoolVar(&searchCross, "cross", false, "Search every conversation of the user")
	cmd.Flags().IntVar(&searchGroup, "group", -1, "Only return windows of this test group")
	cmd.Flags().DurationVar(&searchSince, "since", 0, "Only return windows active within this duration")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	// Validate limit flag
	if err := validatePositiveInt(searchLimit, "limit"); err != nil {
		return err
	}
	if searchConversation == "" && !searchCross {
		return fmt.Errorf("either --conversation or --cross is required")
	}

	query := args[0]
	req := core.SearchRequest{
		UserID:         userID,
		ConversationID: searchConversation,
		QueryText:      query,
		K:              searchLimit,
		Filters:        core.SearchFilters{CrossConversation: searchCross},
	}
	if searchGroup >= 0 {
		group := searchGroup
		req.Filters.TestGroup = &group
	}
	if searchSince > 0 {
		req.Filters.Since = time.Now().Add(-searchSince)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(a)

	resp, err := a.Engine.Search(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("searching windows: %w", err)
	}

	if wantJSON() {
		return writeJSON(cmd.OutOrStdout(), resp)
	}

	if len(resp.Degraded) > 0 && !quiet {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: degraded search, unavailable legs: %s\n",
			strings.Join(resp.Degraded, ", "))
	}

	if len(resp.Results) == 0 {
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "No windows found for query: %s\n", query)
		}
		return nil
	}

	// Table format
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "SCORE\tCONVERSATION\tSPAN\tLAST\tPREVIEW\n")
	fmt.Fprintf(w, "-----\t------------\t----\t----\t-------\n")

	for _, result := range resp.Results {
		fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\t%s\n",
			result.Score,
			truncate(result.Window.ConversationID, 20),
			result.Window.Span(),
			formatTime(result.Window.LastTurnAt),
			truncate(oneLine(result.Window.Text), 60))
	}
	w.Flush()

	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "\nFound %d result(s)\n", len(resp.Results))
	}

	return nil
}
