// ABOUTME: CLI command to answer a question from conversation memory
// ABOUTME: Retrieves windows, assembles a grounded prompt and asks the chat model
package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harper/recall/internal/core"
)

var (
	askLimit        int
	askConversation string
	askCross        bool
	askPromptOnly   bool
)

// NewAskCmd creates ask command
func NewAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from conversation memory",
		Long: `Answer a question using the most relevant conversation windows.

The retrieved windows are packed into a prompt within PROMPT_MAX_TOKENS and
sent to CHAT_MODEL. Without OPENAI_API_KEY only --prompt-only works.

Examples:
  recall ask -c garage "what colour is my car"
  recall ask --cross --limit 10 "when is the dentist appointment"
  recall ask --cross --prompt-only "what did we plan for lyon"`,
		Args: cobra.ExactArgs(1),
		RunE: runAsk,
	}

	cmd.Flags().IntVar(&askLimit, "limit", 6, "Maximum windows to ground the answer on")
	cmd.Flags().StringVarP(&askConversation, "conversation", "c", "", "Conversation to search")
	cmd.Flags().BoolVar(&askCross, "cross", false, "Search every conversation of the user")
	cmd.Flags().BoolVar(&askPromptOnly, "prompt-only", false, "Print the assembled prompt instead of asking the model")

	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	if err := validatePositiveInt(askLimit, "limit"); err != nil {
		return err
	}
	if askConversation == "" && !askCross {
		return fmt.Errorf("either --conversation or --cross is required")
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(a)

	answer, err := a.Engine.Ask(cmd.Context(), core.AskRequest{
		SearchRequest: core.SearchRequest{
			UserID:         userID,
			ConversationID: askConversation,
			QueryText:      args[0],
			K:              askLimit,
			Filters:        core.SearchFilters{CrossConversation: askCross},
		},
		PromptOnly: askPromptOnly,
	})
	if err != nil {
		return fmt.Errorf("answering question: %w", err)
	}

	if wantJSON() {
		return writeJSON(cmd.OutOrStdout(), answer)
	}

	if len(answer.Degraded) > 0 && !quiet {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: degraded search, unavailable legs: %s\n",
			strings.Join(answer.Degraded, ", "))
	}

	out := cmd.OutOrStdout()
	if askPromptOnly {
		for _, m := range answer.Prompt {
			fmt.Fprintf(out, "[%s]\n%s\n\n", strings.ToUpper(m.Role), m.Content)
		}
	} else {
		fmt.Fprintln(out, answer.Answer)
	}

	if !quiet {
		fmt.Fprintf(out, "\nGrounded on %d window(s)", len(answer.Results)-answer.Dropped)
		if answer.Dropped > 0 {
			fmt.Fprintf(out, ", %d dropped to fit the prompt", answer.Dropped)
		}
		fmt.Fprintln(out)
	}
	return nil
}
