// ABOUTME: ContextHydrator turns retrieved windows into a grounded chat prompt
// ABOUTME: Lowest-ranked windows are dropped first to stay inside the token budget
package core

import (
	"strings"

	"github.com/harper/recall/internal/models"
)

// charsPerToken approximates tokens from characters (4 chars ≈ 1 token)
const charsPerToken = 4

const snippetSeparator = "\n\n---\n\n"

const noContext = "(no matching context)"

const truncatedMarker = "... [truncated]"

// groundedSystemPrompt instructs the model to answer from memory only
const groundedSystemPrompt = `You are a helpful assistant with access to the user's earlier conversations.
Write clearly, in short sentences, with simple words.

Rules:
1) If useful context is provided, use it directly. If several snippets relate, connect them briefly.
2) If the context is missing or not enough, say you do not have it in memory yet and ask exactly ONE follow-up question.
3) Never invent details that are not in the context or in the user's latest message.
4) Keep responses to 1-5 sentences.`

// ContextHydrator assembles grounded prompts from search results
type ContextHydrator struct {
	maxTokens int
}

// NewContextHydrator creates a hydrator; maxTokens <= 0 disables the budget
func NewContextHydrator(maxTokens int) *ContextHydrator {
	return &ContextHydrator{maxTokens: maxTokens}
}

// Hydrate builds the system and user messages for question. Results are kept
// in rank order; it also returns how many were dropped to fit the budget.
func (h *ContextHydrator) Hydrate(question string, results []models.SearchResult) ([]models.ChatMessage, int) {
	question = strings.TrimSpace(question)
	snippets := make([]string, 0, len(results))
	for _, r := range results {
		if text := strings.TrimSpace(r.Window.Text); text != "" {
			snippets = append(snippets, text)
		}
	}
	dropped := len(results) - len(snippets)

	if h.maxTokens > 0 {
		maxChars := h.maxTokens * charsPerToken
		for len(snippets) > 0 && promptChars(question, snippets) > maxChars {
			snippets = snippets[:len(snippets)-1]
			dropped++
		}
		if over := promptChars(question, nil) - maxChars; over > 0 {
			question = truncateRunes(question, runeLen(question)-over-runeLen(truncatedMarker)) + truncatedMarker
		}
	}

	return []models.ChatMessage{
		{Role: models.ChatRoleSystem, Content: groundedSystemPrompt},
		{Role: models.ChatRoleUser, Content: userPrompt(question, snippets)},
	}, dropped
}

func userPrompt(question string, snippets []string) string {
	context := strings.Join(snippets, snippetSeparator)
	if context == "" {
		context = noContext
	}
	var sb strings.Builder
	sb.WriteString("User message:\n")
	sb.WriteString(question)
	sb.WriteString("\n\nContext from memory (may be empty):\n")
	sb.WriteString(context)
	sb.WriteString("\n\nYour task:\n")
	sb.WriteString("- If the context contains the answer, give a short grounded reply using it.\n")
	sb.WriteString("- If the context is empty or insufficient, ask exactly ONE follow-up question.\n")
	sb.WriteString("- Keep it to 1-3 short sentences total.")
	return sb.String()
}

func promptChars(question string, snippets []string) int {
	return runeLen(groundedSystemPrompt) + runeLen(userPrompt(question, snippets))
}

func runeLen(s string) int {
	return len([]rune(s))
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
