// ABOUTME: MCP tool handler implementations for the recall server
// ABOUTME: Translates tool arguments into engine calls and engine errors into tool errors
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/harper/recall/internal/core"
	"github.com/harper/recall/internal/logging"
	"github.com/harper/recall/internal/models"
)

// Handlers contains the handler functions for all MCP tools
type Handlers struct {
	engine *core.Engine
}

// NewHandlers creates handlers backed by engine
func NewHandlers(engine *core.Engine) *Handlers {
	return &Handlers{engine: engine}
}

// AppendTurn handles the append_turn tool
func (h *Handlers) AppendTurn(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id argument is required and must be a string"), nil
	}
	conversationID, err := request.RequireString("conversation_id")
	if err != nil {
		return mcp.NewToolResultError("conversation_id argument is required and must be a string"), nil
	}
	role, err := request.RequireString("role")
	if err != nil {
		return mcp.NewToolResultError("role argument is required and must be a string"), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError("content argument is required and must be a string"), nil
	}

	res, err := h.engine.AppendTurn(ctx, userID, conversationID, models.Role(role), content)
	if err != nil {
		return toolError("append failed", err), nil
	}

	return jsonResult(map[string]interface{}{
		"turn_index":     res.Turn.TurnIndex,
		"created_at":     res.Turn.CreatedAt.Format(time.RFC3339Nano),
		"draft_window":   res.Build.DraftID,
		"sealed_windows": res.Build.Sealed,
		"test_group":     res.Build.TestGroup,
	})
}

// SearchMemory handles the search_memory tool
func (h *Handlers) SearchMemory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id argument is required and must be a string"), nil
	}

	resp, err := h.engine.Search(ctx, core.SearchRequest{
		UserID:         userID,
		ConversationID: request.GetString("conversation_id", ""),
		QueryText:      request.GetString("query", ""),
		K:              request.GetInt("k", 5),
		Filters: core.SearchFilters{
			CrossConversation: request.GetBool("cross_conversation", false),
		},
	})
	if err != nil {
		return toolError("search failed", err), nil
	}

	windows := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		windows = append(windows, map[string]interface{}{
			"window_id":       r.Window.WindowID,
			"conversation_id": r.Window.ConversationID,
			"start_index":     r.Window.StartIndex,
			"end_index":       r.Window.EndIndex,
			"text":            r.Window.Text,
			"state":           string(r.Window.State),
			"last_turn_at":    r.Window.LastTurnAt.Format(time.RFC3339),
			"score":           r.Score,
		})
	}
	response := map[string]interface{}{
		"windows": windows,
	}
	if len(resp.Degraded) > 0 {
		response["degraded"] = resp.Degraded
	}
	return jsonResult(response)
}

// AskMemory handles the ask_memory tool
func (h *Handlers) AskMemory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id argument is required and must be a string"), nil
	}
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("question argument is required and must be a string"), nil
	}

	answer, err := h.engine.Ask(ctx, core.AskRequest{
		SearchRequest: core.SearchRequest{
			UserID:         userID,
			ConversationID: request.GetString("conversation_id", ""),
			QueryText:      question,
			K:              request.GetInt("k", 6),
			Filters: core.SearchFilters{
				CrossConversation: request.GetBool("cross_conversation", false),
			},
		},
		PromptOnly: request.GetBool("prompt_only", false),
	})
	if err != nil {
		return toolError("ask failed", err), nil
	}

	windowIDs := make([]string, len(answer.Results))
	for i, r := range answer.Results {
		windowIDs[i] = r.Window.WindowID
	}
	response := map[string]interface{}{
		"window_ids": windowIDs,
		"dropped":    answer.Dropped,
	}
	if answer.Answer != "" {
		response["answer"] = answer.Answer
	} else {
		response["prompt"] = answer.Prompt
	}
	if len(answer.Degraded) > 0 {
		response["degraded"] = answer.Degraded
	}
	return jsonResult(response)
}

// GetHistory handles the get_history tool
func (h *Handlers) GetHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id argument is required and must be a string"), nil
	}
	conversationID, err := request.RequireString("conversation_id")
	if err != nil {
		return mcp.NewToolResultError("conversation_id argument is required and must be a string"), nil
	}

	turns, err := h.engine.History(ctx, userID, conversationID, request.GetInt("limit", 20))
	if err != nil {
		return toolError("history failed", err), nil
	}
	return jsonResult(map[string]interface{}{
		"conversation_id": conversationID,
		"turns":           turns,
	})
}

// ListConversations handles the list_conversations tool
func (h *Handlers) ListConversations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id argument is required and must be a string"), nil
	}

	convs, err := h.engine.ListConversations(ctx, userID)
	if err != nil {
		return toolError("listing failed", err), nil
	}
	return jsonResult(map[string]interface{}{
		"conversations": convs,
	})
}

// RebuildConversation handles the rebuild_conversation tool
func (h *Handlers) RebuildConversation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id argument is required and must be a string"), nil
	}
	conversationID, err := request.RequireString("conversation_id")
	if err != nil {
		return mcp.NewToolResultError("conversation_id argument is required and must be a string"), nil
	}

	report, err := h.engine.Rebuild(ctx, userID, conversationID)
	if err != nil {
		return toolError("rebuild failed", err), nil
	}
	return jsonResult(report)
}

// DeleteUser handles the delete_user tool
func (h *Handlers) DeleteUser(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id argument is required and must be a string"), nil
	}

	stats, err := h.engine.DeleteUser(ctx, userID, request.GetBool("keep_events", false))
	if err != nil {
		return toolError("delete failed", err), nil
	}
	logging.For("mcp").WithField("user_id", userID).Info("user deleted")
	return jsonResult(map[string]interface{}{
		"deleted": stats,
	})
}

// toolError reports engine failures to the agent. Not-found and invalid
// arguments are expected outcomes and are not logged.
func toolError(action string, err error) *mcp.CallToolResult {
	if !errors.Is(err, models.ErrNotFound) && !errors.Is(err, models.ErrInvalidArgument) {
		logging.For("mcp").WithError(err).Warn(action)
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", action, err))
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
