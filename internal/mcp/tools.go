// ABOUTME: MCP tool definitions and registration for the recall server
// ABOUTME: Exposes turn ingestion, hybrid search and conversation maintenance to agents
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/harper/recall/internal/core"
)

// RegisterTools registers all MCP tools with the server
func RegisterTools(server *mcpserver.MCPServer, engine *core.Engine) *Handlers {
	handlers := NewHandlers(engine)

	// 1. append_turn - store one turn and update windows
	server.AddTool(mcp.Tool{
		Name:        "append_turn",
		Description: "Append a dialogue turn to a conversation. Turns are grouped into overlapping windows that become searchable once sealed.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "Owner of the conversation",
				},
				"conversation_id": map[string]interface{}{
					"type":        "string",
					"description": "Conversation to append to",
				},
				"role": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"user", "assistant", "system"},
					"description": "Who produced the turn",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Turn text",
				},
			},
			Required: []string{"user_id", "conversation_id", "role", "content"},
		},
	}, handlers.AppendTurn)

	// 2. search_memory - hybrid retrieval over windows
	server.AddTool(mcp.Tool{
		Name:        "search_memory",
		Description: "Find conversation windows relevant to a query using vector similarity, keyword match and recency. Without a query the most recent windows are returned.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "User whose memory is searched",
				},
				"conversation_id": map[string]interface{}{
					"type":        "string",
					"description": "Conversation to search (required unless cross_conversation is true)",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search text",
				},
				"k": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of windows to return (default: 5)",
					"default":     5,
				},
				"cross_conversation": map[string]interface{}{
					"type":        "boolean",
					"description": "Search every conversation of the user",
					"default":     false,
				},
			},
			Required: []string{"user_id"},
		},
	}, handlers.SearchMemory)

	// 3. ask_memory - grounded answer over retrieved windows
	server.AddTool(mcp.Tool{
		Name:        "ask_memory",
		Description: "Answer a question from the user's conversation memory. Relevant windows are packed into a grounded prompt; with prompt_only the prompt is returned instead of a model answer.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "User whose memory is searched",
				},
				"question": map[string]interface{}{
					"type":        "string",
					"description": "Question to answer",
				},
				"conversation_id": map[string]interface{}{
					"type":        "string",
					"description": "Conversation to search (required unless cross_conversation is true)",
				},
				"k": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of windows to ground on (default: 6)",
					"default":     6,
				},
				"cross_conversation": map[string]interface{}{
					"type":        "boolean",
					"description": "Search every conversation of the user",
					"default":     false,
				},
				"prompt_only": map[string]interface{}{
					"type":        "boolean",
					"description": "Return the grounded prompt without calling the chat model",
					"default":     false,
				},
			},
			Required: []string{"user_id", "question"},
		},
	}, handlers.AskMemory)

	// 4. get_history - raw turns of a conversation
	server.AddTool(mcp.Tool{
		Name:        "get_history",
		Description: "Get the most recent turns of a conversation in order.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "Owner of the conversation",
				},
				"conversation_id": map[string]interface{}{
					"type":        "string",
					"description": "Conversation to read",
				},
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Number of most recent turns (default: 20, 0 for all)",
					"default":     20,
				},
			},
			Required: []string{"user_id", "conversation_id"},
		},
	}, handlers.GetHistory)

	// 5. list_conversations - conversation summaries of a user
	server.AddTool(mcp.Tool{
		Name:        "list_conversations",
		Description: "List a user's conversations with turn and window counts and last activity.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "User to list",
				},
			},
			Required: []string{"user_id"},
		},
	}, handlers.ListConversations)

	// 6. rebuild_conversation - reconcile windows with the ledger
	server.AddTool(mcp.Tool{
		Name:        "rebuild_conversation",
		Description: "Re-render every window of a conversation from its turns, replacing stale windows and catching up on unprocessed turns.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "Owner of the conversation",
				},
				"conversation_id": map[string]interface{}{
					"type":        "string",
					"description": "Conversation to rebuild",
				},
			},
			Required: []string{"user_id", "conversation_id"},
		},
	}, handlers.RebuildConversation)

	// 7. delete_user - cascade delete
	server.AddTool(mcp.Tool{
		Name:        "delete_user",
		Description: "Permanently delete a user with all turns and windows. Analytics events are removed unless keep_events is true.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "User to delete",
				},
				"keep_events": map[string]interface{}{
					"type":        "boolean",
					"description": "Retain analytics events",
					"default":     false,
				},
			},
			Required: []string{"user_id"},
		},
	}, handlers.DeleteUser)

	return handlers
}
