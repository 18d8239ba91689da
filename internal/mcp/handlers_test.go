// ABOUTME: Tests for MCP tool handlers
// ABOUTME: Drives the handlers with in-memory storage and checks JSON payloads and tool errors
package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/harper/recall/internal/config"
	"github.com/harper/recall/internal/core"
	"github.com/harper/recall/internal/embedding"
	"github.com/harper/recall/internal/storage/sqlite"
)

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	store, err := sqlite.NewStorageInMemory()
	if err != nil {
		t.Fatalf("NewStorageInMemory() error = %v", err)
	}
	cfg := config.Default()
	cfg.VectorDimension = 32
	cfg.WindowSize = 2
	cfg.WindowStride = 0
	engine := core.NewEngine(store, embedding.NewHashEmbedder(32), cfg, core.Options{Recorder: store})
	t.Cleanup(func() {
		_ = engine.Close(context.Background())
		_ = store.Close()
	})
	return NewHandlers(engine)
}

func call(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	}
	t.Fatalf("unexpected content type %T", res.Content[0])
	return ""
}

func appendTurn(t *testing.T, h *Handlers, role, content string) map[string]interface{} {
	t.Helper()
	res, err := h.AppendTurn(context.Background(), call(map[string]interface{}{
		"user_id": "u1", "conversation_id": "c1", "role": role, "content": content,
	}))
	if err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("AppendTurn() tool error: %s", resultText(t, res))
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	return out
}

func TestHandlers_AppendAndSearch(t *testing.T) {
	h := newTestHandlers(t)
	ctx := context.Background()

	first := appendTurn(t, h, "user", "my favourite colour is teal")
	if first["turn_index"].(float64) != 0 {
		t.Errorf("turn_index = %v, want 0", first["turn_index"])
	}
	second := appendTurn(t, h, "assistant", "teal is a lovely colour")
	if sealed, _ := second["sealed_windows"].([]interface{}); len(sealed) != 1 {
		t.Errorf("sealed_windows = %v, want one id", second["sealed_windows"])
	}

	res, err := h.SearchMemory(ctx, call(map[string]interface{}{
		"user_id": "u1", "conversation_id": "c1", "query": "teal", "k": 3,
	}))
	if err != nil {
		t.Fatalf("SearchMemory() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("SearchMemory() tool error: %s", resultText(t, res))
	}
	var out struct {
		Windows []struct {
			Text  string  `json:"text"`
			Score float64 `json:"score"`
		} `json:"windows"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(out.Windows) != 1 || !strings.Contains(out.Windows[0].Text, "teal") {
		t.Errorf("windows = %+v", out.Windows)
	}
}

func TestHandlers_AskMemoryPromptOnly(t *testing.T) {
	h := newTestHandlers(t)
	ctx := context.Background()
	appendTurn(t, h, "user", "my favourite colour is teal")
	appendTurn(t, h, "assistant", "teal is a lovely colour")

	res, err := h.AskMemory(ctx, call(map[string]interface{}{
		"user_id": "u1", "conversation_id": "c1", "question": "what is my favourite colour", "prompt_only": true,
	}))
	if err != nil {
		t.Fatalf("AskMemory() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("AskMemory() tool error: %s", resultText(t, res))
	}
	var out struct {
		WindowIDs []string `json:"window_ids"`
		Prompt    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"prompt"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(out.WindowIDs) != 1 || len(out.Prompt) != 2 || !strings.Contains(out.Prompt[1].Content, "teal") {
		t.Errorf("ask_memory = %+v", out)
	}

	// no chat model is configured in tests
	res, _ = h.AskMemory(ctx, call(map[string]interface{}{
		"user_id": "u1", "conversation_id": "c1", "question": "what is my favourite colour",
	}))
	if !res.IsError {
		t.Error("AskMemory() without a chat model should be a tool error")
	}

	res, _ = h.AskMemory(ctx, call(map[string]interface{}{"user_id": "u1"}))
	if !res.IsError {
		t.Error("AskMemory() without question should be a tool error")
	}
}

func TestHandlers_ArgumentErrors(t *testing.T) {
	h := newTestHandlers(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]interface{}
	}{
		{"append without content", h.AppendTurn, map[string]interface{}{"user_id": "u", "conversation_id": "c", "role": "user"}},
		{"append bad role", h.AppendTurn, map[string]interface{}{"user_id": "u", "conversation_id": "c", "role": "robot", "content": "x"}},
		{"search without user", h.SearchMemory, map[string]interface{}{"query": "x"}},
		{"search zero k", h.SearchMemory, map[string]interface{}{"user_id": "u", "conversation_id": "c", "k": 0}},
		{"history unknown", h.GetHistory, map[string]interface{}{"user_id": "u", "conversation_id": "nope"}},
		{"list unknown user", h.ListConversations, map[string]interface{}{"user_id": "ghost"}},
		{"delete unknown user", h.DeleteUser, map[string]interface{}{"user_id": "ghost"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.handler(ctx, call(tt.args))
			if err != nil {
				t.Fatalf("handler returned Go error %v; tool errors belong in the result", err)
			}
			if !res.IsError {
				t.Errorf("expected tool error, got %s", resultText(t, res))
			}
		})
	}
}

func TestHandlers_HistoryListRebuildDelete(t *testing.T) {
	h := newTestHandlers(t)
	ctx := context.Background()
	appendTurn(t, h, "user", "one")
	appendTurn(t, h, "assistant", "two")
	appendTurn(t, h, "user", "three")

	res, _ := h.GetHistory(ctx, call(map[string]interface{}{"user_id": "u1", "conversation_id": "c1", "limit": 2}))
	if res.IsError || !strings.Contains(resultText(t, res), `"three"`) || strings.Contains(resultText(t, res), `"one"`) {
		t.Errorf("GetHistory() = %s", resultText(t, res))
	}

	res, _ = h.ListConversations(ctx, call(map[string]interface{}{"user_id": "u1"}))
	if res.IsError || !strings.Contains(resultText(t, res), `"c1"`) {
		t.Errorf("ListConversations() = %s", resultText(t, res))
	}

	res, _ = h.RebuildConversation(ctx, call(map[string]interface{}{"user_id": "u1", "conversation_id": "c1"}))
	if res.IsError || !strings.Contains(resultText(t, res), `"unchanged":2`) {
		t.Errorf("RebuildConversation() = %s", resultText(t, res))
	}

	res, _ = h.DeleteUser(ctx, call(map[string]interface{}{"user_id": "u1"}))
	if res.IsError || !strings.Contains(resultText(t, res), `"turns":3`) {
		t.Errorf("DeleteUser() = %s", resultText(t, res))
	}
}
