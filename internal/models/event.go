// ABOUTME: Analytics events emitted by ingestion, embedding and retrieval
// ABOUTME: Events are tagged with the experiment group of the conversation
package models

import "time"

// Event names
const (
	EventIngestTurn          = "INGEST_TURN"
	EventWindowSealed        = "WINDOW_SEALED"
	EventWindowEmbedded      = "WINDOW_EMBEDDED"
	EventEmbedFailed         = "EMBED_FAILED"
	EventSearchWindows       = "SEARCH_WINDOWS"
	EventUserDeleted         = "USER_DELETED"
	EventConversationRebuilt = "CONVERSATION_REBUILT"
	EventRAGAnswer           = "RAG_ANSWER"
)

// AnalyticsEvent is an append-only telemetry record
type AnalyticsEvent struct {
	UserID    string                 `json:"user_id" yaml:"user_id"`
	TestGroup int                    `json:"test_group" yaml:"test_group"`
	EventName string                 `json:"event_name" yaml:"event_name"`
	Data      map[string]interface{} `json:"data,omitempty" yaml:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp" yaml:"timestamp"`
	Stat      *int64                 `json:"stat,omitempty" yaml:"stat,omitempty"`
}
