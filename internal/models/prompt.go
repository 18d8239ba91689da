// ABOUTME: Chat messages and grounded answers built from retrieved windows
// ABOUTME: Shared by the context hydrator, the chat client and the ask surfaces
package models

// Chat message roles
const (
	ChatRoleSystem = "system"
	ChatRoleUser   = "user"
)

// ChatMessage is one message of a chat completion prompt
type ChatMessage struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Answer is a grounded reply with the windows it was grounded on
type Answer struct {
	Answer   string         `json:"answer,omitempty"`
	Prompt   []ChatMessage  `json:"prompt"`
	Results  []SearchResult `json:"results"`
	Dropped  int            `json:"dropped,omitempty"`
	Degraded []string       `json:"degraded,omitempty"`
}
