// ABOUTME: Turn represents a single utterance appended to a conversation ledger
// ABOUTME: Turns are immutable once written and indexed densely from zero
package models

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies who produced a turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole validates a role string
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleUser, RoleAssistant, RoleSystem:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidArgument, s)
	}
}

// Turn is a single stored utterance
type Turn struct {
	UserID         string    `json:"user_id" yaml:"user_id"`
	ConversationID string    `json:"conversation_id" yaml:"conversation_id"`
	TurnIndex      int       `json:"turn_index" yaml:"turn_index"`
	Role           Role      `json:"role" yaml:"role"`
	Content        string    `json:"content" yaml:"content"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
}

// TurnInput is an unindexed turn submitted for ingestion
type TurnInput struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Validate checks role and content
func (in TurnInput) Validate() (Role, error) {
	role, err := ParseRole(in.Role)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Content) == "" {
		return "", fmt.Errorf("%w: content cannot be empty", ErrInvalidArgument)
	}
	return role, nil
}

// ConversationSummary describes one conversation of a user
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id" yaml:"conversation_id"`
	TurnCount      int       `json:"turn_count" yaml:"turn_count"`
	WindowCount    int       `json:"window_count" yaml:"window_count"`
	LastAt         time.Time `json:"last_at" yaml:"last_at"`
}
