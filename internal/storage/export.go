// ABOUTME: Export of a user's conversations and windows
// ABOUTME: Supports YAML and JSON output formats
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harper/recall/internal/models"
)

// ExportData represents the complete exportable data of one user
type ExportData struct {
	Version       string               `yaml:"version" json:"version"`
	ExportedAt    string               `yaml:"exported_at" json:"exported_at"`
	Tool          string               `yaml:"tool" json:"tool"`
	UserID        string               `yaml:"user_id" json:"user_id"`
	Conversations []ExportConversation `yaml:"conversations" json:"conversations"`
}

// ExportConversation holds the turns and windows of one conversation
type ExportConversation struct {
	ConversationID string          `yaml:"conversation_id" json:"conversation_id"`
	Turns          []models.Turn   `yaml:"turns" json:"turns"`
	Windows        []models.Window `yaml:"windows,omitempty" json:"windows,omitempty"`
}

// Exporter is the subset of Store needed for export
type Exporter interface {
	TurnStore
	WindowStore
}

// Export collects every conversation of a user. Embedding vectors are omitted.
func Export(ctx context.Context, s Exporter, userID string, withWindows bool) (*ExportData, error) {
	data := &ExportData{
		Version:    "1.0",
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Tool:       "recall",
		UserID:     userID,
	}

	convs, err := s.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	for _, c := range convs {
		turns, err := s.TurnRange(ctx, userID, c.ConversationID, 0, c.TurnCount-1)
		if err != nil {
			return nil, fmt.Errorf("failed to read turns of %s: %w", c.ConversationID, err)
		}
		ec := ExportConversation{ConversationID: c.ConversationID, Turns: turns}
		if withWindows {
			windows, err := s.ConversationWindows(ctx, userID, c.ConversationID)
			if err != nil {
				return nil, fmt.Errorf("failed to read windows of %s: %w", c.ConversationID, err)
			}
			ec.Windows = windows
		}
		data.Conversations = append(data.Conversations, ec)
	}

	return data, nil
}

// Write encodes the export as "yaml" or "json"
func (d *ExportData) Write(w io.Writer, format string) error {
	switch format {
	case "yaml", "yml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}
