// ABOUTME: Window is a contiguous span of turns rendered into retrievable text
// ABOUTME: Tracks the draft -> pending -> ready lifecycle of its embedding
package models

import (
	"fmt"
	"time"
)

// WindowState is the lifecycle position of a window
type WindowState string

const (
	// WindowDraft is the open window of a conversation; its span may still grow
	WindowDraft WindowState = "draft"
	// WindowPending is sealed and waiting for an embedding
	WindowPending WindowState = "pending"
	// WindowReady has an embedding matching its text hash
	WindowReady WindowState = "ready"
)

// rank orders states so transitions can be checked
func (s WindowState) rank() int {
	switch s {
	case WindowDraft:
		return 0
	case WindowPending:
		return 1
	case WindowReady:
		return 2
	}
	return -1
}

// CanTransition reports whether moving from s to next is allowed
func (s WindowState) CanTransition(next WindowState) bool {
	return s.rank() >= 0 && next.rank() >= s.rank()
}

// Window is a rendered span of turns
type Window struct {
	WindowID       string      `json:"window_id" yaml:"window_id"`
	UserID         string      `json:"user_id" yaml:"user_id"`
	ConversationID string      `json:"conversation_id" yaml:"conversation_id"`
	StartIndex     int         `json:"start_index" yaml:"start_index"`
	EndIndex       int         `json:"end_index" yaml:"end_index"`
	TurnCount      int         `json:"turn_count" yaml:"turn_count"`
	Text           string      `json:"text" yaml:"text"`
	TextHash       string      `json:"text_hash" yaml:"text_hash"`
	Embedding      []float32   `json:"-" yaml:"-"`
	State          WindowState `json:"state" yaml:"state"`
	TestGroup      int         `json:"test_group" yaml:"test_group"`
	FirstTurnAt    time.Time   `json:"first_turn_at" yaml:"first_turn_at"`
	LastTurnAt     time.Time   `json:"last_turn_at" yaml:"last_turn_at"`
	CreatedAt      time.Time   `json:"created_at" yaml:"created_at"`
	EmbedAttempts  int         `json:"embed_attempts,omitempty" yaml:"embed_attempts,omitempty"`
	EmbedError     string      `json:"embed_error,omitempty" yaml:"embed_error,omitempty"`
}

// Validate checks the span invariants
func (w *Window) Validate() error {
	if w.StartIndex < 0 || w.EndIndex < w.StartIndex {
		return fmt.Errorf("%w: bad span [%d,%d]", ErrInvalidArgument, w.StartIndex, w.EndIndex)
	}
	if w.TurnCount != w.EndIndex-w.StartIndex+1 {
		return fmt.Errorf("%w: turn_count %d does not match span [%d,%d]",
			ErrInvalidArgument, w.TurnCount, w.StartIndex, w.EndIndex)
	}
	if w.State.rank() < 0 {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidArgument, w.State)
	}
	return nil
}

// Span formats the window's turn range
func (w *Window) Span() string {
	return fmt.Sprintf("[%d,%d]", w.StartIndex, w.EndIndex)
}

// Covers reports whether the window contains the given turn index
func (w *Window) Covers(index int) bool {
	return index >= w.StartIndex && index <= w.EndIndex
}
