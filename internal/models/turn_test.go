// ABOUTME: Tests for Turn role parsing and input validation
// ABOUTME: Verifies ParseRole and TurnInput.Validate error classes
package models

import (
	"errors"
	"testing"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"user", RoleUser, false},
		{"Assistant", RoleAssistant, false},
		{" system ", RoleSystem, false},
		{"tool", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRole(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("ParseRole(%q) error = %v, want ErrInvalidArgument", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTurnInputValidate(t *testing.T) {
	tests := []struct {
		name    string
		input   TurnInput
		wantErr bool
	}{
		{"valid user turn", TurnInput{Role: "user", Content: "hi"}, false},
		{"blank content", TurnInput{Role: "user", Content: "   "}, true},
		{"bad role", TurnInput{Role: "robot", Content: "beep"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.input.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
