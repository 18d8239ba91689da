// ABOUTME: Tests for centralized configuration system
// ABOUTME: Verifies environment variable parsing and validation
package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear environment to test defaults
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.StorageBackend != "sqlite" {
		t.Errorf("StorageBackend = %s, want sqlite", cfg.StorageBackend)
	}
	if cfg.WindowSize != 4 || cfg.WindowStride != 1 {
		t.Errorf("window = %d/%d, want 4/1", cfg.WindowSize, cfg.WindowStride)
	}
	if cfg.Arms != 2 {
		t.Errorf("Arms = %d, want 2", cfg.Arms)
	}
	if cfg.EmbeddingModel != "text-embedding-3-small" {
		t.Errorf("EmbeddingModel = %s, want text-embedding-3-small", cfg.EmbeddingModel)
	}
	if cfg.ChatModel != "gpt-4o-mini" || cfg.ChatMaxTokens != 512 || cfg.PromptMaxTokens != 3000 {
		t.Errorf("chat defaults = %q/%d/%d", cfg.ChatModel, cfg.ChatMaxTokens, cfg.PromptMaxTokens)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.MaxAttempts)
	}
	if cfg.VectorWeight != 0.6 || cfg.LexicalWeight != 0.3 || cfg.RecencyWeight != 0.1 {
		t.Errorf("weights = %f/%f/%f, want 0.6/0.3/0.1", cfg.VectorWeight, cfg.LexicalWeight, cfg.RecencyWeight)
	}
	if cfg.DecayDays != 45 {
		t.Errorf("DecayDays = %f, want 45", cfg.DecayDays)
	}
	if cfg.VectorDimension != 1536 {
		t.Errorf("VectorDimension = %d, want 1536", cfg.VectorDimension)
	}
	if cfg.TelemetryBackend != "store" {
		t.Errorf("TelemetryBackend = %s, want store", cfg.TelemetryBackend)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Clearenv()
	os.Setenv("WINDOW_SIZE", "2")
	os.Setenv("WINDOW_STRIDE", "0")
	os.Setenv("WINDOW_SEAL_ON_ROLE", "assistant")
	os.Setenv("EXPERIMENT_ARMS", "3")
	os.Setenv("WINDOW_ARMS", "2:0,4:1,6:2")
	os.Setenv("RECALL_EMBEDDER", "gemini")
	os.Setenv("EMBED_RETRY_DELAY", "250ms")
	os.Setenv("RETRIEVE_CROSS_CONVERSATION", "true")
	os.Setenv("TELEMETRY_BACKEND", "none")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.WindowSize != 2 || cfg.WindowStride != 0 {
		t.Errorf("window = %d/%d, want 2/0", cfg.WindowSize, cfg.WindowStride)
	}
	if cfg.SealOnRole != "assistant" {
		t.Errorf("SealOnRole = %q, want assistant", cfg.SealOnRole)
	}
	if cfg.EmbeddingProvider != "gemini" {
		t.Errorf("EmbeddingProvider = %q, want gemini", cfg.EmbeddingProvider)
	}
	if cfg.RetryDelay != 250*time.Millisecond {
		t.Errorf("RetryDelay = %v, want 250ms", cfg.RetryDelay)
	}
	if !cfg.CrossConversation {
		t.Error("CrossConversation = false, want true")
	}
	if size, stride := cfg.WindowParams(2); size != 6 || stride != 2 {
		t.Errorf("WindowParams(2) = %d/%d, want 6/2", size, stride)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"stride equals size", map[string]string{"WINDOW_SIZE": "2", "WINDOW_STRIDE": "2"}},
		{"zero window", map[string]string{"WINDOW_SIZE": "0"}},
		{"bad seal role", map[string]string{"WINDOW_SEAL_ON_ROLE": "robot"}},
		{"postgres without url", map[string]string{"RECALL_STORAGE": "postgres"}},
		{"unknown embedder", map[string]string{"RECALL_EMBEDDER": "cohere"}},
		{"arm count mismatch", map[string]string{"WINDOW_ARMS": "4:1"}},
		{"malformed arms", map[string]string{"WINDOW_ARMS": "4-1,2:0"}},
		{"all weights zero", map[string]string{
			"RETRIEVE_VECTOR_WEIGHT": "0", "RETRIEVE_LEXICAL_WEIGHT": "0", "RETRIEVE_RECENCY_WEIGHT": "0",
		}},
		{"negative decay", map[string]string{"RETRIEVE_DECAY_DAYS": "-1"}},
		{"unknown telemetry", map[string]string{"TELEMETRY_BACKEND": "kafka"}},
		{"hot chat temperature", map[string]string{"CHAT_TEMPERATURE": "3"}},
		{"zero chat tokens", map[string]string{"CHAT_MAX_TOKENS": "0"}},
		{"negative prompt budget", map[string]string{"PROMPT_MAX_TOKENS": "-5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.env {
				os.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Load() should fail")
			}
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
}

func TestGetEnvHelpers_InvalidFallBack(t *testing.T) {
	os.Clearenv()
	os.Setenv("X_INT", "abc")
	os.Setenv("X_FLOAT", "abc")
	os.Setenv("X_DUR", "abc")

	if got := getEnvInt("X_INT", 7); got != 7 {
		t.Errorf("getEnvInt = %d, want 7", got)
	}
	if got := getEnvFloat("X_FLOAT", 0.5); got != 0.5 {
		t.Errorf("getEnvFloat = %f, want 0.5", got)
	}
	if got := getEnvDuration("X_DUR", time.Second); got != time.Second {
		t.Errorf("getEnvDuration = %v, want 1s", got)
	}
}
