// ABOUTME: Centralized configuration for the recall engine
// ABOUTME: Loads from environment variables with validation and defaults
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ArmWindow holds the windowing parameters of one experiment arm
type ArmWindow struct {
	Size   int
	Stride int
}

// Config holds all configuration for the recall engine
type Config struct {
	// Storage settings
	StorageBackend string
	DatabasePath   string
	DatabaseURL    string

	// Windowing settings
	WindowSize      int
	WindowStride    int
	SealOnRole      string
	IdleSeal        time.Duration
	Arms            int
	ArmWindows      []ArmWindow
	ConflictRetries int

	// Embedding settings
	EmbeddingProvider string
	OpenAIKey         string
	GeminiKey         string
	EmbeddingModel    string
	GeminiModel       string
	VectorDimension   int
	Timeout           time.Duration
	MaxAttempts       int
	RetryDelay        time.Duration
	MaxEmbedChars     int
	QueueDepth        int
	Workers           int
	BatchSize         int
	SweepInterval     time.Duration
	RatePerSecond     float64

	// Retrieval settings
	VectorWeight      float64
	LexicalWeight     float64
	RecencyWeight     float64
	DecayDays         float64
	Overfetch         int
	MinCandidates     int
	SearchTimeout     time.Duration
	VectorLegTimeout  time.Duration
	CrossConversation bool

	// Answer settings
	ChatModel       string
	ChatTemperature float64
	ChatMaxTokens   int
	PromptMaxTokens int

	// Telemetry settings
	TelemetryBackend string
	TelemetryBuffer  int
	CharmHost        string
	CharmDBName      string
	AutoSync         bool

	// Logging settings
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		StorageBackend:    getEnv("RECALL_STORAGE", "sqlite"),
		DatabasePath:      os.Getenv("RECALL_DB_PATH"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		WindowSize:        getEnvInt("WINDOW_SIZE", 4),
		WindowStride:      getEnvInt("WINDOW_STRIDE", 1),
		SealOnRole:        os.Getenv("WINDOW_SEAL_ON_ROLE"),
		IdleSeal:          getEnvDuration("WINDOW_IDLE_SEAL", 10*time.Minute),
		Arms:              getEnvInt("EXPERIMENT_ARMS", 2),
		ConflictRetries:   getEnvInt("LEDGER_CONFLICT_RETRIES", 8),
		EmbeddingProvider: getEnv("RECALL_EMBEDDER", "auto"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		GeminiKey:         os.Getenv("GEMINI_API_KEY"),
		EmbeddingModel:    getEnv("RECALL_EMBEDDING_MODEL", "text-embedding-3-small"),
		GeminiModel:       getEnv("RECALL_GEMINI_MODEL", "gemini-embedding-001"),
		VectorDimension:   getEnvInt("VECTOR_DIMENSION", 1536),
		Timeout:           getEnvDuration("EMBED_TIMEOUT", 30*time.Second),
		MaxAttempts:       getEnvInt("EMBED_MAX_ATTEMPTS", 5),
		RetryDelay:        getEnvDuration("EMBED_RETRY_DELAY", time.Second),
		MaxEmbedChars:     getEnvInt("EMBED_MAX_CHARS", 8000),
		QueueDepth:        getEnvInt("EMBED_QUEUE_DEPTH", 256),
		Workers:           getEnvInt("EMBED_WORKERS", 4),
		BatchSize:         getEnvInt("EMBED_BATCH_SIZE", 128),
		SweepInterval:     getEnvDuration("EMBED_SWEEP_INTERVAL", 5*time.Second),
		RatePerSecond:     getEnvFloat("EMBED_RATE_PER_SEC", 0),
		VectorWeight:      getEnvFloat("RETRIEVE_VECTOR_WEIGHT", 0.6),
		LexicalWeight:     getEnvFloat("RETRIEVE_LEXICAL_WEIGHT", 0.3),
		RecencyWeight:     getEnvFloat("RETRIEVE_RECENCY_WEIGHT", 0.1),
		DecayDays:         getEnvFloat("RETRIEVE_DECAY_DAYS", 45),
		Overfetch:         getEnvInt("RETRIEVE_OVERFETCH", 8),
		MinCandidates:     getEnvInt("RETRIEVE_MIN_CANDIDATES", 50),
		SearchTimeout:     getEnvDuration("RETRIEVE_TIMEOUT", 3*time.Second),
		VectorLegTimeout:  getEnvDuration("RETRIEVE_VECTOR_TIMEOUT", 1500*time.Millisecond),
		CrossConversation: getEnvBool("RETRIEVE_CROSS_CONVERSATION", false),
		ChatModel:         getEnv("CHAT_MODEL", "gpt-4o-mini"),
		ChatTemperature:   getEnvFloat("CHAT_TEMPERATURE", 0.2),
		ChatMaxTokens:     getEnvInt("CHAT_MAX_TOKENS", 512),
		PromptMaxTokens:   getEnvInt("PROMPT_MAX_TOKENS", 3000),
		TelemetryBackend:  getEnv("TELEMETRY_BACKEND", "store"),
		TelemetryBuffer:   getEnvInt("TELEMETRY_BUFFER", 1024),
		CharmHost:         getEnv("CHARM_HOST", "charm.2389.dev"),
		CharmDBName:       getEnv("CHARM_DB", "recall"),
		AutoSync:          getEnvBool("CHARM_AUTO_SYNC", true),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
	}

	arms, err := ParseArmWindows(os.Getenv("WINDOW_ARMS"))
	if err != nil {
		return nil, err
	}
	cfg.ArmWindows = arms

	return cfg, cfg.Validate()
}

// Default returns the configuration used when no environment is set
func Default() *Config {
	cfg := &Config{
		StorageBackend:    "sqlite",
		WindowSize:        4,
		WindowStride:      1,
		IdleSeal:          10 * time.Minute,
		Arms:              2,
		ConflictRetries:   8,
		EmbeddingProvider: "hash",
		EmbeddingModel:    "text-embedding-3-small",
		GeminiModel:       "gemini-embedding-001",
		VectorDimension:   1536,
		Timeout:           30 * time.Second,
		MaxAttempts:       5,
		RetryDelay:        time.Second,
		MaxEmbedChars:     8000,
		QueueDepth:        256,
		Workers:           4,
		BatchSize:         128,
		SweepInterval:     5 * time.Second,
		VectorWeight:      0.6,
		LexicalWeight:     0.3,
		RecencyWeight:     0.1,
		DecayDays:         45,
		Overfetch:         8,
		MinCandidates:     50,
		SearchTimeout:     3 * time.Second,
		VectorLegTimeout:  1500 * time.Millisecond,
		ChatModel:         "gpt-4o-mini",
		ChatTemperature:   0.2,
		ChatMaxTokens:     512,
		PromptMaxTokens:   3000,
		TelemetryBackend:  "store",
		TelemetryBuffer:   1024,
		CharmHost:         "charm.2389.dev",
		CharmDBName:       "recall",
		AutoSync:          true,
		LogLevel:          "info",
		LogFormat:         "text",
	}
	return cfg
}

func (c *Config) Validate() error {
	if c.WindowSize < 1 {
		return fmt.Errorf("WINDOW_SIZE must be at least 1, got %d", c.WindowSize)
	}
	if c.WindowStride < 0 || c.WindowStride >= c.WindowSize {
		return fmt.Errorf("WINDOW_STRIDE must satisfy 0 <= stride < size, got %d (size %d)", c.WindowStride, c.WindowSize)
	}
	if c.SealOnRole != "" {
		switch c.SealOnRole {
		case "user", "assistant", "system":
		default:
			return fmt.Errorf("WINDOW_SEAL_ON_ROLE must be user, assistant or system, got %q", c.SealOnRole)
		}
	}
	if c.Arms < 1 {
		return fmt.Errorf("EXPERIMENT_ARMS must be at least 1, got %d", c.Arms)
	}
	if len(c.ArmWindows) > 0 && len(c.ArmWindows) != c.Arms {
		return fmt.Errorf("WINDOW_ARMS lists %d arms, EXPERIMENT_ARMS is %d", len(c.ArmWindows), c.Arms)
	}
	if c.ConflictRetries < 0 {
		return fmt.Errorf("LEDGER_CONFLICT_RETRIES must be non-negative, got %d", c.ConflictRetries)
	}
	switch c.StorageBackend {
	case "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("RECALL_STORAGE must be sqlite or postgres, got %q", c.StorageBackend)
	}
	switch c.EmbeddingProvider {
	case "auto", "openai", "gemini", "hash":
	default:
		return fmt.Errorf("RECALL_EMBEDDER must be auto, openai, gemini or hash, got %q", c.EmbeddingProvider)
	}
	if c.VectorDimension < 1 {
		return fmt.Errorf("VECTOR_DIMENSION must be positive, got %d", c.VectorDimension)
	}
	if c.MaxAttempts < 1 || c.MaxAttempts > 20 {
		return fmt.Errorf("EMBED_MAX_ATTEMPTS must be 1-20, got %d", c.MaxAttempts)
	}
	if c.MaxEmbedChars < 1 {
		return fmt.Errorf("EMBED_MAX_CHARS must be positive, got %d", c.MaxEmbedChars)
	}
	if c.QueueDepth < 1 || c.Workers < 1 || c.BatchSize < 1 {
		return fmt.Errorf("EMBED_QUEUE_DEPTH, EMBED_WORKERS and EMBED_BATCH_SIZE must be positive")
	}
	if c.RatePerSecond < 0 {
		return fmt.Errorf("EMBED_RATE_PER_SEC must be non-negative, got %f", c.RatePerSecond)
	}
	if c.VectorWeight < 0 || c.LexicalWeight < 0 || c.RecencyWeight < 0 {
		return fmt.Errorf("retrieval weights must be non-negative")
	}
	if c.VectorWeight+c.LexicalWeight+c.RecencyWeight == 0 {
		return fmt.Errorf("at least one retrieval weight must be positive")
	}
	if c.DecayDays <= 0 {
		return fmt.Errorf("RETRIEVE_DECAY_DAYS must be positive, got %f", c.DecayDays)
	}
	if c.Overfetch < 1 || c.MinCandidates < 1 {
		return fmt.Errorf("RETRIEVE_OVERFETCH and RETRIEVE_MIN_CANDIDATES must be positive")
	}
	if c.ChatTemperature < 0 || c.ChatTemperature > 2 {
		return fmt.Errorf("CHAT_TEMPERATURE must be 0-2, got %f", c.ChatTemperature)
	}
	if c.ChatMaxTokens < 1 {
		return fmt.Errorf("CHAT_MAX_TOKENS must be positive, got %d", c.ChatMaxTokens)
	}
	if c.PromptMaxTokens < 0 {
		return fmt.Errorf("PROMPT_MAX_TOKENS must be non-negative, got %d", c.PromptMaxTokens)
	}
	switch c.TelemetryBackend {
	case "store", "charm", "none":
	default:
		return fmt.Errorf("TELEMETRY_BACKEND must be store, charm or none, got %q", c.TelemetryBackend)
	}
	return nil
}

// WindowParams returns the window size and stride used by an experiment arm
func (c *Config) WindowParams(group int) (size, stride int) {
	if group >= 0 && group < len(c.ArmWindows) {
		return c.ArmWindows[group].Size, c.ArmWindows[group].Stride
	}
	return c.WindowSize, c.WindowStride
}

// ParseArmWindows parses "size:stride" pairs separated by commas, e.g. "4:1,2:0"
func ParseArmWindows(s string) ([]ArmWindow, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var arms []ArmWindow
	for _, part := range strings.Split(s, ",") {
		size, stride, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("WINDOW_ARMS entry %q must be size:stride", part)
		}
		w, err := strconv.Atoi(size)
		if err != nil {
			return nil, fmt.Errorf("WINDOW_ARMS entry %q: %w", part, err)
		}
		st, err := strconv.Atoi(stride)
		if err != nil {
			return nil, fmt.Errorf("WINDOW_ARMS entry %q: %w", part, err)
		}
		if w < 1 || st < 0 || st >= w {
			return nil, fmt.Errorf("WINDOW_ARMS entry %q must satisfy 0 <= stride < size", part)
		}
		arms = append(arms, ArmWindow{Size: w, Stride: st})
	}
	return arms, nil
}

// Helper functions
func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v == "true" || v == "1"
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
