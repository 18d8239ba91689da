// ABOUTME: OpenAI chat client that answers grounded prompts
// ABOUTME: Uses gpt-4o-mini by default with a low temperature and bounded reply length
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/harper/recall/internal/config"
	"github.com/harper/recall/internal/models"
)

// DefaultChatModel is the default model for chat completions
const DefaultChatModel = "gpt-4o-mini"

// ChatConfig holds configuration for the chat client
type ChatConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	BaseURL     string
}

// ChatConfigFrom extracts the chat settings from the engine configuration
func ChatConfigFrom(cfg *config.Config) *ChatConfig {
	return &ChatConfig{
		APIKey:      cfg.OpenAIKey,
		Model:       cfg.ChatModel,
		Temperature: float32(cfg.ChatTemperature),
		MaxTokens:   cfg.ChatMaxTokens,
		Timeout:     cfg.Timeout,
	}
}

// ChatClient wraps the OpenAI chat completions endpoint
type ChatClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

// NewChatClient creates a chat client with the given configuration
func NewChatClient(cfg *ChatConfig) (*ChatClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultChatModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &ChatClient{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
	}, nil
}

// Chat sends messages and returns the trimmed reply of the first choice
func (c *ChatClient) Chat(ctx context.Context, messages []models.ChatMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: c.temperature,
		TopP:        1,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: chat completion: %v", models.ErrUpstreamUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no completion choices returned", models.ErrUpstreamUnavailable)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Model returns the chat model name
func (c *ChatClient) Model() string { return c.model }
