// ABOUTME: Embedder contract and provider selection
// ABOUTME: Providers fail with ErrRateLimited, ErrInvalidInput or ErrUnavailable
package embedding

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/harper/recall/internal/config"
	"github.com/harper/recall/internal/storage"
)

var (
	// ErrRateLimited means the provider asked us to slow down; retryable
	ErrRateLimited = errors.New("embedding rate limited")
	// ErrInvalidInput means the provider rejected the text; not retryable
	ErrInvalidInput = errors.New("embedding input rejected")
	// ErrUnavailable means the provider could not be reached; retryable
	ErrUnavailable = errors.New("embedding provider unavailable")
)

// Embedder turns text into a fixed-dimension vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Name() string
}

// BatchEmbedder is an Embedder that can embed many texts in one provider
// call. Results are positional; a failed batch fails as a whole.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Retryable reports whether an embedding error is worth retrying
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// New selects an embedder from configuration. "auto" prefers OpenAI, then
// Gemini, then the offline hash embedder.
func New(ctx context.Context, cfg *config.Config) (Embedder, error) {
	provider := cfg.EmbeddingProvider
	if provider == "auto" {
		switch {
		case cfg.OpenAIKey != "":
			provider = "openai"
		case cfg.GeminiKey != "":
			provider = "gemini"
		default:
			provider = "hash"
			log.WithField("component", "embedding").Warn("no embedding API key set, using the offline hash embedder")
		}
	}

	switch provider {
	case "openai":
		return NewOpenAIEmbedder(&OpenAIConfig{
			APIKey:    cfg.OpenAIKey,
			Model:     cfg.EmbeddingModel,
			Dimension: cfg.VectorDimension,
			Timeout:   cfg.Timeout,
		})
	case "gemini":
		return NewGeminiEmbedder(ctx, cfg.GeminiKey, cfg.GeminiModel, cfg.VectorDimension)
	case "hash":
		return NewHashEmbedder(cfg.VectorDimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
}

// fit truncates or rejects a provider vector so it matches dim, renormalising
// truncated vectors
func fit(vec []float32, dim int) ([]float32, error) {
	switch {
	case len(vec) == 0:
		return nil, fmt.Errorf("%w: empty embedding returned", ErrUnavailable)
	case len(vec) == dim:
		return vec, nil
	case len(vec) > dim:
		return storage.Normalize(vec[:dim]), nil
	default:
		return nil, fmt.Errorf("%w: provider returned %d dimensions, need %d", ErrInvalidInput, len(vec), dim)
	}
}
