// ABOUTME: Gemini embedder via the generative-ai-go SDK
// ABOUTME: Matryoshka-truncates gemini-embedding-001 vectors to the configured dimension
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GeminiEmbedder wraps a genai embedding model
type GeminiEmbedder struct {
	client    *genai.Client
	model     *genai.EmbeddingModel
	modelName string
	dimension int
}

// NewGeminiEmbedder creates a Gemini embedder
func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string, dimension int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	if modelName == "" {
		modelName = "gemini-embedding-001"
	}
	if dimension <= 0 {
		dimension = 1536
	}
	return &GeminiEmbedder{
		client:    cl,
		model:     cl.EmbeddingModel(modelName),
		modelName: modelName,
		dimension: dimension,
	}, nil
}

// Embed generates one embedding
func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, classifyGemini(err)
	}
	if resp == nil || resp.Embedding == nil {
		return nil, fmt.Errorf("%w: empty gemini response", ErrUnavailable)
	}
	return fit(resp.Embedding.Values, g.dimension)
}

// EmbedBatch embeds several texts in one request
func (g *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	batch := g.model.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	resp, err := g.model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, classifyGemini(err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrUnavailable, len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		v, err := fit(e.Values, g.dimension)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Dimension returns the vector size
func (g *GeminiEmbedder) Dimension() int { return g.dimension }

// Name identifies the provider
func (g *GeminiEmbedder) Name() string { return "gemini:" + g.modelName }

// Close releases the client
func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// classifyGemini wraps SDK errors with an embedder error class
func classifyGemini(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return fmt.Errorf("%w: %v", classifyStatus(gErr.Code), err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ResourceExhausted"), strings.Contains(msg, "429"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case strings.Contains(msg, "InvalidArgument"):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
