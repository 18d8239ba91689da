// ABOUTME: Deterministic feature-hashing embedder for offline use and tests
// ABOUTME: Texts sharing words get nearby vectors; no network access required
package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/harper/recall/internal/storage"
)

// HashEmbedder maps word and bigram features onto a fixed number of buckets
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a hash embedder of the given dimension
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 1536
	}
	return &HashEmbedder{dim: dim}
}

// Embed returns an L2-normalised bag-of-features vector
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: no tokens in text", ErrInvalidInput)
	}

	vec := make([]float32, h.dim)
	add := func(feature string, weight float32) {
		f := fnv.New64a()
		_, _ = f.Write([]byte(feature))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dim))
		if sum&(1<<63) != 0 {
			weight = -weight
		}
		vec[idx] += weight
	}
	for i, w := range words {
		add(w, 1)
		if i > 0 {
			add(words[i-1]+" "+w, 0.5)
		}
	}
	return storage.Normalize(vec), nil
}

// EmbedBatch embeds each text in turn; any rejected text fails the batch
func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimension returns the vector size
func (h *HashEmbedder) Dimension() int { return h.dim }

// Name identifies the provider
func (h *HashEmbedder) Name() string { return "hash" }
