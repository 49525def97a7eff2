package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"time"
	"unicode"
)

// HashEmbedder maps text to a bag-of-words vector by hashing lowercase
// tokens into a fixed number of buckets. Output is L2-normalized and every
// component is non-negative, so cosine scores between two hashed vectors
// always fall in [0, 1].
type HashEmbedder struct {
	dim     int
	metrics *Metrics
}

// NewHashEmbedder returns a hashing embedder with dim buckets.
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{dim: dim, metrics: NewMetrics(nil)}
}

// Dimension returns the number of buckets.
func (h *HashEmbedder) Dimension() int { return h.dim }

// Close is a no-op.
func (h *HashEmbedder) Close() error { return nil }

// EmbedDocuments embeds each text independently.
func (h *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	out := make([][]float32, len(texts))
	var err error
	for i, t := range texts {
		if out[i], err = h.embed(t); err != nil {
			break
		}
	}
	h.metrics.RecordGeneration(ctx, ProviderHash, "batch_embed", time.Since(start), len(texts), err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedQuery embeds a single query text.
func (h *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := h.embed(text)
	h.metrics.RecordGeneration(ctx, ProviderHash, "embed", time.Since(start), 0, err)
	return vec, err
}

func (h *HashEmbedder) embed(text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(tokens) == 0 {
		tokens = []string{strings.TrimSpace(text)}
	}

	vec := make([]float32, h.dim)
	for _, tok := range tokens {
		hf := fnv.New32a()
		_, _ = hf.Write([]byte(tok))
		vec[hf.Sum32()%uint32(h.dim)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
