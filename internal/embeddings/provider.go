// Package embeddings turns document and query text into fixed-size vectors.
//
// Two providers exist: a deterministic local hashing embedder that needs no
// network access, and an OpenAI-compatible client for hosted models.
package embeddings

import (
	"errors"
	"fmt"

	"github.com/iapropria/iapropria/internal/config"
	"github.com/iapropria/iapropria/internal/logging"
	"github.com/iapropria/iapropria/internal/vectorstore"
)

var (
	// ErrEmptyInput indicates a blank text was submitted for embedding.
	ErrEmptyInput = errors.New("empty input text")

	// ErrInvalidConfig indicates the provider configuration is unusable.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrEmbeddingFailed indicates the provider could not produce a vector.
	// It is the vector store's sentinel so callers need to check only one.
	ErrEmbeddingFailed = vectorstore.ErrEmbeddingFailed

	// ErrDimensionMismatch indicates the provider returned vectors of the
	// wrong size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Provider is the interface for embedding providers.
type Provider interface {
	vectorstore.Embedder
	// Dimension returns the size of produced vectors.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// Provider names accepted by embeddings.provider.
const (
	ProviderHash   = "hash"
	ProviderOpenAI = "openai"
)

// NewProvider creates an embedding provider producing vectors of the given
// dimension.
func NewProvider(cfg config.EmbeddingsConfig, dimension int, logger *logging.Logger) (Provider, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, dimension)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	switch cfg.Provider {
	case ProviderHash, "":
		return NewHashEmbedder(dimension), nil
	case ProviderOpenAI:
		return NewOpenAIEmbedder(OpenAIConfig{
			APIKey:    cfg.APIKey.Value(),
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: dimension,
			RateLimit: cfg.RateLimit,
			Logger:    logger,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
