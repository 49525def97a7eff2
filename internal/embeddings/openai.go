package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/iapropria/iapropria/internal/logging"
)

// OpenAIConfig configures an OpenAI-compatible embedding client.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
	// RateLimit caps requests per second. Zero disables limiting.
	RateLimit float64
	Logger    *logging.Logger
}

// OpenAIEmbedder calls the /embeddings endpoint of an OpenAI-compatible API.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   openai.EmbeddingModel
	dim     int
	limiter *rate.Limiter
	logger  *logging.Logger
	metrics *Metrics
}

// NewOpenAIEmbedder creates the client. The API key and model are required.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: embeddings.api_key is required for the openai provider", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: embeddings.model is required for the openai provider", ErrInvalidConfig)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   openai.EmbeddingModel(cfg.Model),
		dim:     cfg.Dimension,
		limiter: rate.NewLimiter(limit, int(math.Max(1, math.Ceil(cfg.RateLimit)))),
		logger:  cfg.Logger.Named("embeddings"),
		metrics: NewMetrics(cfg.Logger),
	}, nil
}

// Dimension returns the requested vector size.
func (e *OpenAIEmbedder) Dimension() int { return e.dim }

// Close is a no-op; the HTTP client holds no exclusive resources.
func (e *OpenAIEmbedder) Close() error { return nil }

// EmbedDocuments embeds texts in a single request.
func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := e.create(ctx, texts)
	e.metrics.RecordGeneration(ctx, ProviderOpenAI, "batch_embed", time.Since(start), len(texts), err)
	return vecs, err
}

// EmbedQuery embeds one query text.
func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vecs, err := e.create(ctx, []string{text})
	e.metrics.RecordGeneration(ctx, ProviderOpenAI, "embed", time.Since(start), 0, err)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) create(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, ErrEmptyInput
		}
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrEmbeddingFailed, err)
	}

	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.dim > 0 {
		req.Dimensions = e.dim
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		e.logger.Warn(ctx, "embedding request failed", zap.String("model", string(e.model)), zap.Error(err))
		return nil, parseAPIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbeddingFailed, len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("%w: response index %d out of range", ErrEmbeddingFailed, d.Index)
		}
		if e.dim > 0 && len(d.Embedding) != e.dim {
			return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, e.dim, len(d.Embedding))
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("%w: missing embedding for input %d", ErrEmbeddingFailed, i)
		}
	}

	e.logger.Debug(ctx, "embeddings created",
		zap.Int("count", len(out)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
	)
	return out, nil
}

// parseAPIError keeps the status and message of API failures and wraps them
// with ErrEmbeddingFailed.
func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		return fmt.Errorf("%w: API error %d: %s", ErrEmbeddingFailed, reqErr.HTTPStatusCode, detail)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: API error %d: %s", ErrEmbeddingFailed, apiErr.HTTPStatusCode, apiErr.Message)
	}

	return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
}

// extractDetail reads the "detail" field some compatible servers use.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		return parsed.Detail
	}
	return ""
}
