package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/iapropria/iapropria/internal/logging"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 16 << 20

// RESTConfig configures a RESTTransport.
type RESTConfig struct {
	// Host is the index endpoint, e.g. "https://docs-abc123.svc.example.io".
	// A missing scheme defaults to https.
	Host    string
	APIKey  string
	Timeout time.Duration
	// HTTPClient overrides the default client; Timeout is ignored then.
	HTTPClient *http.Client
}

// RESTTransport talks to the index with JSON over HTTPS.
type RESTTransport struct {
	host   string
	apiKey string
	client *http.Client
	logger *logging.Logger
}

// NewRESTTransport creates the transport. A missing host or key is a
// ConfigurationError.
func NewRESTTransport(cfg RESTConfig, logger *logging.Logger) (*RESTTransport, error) {
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		return nil, &ConfigurationError{Field: "vectorstore.rest.host"}
	}
	if cfg.APIKey == "" {
		return nil, &ConfigurationError{Field: "vectorstore.api_key"}
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultFallbackTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &RESTTransport{
		host:   host,
		apiKey: cfg.APIKey,
		client: client,
		logger: logger.Named("rest"),
	}, nil
}

// Name implements Transport.
func (t *RESTTransport) Name() string { return "rest" }

type restQueryRequest struct {
	Namespace       string         `json:"namespace"`
	TopK            int            `json:"topK"`
	Vector          []float32      `json:"vector"`
	Filter          map[string]any `json:"filter,omitempty"`
	IncludeMetadata bool           `json:"includeMetadata"`
}

type restQueryResponse struct {
	Matches []Match `json:"matches"`
}

// Query implements Transport.
func (t *RESTTransport) Query(ctx context.Context, params QueryParams) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "RESTTransport.Query")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", params.Namespace), attribute.Int("top_k", params.TopK))

	var resp restQueryResponse
	if err := t.post(ctx, "query", "/query", restQueryRequest{
		Namespace:       params.Namespace,
		TopK:            params.TopK,
		Vector:          params.Vector,
		Filter:          params.Filter.restFilter(),
		IncludeMetadata: true,
	}, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp.Matches == nil {
		resp.Matches = []Match{}
	}
	span.SetAttributes(attribute.Int("results_count", len(resp.Matches)))
	span.SetStatus(codes.Ok, "success")
	return resp.Matches, nil
}

type restUpsertRequest struct {
	Vectors   []Record `json:"vectors"`
	Namespace string   `json:"namespace"`
}

type restUpsertResponse struct {
	UpsertedCount *int `json:"upsertedCount"`
}

// Upsert implements Transport.
func (t *RESTTransport) Upsert(ctx context.Context, namespace string, records []Record) (int, error) {
	ctx, span := tracer.Start(ctx, "RESTTransport.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace), attribute.Int("record_count", len(records)))

	var resp restUpsertResponse
	if err := t.post(ctx, "upsert", "/vectors/upsert", restUpsertRequest{Vectors: records, Namespace: namespace}, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	if resp.UpsertedCount == nil {
		err := &TransportError{Transport: t.Name(), Op: "upsert", Err: fmt.Errorf("response has no upsertedCount")}
		span.RecordError(err)
		return 0, err
	}
	span.SetStatus(codes.Ok, "success")
	return *resp.UpsertedCount, nil
}

type restDeleteRequest struct {
	IDs       []string `json:"ids"`
	Namespace string   `json:"namespace"`
}

// Delete implements Transport. A 404 becomes a NotFoundError.
func (t *RESTTransport) Delete(ctx context.Context, namespace string, ids []string) error {
	ctx, span := tracer.Start(ctx, "RESTTransport.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace), attribute.Int("id_count", len(ids)))

	err := t.post(ctx, "delete", "/vectors/delete", restDeleteRequest{IDs: ids, Namespace: namespace}, nil)
	var te *TransportError
	if errors.As(err, &te) && te.StatusCode == http.StatusNotFound {
		return &NotFoundError{ID: strings.Join(ids, ","), Namespace: namespace}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Health implements Transport using the index stats endpoint.
func (t *RESTTransport) Health(ctx context.Context) error {
	return t.post(ctx, "health", "/describe_index_stats", struct{}{}, nil)
}

// Close releases idle connections.
func (t *RESTTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func (t *RESTTransport) post(ctx context.Context, op, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &TransportError{Transport: t.Name(), Op: op, Err: fmt.Errorf("encoding request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.host+path, bytes.NewReader(payload))
	if err != nil {
		return &TransportError{Transport: t.Name(), Op: op, Err: err}
	}
	req.Header.Set("Api-Key", t.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return &TransportError{Transport: t.Name(), Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &TransportError{Transport: t.Name(), Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.logger.Debug(ctx, "vector store returned error status",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.Int("body_bytes", len(data)),
		)
		msg := truncate(strings.TrimSpace(string(data)), 256)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &TransportError{Transport: t.Name(), Op: op, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Transport: t.Name(), Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
