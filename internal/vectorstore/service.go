package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iapropria/iapropria/internal/config"
	"github.com/iapropria/iapropria/internal/logging"
)

var tracer = otel.Tracer("github.com/iapropria/iapropria/internal/vectorstore")

const maxIDLength = 512

// ServiceConfig holds the request-shaping options of a Service.
type ServiceConfig struct {
	Dimension      int
	DefaultLimit   int
	MaxLimit       int
	NamespaceMode  string
	FixedNamespace string
}

// ServiceConfigFrom extracts the service options from the vector store
// configuration.
func ServiceConfigFrom(cfg config.VectorStoreConfig) ServiceConfig {
	return ServiceConfig{
		Dimension:      cfg.Dimension,
		DefaultLimit:   cfg.DefaultLimit,
		MaxLimit:       cfg.MaxLimit,
		NamespaceMode:  cfg.NamespaceMode,
		FixedNamespace: cfg.FixedNamespace,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *ServiceConfig) ApplyDefaults() {
	if c.Dimension == 0 {
		c.Dimension = 384
	}
	if c.DefaultLimit == 0 {
		c.DefaultLimit = 10
	}
	if c.MaxLimit == 0 {
		c.MaxLimit = 100
	}
	if c.NamespaceMode == "" {
		c.NamespaceMode = config.NamespaceModeTenant
	}
	if c.FixedNamespace == "" {
		c.FixedNamespace = "1"
	}
}

// Service runs query, upsert and delete against the vector index.
type Service struct {
	provider   *Provider
	embedder   Embedder
	config     ServiceConfig
	namespaces NamespaceResolver
	logger     *logging.Logger

	now   func() time.Time
	newID func() string
}

// NewService creates a Service.
func NewService(provider *Provider, embedder Embedder, cfg ServiceConfig, logger *logging.Logger) *Service {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		provider:   provider,
		embedder:   embedder,
		config:     cfg,
		namespaces: NewNamespaceResolver(cfg.NamespaceMode, cfg.FixedNamespace),
		logger:     logger.Named("vectorstore"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Query embeds the request text (unless a vector is given) and returns the
// best matches in the tenant's namespace, best first.
func (s *Service) Query(ctx context.Context, req SearchRequest) (results []SearchResult, err error) {
	ctx, span := tracer.Start(ctx, "Service.Query")
	defer func() { endSpan(span, err) }()
	defer observe("query", time.Now())

	namespace, err := s.namespaces.Namespace(req.TenantID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithNamespace(logging.WithTenantID(ctx, req.TenantID), namespace)

	limit, err := s.limit(req.Limit)
	if err != nil {
		return nil, err
	}
	if len(req.Vector) == 0 && strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	if err := req.Filter.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("limit", limit),
		attribute.Int("filter_fields", len(req.Filter)),
	)

	transport, release, err := s.provider.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	vector := req.Vector
	if len(vector) == 0 {
		if vector, err = s.embedQuery(ctx, req.Query); err != nil {
			return nil, err
		}
	}
	if err := s.checkDimension(vector); err != nil {
		return nil, err
	}

	matches, err := transport.Query(ctx, QueryParams{
		Namespace: namespace,
		TopK:      limit,
		Vector:    vector,
		Filter:    req.Filter,
	})
	if err != nil {
		s.logger.Warn(ctx, "query failed", zap.Error(err))
		return nil, err
	}

	results = Normalize(matches, limit)
	span.SetAttributes(attribute.Int("results_count", len(results)))
	s.logger.Debug(ctx, "query served", zap.Int("results", len(results)))
	return results, nil
}

// Upsert stores one document in the tenant's namespace. The stored
// metadata carries tenant_id, created_at, text_length, text and id in
// addition to the caller's fields.
func (s *Service) Upsert(ctx context.Context, req UpsertRequest) (result *UpsertResult, err error) {
	ctx, span := tracer.Start(ctx, "Service.Upsert")
	defer func() { endSpan(span, err) }()
	defer observe("upsert", time.Now())

	namespace, err := s.namespaces.Namespace(req.TenantID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithNamespace(logging.WithTenantID(ctx, req.TenantID), namespace)

	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	id := req.ID
	if id == "" {
		id = s.newID()
	}
	if err := validateID(id); err != nil {
		return nil, err
	}
	metadata, err := s.buildMetadata(req, id)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("namespace", namespace), attribute.String("id", id))

	transport, release, err := s.provider.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	vector := req.Vector
	if len(vector) == 0 {
		vecs, err := s.embedder.EmbedDocuments(ctx, []string{req.Text})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		if len(vecs) != 1 {
			return nil, fmt.Errorf("%w: expected 1 embedding, got %d", ErrEmbeddingFailed, len(vecs))
		}
		vector = vecs[0]
	}
	if err := s.checkDimension(vector); err != nil {
		return nil, err
	}

	n, err := transport.Upsert(ctx, namespace, []Record{{ID: id, Values: vector, Metadata: metadata}})
	if err != nil {
		s.logger.Warn(ctx, "upsert failed", zap.String("id", id), zap.Error(err))
		return nil, err
	}

	s.logger.Info(ctx, "document upserted", zap.String("id", id), zap.Int("text_length", len(req.Text)))
	return &UpsertResult{ID: id, UpsertedCount: n}, nil
}

// Delete removes one document from the tenant's namespace.
func (s *Service) Delete(ctx context.Context, tenantID, id string) (err error) {
	ctx, span := tracer.Start(ctx, "Service.Delete")
	defer func() { endSpan(span, err) }()
	defer observe("delete", time.Now())

	namespace, err := s.namespaces.Namespace(tenantID)
	if err != nil {
		return err
	}
	ctx = logging.WithNamespace(logging.WithTenantID(ctx, tenantID), namespace)

	if err := validateID(id); err != nil {
		return err
	}
	span.SetAttributes(attribute.String("namespace", namespace), attribute.String("id", id))

	transport, release, err := s.provider.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := transport.Delete(ctx, namespace, []string{id}); err != nil {
		if !IsNotFound(err) {
			s.logger.Warn(ctx, "delete failed", zap.String("id", id), zap.Error(err))
		}
		return err
	}

	s.logger.Info(ctx, "document deleted", zap.String("id", id))
	return nil
}

// Status describes the vector store configuration and transport health.
type Status struct {
	Configured    bool              `json:"configured"`
	Index         string            `json:"index,omitempty"`
	Dimension     int               `json:"dimension"`
	NamespaceMode string            `json:"namespace_mode"`
	Transports    []TransportHealth `json:"transports,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// Status reports configuration and health. It never fails; problems are
// described in the result.
func (s *Service) Status(ctx context.Context) Status {
	st := Status{
		Dimension:     s.config.Dimension,
		NamespaceMode: s.config.NamespaceMode,
	}

	transport, release, err := s.provider.Acquire(ctx)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	defer release()

	st.Configured = true
	if snap, ok := s.provider.Snapshot(); ok {
		st.Index = snap.IndexName
	}

	if ft, ok := transport.(*FallbackTransport); ok {
		st.Transports = ft.HealthReport(ctx)
		return st
	}
	h := TransportHealth{Transport: transport.Name(), Role: "primary", Healthy: true}
	if err := transport.Health(ctx); err != nil {
		h.Healthy = false
		h.Error = err.Error()
	}
	st.Transports = []TransportHealth{h}
	return st
}

func (s *Service) limit(requested int) (int, error) {
	switch {
	case requested == 0:
		return s.config.DefaultLimit, nil
	case requested < 0 || requested > s.config.MaxLimit:
		return 0, fmt.Errorf("%w: must be in [1,%d], got %d", ErrInvalidLimit, s.config.MaxLimit, requested)
	}
	return requested, nil
}

func (s *Service) embedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vec, nil
}

func (s *Service) checkDimension(vec []float32) error {
	if len(vec) != s.config.Dimension {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, s.config.Dimension, len(vec))
	}
	return nil
}

// buildMetadata copies caller metadata, rejecting non-scalar values and the
// reserved namespace key, then attaches the system fields.
func (s *Service) buildMetadata(req UpsertRequest, id string) (map[string]any, error) {
	meta := make(map[string]any, len(req.Metadata)+5)
	for k, v := range req.Metadata {
		if strings.TrimSpace(k) == "" || k == payloadNamespace {
			return nil, fmt.Errorf("%w: key %q is not allowed", ErrInvalidMetadata, k)
		}
		switch v.(type) {
		case string, bool, int, int32, int64, float32, float64, nil:
		default:
			return nil, fmt.Errorf("%w: field %q has unsupported type %T", ErrInvalidMetadata, k, v)
		}
		meta[k] = v
	}
	meta[MetaTenantID] = req.TenantID
	meta[MetaCreatedAt] = s.now().UTC().Format(time.RFC3339)
	meta[MetaTextLength] = len(req.Text)
	meta[MetaText] = req.Text
	meta[MetaID] = id
	return meta, nil
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidID, maxIDLength)
	}
	if strings.IndexFunc(id, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: contains control characters", ErrInvalidID)
	}
	return nil
}

func observe(operation string, start time.Time) {
	OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	span.End()
}
