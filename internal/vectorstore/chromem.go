package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/iapropria/iapropria/internal/config"
	"github.com/iapropria/iapropria/internal/logging"
)

// errNoEmbedding guards against chromem computing embeddings itself; every
// record and query arrives with its vector.
var errNoEmbedding = errors.New("chromem transport requires precomputed embeddings")

// ChromemConfig configures a ChromemTransport.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps data in memory.
	Path string

	// Compress enables gzip compression of persisted documents.
	Compress bool

	// Index namespaces collections so several indexes share one directory.
	Index string

	// Dimension is the size of every stored vector.
	Dimension int
}

// ChromemTransport is an embedded store with one collection per
// index/namespace pair.
type ChromemTransport struct {
	db     *chromem.DB
	config ChromemConfig
	logger *logging.Logger
}

// NewChromemTransport opens (or creates) the database.
func NewChromemTransport(cfg ChromemConfig, logger *logging.Logger) (*ChromemTransport, error) {
	if cfg.Index == "" {
		return nil, &ConfigurationError{Field: "vectorstore.index_name"}
	}
	if cfg.Dimension <= 0 {
		return nil, &ConfigurationError{Field: "vectorstore.dimension", Reason: "must be positive"}
	}
	if logger == nil {
		logger = logging.Nop()
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, &ConfigurationError{Field: "vectorstore.chromem.path", Reason: err.Error()}
		}
		if err := os.MkdirAll(path, 0700); err != nil {
			return nil, &TransportError{Transport: "chromem", Op: "open", Err: err}
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, &TransportError{Transport: "chromem", Op: "open", Err: err}
		}
		cfg.Path = path
	}

	return &ChromemTransport{db: db, config: cfg, logger: logger.Named("chromem")}, nil
}

func expandPath(path string) (string, error) {
	path, err := config.ExpandHome(path)
	if err != nil {
		return "", err
	}
	return filepath.Abs(path)
}

// Name implements Transport.
func (t *ChromemTransport) Name() string { return "chromem" }

func (t *ChromemTransport) collectionName(namespace string) string {
	return t.config.Index + "/" + namespace
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedding
}

// Query implements Transport. Filters are applied in process because
// chromem only supports single-value equality.
func (t *ChromemTransport) Query(ctx context.Context, params QueryParams) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "ChromemTransport.Query")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", params.Namespace), attribute.Int("top_k", params.TopK))

	if len(params.Vector) != t.config.Dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, t.config.Dimension, len(params.Vector))
	}

	col := t.db.GetCollection(t.collectionName(params.Namespace), noEmbedding)
	if col == nil || col.Count() == 0 {
		return []Match{}, nil
	}

	n := col.Count()
	if len(params.Filter) == 0 && params.TopK < n {
		n = params.TopK
	}
	results, err := col.QueryEmbedding(ctx, params.Vector, n, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, t.wrap("query", err)
	}

	matches := make([]Match, 0, min(len(results), params.TopK))
	for _, r := range results {
		meta := decodeMetadata(r.Metadata)
		if !params.Filter.Matches(meta) {
			continue
		}
		matches = append(matches, Match{ID: r.ID, Score: r.Similarity, Metadata: meta})
		if len(matches) == params.TopK {
			break
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// Upsert implements Transport. Adding a document with an existing id
// replaces it.
func (t *ChromemTransport) Upsert(ctx context.Context, namespace string, records []Record) (int, error) {
	ctx, span := tracer.Start(ctx, "ChromemTransport.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace), attribute.Int("record_count", len(records)))

	col, err := t.db.GetOrCreateCollection(t.collectionName(namespace), nil, noEmbedding)
	if err != nil {
		span.RecordError(err)
		return 0, t.wrap("upsert", err)
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		if len(r.Values) != t.config.Dimension {
			return 0, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, t.config.Dimension, len(r.Values))
		}
		meta, err := encodeMetadata(r.Metadata)
		if err != nil {
			return 0, err
		}
		text, _ := r.Metadata[MetaText].(string)
		docs[i] = chromem.Document{
			ID:        r.ID,
			Metadata:  meta,
			Embedding: r.Values,
			Content:   text,
		}
	}

	// Vectors are precomputed, so no concurrency is needed.
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, t.wrap("upsert", err)
	}

	t.logger.Debug(ctx, "upserted records", zap.String("namespace", namespace), zap.Int("count", len(docs)))
	span.SetStatus(codes.Ok, "success")
	return len(docs), nil
}

// Delete implements Transport.
func (t *ChromemTransport) Delete(ctx context.Context, namespace string, ids []string) error {
	ctx, span := tracer.Start(ctx, "ChromemTransport.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace), attribute.Int("id_count", len(ids)))

	col := t.db.GetCollection(t.collectionName(namespace), noEmbedding)
	if col == nil {
		return &NotFoundError{ID: strings.Join(ids, ","), Namespace: namespace}
	}
	for _, id := range ids {
		if _, err := col.GetByID(ctx, id); err != nil {
			return &NotFoundError{ID: id, Namespace: namespace}
		}
	}

	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return t.wrap("delete", err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Health implements Transport. The embedded store is always reachable once
// opened.
func (t *ChromemTransport) Health(context.Context) error {
	return nil
}

// Close is a no-op; chromem persists on every write.
func (t *ChromemTransport) Close() error {
	return nil
}

func (t *ChromemTransport) wrap(op string, err error) error {
	return &TransportError{Transport: t.Name(), Op: op, Err: err}
}

// encodeMetadata stores each value as JSON so its type survives the
// string-only chromem metadata.
func encodeMetadata(metadata map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidMetadata, k, err)
		}
		out[k] = string(b)
	}
	return out, nil
}

func decodeMetadata(metadata map[string]string) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, s := range metadata {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			v = s
		}
		out[k] = v
	}
	return out
}
