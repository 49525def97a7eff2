package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/iapropria/iapropria/internal/logging"
)

// QdrantConfig configures a QdrantTransport.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string

	// Port is the gRPC port (6334), not the HTTP port.
	Port int

	// APIKey authenticates against Qdrant Cloud; may be empty for local
	// servers.
	APIKey string

	// Collection is the index name.
	Collection string

	// Dimension is the size of every stored vector.
	Dimension int

	UseTLS bool

	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate reports unusable fields as ConfigurationError.
func (c QdrantConfig) Validate() error {
	switch {
	case c.Host == "":
		return &ConfigurationError{Field: "vectorstore.qdrant.host"}
	case c.Port <= 0 || c.Port > 65535:
		return &ConfigurationError{Field: "vectorstore.qdrant.port", Reason: fmt.Sprintf("invalid port %d", c.Port)}
	case c.Collection == "":
		return &ConfigurationError{Field: "vectorstore.index_name"}
	case c.Dimension <= 0:
		return &ConfigurationError{Field: "vectorstore.dimension", Reason: "must be positive"}
	}
	return nil
}

// QdrantTransport stores records as points in one Qdrant collection, with
// the namespace kept in the payload and enforced by every filter.
type QdrantTransport struct {
	client *qdrant.Client
	config QdrantConfig
	logger *logging.Logger

	mu    sync.Mutex // guards ready
	ready bool
}

// NewQdrantTransport creates the gRPC client. The connection is established
// lazily; the collection is checked or created on first use.
func NewQdrantTransport(cfg QdrantConfig, logger *logging.Logger) (*QdrantTransport, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.Named("qdrant")

	if !cfg.UseTLS {
		logger.Debug(context.Background(), "qdrant gRPC using plaintext", zap.String("host", cfg.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return nil, &TransportError{Transport: "qdrant", Op: "connect", Err: err}
	}

	return &QdrantTransport{client: client, config: cfg, logger: logger}, nil
}

// Name implements Transport.
func (t *QdrantTransport) Name() string { return "qdrant" }

// PointID derives the deterministic point id of a record so that upserting
// the same id in the same namespace overwrites it.
func PointID(namespace, id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(namespace+"/"+id)).String()
}

// ensureCollection creates the collection with cosine distance when it is
// missing and checks the dimension when it exists.
func (t *QdrantTransport) ensureCollection(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ready {
		return nil
	}

	info, err := t.client.GetCollectionInfo(ctx, t.config.Collection)
	switch {
	case err == nil:
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != 0 && size != uint64(t.config.Dimension) {
			return &ConfigurationError{
				Field:  "vectorstore.dimension",
				Reason: fmt.Sprintf("collection %q has dimension %d, configured %d", t.config.Collection, size, t.config.Dimension),
			}
		}
	case status.Code(err) == grpccodes.NotFound:
		t.logger.Info(ctx, "creating qdrant collection",
			zap.String("collection", t.config.Collection),
			zap.Int("dimension", t.config.Dimension))
		if err := t.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: t.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(t.config.Dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		}); err != nil && status.Code(err) != grpccodes.AlreadyExists {
			return t.wrap("create_collection", err)
		}
		if _, err := t.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: t.config.Collection,
			FieldName:      payloadNamespace,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		}); err != nil {
			t.logger.Warn(ctx, "creating namespace index failed", zap.Error(err))
		}
	default:
		return t.wrap("get_collection", err)
	}

	t.ready = true
	return nil
}

// Query implements Transport.
func (t *QdrantTransport) Query(ctx context.Context, params QueryParams) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "QdrantTransport.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", t.config.Collection),
		attribute.String("namespace", params.Namespace),
		attribute.Int("top_k", params.TopK),
	)

	if err := t.ensureCollection(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}

	points, err := t.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: t.config.Collection,
		Query:          qdrant.NewQuery(params.Vector...),
		Limit:          qdrant.PtrOf(uint64(params.TopK)),
		Filter:         params.Filter.qdrantFilter(params.Namespace),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, t.wrap("query", err)
	}

	matches := make([]Match, 0, len(points))
	for _, p := range points {
		meta := payloadToMap(p.GetPayload())
		id, _ := meta[MetaID].(string)
		if id == "" {
			id = p.GetId().GetUuid()
		}
		delete(meta, payloadNamespace)
		matches = append(matches, Match{ID: id, Score: p.GetScore(), Metadata: meta})
	}

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// Upsert implements Transport.
func (t *QdrantTransport) Upsert(ctx context.Context, namespace string, records []Record) (int, error) {
	ctx, span := tracer.Start(ctx, "QdrantTransport.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", t.config.Collection),
		attribute.String("namespace", namespace),
		attribute.Int("record_count", len(records)),
	)

	if err := t.ensureCollection(ctx); err != nil {
		span.RecordError(err)
		return 0, err
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		payload, err := mapToPayload(r.Metadata)
		if err != nil {
			return 0, err
		}
		payload[payloadNamespace] = stringValue(namespace)
		payload[MetaID] = stringValue(r.ID)

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(namespace, r.ID)),
			Vectors: qdrant.NewVectors(r.Values...),
			Payload: payload,
		}
	}

	if _, err := t.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: t.config.Collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, t.wrap("upsert", err)
	}

	span.SetStatus(codes.Ok, "success")
	return len(points), nil
}

// Delete implements Transport. Ids missing from the namespace produce a
// NotFoundError and nothing is deleted.
func (t *QdrantTransport) Delete(ctx context.Context, namespace string, ids []string) error {
	ctx, span := tracer.Start(ctx, "QdrantTransport.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", t.config.Collection),
		attribute.String("namespace", namespace),
		attribute.Int("id_count", len(ids)),
	)

	if err := t.ensureCollection(ctx); err != nil {
		span.RecordError(err)
		return err
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(PointID(namespace, id))
	}

	found, err := t.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: t.config.Collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		span.RecordError(err)
		return t.wrap("delete", err)
	}
	if len(found) < len(ids) {
		present := make(map[string]bool, len(found))
		for _, p := range found {
			present[p.GetId().GetUuid()] = true
		}
		for _, id := range ids {
			if !present[PointID(namespace, id)] {
				return &NotFoundError{ID: id, Namespace: namespace}
			}
		}
	}

	if _, err := t.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: t.config.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return t.wrap("delete", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Health implements Transport.
func (t *QdrantTransport) Health(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantTransport.Health")
	defer span.End()

	if _, err := t.client.HealthCheck(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return t.wrap("health", err)
	}
	span.SetStatus(codes.Ok, "healthy")
	return nil
}

// Close closes the gRPC connection.
func (t *QdrantTransport) Close() error {
	return t.client.Close()
}

func (t *QdrantTransport) wrap(op string, err error) error {
	return &TransportError{Transport: t.Name(), Op: op, Err: err}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

// mapToPayload converts scalar metadata to Qdrant values.
func mapToPayload(metadata map[string]any) (map[string]*qdrant.Value, error) {
	payload := make(map[string]*qdrant.Value, len(metadata)+2)
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			payload[k] = stringValue(val)
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int32:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float32:
			payload[k] = numberValue(float64(val))
		case float64:
			payload[k] = numberValue(val)
		case nil:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_NullValue{}}
		default:
			return nil, fmt.Errorf("%w: field %q has unsupported type %T", ErrInvalidMetadata, k, v)
		}
	}
	return payload, nil
}

// numberValue stores whole numbers as integers. JSON decoding yields float64
// for every number, and Qdrant's integer match never selects a double
// payload, so {"page":3} must land as an integer to be filterable.
func numberValue(f float64) *qdrant.Value {
	if f == math.Trunc(f) && math.Abs(f) <= maxExactInteger {
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(f)}}
	}
	return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: f}}
}

// maxExactInteger is the largest magnitude below which every whole float64
// converts to int64 without loss.
const maxExactInteger = 1 << 53

// payloadToMap converts Qdrant values back to Go scalars.
func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			out[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			out[k] = val.BoolValue
		case *qdrant.Value_NullValue:
			out[k] = nil
		}
	}
	return out
}
