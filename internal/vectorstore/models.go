package vectorstore

import "context"

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates one embedding per text.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Filter maps a metadata field to the set of permitted values. A record
// matches when, for every key, its stringified metadata value is in the set.
type Filter map[string][]string

// Record is a stored vector with its metadata.
type Record struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Match is a raw query hit as returned by a transport.
type Match struct {
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// QueryParams is the transport-level query.
type QueryParams struct {
	Namespace string
	TopK      int
	Vector    []float32
	Filter    Filter
}

// SearchResult is a normalized hit returned to callers.
type SearchResult struct {
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata"`
	Text     string         `json:"text"`
}

// SearchRequest is the input of Service.Query. Either Query or Vector must
// be set; Vector wins when both are.
type SearchRequest struct {
	TenantID string
	Query    string
	Vector   []float32
	Filter   Filter
	Limit    int
}

// UpsertRequest is the input of Service.Upsert. ID defaults to a random
// UUID and Vector to the embedding of Text.
type UpsertRequest struct {
	TenantID string
	ID       string
	Text     string
	Metadata map[string]any
	Vector   []float32
}

// UpsertResult reports what Service.Upsert stored.
type UpsertResult struct {
	ID            string `json:"id"`
	UpsertedCount int    `json:"upserted_count"`
}

// Metadata keys attached by Upsert.
const (
	MetaTenantID   = "tenant_id"
	MetaCreatedAt  = "created_at"
	MetaTextLength = "text_length"
	MetaText       = "text"
	MetaID         = "id"

	// payloadNamespace is reserved for transports that store the namespace
	// alongside metadata.
	payloadNamespace = "namespace"
)
