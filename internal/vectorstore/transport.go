package vectorstore

import "context"

// Transport is one way of reaching the vector index. Implementations are
// safe for concurrent use.
type Transport interface {
	// Name identifies the transport in logs, metrics and errors.
	Name() string

	// Query returns the top matches in a namespace, best first.
	Query(ctx context.Context, params QueryParams) ([]Match, error)

	// Upsert writes records into a namespace, overwriting equal ids, and
	// returns the number of records written.
	Upsert(ctx context.Context, namespace string, records []Record) (int, error)

	// Delete removes ids from a namespace. It returns a NotFoundError when
	// the store reports an id absent.
	Delete(ctx context.Context, namespace string, ids []string) error

	// Health reports whether the store is reachable.
	Health(ctx context.Context) error

	// Close releases connections.
	Close() error
}

// Snapshot is the resolved configuration a transport is built for.
type Snapshot struct {
	APIKey    string
	IndexName string
}

// BuildFunc constructs the transport for a snapshot.
type BuildFunc func(ctx context.Context, snap Snapshot) (Transport, error)
