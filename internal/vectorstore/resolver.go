package vectorstore

import (
	"github.com/iapropria/iapropria/internal/config"
	"github.com/iapropria/iapropria/internal/settings"
)

// Resolver reads the API key and index name, preferring user overrides in
// the settings store over configured defaults. It never validates the key
// format and never caches.
type Resolver struct {
	store        *settings.Store
	defaultKey   string
	defaultIndex string
}

// NewResolver creates a resolver. store may be nil.
func NewResolver(store *settings.Store, cfg config.VectorStoreConfig) *Resolver {
	return &Resolver{
		store:        store,
		defaultKey:   cfg.APIKey.Value(),
		defaultIndex: cfg.IndexName,
	}
}

// GetAPIKey returns the vector store API key and whether one is set.
func (r *Resolver) GetAPIKey() (string, bool) {
	if r.store != nil {
		if key, ok := r.store.APIKey(settings.ProviderVectorStore); ok {
			return key, true
		}
	}
	return r.defaultKey, r.defaultKey != ""
}

// GetIndexName returns the index name.
func (r *Resolver) GetIndexName() string {
	if r.store != nil {
		if name, ok := r.store.VectorIndex(); ok {
			return name
		}
	}
	return r.defaultIndex
}

// Snapshot resolves both values, returning a ConfigurationError when either
// is missing.
func (r *Resolver) Snapshot() (Snapshot, error) {
	key, ok := r.GetAPIKey()
	if !ok {
		return Snapshot{}, &ConfigurationError{Field: "vectorstore.api_key"}
	}
	index := r.GetIndexName()
	if index == "" {
		return Snapshot{}, &ConfigurationError{Field: "vectorstore.index_name"}
	}
	return Snapshot{APIKey: key, IndexName: index}, nil
}
