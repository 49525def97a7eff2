// Package vectorstore is the access layer to the remote similarity-search
// index.
//
// A Service validates requests, embeds text and resolves the tenant
// namespace, then runs each operation through a Transport obtained from a
// Provider. The Provider builds one FallbackTransport per configuration
// snapshot (API key and index name): the primary transport is tried first
// and, on failure, the secondary is tried exactly once. Raw matches are
// mapped into SearchResult values by Normalize.
//
// Transports:
//   - QdrantTransport: Qdrant over gRPC
//   - RESTTransport: direct JSON over HTTPS
//   - ChromemTransport: embedded chromem-go database
//
// Errors are typed. ConfigurationError is returned before any network call
// when the API key or index is missing, TransportError when the store could
// not be reached, NotFoundError when a deleted id does not exist, and the
// validation sentinels (ErrMissingTenant, ErrEmptyQuery, ...) for bad input.
package vectorstore
