// Package config provides configuration loading for iapropria.
//
// Values come from a YAML file and are overridden by IAPROPRIA_* environment
// variables. Runtime overrides made by users (API keys, index name, database
// DSN) live in the settings store and are layered on top by the consumers.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Namespace modes for the vector store.
const (
	NamespaceModeTenant = "tenant"
	NamespaceModeFixed  = "fixed"
)

// Transport names accepted by vectorstore.primary and vectorstore.fallback.
const (
	TransportQdrant  = "qdrant"
	TransportREST    = "rest"
	TransportChromem = "chromem"
	TransportNone    = "none"
)

// Config holds the complete iapropria configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Database      DatabaseConfig      `koanf:"database"`
	Settings      SettingsConfig      `koanf:"settings"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	StaticDir       string        `koanf:"static_dir"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// VectorStoreConfig holds vector index access configuration.
type VectorStoreConfig struct {
	// APIKey is the default key used when the settings store has no override.
	APIKey Secret `koanf:"api_key"`

	// IndexName is the default index (collection) name.
	IndexName string `koanf:"index_name"`

	// Dimension is the embedding size every stored vector must have.
	Dimension int `koanf:"dimension"`

	// NamespaceMode is "tenant" (namespace = tenant id) or "fixed".
	NamespaceMode string `koanf:"namespace_mode"`

	// FixedNamespace is used for every tenant when NamespaceMode is "fixed".
	FixedNamespace string `koanf:"fixed_namespace"`

	Primary      string        `koanf:"primary"`
	Fallback     string        `koanf:"fallback"`
	QueryTimeout time.Duration `koanf:"query_timeout"`
	DefaultLimit int           `koanf:"default_limit"`
	MaxLimit     int           `koanf:"max_limit"`

	REST    RESTConfig    `koanf:"rest"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
	Chromem ChromemConfig `koanf:"chromem"`
}

// RESTConfig configures the direct HTTP transport.
type RESTConfig struct {
	Host    string        `koanf:"host"`
	Timeout time.Duration `koanf:"timeout"`
}

// QdrantConfig configures the gRPC transport.
type QdrantConfig struct {
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	UseTLS         bool   `koanf:"use_tls"`
	MaxMessageSize int    `koanf:"max_message_size"`
}

// ChromemConfig configures the embedded transport.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	Provider  string  `koanf:"provider"`
	Model     string  `koanf:"model"`
	BaseURL   string  `koanf:"base_url"`
	APIKey    Secret  `koanf:"api_key"`
	RateLimit float64 `koanf:"rate_limit"`
}

// DatabaseConfig holds the users database connection.
type DatabaseConfig struct {
	DSN      Secret `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
}

// SettingsConfig locates the persisted settings document.
type SettingsConfig struct {
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

// LoggingConfig is the subset of logging options exposed through config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTracing bool    `koanf:"enable_tracing"`
	EnableMetrics bool    `koanf:"enable_metrics"`
	OTLPEndpoint  string  `koanf:"otlp_endpoint"`
	OTLPInsecure  bool    `koanf:"otlp_insecure"`
	SampleRate    float64 `koanf:"sample_rate"`
	ServiceName   string  `koanf:"service_name"`
}

// Validate validates the configuration.
//
// A missing vector store API key is not an error here: the key may be
// supplied later through the settings store, and operations report its
// absence themselves.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if err := c.VectorStore.Validate(); err != nil {
		return fmt.Errorf("vectorstore: %w", err)
	}
	switch c.Embeddings.Provider {
	case "hash", "openai":
	default:
		return fmt.Errorf("embeddings: unknown provider %q", c.Embeddings.Provider)
	}
	if c.Embeddings.RateLimit < 0 {
		return errors.New("embeddings: rate_limit cannot be negative")
	}
	if c.Observability.EnableTracing && c.Observability.ServiceName == "" {
		return errors.New("service name required when tracing is enabled")
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return fmt.Errorf("observability: sample_rate must be in [0,1], got %v", c.Observability.SampleRate)
	}
	return nil
}

// Validate checks the vector store section.
func (v *VectorStoreConfig) Validate() error {
	if v.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive, got %d", v.Dimension)
	}
	if v.IndexName == "" {
		return errors.New("index_name is required")
	}
	switch v.NamespaceMode {
	case NamespaceModeTenant:
	case NamespaceModeFixed:
		if v.FixedNamespace == "" {
			return errors.New("fixed_namespace is required when namespace_mode is fixed")
		}
	default:
		return fmt.Errorf("unknown namespace_mode %q", v.NamespaceMode)
	}
	if !validTransport(v.Primary) || v.Primary == TransportNone {
		return fmt.Errorf("unknown primary transport %q", v.Primary)
	}
	if !validTransport(v.Fallback) {
		return fmt.Errorf("unknown fallback transport %q", v.Fallback)
	}
	if v.Primary == v.Fallback {
		return fmt.Errorf("primary and fallback transports must differ (both %q)", v.Primary)
	}
	if v.DefaultLimit <= 0 || v.DefaultLimit > v.MaxLimit {
		return fmt.Errorf("default_limit must be in [1,%d], got %d", v.MaxLimit, v.DefaultLimit)
	}
	if v.QueryTimeout <= 0 {
		return errors.New("query_timeout must be positive")
	}
	return nil
}

func validTransport(name string) bool {
	switch name {
	case TransportQdrant, TransportREST, TransportChromem, TransportNone:
		return true
	}
	return false
}
