package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix is stripped from environment variables before mapping.
	EnvPrefix = "IAPROPRIA_"
)

// DefaultDir returns ~/.config/iapropria.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "iapropria"), nil
}

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. IAPROPRIA_* environment variables (including those from .env files)
//  2. YAML config file
//  3. Defaults
//
// An empty configPath means ~/.config/iapropria/config.yaml. A missing file
// is not an error.
//
// # Environment Variable Mapping
//
// The prefix is stripped, the first underscore separates the section from
// the field, and a double underscore descends one more level:
//
//	IAPROPRIA_SERVER_PORT               -> server.port
//	IAPROPRIA_VECTORSTORE_API_KEY       -> vectorstore.api_key
//	IAPROPRIA_VECTORSTORE_REST__HOST    -> vectorstore.rest.host
//	IAPROPRIA_VECTORSTORE_QDRANT__USE_TLS -> vectorstore.qdrant.use_tls
func LoadWithFile(configPath string, envFiles ...string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	if _, err := os.Stat(configPath); err == nil {
		// Validate through the open descriptor to avoid a stat/open race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps IAPROPRIA_SECTION_FIELD__SUB to section.field.sub.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + strings.ReplaceAll(parts[1], "__", ".")
}

// loadEnvFiles populates the process environment from dotenv files. Existing
// variables win. Missing files are ignored.
func loadEnvFiles(paths []string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// validateConfigFileProperties rejects group/world-writable and oversized files.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0022 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (must not be group or world writable)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	vs := &cfg.VectorStore
	if vs.IndexName == "" {
		vs.IndexName = "iapropria"
	}
	if vs.Dimension == 0 {
		vs.Dimension = 384 // all-MiniLM-L6-v2 / bge-small
	}
	if vs.NamespaceMode == "" {
		vs.NamespaceMode = NamespaceModeTenant
	}
	if vs.FixedNamespace == "" {
		vs.FixedNamespace = "1"
	}
	if vs.Primary == "" {
		vs.Primary = TransportQdrant
	}
	if vs.Fallback == "" {
		vs.Fallback = TransportREST
	}
	if vs.QueryTimeout == 0 {
		vs.QueryTimeout = 15 * time.Second
	}
	if vs.MaxLimit == 0 {
		vs.MaxLimit = 100
	}
	if vs.DefaultLimit == 0 {
		vs.DefaultLimit = 10
	}
	if vs.REST.Timeout == 0 {
		vs.REST.Timeout = 15 * time.Second
	}
	if vs.Qdrant.Host == "" {
		vs.Qdrant.Host = "localhost"
	}
	if vs.Qdrant.Port == 0 {
		vs.Qdrant.Port = 6334
	}
	if vs.Qdrant.MaxMessageSize == 0 {
		vs.Qdrant.MaxMessageSize = 50 * 1024 * 1024
	}
	if vs.Chromem.Path == "" {
		vs.Chromem.Path = "~/.config/iapropria/vectorstore"
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "hash"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-small"
	}

	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 4
	}

	if cfg.Settings.Path == "" {
		cfg.Settings.Path = "~/.config/iapropria/settings.json"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "iapropria"
	}
	if cfg.Observability.SampleRate == 0 {
		cfg.Observability.SampleRate = 1.0
	}
	if cfg.Observability.OTLPEndpoint == "" {
		cfg.Observability.OTLPEndpoint = "localhost:4317"
		cfg.Observability.OTLPInsecure = true
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
