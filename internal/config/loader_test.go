package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoadWithFile_Defaults(t *testing.T) {
	cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "iapropria", cfg.VectorStore.IndexName)
	assert.Equal(t, 384, cfg.VectorStore.Dimension)
	assert.Equal(t, NamespaceModeTenant, cfg.VectorStore.NamespaceMode)
	assert.Equal(t, "1", cfg.VectorStore.FixedNamespace)
	assert.Equal(t, TransportQdrant, cfg.VectorStore.Primary)
	assert.Equal(t, 15*time.Second, cfg.VectorStore.QueryTimeout)
	assert.Equal(t, 10, cfg.VectorStore.DefaultLimit)
	assert.Equal(t, 6334, cfg.VectorStore.Qdrant.Port)
	assert.Equal(t, "hash", cfg.Embeddings.Provider)
	assert.False(t, cfg.VectorStore.APIKey.IsSet())
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8088
vectorstore:
  api_key: pc-secret
  index_name: docs
  dimension: 1536
  namespace_mode: fixed
  primary: chromem
  fallback: rest
  rest:
    host: https://docs-abc.svc.example.io
    timeout: 5s
embeddings:
  provider: openai
  model: text-embedding-3-small
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "pc-secret", cfg.VectorStore.APIKey.Value())
	assert.Equal(t, "docs", cfg.VectorStore.IndexName)
	assert.Equal(t, 1536, cfg.VectorStore.Dimension)
	assert.Equal(t, NamespaceModeFixed, cfg.VectorStore.NamespaceMode)
	assert.Equal(t, TransportChromem, cfg.VectorStore.Primary)
	assert.Equal(t, "https://docs-abc.svc.example.io", cfg.VectorStore.REST.Host)
	assert.Equal(t, 5*time.Second, cfg.VectorStore.REST.Timeout)
	assert.Equal(t, "openai", cfg.Embeddings.Provider)
}

func TestLoadWithFile_EnvironmentOverride(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8088\n", 0600)

	t.Setenv("IAPROPRIA_SERVER_PORT", "9191")
	t.Setenv("IAPROPRIA_VECTORSTORE_API_KEY", "from-env")
	t.Setenv("IAPROPRIA_VECTORSTORE_REST__HOST", "https://env.example.io")
	t.Setenv("IAPROPRIA_VECTORSTORE_QDRANT__PORT", "7334")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.VectorStore.APIKey.Value())
	assert.Equal(t, "https://env.example.io", cfg.VectorStore.REST.Host)
	assert.Equal(t, 7334, cfg.VectorStore.Qdrant.Port)
}

func TestLoadWithFile_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("IAPROPRIA_VECTORSTORE_INDEX_NAME=from-dotenv\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("IAPROPRIA_VECTORSTORE_INDEX_NAME") })

	cfg, err := LoadWithFile(filepath.Join(dir, "missing.yaml"), envPath, filepath.Join(dir, "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.VectorStore.IndexName)
}

func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	path := writeConfig(t, "server:\n  port: 8088\n", 0666)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unterminated\n", 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"IAPROPRIA_SERVER_PORT":                 "server.port",
		"IAPROPRIA_VECTORSTORE_NAMESPACE_MODE":  "vectorstore.namespace_mode",
		"IAPROPRIA_VECTORSTORE_CHROMEM__PATH":   "vectorstore.chromem.path",
		"IAPROPRIA_VECTORSTORE_QDRANT__USE_TLS": "vectorstore.qdrant.use_tls",
		"IAPROPRIA_DEBUG":                       "debug",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		cfg.VectorStore.REST.Host = "https://index.example.io"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"zero dimension", func(c *Config) { c.VectorStore.Dimension = -1 }, "dimension must be positive"},
		{"unknown namespace mode", func(c *Config) { c.VectorStore.NamespaceMode = "org" }, "unknown namespace_mode"},
		{"fixed without value", func(c *Config) {
			c.VectorStore.NamespaceMode = NamespaceModeFixed
			c.VectorStore.FixedNamespace = ""
		}, "fixed_namespace is required"},
		{"same transports", func(c *Config) { c.VectorStore.Fallback = TransportQdrant }, "must differ"},
		{"primary none", func(c *Config) { c.VectorStore.Primary = TransportNone }, "unknown primary transport"},
		{"limit above max", func(c *Config) { c.VectorStore.DefaultLimit = 500 }, "default_limit"},
		{"unknown embedder", func(c *Config) { c.Embeddings.Provider = "bert" }, "unknown provider"},
		{"sample rate", func(c *Config) { c.Observability.SampleRate = 2 }, "sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_NeverPrinted(t *testing.T) {
	s := Secret("pc-1234")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "pc-1234", s.Value())

	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{Key: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(data))

	assert.Equal(t, "", Secret("").String())
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := ExpandHome("~/.config/iapropria/settings.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config/iapropria/settings.json"), got)

	got, err = ExpandHome("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", got)
}
