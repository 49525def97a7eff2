package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iapropria/iapropria/internal/vectorstore"
)

// writeTestConfig writes a config using the embedded transport so commands
// run without external services.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`vectorstore:
  api_key: test-key
  dimension: 32
  primary: chromem
  fallback: none
  chromem:
    path: %s
settings:
  path: %s
embeddings:
  provider: hash
logging:
  level: error
`, filepath.Join(dir, "vectors"), filepath.Join(dir, "settings.json"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func execute(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(append([]string{"--config", cfgPath, "--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "query", "upsert", "delete", "status", "settings"} {
		assert.Contains(t, names, want)
	}
}

func TestParseFilter(t *testing.T) {
	f, err := parseFilter(nil)
	require.NoError(t, err)
	assert.Nil(t, f, "no flags leaves room for the saved filter")

	f, err = parseFilter([]string{"category=invoice,receipt", "year=2024", "category=memo"})
	require.NoError(t, err)
	assert.Equal(t, vectorstore.Filter{
		"category": {"invoice", "receipt", "memo"},
		"year":     {"2024"},
	}, f)

	for _, bad := range []string{"category", "=x", "category="} {
		_, err := parseFilter([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestParseMetadata(t *testing.T) {
	meta, err := parseMetadata([]string{"category=invoice", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"category": "invoice", "note": "a=b"}, meta)

	_, err = parseMetadata([]string{"novalue"})
	assert.Error(t, err)
}

func TestReadText(t *testing.T) {
	text, err := readText(strings.NewReader("ignored"), []string{"hello", "world"}, "")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	path := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("from file"), 0600))
	text, err = readText(strings.NewReader("ignored"), nil, path)
	require.NoError(t, err)
	assert.Equal(t, "from file", text)

	text, err = readText(strings.NewReader("from stdin"), nil, "")
	require.NoError(t, err)
	assert.Equal(t, "from stdin", text)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short text", truncate("short\n  text", 60))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestDocumentCommands(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := execute(t, cfg, "upsert", "--tenant", "acme", "--id", "inv-1", "--meta", "category=invoice", "March invoice total 1200")
	require.NoError(t, err)
	assert.Contains(t, out, "upserted inv-1 (1)")

	out, err = execute(t, cfg, "--json", "query", "--tenant", "acme", "--filter", "category=invoice", "March invoice")
	require.NoError(t, err)
	var resp struct {
		Results []vectorstore.SearchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "inv-1", resp.Results[0].ID)
	assert.Equal(t, "March invoice total 1200", resp.Results[0].Text)

	out, err = execute(t, cfg, "query", "--tenant", "other", "March invoice")
	require.NoError(t, err)
	assert.Contains(t, out, "no results")

	out, err = execute(t, cfg, "delete", "--tenant", "acme", "inv-1")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted inv-1")

	_, err = execute(t, cfg, "delete", "--tenant", "acme", "inv-1")
	var nf *vectorstore.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestQueryCmd_RequiresTenant(t *testing.T) {
	_, err := execute(t, writeTestConfig(t), "query", "anything")
	assert.ErrorContains(t, err, "tenant")
}

func TestStatusCmd(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := execute(t, cfg, "--json", "status")
	require.NoError(t, err)
	var st vectorstore.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st), out)
	assert.True(t, st.Configured)
	assert.Equal(t, 32, st.Dimension)
	require.Len(t, st.Transports, 1)
	assert.Equal(t, "chromem", st.Transports[0].Transport)
	assert.True(t, st.Transports[0].Healthy)

	out, err = execute(t, cfg, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "configured:     true")
}

func TestSettingsCommands(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := execute(t, cfg, "settings", "set", "api-key", "pc-secret-value")
	require.NoError(t, err)

	out, err := execute(t, cfg, "settings", "get", "api-key")
	require.NoError(t, err)
	assert.NotContains(t, out, "pc-secret-value")

	out, err = execute(t, cfg, "settings", "get", "api-key", "--reveal")
	require.NoError(t, err)
	assert.Equal(t, "pc-secret-value\n", out)

	out, err = execute(t, cfg, "settings", "set", "api-key")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared api-key")
	_, err = execute(t, cfg, "settings", "get", "api-key")
	assert.ErrorContains(t, err, "not set")

	_, err = execute(t, cfg, "settings", "get", "colour")
	assert.ErrorContains(t, err, "unknown setting")

	_, err = execute(t, cfg, "settings", "filters", "acme", "--set", "category=invoice,receipt")
	require.NoError(t, err)
	out, err = execute(t, cfg, "settings", "filters", "acme")
	require.NoError(t, err)
	assert.Equal(t, "category=invoice,receipt\n", out)

	_, err = execute(t, cfg, "settings", "filters", "acme", "--clear")
	require.NoError(t, err)
	out, err = execute(t, cfg, "settings", "filters", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "no saved filter")

	_, err = execute(t, cfg, "settings", "model", "acme", "gpt-4o-mini")
	require.NoError(t, err)
	out, err = execute(t, cfg, "settings", "model", "acme")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini\n", out)
}

func TestQueryCmd_UsesSavedFilter(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := execute(t, cfg, "upsert", "--tenant", "acme", "--id", "a", "--meta", "category=invoice", "invoice for march")
	require.NoError(t, err)
	_, err = execute(t, cfg, "upsert", "--tenant", "acme", "--id", "b", "--meta", "category=memo", "memo for march")
	require.NoError(t, err)
	_, err = execute(t, cfg, "settings", "filters", "acme", "--set", "category=memo")
	require.NoError(t, err)

	out, err := execute(t, cfg, "--json", "query", "--tenant", "acme", "march")
	require.NoError(t, err)
	var resp struct {
		Results []vectorstore.SearchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "b", resp.Results[0].ID)
}
