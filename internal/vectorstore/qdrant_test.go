package vectorstore

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQdrantConfig_Validate(t *testing.T) {
	valid := QdrantConfig{Host: "localhost", Port: 6334, Collection: "iapropria", Dimension: 384}

	tests := []struct {
		name      string
		mutate    func(*QdrantConfig)
		wantField string
	}{
		{name: "valid", mutate: func(*QdrantConfig) {}},
		{name: "missing host", mutate: func(c *QdrantConfig) { c.Host = "" }, wantField: "vectorstore.qdrant.host"},
		{name: "invalid port", mutate: func(c *QdrantConfig) { c.Port = 70000 }, wantField: "vectorstore.qdrant.port"},
		{name: "missing collection", mutate: func(c *QdrantConfig) { c.Collection = "" }, wantField: "vectorstore.index_name"},
		{name: "missing dimension", mutate: func(c *QdrantConfig) { c.Dimension = 0 }, wantField: "vectorstore.dimension"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var ce *ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.wantField, ce.Field)
		})
	}
}

func TestQdrantConfig_ApplyDefaults(t *testing.T) {
	cfg := QdrantConfig{}
	cfg.ApplyDefaults()
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, 50*1024*1024, cfg.MaxMessageSize)
}

func TestPointID(t *testing.T) {
	a := PointID("acme", "doc1")
	_, err := uuid.Parse(a)
	require.NoError(t, err)

	assert.Equal(t, a, PointID("acme", "doc1"), "deterministic")
	assert.NotEqual(t, a, PointID("globex", "doc1"), "namespaced")
	assert.NotEqual(t, a, PointID("acme", "doc2"))
}

func TestPayloadConversion(t *testing.T) {
	payload, err := mapToPayload(map[string]any{
		"category": "invoice",
		"paid":     true,
		"pages":    3,
		"total":    12.5,
		"copies":   float64(4),
		"note":     nil,
	})
	require.NoError(t, err)

	back := payloadToMap(payload)
	assert.Equal(t, "invoice", back["category"])
	assert.Equal(t, true, back["paid"])
	assert.Equal(t, int64(3), back["pages"])
	assert.Equal(t, 12.5, back["total"])
	assert.Equal(t, int64(4), back["copies"], "whole doubles are stored as integers")
	assert.Contains(t, back, "note")
	assert.Nil(t, back["note"])

	_, err = mapToPayload(map[string]any{"nested": map[string]any{"a": 1}})
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestPayloadToMap_IgnoresStructuredValues(t *testing.T) {
	back := payloadToMap(map[string]*qdrant.Value{
		"list": {Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{}}},
		"s":    stringValue("x"),
	})
	assert.Equal(t, map[string]any{"s": "x"}, back)
}

func TestNewQdrantTransport_InvalidConfig(t *testing.T) {
	_, err := NewQdrantTransport(QdrantConfig{Collection: "iapropria", Dimension: 3}, nil)
	assert.True(t, IsConfigurationError(err))
}

// TestQdrantTransport_Integration runs against a live server when
// QDRANT_TEST_HOST is set (e.g. "localhost:6334").
func TestQdrantTransport_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	hostPort := os.Getenv("QDRANT_TEST_HOST")
	if hostPort == "" {
		t.Skip("QDRANT_TEST_HOST not set")
	}
	host, port := hostPort, 6334
	for i := len(hostPort) - 1; i >= 0; i-- {
		if hostPort[i] == ':' {
			host = hostPort[:i]
			p, err := strconv.Atoi(hostPort[i+1:])
			require.NoError(t, err)
			port = p
			break
		}
	}

	collection := fmt.Sprintf("iapropria_test_%d", time.Now().UnixNano())
	tr, err := NewQdrantTransport(QdrantConfig{Host: host, Port: port, Collection: collection, Dimension: 3}, nil)
	require.NoError(t, err)
	defer func() {
		_ = tr.client.DeleteCollection(context.Background(), collection)
		_ = tr.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, tr.Health(ctx))

	n, err := tr.Upsert(ctx, "acme", []Record{
		{ID: "doc1", Values: []float32{1, 0, 0}, Metadata: map[string]any{"category": "invoice", "year": 2024}},
		{ID: "doc2", Values: []float32{0, 1, 0}, Metadata: map[string]any{"category": "receipt"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := tr.Query(ctx, QueryParams{Namespace: "acme", TopK: 5, Vector: []float32{1, 0, 0}, Filter: Filter{"category": {"invoice"}, "year": {"2024"}}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "doc1", got[0].ID)
	assert.NotContains(t, got[0].Metadata, "namespace")

	other, err := tr.Query(ctx, QueryParams{Namespace: "globex", TopK: 5, Vector: []float32{1, 0, 0}})
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, tr.Delete(ctx, "acme", []string{"doc1"}))
	assert.True(t, IsNotFound(tr.Delete(ctx, "acme", []string{"doc1"})))

	wrongDim, err := NewQdrantTransport(QdrantConfig{Host: host, Port: port, Collection: collection, Dimension: 4}, nil)
	require.NoError(t, err)
	defer wrongDim.Close()
	_, err = wrongDim.Query(ctx, QueryParams{Namespace: "acme", TopK: 1, Vector: []float32{1, 0, 0, 0}})
	assert.True(t, IsConfigurationError(err))
}
