package vectorstore

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	matches := []Match{
		{ID: "b", Score: 0.5, Metadata: map[string]any{"text": "beta", "category": "invoice"}},
		{ID: "a", Score: 1.3},
		{ID: "c", Score: 0.5, Metadata: map[string]any{"namespace": "acme"}},
		{ID: "d", Score: -0.2},
		{ID: "e", Score: float32(math.NaN())},
	}

	got := Normalize(matches, 0)
	require.Len(t, got, 5)

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, []string{got[0].ID, got[1].ID, got[2].ID, got[3].ID, got[4].ID})
	assert.Equal(t, float32(1), got[0].Score)
	assert.Equal(t, float32(0), got[3].Score)
	assert.Equal(t, float32(0), got[4].Score)

	assert.Equal(t, "beta", got[1].Text)
	assert.Equal(t, map[string]any{"category": "invoice"}, got[1].Metadata)
	assert.NotContains(t, got[2].Metadata, "namespace")
	assert.NotNil(t, got[0].Metadata, "metadata is never nil")

	for _, r := range got {
		assert.GreaterOrEqual(t, r.Score, float32(0))
		assert.LessOrEqual(t, r.Score, float32(1))
	}
}

func TestNormalize_Limit(t *testing.T) {
	matches := []Match{{ID: "a", Score: 0.1}, {ID: "b", Score: 0.9}, {ID: "c", Score: 0.5}}
	got := Normalize(matches, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestNormalize_Empty(t *testing.T) {
	got := Normalize(nil, 10)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestNormalize_NonStringTextStays(t *testing.T) {
	got := Normalize([]Match{{ID: "a", Metadata: map[string]any{"text": 42}}}, 0)
	assert.Equal(t, "", got[0].Text)
	assert.Equal(t, 42, got[0].Metadata["text"])
}
