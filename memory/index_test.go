package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agircc/agir-learning-sub000/core"
	"github.com/agircc/agir-learning-sub000/embedding"
)

func embed(t *testing.T, text string) []float32 {
	t.Helper()
	vec, err := embedding.NewMockEmbedder().Embed(context.Background(), text)
	require.NoError(t, err)
	return vec
}

func TestIndex_SearchRanksBySimilarity(t *testing.T) {
	cooking := &core.Memory{ID: "m1", Content: "cooking pasta", Embedding: embed(t, "cooking pasta with tomato sauce")}
	hiking := &core.Memory{ID: "m2", Content: "hiking", Embedding: embed(t, "hiking up a mountain trail")}

	idx := NewIndex([]*core.Memory{cooking, hiking})
	assert.Equal(t, 2, idx.Len())

	results := idx.Search(embed(t, "pasta tomato sauce cooking"), 1)
	require.Len(t, results, 1)
	assert.Equal(t, "m1", results[0].ID)

	results = idx.Search(embed(t, "mountain trail hike"), 2)
	require.Len(t, results, 2)
	assert.Equal(t, "m2", results[0].ID)
}

func TestIndex_SkipsRecordsWithoutEmbedding(t *testing.T) {
	idx := NewIndex([]*core.Memory{
		{ID: "m1", Embedding: embed(t, "something")},
		{ID: "m2"},
	})
	assert.Equal(t, 1, idx.Len())
}

func TestIndex_MismatchedDimensionsIgnored(t *testing.T) {
	idx := NewIndex([]*core.Memory{{ID: "m1", Embedding: []float32{1, 0}}})
	results := idx.Search([]float32{1, 0, 0}, 5)
	assert.Empty(t, results)
}
