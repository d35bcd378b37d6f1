package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AllieRays/redis-wellness/db"
	"github.com/AllieRays/redis-wellness/embedding"
)

func newSemanticUnderTest(t *testing.T) (*SemanticMemory, *db.MockVectorIndex, *embedding.MockProvider) {
	t.Helper()

	kv, _ := newTestKV(t)
	vec := db.NewMockVectorIndex()
	vec.Mirror = kv
	embed := &embedding.MockProvider{DimSize: 8}

	mem, err := NewSemanticMemory(context.Background(), kv, vec, embed, SemanticConfig{TTL: time.Hour})
	require.NoError(t, err)
	return mem, vec, embed
}

func TestSemanticStoreRetrieve(t *testing.T) {
	mem, _, embed := newSemanticUnderTest(t)
	ctx := context.Background()

	embed.Fixed = map[string][]float32{
		"Resting heart rate for most adults falls between 60 and 100 bpm.\nClinical reference range.": {1, 0, 0, 0, 0, 0, 0, 0},
		"what is a normal resting heart rate": {1, 0, 0, 0, 0, 0, 0, 0},
	}

	err := mem.Store(ctx,
		"Resting heart rate for most adults falls between 60 and 100 bpm.",
		"reference_range", "cardio", "Clinical reference range.", "clinical_reference", nil)
	require.NoError(t, err)

	res, err := mem.Retrieve(ctx, "what is a normal resting heart rate", 3, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Contains(t, res.Context, "60 and 100 bpm")
}

func TestSemanticCategoryFilter(t *testing.T) {
	mem, _, _ := newSemanticUnderTest(t)
	ctx := context.Background()

	require.NoError(t, mem.Store(ctx, "cardio fact", "guideline", "cardio", "", "src", nil))
	require.NoError(t, mem.Store(ctx, "strength fact", "guideline", "strength", "", "src", nil))

	res, err := mem.Retrieve(ctx, "training facts", 10, "strength")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, "strength fact", res.Context)
}

func TestSemanticValidation(t *testing.T) {
	mem, _, _ := newSemanticUnderTest(t)

	err := mem.Store(context.Background(), "", "guideline", "cardio", "", "", nil)
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, TierSemantic, werr.Tier)
}

func TestSemanticSeedIfEmpty(t *testing.T) {
	mem, _, _ := newSemanticUnderTest(t)
	ctx := context.Background()

	n, err := mem.SeedIfEmpty(ctx)
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	count, err := mem.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(n), count)

	t.Run("second seed is a no-op", func(t *testing.T) {
		again, err := mem.SeedIfEmpty(ctx)
		require.NoError(t, err)
		assert.Zero(t, again)

		after, err := mem.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, count, after)
	})
}

func TestLoadSeedFacts(t *testing.T) {
	facts, err := LoadSeedFacts()
	require.NoError(t, err)
	require.NotEmpty(t, facts)
	for _, f := range facts {
		assert.NotEmpty(t, f.Fact)
		assert.NotEmpty(t, f.FactType)
		assert.NotEmpty(t, f.Category)
	}
}
