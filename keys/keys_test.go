package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestKeyLayout pins the exact layout; existing deployments depend on it.
func TestKeyLayout(t *testing.T) {
	t.Run("short term", func(t *testing.T) {
		assert.Equal(t, "short_term:sess-1", ShortTerm("sess-1"))
	})

	t.Run("episodic", func(t *testing.T) {
		assert.Equal(t, "episodic:u1:goal:1700000000", Episodic("u1", "goal", "1700000000"))
	})

	t.Run("semantic", func(t *testing.T) {
		assert.Equal(t, "semantic:nutrition:guideline:1700000000", Semantic("nutrition", "guideline", "1700000000"))
	})

	t.Run("procedural", func(t *testing.T) {
		assert.Equal(t, "procedural:ab12cd34:1700000000", Procedural("ab12cd34", "1700000000"))
	})

	t.Run("embedding cache", func(t *testing.T) {
		assert.Equal(t, "embedding_cache:deadbeef", EmbeddingCache("deadbeef"))
	})

	t.Run("aggregation", func(t *testing.T) {
		assert.Equal(t, "agg:u1:days", AggDays("u1"))
		assert.Equal(t, "agg:u1:by_date", AggByDate("u1"))
		assert.Equal(t, "agg:u1:item:2024-03-01-run-07:30:00", AggItem("u1", "2024-03-01-run-07:30:00"))
		assert.Equal(t, "agg:u1:item:*", AggItemPattern("u1"))
	})
}

func TestIndexNames(t *testing.T) {
	assert.Equal(t, "episodic_idx", IndexName(TierEpisodic))
	assert.Equal(t, "semantic_idx", IndexName(TierSemantic))
	assert.Equal(t, "procedural_idx", IndexName(TierProcedural))

	assert.Equal(t, "episodic:", TierPrefix(TierEpisodic))
	assert.Equal(t, "semantic:", TierPrefix(TierSemantic))
	assert.Equal(t, "procedural:", TierPrefix(TierProcedural))
}

func TestUserPattern(t *testing.T) {
	assert.Equal(t, "episodic:u1:*", UserPattern(TierEpisodic, "u1"))
	assert.Equal(t, "procedural:*", UserPattern(TierProcedural, "u1"))
	assert.Equal(t, "", UserPattern(TierSemantic, "u1"))
}
