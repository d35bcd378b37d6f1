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

func newEpisodicUnderTest(t *testing.T) (*EpisodicMemory, *db.MockVectorIndex, *embedding.MockProvider) {
	t.Helper()

	kv, _ := newTestKV(t)
	vec := db.NewMockVectorIndex()
	vec.Mirror = kv
	embed := &embedding.MockProvider{DimSize: 8}

	mem, err := NewEpisodicMemory(context.Background(), kv, vec, embed, EpisodicConfig{TTL: time.Hour})
	require.NoError(t, err)
	return mem, vec, embed
}

// TestEpisodicStoreRetrieve covers the goal scenario: a stored weight goal
// is retrieved by a semantic query and rendered with its metric metadata.
func TestEpisodicStoreRetrieve(t *testing.T) {
	mem, _, embed := newEpisodicUnderTest(t)
	ctx := context.Background()

	// Make the stored description and the query embed identically so the
	// mock's cosine ranking puts this record first.
	embed.Fixed = map[string][]float32{
		"User's weight goal is 125 lbs": {1, 0, 0, 0, 0, 0, 0, 0},
		"what's my weight goal":         {1, 0, 0, 0, 0, 0, 0, 0},
	}

	err := mem.Store(ctx, "u1", "goal", "User's weight goal is 125 lbs", map[string]interface{}{
		"metric": "weight",
		"value":  125,
		"unit":   "lbs",
	})
	require.NoError(t, err)

	res, err := mem.Retrieve(ctx, "u1", "what's my weight goal", 3)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.Count, 1)
	assert.Contains(t, res.Context, "Weight goal: 125 lbs")
	require.NotEmpty(t, res.Records)
	assert.Equal(t, "weight", res.Records[0].Metric)
	assert.Equal(t, 125.0, res.Records[0].Value)
	assert.Equal(t, "lbs", res.Records[0].Unit)
}

func TestEpisodicRenderFallbacks(t *testing.T) {
	t.Run("goal text metadata", func(t *testing.T) {
		rec := episodicRecordFromFields(map[string]string{
			"description": "wants to run a 10k",
			"metadata":    `{"goal_text":"run a 10k by June"}`,
		})
		assert.Equal(t, "Goal: run a 10k by June", rec.render())
	})

	t.Run("unknown metadata falls back to description", func(t *testing.T) {
		rec := episodicRecordFromFields(map[string]string{
			"description": "prefers morning workouts",
			"metadata":    `{"anything":"else"}`,
		})
		assert.Equal(t, "prefers morning workouts", rec.render())
	})

	t.Run("corrupt metadata falls back to description", func(t *testing.T) {
		rec := episodicRecordFromFields(map[string]string{
			"description": "prefers morning workouts",
			"metadata":    `{not json`,
		})
		assert.Equal(t, "prefers morning workouts", rec.render())
	})
}

func TestEpisodicUserScoping(t *testing.T) {
	mem, _, _ := newEpisodicUnderTest(t)
	ctx := context.Background()

	require.NoError(t, mem.Store(ctx, "u1", "goal", "wants to lose weight", nil))
	require.NoError(t, mem.Store(ctx, "u2", "goal", "wants to gain muscle", nil))

	res, err := mem.Retrieve(ctx, "u1", "goals", 10)
	require.NoError(t, err)
	for _, rec := range res.Records {
		assert.Equal(t, "u1", rec.UserID, "records must never cross users")
	}
}

func TestEpisodicStoreValidation(t *testing.T) {
	mem, _, _ := newEpisodicUnderTest(t)

	err := mem.Store(context.Background(), "u1", "", "desc", nil)
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, TierEpisodic, werr.Tier)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEpisodicEmbeddingFailure(t *testing.T) {
	mem, _, embed := newEpisodicUnderTest(t)
	ctx := context.Background()
	embed.Err = embedding.ErrUnavailable

	t.Run("store surfaces a write error", func(t *testing.T) {
		err := mem.Store(ctx, "u1", "goal", "desc", nil)
		var werr *WriteError
		require.ErrorAs(t, err, &werr)
		assert.Equal(t, TierEpisodic, werr.Tier)
	})

	t.Run("retrieve degrades to empty", func(t *testing.T) {
		res, err := mem.Retrieve(ctx, "u1", "query", 3)
		require.NoError(t, err)
		assert.Zero(t, res.Count)
	})
}

func TestEpisodicCountAndClear(t *testing.T) {
	mem, _, _ := newEpisodicUnderTest(t)
	ctx := context.Background()

	require.NoError(t, mem.Store(ctx, "u1", "goal", "goal one", nil))
	require.NoError(t, mem.Store(ctx, "u1", "preference", "likes cycling", nil))
	require.NoError(t, mem.Store(ctx, "u2", "goal", "other user", nil))

	n, err := mem.CountForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, mem.ClearUser(ctx, "u1"))
	n, err = mem.CountForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = mem.CountForUser(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "clearing one user must not touch another")
}
