package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractGoal(t *testing.T) {
	t.Run("weight goal with unit", func(t *testing.T) {
		goal, ok := ExtractGoal("my weight goal is 125 lbs")
		require.True(t, ok)
		assert.Equal(t, "weight", goal.Metric)
		assert.Equal(t, 125.0, goal.Value)
		assert.Equal(t, "lbs", goal.Unit)
	})

	t.Run("mid-sentence and mixed case", func(t *testing.T) {
		goal, ok := ExtractGoal("I think My Daily Steps goal is 10000 steps, roughly")
		require.True(t, ok)
		assert.Equal(t, "daily steps", goal.Metric)
		assert.Equal(t, 10000.0, goal.Value)
		assert.Equal(t, "steps", goal.Unit)
	})

	t.Run("no unit", func(t *testing.T) {
		goal, ok := ExtractGoal("my steps goal is 8000")
		require.True(t, ok)
		assert.Equal(t, 8000.0, goal.Value)
		assert.Empty(t, goal.Unit)
	})

	t.Run("decimal value", func(t *testing.T) {
		goal, ok := ExtractGoal("my weight goal is 62.5 kg")
		require.True(t, ok)
		assert.Equal(t, 62.5, goal.Value)
	})

	// Conservative extraction: anything that is not the exact shape is
	// ignored — false negatives beat false positives.
	t.Run("rejections", func(t *testing.T) {
		for _, msg := range []string{
			"what is my weight goal",
			"I want to lose some weight",
			"my goal is to feel better",
			"the average was 125 lbs",
			"",
		} {
			_, ok := ExtractGoal(msg)
			assert.False(t, ok, "must not extract from %q", msg)
		}
	})
}

func TestGoalFactRendering(t *testing.T) {
	goal := GoalFact{Metric: "weight", Value: 125, Unit: "lbs"}

	assert.Equal(t, "User's weight goal is 125 lbs", goal.Description())

	meta := goal.Metadata()
	assert.Equal(t, "weight", meta["metric"])
	assert.Equal(t, 125.0, meta["value"])
	assert.Equal(t, "lbs", meta["unit"])
}

func TestGoalFactMetadataOmitsEmptyUnit(t *testing.T) {
	goal := GoalFact{Metric: "steps", Value: 8000}
	meta := goal.Metadata()
	_, hasUnit := meta["unit"]
	assert.False(t, hasUnit)
	assert.Equal(t, "User's steps goal is 8000", goal.Description())
}
