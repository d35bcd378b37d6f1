package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "redis://localhost:6379/0", cfg.Backend.URL)
	assert.Equal(t, 768, cfg.Embedding.Dim)
	assert.Equal(t, time.Hour, cfg.Memory.SessionTTL)
	assert.Equal(t, 0.7, cfg.Memory.ProceduralMinScore)
	assert.Equal(t, ProceduralScopeGlobal, cfg.Memory.ProceduralScope)
	assert.Equal(t, 0.1, cfg.Validator.Tolerance)
	assert.Equal(t, 0.8, cfg.Validator.ValidThreshold)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WELLNESS_REDIS_URL", "redis://backend:6380/1")
	t.Setenv("WELLNESS_TTL_SESSION", "30m")
	t.Setenv("WELLNESS_PROCEDURAL_MIN_SCORE", "0.9")
	t.Setenv("WELLNESS_PROCEDURAL_SCOPE", "user")
	t.Setenv("WELLNESS_TOKEN_BUDGET", "8000")

	cfg := Load()

	assert.Equal(t, "redis://backend:6380/1", cfg.Backend.URL)
	assert.Equal(t, 30*time.Minute, cfg.Memory.SessionTTL)
	assert.Equal(t, 0.9, cfg.Memory.ProceduralMinScore)
	assert.Equal(t, ProceduralScopeUser, cfg.Memory.ProceduralScope)
	assert.Equal(t, 8000, cfg.Tokens.Budget)
}

func TestLoadIgnoresInvalidValues(t *testing.T) {
	t.Setenv("WELLNESS_TOKEN_BUDGET", "not-a-number")
	t.Setenv("WELLNESS_TTL_SESSION", "soon")
	t.Setenv("WELLNESS_PROCEDURAL_SCOPE", "everyone")

	cfg := Load()
	def := Default()

	assert.Equal(t, def.Tokens.Budget, cfg.Tokens.Budget)
	assert.Equal(t, def.Memory.SessionTTL, cfg.Memory.SessionTTL)
	assert.Equal(t, def.Memory.ProceduralScope, cfg.Memory.ProceduralScope)
}

func TestEnvConfigPrefix(t *testing.T) {
	t.Setenv("APP_PORT", "9090")

	env := NewEnvConfig("APP")
	assert.Equal(t, 9090, env.GetInt("PORT", 8080))
	assert.Equal(t, 8080, env.GetInt("MISSING", 8080))

	require.NotPanics(t, func() {
		_ = env.GetString("MISSING", "fallback")
	})
}
