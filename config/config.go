// Package config provides configuration loading and management for the
// wellness memory service. Configuration follows 12-factor conventions:
// every knob has a compiled-in default, and every knob except the service
// name and the per-tier top-k defaults has an environment override with the
// WELLNESS_ prefix; the CLI layers viper config files and flags on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig provides utilities for loading configuration from environment variables
type EnvConfig struct {
	prefix string // Optional prefix for all environment variables
}

// NewEnvConfig creates a new environment configuration loader
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{
		prefix: prefix,
	}
}

// GetString retrieves a string value from environment with optional default
func (ec *EnvConfig) GetString(key, defaultValue string) string {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		return value
	}
	return defaultValue
}

// MustGetString retrieves a required string value from environment or panics
func (ec *EnvConfig) MustGetString(key string) string {
	fullKey := ec.buildKey(key)
	value := os.Getenv(fullKey)
	if value == "" {
		panic(fmt.Sprintf("required environment variable %s not set", fullKey))
	}
	return value
}

// GetInt retrieves an integer value from environment with optional default
func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetFloat retrieves a float value from environment with optional default
func (ec *EnvConfig) GetFloat(key string, defaultValue float64) float64 {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetBool retrieves a boolean value from environment with optional default
func (ec *EnvConfig) GetBool(key string, defaultValue bool) bool {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetDuration retrieves a duration value from environment with optional default
func (ec *EnvConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// buildKey builds the full environment variable key with optional prefix
func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + strings.ToUpper(key)
	}
	return strings.ToUpper(key)
}

// envPrefix is the environment namespace for every knob below.
const envPrefix = "WELLNESS"

// ProceduralScope selects whether procedural patterns are retrieved per user
// or shared across all users.
type ProceduralScope string

const (
	ProceduralScopeUser   ProceduralScope = "user"
	ProceduralScopeGlobal ProceduralScope = "global"
)

// BackendConfig configures the KV+vector backend connection.
type BackendConfig struct {
	URL                string        // redis:// connection URL
	PoolMax            int           // maximum pooled connections
	PoolAcquireTimeout time.Duration // wait bound for a free connection
	OpTimeout          time.Duration // per-operation deadline
	CBFailureThreshold int           // consecutive failures before the breaker opens
	CBOpenDuration     time.Duration // breaker cooldown before a half-open probe
}

// EmbeddingConfig configures the embedding provider and its cache.
type EmbeddingConfig struct {
	URL      string        // provider endpoint (Ollama-compatible /api/embed)
	Model    string        // embedding model name
	Dim      int           // vector dimensionality, shared by all tiers
	Timeout  time.Duration // per-call provider timeout
	CacheTTL time.Duration // embedding cache entry lifetime
}

// MemoryConfig configures the four memory tiers and the coordinator.
type MemoryConfig struct {
	DefaultUser        string          // the single well-known user id
	SessionTTL         time.Duration   // short-term log lifetime
	LongTermTTL        time.Duration   // episodic/semantic/procedural lifetime
	ShortTermCap       int             // hard cap on retained messages
	ProceduralMinScore float64         // storage floor for tool patterns
	ProceduralScope    ProceduralScope // user-scoped or shared retrieval
	TopKEpisodic       int             // default k for episodic retrieval
	TopKSemantic       int             // default k for semantic retrieval
	TopKProcedural     int             // default k for procedural retrieval
	CoordDeadline      time.Duration   // bound on a whole retrieve_context call
}

// TokenConfig configures the token manager.
type TokenConfig struct {
	Budget          int     // model context budget in tokens
	BudgetThreshold float64 // trim target as a fraction of the budget
	MinMessagesKeep int     // messages never trimmed away
	RoleOverhead    int     // per-message role envelope tokens
}

// ValidatorConfig configures the numeric response validator.
type ValidatorConfig struct {
	Tolerance          float64 // relative tolerance for a numeric match
	ValidThreshold     float64 // minimum score for a valid response
	ContextWindowWords int     // words captured around each number
}

// ServiceConfig contains service identity and logging settings.
type ServiceConfig struct {
	Name      string
	LogLevel  string
	LogFormat string
}

// Config aggregates every knob of the memory core.
type Config struct {
	Service   ServiceConfig
	Backend   BackendConfig
	Embedding EmbeddingConfig
	Memory    MemoryConfig
	Tokens    TokenConfig
	Validator ValidatorConfig
}

// Default returns the compiled-in defaults.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			Name:      "wellness-memory",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Backend: BackendConfig{
			URL:                "redis://localhost:6379/0",
			PoolMax:            10,
			PoolAcquireTimeout: 2 * time.Second,
			OpTimeout:          2 * time.Second,
			CBFailureThreshold: 5,
			CBOpenDuration:     30 * time.Second,
		},
		Embedding: EmbeddingConfig{
			URL:      "http://localhost:11434/api/embed",
			Model:    "nomic-embed-text",
			Dim:      768,
			Timeout:  10 * time.Second,
			CacheTTL: 24 * time.Hour,
		},
		Memory: MemoryConfig{
			DefaultUser:        "wellness_user",
			SessionTTL:         time.Hour,
			LongTermTTL:        30 * 24 * time.Hour,
			ShortTermCap:       50,
			ProceduralMinScore: 0.7,
			ProceduralScope:    ProceduralScopeGlobal,
			TopKEpisodic:       3,
			TopKSemantic:       3,
			TopKProcedural:     3,
			CoordDeadline:      5 * time.Second,
		},
		Tokens: TokenConfig{
			Budget:          4000,
			BudgetThreshold: 0.8,
			MinMessagesKeep: 2,
			RoleOverhead:    4,
		},
		Validator: ValidatorConfig{
			Tolerance:          0.1,
			ValidThreshold:     0.8,
			ContextWindowWords: 5,
		},
	}
}

// Load returns the defaults overridden by WELLNESS_* environment variables.
func Load() Config {
	env := NewEnvConfig(envPrefix)
	cfg := Default()

	cfg.Service.LogLevel = env.GetString("LOG_LEVEL", cfg.Service.LogLevel)
	cfg.Service.LogFormat = env.GetString("LOG_FORMAT", cfg.Service.LogFormat)

	cfg.Backend.URL = env.GetString("REDIS_URL", cfg.Backend.URL)
	cfg.Backend.PoolMax = env.GetInt("POOL_MAX", cfg.Backend.PoolMax)
	cfg.Backend.PoolAcquireTimeout = env.GetDuration("POOL_ACQUIRE_TIMEOUT", cfg.Backend.PoolAcquireTimeout)
	cfg.Backend.OpTimeout = env.GetDuration("OP_TIMEOUT", cfg.Backend.OpTimeout)
	cfg.Backend.CBFailureThreshold = env.GetInt("CB_FAILURE_THRESHOLD", cfg.Backend.CBFailureThreshold)
	cfg.Backend.CBOpenDuration = env.GetDuration("CB_OPEN_DURATION", cfg.Backend.CBOpenDuration)

	cfg.Embedding.URL = env.GetString("EMBEDDING_URL", cfg.Embedding.URL)
	cfg.Embedding.Model = env.GetString("EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.Dim = env.GetInt("VECTOR_DIM", cfg.Embedding.Dim)
	cfg.Embedding.Timeout = env.GetDuration("EMBEDDING_TIMEOUT", cfg.Embedding.Timeout)
	cfg.Embedding.CacheTTL = env.GetDuration("TTL_EMBEDDING_CACHE", cfg.Embedding.CacheTTL)

	cfg.Memory.DefaultUser = env.GetString("DEFAULT_USER", cfg.Memory.DefaultUser)
	cfg.Memory.SessionTTL = env.GetDuration("TTL_SESSION", cfg.Memory.SessionTTL)
	cfg.Memory.LongTermTTL = env.GetDuration("TTL_LONG", cfg.Memory.LongTermTTL)
	cfg.Memory.ShortTermCap = env.GetInt("SHORT_TERM_CAP", cfg.Memory.ShortTermCap)
	cfg.Memory.ProceduralMinScore = env.GetFloat("PROCEDURAL_MIN_SCORE", cfg.Memory.ProceduralMinScore)
	cfg.Memory.CoordDeadline = env.GetDuration("COORD_DEADLINE", cfg.Memory.CoordDeadline)
	if scope := env.GetString("PROCEDURAL_SCOPE", ""); scope != "" {
		switch ProceduralScope(scope) {
		case ProceduralScopeUser, ProceduralScopeGlobal:
			cfg.Memory.ProceduralScope = ProceduralScope(scope)
		}
	}

	cfg.Tokens.Budget = env.GetInt("TOKEN_BUDGET", cfg.Tokens.Budget)
	cfg.Tokens.BudgetThreshold = env.GetFloat("BUDGET_THRESHOLD", cfg.Tokens.BudgetThreshold)
	cfg.Tokens.MinMessagesKeep = env.GetInt("MIN_MESSAGES_KEEP", cfg.Tokens.MinMessagesKeep)
	cfg.Tokens.RoleOverhead = env.GetInt("ROLE_OVERHEAD_TOKENS", cfg.Tokens.RoleOverhead)

	cfg.Validator.Tolerance = env.GetFloat("NUMERIC_TOLERANCE", cfg.Validator.Tolerance)
	cfg.Validator.ValidThreshold = env.GetFloat("NUMERIC_VALID_THRESHOLD", cfg.Validator.ValidThreshold)
	cfg.Validator.ContextWindowWords = env.GetInt("CONTEXT_WINDOW_WORDS", cfg.Validator.ContextWindowWords)

	return cfg
}
