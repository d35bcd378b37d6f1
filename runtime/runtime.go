// Package runtime is the dependency-injection root of the wellness memory
// service. It constructs the backend client, embedding provider and cache
// exactly once, hands immutable capabilities to each memory tier, and wires
// the coordinator on top. The Runtime value is owned by main: initialized
// before the first request, torn down at shutdown. There is no module-level
// state anywhere in the core.
package runtime

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/AllieRays/redis-wellness/aggregation"
	"github.com/AllieRays/redis-wellness/common"
	"github.com/AllieRays/redis-wellness/config"
	"github.com/AllieRays/redis-wellness/db"
	"github.com/AllieRays/redis-wellness/embedding"
	"github.com/AllieRays/redis-wellness/memory"
	"github.com/AllieRays/redis-wellness/tokens"
	"github.com/AllieRays/redis-wellness/validation"
)

// Runtime holds every constructed capability of the memory core.
type Runtime struct {
	Config config.Config
	Logger *logrus.Logger

	Client    *db.Client
	Provider  *embedding.CachedProvider
	Tokens    *tokens.Manager
	ShortTerm *memory.ShortTermLog
	Episodic  *memory.EpisodicMemory
	Semantic  *memory.SemanticMemory
	Procedure *memory.ProceduralMemory

	Coordinator *memory.Coordinator
	Indexer     *aggregation.Indexer
	Validator   *validation.Validator
}

// New builds the whole capability graph from configuration. Construction
// verifies the backend connection and ensures the three vector indices.
func New(ctx context.Context, cfg config.Config) (*Runtime, error) {
	logCfg := common.LoggerConfig{
		Level:   common.LogLevel(cfg.Service.LogLevel),
		Format:  cfg.Service.LogFormat,
		Service: cfg.Service.Name,
	}
	logger := common.NewLogger(logCfg)

	client, err := db.NewClient(ctx, db.Config{
		URL:         cfg.Backend.URL,
		PoolSize:    cfg.Backend.PoolMax,
		PoolTimeout: cfg.Backend.PoolAcquireTimeout,
		OpTimeout:   cfg.Backend.OpTimeout,
		Breaker: db.BreakerConfig{
			FailureThreshold: cfg.Backend.CBFailureThreshold,
			OpenDuration:     cfg.Backend.CBOpenDuration,
		},
		Logger: logger.WithField("component", "db"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize backend client: %w", err)
	}

	httpProvider := embedding.NewHTTPProvider(embedding.HTTPConfig{
		URL:     cfg.Embedding.URL,
		Model:   cfg.Embedding.Model,
		Dim:     cfg.Embedding.Dim,
		Timeout: cfg.Embedding.Timeout,
		Logger:  logger.WithField("component", "embedding"),
	})
	provider := embedding.NewCachedProvider(httpProvider, client, cfg.Embedding.CacheTTL,
		logger.WithField("component", "embedding_cache"))

	tok := tokens.NewManager(tokens.Config{
		Budget:       cfg.Tokens.Budget,
		Threshold:    cfg.Tokens.BudgetThreshold,
		MinKeep:      cfg.Tokens.MinMessagesKeep,
		RoleOverhead: cfg.Tokens.RoleOverhead,
	})

	shortTerm := memory.NewShortTermLog(client, tok, memory.ShortTermConfig{
		Cap:    cfg.Memory.ShortTermCap,
		TTL:    cfg.Memory.SessionTTL,
		Logger: logger.WithField("component", "short_term"),
	})

	episodic, err := memory.NewEpisodicMemory(ctx, client, client, provider, memory.EpisodicConfig{
		TTL:    cfg.Memory.LongTermTTL,
		Logger: logger.WithField("component", "episodic"),
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	semantic, err := memory.NewSemanticMemory(ctx, client, client, provider, memory.SemanticConfig{
		TTL:    cfg.Memory.LongTermTTL,
		Logger: logger.WithField("component", "semantic"),
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	procedural, err := memory.NewProceduralMemory(ctx, client, client, provider, memory.ProceduralConfig{
		MinScore: cfg.Memory.ProceduralMinScore,
		Scope:    cfg.Memory.ProceduralScope,
		TTL:      cfg.Memory.LongTermTTL,
		Logger:   logger.WithField("component", "procedural"),
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	coordinator := memory.NewCoordinator(shortTerm, episodic, semantic, procedural, provider,
		memory.CoordinatorConfig{
			Deadline:       cfg.Memory.CoordDeadline,
			TopKEpisodic:   cfg.Memory.TopKEpisodic,
			TopKSemantic:   cfg.Memory.TopKSemantic,
			TopKProcedural: cfg.Memory.TopKProcedural,
			Logger:         logger.WithField("component", "coordinator"),
		})

	indexer := aggregation.NewIndexer(client, aggregation.Config{
		TTL:    cfg.Memory.LongTermTTL,
		Logger: logger.WithField("component", "aggregation"),
	})

	validator := validation.NewValidator(validation.Config{
		Tolerance:          cfg.Validator.Tolerance,
		ValidThreshold:     cfg.Validator.ValidThreshold,
		ContextWindowWords: cfg.Validator.ContextWindowWords,
		Logger:             logger.WithField("component", "validation"),
	})

	return &Runtime{
		Config:      cfg,
		Logger:      logger,
		Client:      client,
		Provider:    provider,
		Tokens:      tok,
		ShortTerm:   shortTerm,
		Episodic:    episodic,
		Semantic:    semantic,
		Procedure:   procedural,
		Coordinator: coordinator,
		Indexer:     indexer,
		Validator:   validator,
	}, nil
}

// ValidateResponse checks an assistant message against the tool trace of
// the same turn: every numeric claim in the response must be backed by a
// number some tool actually produced.
func (r *Runtime) ValidateResponse(response string, trace []memory.ToolCall) validation.Report {
	outputs := make([]validation.ToolOutput, len(trace))
	for i, call := range trace {
		outputs[i] = validation.ToolOutput{Name: call.Name, OutputJSON: call.OutputJSON}
	}
	return r.Validator.Validate(response, outputs)
}

// Close releases backend resources.
func (r *Runtime) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}
