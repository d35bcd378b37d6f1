package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AllieRays/redis-wellness/embedding"
)

// ShortTermStore is the short-term capability the coordinator consumes.
type ShortTermStore interface {
	Append(ctx context.Context, session string, msg Message) error
	TrimToBudget(ctx context.Context, session string, budget int) ([]Message, ShortTermStats, error)
	Count(ctx context.Context, session string) (int64, error)
	Clear(ctx context.Context, session string) error
}

// EpisodicStore is the episodic capability the coordinator consumes.
type EpisodicStore interface {
	Store(ctx context.Context, user, eventType, description string, metadata map[string]interface{}) error
	Retrieve(ctx context.Context, user, query string, k int) (EpisodicResult, error)
	CountForUser(ctx context.Context, user string) (int, error)
	ClearUser(ctx context.Context, user string) error
}

// SemanticStore is the semantic capability the coordinator consumes.
type SemanticStore interface {
	Retrieve(ctx context.Context, query string, k int, categoryFilter string) (SemanticResult, error)
	Count(ctx context.Context) (int64, error)
}

// ProceduralStore is the procedural capability the coordinator consumes.
type ProceduralStore interface {
	Record(ctx context.Context, user, query string, toolsUsed []string, successScore float64, executionTimeMS int64) (bool, error)
	Retrieve(ctx context.Context, user, query string, k int) (ProceduralResult, error)
	Count(ctx context.Context) (int64, error)
	ClearUser(ctx context.Context, user string) error
}

// CacheStatsProvider exposes embedding-cache statistics for memory_stats.
type CacheStatsProvider interface {
	Stats() embedding.Stats
}

var (
	_ ShortTermStore  = (*ShortTermLog)(nil)
	_ EpisodicStore   = (*EpisodicMemory)(nil)
	_ SemanticStore   = (*SemanticMemory)(nil)
	_ ProceduralStore = (*ProceduralMemory)(nil)
)

// BundleStats reports how a retrieval went: per-tier durations and the tiers
// that degraded to empty because of an error.
type BundleStats struct {
	TierDurationMS map[Tier]int64 `json:"tier_duration_ms"`
	Degraded       []Tier         `json:"degraded,omitempty"`
	TotalMS        int64          `json:"total_ms"`
}

// ContextBundle is the per-turn context assembled from all tiers.
type ContextBundle struct {
	ShortTerm      string           `json:"short_term,omitempty"`
	ShortTermStats ShortTermStats   `json:"short_term_stats"`
	Episodic       EpisodicResult   `json:"episodic"`
	Semantic       *SemanticResult  `json:"semantic,omitempty"`
	Procedural     ProceduralResult `json:"procedural"`
	Stats          BundleStats      `json:"stats"`
}

// RetrieveOptions selects what a retrieval covers. Zero values fall back to
// the coordinator's configured defaults; a negative TopKSemantic skips the
// semantic tier even when the default enables it.
type RetrieveOptions struct {
	Session        string
	User           string
	TopKEpisodic   int
	TopKSemantic   int
	TopKProcedural int
	TokenBudget    int
}

// ToolCall is one executed tool of a turn's trace.
type ToolCall struct {
	Name       string `json:"name"`
	Input      string `json:"input"`
	OutputJSON string `json:"output_json"`
}

// TurnInput carries everything store_turn persists about one agent turn.
type TurnInput struct {
	User             string
	Session          string
	UserMessage      string
	AssistantMessage string
	ToolTrace        []ToolCall
	SuccessScore     float64
	ExecutionTimeMS  int64
}

// TierOutcome reports one tier's write result.
type TierOutcome struct {
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StoreReport is the per-tier outcome of store_turn. Episodic and Procedural
// are nil when the turn gave that tier nothing to store.
type StoreReport struct {
	ShortTerm  TierOutcome  `json:"short_term"`
	Episodic   *TierOutcome `json:"episodic,omitempty"`
	Procedural *TierOutcome `json:"procedural,omitempty"`
}

// Stats is the memory_stats output: record counts per tier plus the
// embedding cache counters.
type Stats struct {
	ShortTermMessages int64           `json:"short_term_messages"`
	EpisodicRecords   int             `json:"episodic_records"`
	SemanticRecords   int64           `json:"semantic_records"`
	ProceduralRecords int64           `json:"procedural_records"`
	EmbeddingCache    embedding.Stats `json:"embedding_cache"`
}

// CoordinatorConfig configures the Coordinator.
type CoordinatorConfig struct {
	// Deadline bounds a whole retrieve_context call; tiers still pending at
	// the deadline degrade to empty.
	Deadline time.Duration
	// TopKEpisodic/TopKSemantic/TopKProcedural are the retrieval defaults.
	TopKEpisodic   int
	TopKSemantic   int
	TopKProcedural int
	// Logger receives degradations at warn level. Optional.
	Logger *logrus.Entry
}

// Coordinator is the single entry point of the memory subsystem: one call to
// assemble a turn's context, one call to persist the turn's outcome.
type Coordinator struct {
	shortTerm  ShortTermStore
	episodic   EpisodicStore
	semantic   SemanticStore
	procedural ProceduralStore
	cacheStats CacheStatsProvider

	deadline       time.Duration
	topKEpisodic   int
	topKSemantic   int
	topKProcedural int
	log            *logrus.Entry
}

// NewCoordinator wires the four tiers together. cacheStats may be nil when
// no cache statistics are available.
func NewCoordinator(shortTerm ShortTermStore, episodic EpisodicStore, semantic SemanticStore, procedural ProceduralStore, cacheStats CacheStatsProvider, cfg CoordinatorConfig) *Coordinator {
	if cfg.Deadline <= 0 {
		cfg.Deadline = 5 * time.Second
	}
	if cfg.TopKEpisodic <= 0 {
		cfg.TopKEpisodic = 3
	}
	if cfg.TopKSemantic < 0 {
		cfg.TopKSemantic = 0
	}
	if cfg.TopKProcedural <= 0 {
		cfg.TopKProcedural = 3
	}
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = logrus.NewEntry(l)
	}
	return &Coordinator{
		shortTerm:      shortTerm,
		episodic:       episodic,
		semantic:       semantic,
		procedural:     procedural,
		cacheStats:     cacheStats,
		deadline:       cfg.Deadline,
		topKEpisodic:   cfg.TopKEpisodic,
		topKSemantic:   cfg.TopKSemantic,
		topKProcedural: cfg.TopKProcedural,
		log:            log,
	}
}

// RetrieveContext assembles the context bundle for a query. The tier reads
// run concurrently under the coordinator deadline. Retrieval is best-effort:
// a failing tier is logged, flagged in the stats and returned as an empty
// slice; the call errors only when every tier fails.
func (c *Coordinator) RetrieveContext(ctx context.Context, query string, opts RetrieveOptions) (*ContextBundle, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidInput)
	}
	opts = c.fillDefaults(opts)

	start := time.Now()

	// Tier goroutines write here, never into the returned bundle: a tier
	// still draining after the deadline must not race the caller.
	var (
		mu        sync.Mutex
		shortText string
		shortStat ShortTermStats
		episodic  EpisodicResult
		semantic  *SemanticResult
		proc      ProceduralResult
		durations = make(map[Tier]int64)
	)

	tasks := []tierTask{
		{TierShortTerm, func(ctx context.Context) error {
			t0 := time.Now()
			msgs, stats, err := c.shortTerm.TrimToBudget(ctx, opts.Session, opts.TokenBudget)
			mu.Lock()
			defer mu.Unlock()
			durations[TierShortTerm] = time.Since(t0).Milliseconds()
			if err != nil {
				return err
			}
			shortText = Transcript(msgs)
			shortStat = stats
			return nil
		}},
		{TierEpisodic, func(ctx context.Context) error {
			t0 := time.Now()
			res, err := c.episodic.Retrieve(ctx, opts.User, query, opts.TopKEpisodic)
			mu.Lock()
			defer mu.Unlock()
			durations[TierEpisodic] = time.Since(t0).Milliseconds()
			if err != nil {
				return err
			}
			episodic = res
			return nil
		}},
		{TierProcedural, func(ctx context.Context) error {
			t0 := time.Now()
			res, err := c.procedural.Retrieve(ctx, opts.User, query, opts.TopKProcedural)
			mu.Lock()
			defer mu.Unlock()
			durations[TierProcedural] = time.Since(t0).Milliseconds()
			if err != nil {
				return err
			}
			proc = res
			return nil
		}},
	}
	if opts.TopKSemantic > 0 {
		tasks = append(tasks, tierTask{TierSemantic, func(ctx context.Context) error {
			t0 := time.Now()
			res, err := c.semantic.Retrieve(ctx, query, opts.TopKSemantic, "")
			mu.Lock()
			defer mu.Unlock()
			durations[TierSemantic] = time.Since(t0).Milliseconds()
			if err != nil {
				return err
			}
			semantic = &res
			return nil
		}})
	}

	results := gather(ctx, c.deadline, tasks)

	mu.Lock()
	bundle := &ContextBundle{
		ShortTerm:      shortText,
		ShortTermStats: shortStat,
		Episodic:       episodic,
		Semantic:       semantic,
		Procedural:     proc,
		Stats:          BundleStats{TierDurationMS: make(map[Tier]int64, len(durations))},
	}
	for tier, d := range durations {
		bundle.Stats.TierDurationMS[tier] = d
	}
	mu.Unlock()

	var tierErrs []error
	for tier, err := range results {
		if err == nil {
			continue
		}
		c.log.WithError(err).WithField("tier", tier).Warn("tier retrieval degraded to empty")
		bundle.Stats.Degraded = append(bundle.Stats.Degraded, tier)
		tierErrs = append(tierErrs, err)
	}
	bundle.Stats.TotalMS = time.Since(start).Milliseconds()

	// The procedural slice always carries the query classification, even
	// when the tier itself degraded.
	if bundle.Procedural.QueryType == "" {
		bundle.Procedural.QueryType = ClassifyQuery(query)
	}

	if len(tierErrs) == len(tasks) {
		return nil, fmt.Errorf("context retrieval failed on every tier: %w", errors.Join(tierErrs...))
	}
	return bundle, nil
}

func (c *Coordinator) fillDefaults(opts RetrieveOptions) RetrieveOptions {
	if opts.TopKEpisodic <= 0 {
		opts.TopKEpisodic = c.topKEpisodic
	}
	if opts.TopKSemantic == 0 {
		opts.TopKSemantic = c.topKSemantic
	}
	if opts.TopKProcedural <= 0 {
		opts.TopKProcedural = c.topKProcedural
	}
	return opts
}

// StoreTurn persists one agent turn. Storage is strict: every applicable
// tier is attempted, partial successes are reported per tier, and any tier
// failure is returned as an error alongside the report.
//
// The short-term log always receives both messages. The episodic tier is
// written only when the user message contains a recognizable goal statement.
// The procedural tier is written only when tools ran, and skips itself below
// the success-score floor.
func (c *Coordinator) StoreTurn(ctx context.Context, turn TurnInput) (StoreReport, error) {
	report := StoreReport{}

	if turn.Session == "" || turn.User == "" {
		return report, fmt.Errorf("%w: session and user are required", ErrInvalidInput)
	}
	if turn.UserMessage == "" || turn.AssistantMessage == "" {
		return report, fmt.Errorf("%w: both turn messages are required", ErrInvalidInput)
	}

	var tierErrs []error

	// Short-term: both messages, in conversation order.
	if err := c.shortTerm.Append(ctx, turn.Session, NewMessage(RoleUser, turn.UserMessage)); err != nil {
		report.ShortTerm = TierOutcome{Error: err.Error()}
		tierErrs = append(tierErrs, err)
	} else if err := c.shortTerm.Append(ctx, turn.Session, NewMessage(RoleAssistant, turn.AssistantMessage)); err != nil {
		report.ShortTerm = TierOutcome{Error: err.Error()}
		tierErrs = append(tierErrs, err)
	} else {
		report.ShortTerm = TierOutcome{OK: true}
	}

	// Episodic: conservative fact extraction from the user message.
	if goal, ok := ExtractGoal(turn.UserMessage); ok {
		outcome := TierOutcome{OK: true}
		if err := c.episodic.Store(ctx, turn.User, "goal", goal.Description(), goal.Metadata()); err != nil {
			outcome = TierOutcome{Error: err.Error()}
			tierErrs = append(tierErrs, err)
		}
		report.Episodic = &outcome
	}

	// Procedural: only turns that actually ran tools.
	if len(turn.ToolTrace) > 0 {
		tools := make([]string, len(turn.ToolTrace))
		for i, call := range turn.ToolTrace {
			tools[i] = call.Name
		}
		outcome := TierOutcome{}
		stored, err := c.procedural.Record(ctx, turn.User, turn.UserMessage, tools, turn.SuccessScore, turn.ExecutionTimeMS)
		switch {
		case err != nil:
			outcome.Error = err.Error()
			tierErrs = append(tierErrs, err)
		case stored:
			outcome.OK = true
		default:
			outcome.Skipped = true
		}
		report.Procedural = &outcome
	}

	if len(tierErrs) > 0 {
		return report, errors.Join(tierErrs...)
	}
	return report, nil
}

// MemoryStats returns record counts per tier and the embedding cache
// counters. Counting failures zero the affected tier rather than failing
// the whole call.
func (c *Coordinator) MemoryStats(ctx context.Context, user, session string) Stats {
	stats := Stats{}

	if n, err := c.shortTerm.Count(ctx, session); err == nil {
		stats.ShortTermMessages = n
	}
	if n, err := c.episodic.CountForUser(ctx, user); err == nil {
		stats.EpisodicRecords = n
	}
	if n, err := c.semantic.Count(ctx); err == nil {
		stats.SemanticRecords = n
	}
	if n, err := c.procedural.Count(ctx); err == nil {
		stats.ProceduralRecords = n
	}
	if c.cacheStats != nil {
		stats.EmbeddingCache = c.cacheStats.Stats()
	}
	return stats
}

// ClearSession removes one session's short-term log. Long-term tiers are
// untouched.
func (c *Coordinator) ClearSession(ctx context.Context, session string) error {
	return c.shortTerm.Clear(ctx, session)
}

// ClearUser removes a user's short-term sessions, episodic facts and
// procedural patterns. Semantic knowledge is shared and never cleared here.
func (c *Coordinator) ClearUser(ctx context.Context, user string, sessions ...string) error {
	var errs []error
	for _, session := range sessions {
		if err := c.shortTerm.Clear(ctx, session); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.episodic.ClearUser(ctx, user); err != nil {
		errs = append(errs, err)
	}
	if err := c.procedural.ClearUser(ctx, user); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
