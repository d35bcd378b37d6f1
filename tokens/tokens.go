// Package tokens provides deterministic token accounting for the short-term
// conversation log: a pluggable tokenizer capability, per-message counting
// with role-envelope overhead, and budget-aware trimming that drops the
// oldest messages first.
package tokens

import "unicode/utf8"

// Tokenizer converts text into a token count. Implementations must be
// deterministic; the trim logic depends on counting the same text to the
// same number every time.
type Tokenizer interface {
	Count(text string) int
}

// charsPerToken is the approximate number of characters per token for English
// text. Used by the fallback estimator only — not exact token counting.
const charsPerToken = 4

// Estimator is the default Tokenizer: the common ~4-characters-per-token
// heuristic. Exact counts would require a model-specific tokenizer library;
// the budget is a configurable soft limit, so an estimate that errs slightly
// high is acceptable.
type Estimator struct{}

// Count returns an approximate token count for the given text, rounding up.
// Counts runes rather than bytes so multi-byte UTF-8 content does not
// overestimate wildly.
func (Estimator) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := utf8.RuneCountInString(text)
	return (n + charsPerToken - 1) / charsPerToken
}

// Config configures a Manager.
type Config struct {
	// Budget is the model context budget in tokens.
	Budget int
	// Threshold is the trim target as a fraction of the budget; trimming
	// stops once the total drops to Budget*Threshold or below.
	Threshold float64
	// MinKeep is the number of most-recent messages never trimmed away,
	// even when still over budget.
	MinKeep int
	// RoleOverhead is the token cost of a message's role envelope, added to
	// every message's content count.
	RoleOverhead int
	// Tokenizer overrides the default Estimator.
	Tokenizer Tokenizer
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Budget:       4000,
		Threshold:    0.8,
		MinKeep:      2,
		RoleOverhead: 4,
	}
}

// Manager counts and trims against a fixed budget. Safe for concurrent use;
// it holds no mutable state.
type Manager struct {
	tok          Tokenizer
	budget       int
	threshold    float64
	minKeep      int
	roleOverhead int
}

// NewManager creates a Manager from cfg, filling unset fields from defaults.
// A zero RoleOverhead is kept as zero; only a negative one takes the default.
func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.Budget <= 0 {
		cfg.Budget = def.Budget
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = def.Threshold
	}
	if cfg.MinKeep <= 0 {
		cfg.MinKeep = def.MinKeep
	}
	if cfg.RoleOverhead < 0 {
		cfg.RoleOverhead = def.RoleOverhead
	}
	if cfg.Tokenizer == nil {
		cfg.Tokenizer = Estimator{}
	}
	return &Manager{
		tok:          cfg.Tokenizer,
		budget:       cfg.Budget,
		threshold:    cfg.Threshold,
		minKeep:      cfg.MinKeep,
		roleOverhead: cfg.RoleOverhead,
	}
}

// Budget returns the configured context budget.
func (m *Manager) Budget() int { return m.budget }

// Count returns the token count of a bare string.
func (m *Manager) Count(text string) int {
	return m.tok.Count(text)
}

// MessageTokens returns the token cost of one message including its role
// envelope.
func (m *Manager) MessageTokens(content string) int {
	return m.tok.Count(content) + m.roleOverhead
}

// TrimResult reports the outcome of a budget trim.
type TrimResult struct {
	// Keep is how many messages survive, counted from the newest.
	Keep int
	// OriginalTokens is the total before trimming.
	OriginalTokens int
	// TrimmedTokens is the total after trimming.
	TrimmedTokens int
	// Trimmed is true when at least one message was dropped.
	Trimmed bool
	// WarnOverThreshold is set when the result is still over the trim
	// target because MinKeep stopped further dropping.
	WarnOverThreshold bool
}

// TrimCounts trims a sequence of per-message token counts, ordered
// newest-first, against the budget. Oldest messages (the tail) are dropped
// while the total exceeds Budget*Threshold and more than MinKeep messages
// remain. The messages themselves are never reordered; callers slice their
// sequence to the returned Keep length.
func (m *Manager) TrimCounts(counts []int, budget int) TrimResult {
	if budget <= 0 {
		budget = m.budget
	}
	target := int(float64(budget) * m.threshold)

	total := 0
	for _, c := range counts {
		total += c
	}

	res := TrimResult{
		Keep:           len(counts),
		OriginalTokens: total,
		TrimmedTokens:  total,
	}

	for res.TrimmedTokens > target && res.Keep > m.minKeep {
		res.Keep--
		res.TrimmedTokens -= counts[res.Keep]
		res.Trimmed = true
	}

	if res.TrimmedTokens > target {
		res.WarnOverThreshold = true
	}
	return res
}
