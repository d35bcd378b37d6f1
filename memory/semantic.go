package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AllieRays/redis-wellness/db"
	"github.com/AllieRays/redis-wellness/embedding"
	"github.com/AllieRays/redis-wellness/keys"
)

// SemanticResult is the outcome of a knowledge-base retrieval.
type SemanticResult struct {
	Context string `json:"context"`
	Count   int    `json:"count"`
}

// SemanticConfig configures the semantic tier.
type SemanticConfig struct {
	TTL    time.Duration
	Logger *logrus.Entry
}

// SemanticMemory is the shared, category-tagged knowledge base. Unlike the
// episodic tier it is not user-scoped: facts stored here are visible to every
// session.
type SemanticMemory struct {
	kv    KV
	vec   db.VectorIndex
	embed embedding.Provider
	ttl   time.Duration
	log   *logrus.Entry
}

// NewSemanticMemory creates the tier and ensures its vector index exists.
func NewSemanticMemory(ctx context.Context, kv KV, vec db.VectorIndex, embed embedding.Provider, cfg SemanticConfig) (*SemanticMemory, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = logrus.NewEntry(l)
	}

	err := vec.EnsureIndex(ctx, db.IndexSpec{
		Name:      keys.IndexName(keys.TierSemantic),
		Prefix:    keys.TierPrefix(keys.TierSemantic),
		Dim:       embed.Dim(),
		TagFields: []string{"category", "fact_type"},
		TextField: "fact",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure semantic index: %w", err)
	}

	return &SemanticMemory{kv: kv, vec: vec, embed: embed, ttl: cfg.TTL, log: log}, nil
}

// Store persists one shared fact. The embedding covers the fact and its
// context so retrieval matches either.
func (s *SemanticMemory) Store(ctx context.Context, fact, factType, category, factContext, source string, metadata map[string]interface{}) error {
	if fact == "" || factType == "" || category == "" {
		return writeErr(TierSemantic, fmt.Errorf("%w: fact, fact type and category are required", ErrInvalidInput))
	}

	vector, err := s.embed.Embed(ctx, fact+"\n"+factContext)
	if err != nil {
		return writeErr(TierSemantic, err)
	}

	now := time.Now().UTC()
	metaRaw := "{}"
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return writeErr(TierSemantic, fmt.Errorf("failed to marshal metadata: %w", err))
		}
		metaRaw = string(raw)
	}

	key := keys.Semantic(category, factType, strconv.FormatInt(now.UnixNano(), 10))
	fields := map[string]interface{}{
		"category":  category,
		"fact_type": factType,
		"timestamp": now.Format(time.RFC3339Nano),
		"fact":      fact,
		"context":   factContext,
		"source":    source,
		"metadata":  metaRaw,
	}

	if err := s.vec.VectorUpsert(ctx, key, fields, vector, s.ttl); err != nil {
		return writeErr(TierSemantic, err)
	}

	s.log.WithFields(logrus.Fields{"category": category, "fact_type": factType}).Debug("semantic fact stored")
	return nil
}

// Retrieve returns the k facts closest to the query, optionally restricted
// to one category. The context string is a newline-joined list of facts.
func (s *SemanticMemory) Retrieve(ctx context.Context, query string, k int, categoryFilter string) (SemanticResult, error) {
	vector, err := s.embed.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, embedding.ErrUnavailable) {
			s.log.WithError(err).Warn("semantic retrieval without embeddings, returning empty")
			return SemanticResult{}, nil
		}
		return SemanticResult{}, retrievalErr(TierSemantic, err)
	}

	q := db.VectorQuery{
		Index:        keys.IndexName(keys.TierSemantic),
		Vector:       vector,
		K:            k,
		ReturnFields: []string{"fact", "context", "category"},
	}
	if categoryFilter != "" {
		q.TagFilters = map[string]string{"category": categoryFilter}
	}

	hits, err := s.vec.VectorSearch(ctx, q)
	if err != nil {
		return SemanticResult{}, retrievalErr(TierSemantic, err)
	}

	var lines []string
	for _, hit := range hits {
		if fact := hit.Fields["fact"]; fact != "" {
			lines = append(lines, fact)
		}
	}
	return SemanticResult{Context: strings.Join(lines, "\n"), Count: len(lines)}, nil
}

// Count reports how many semantic records exist.
func (s *SemanticMemory) Count(ctx context.Context) (int64, error) {
	return s.vec.VectorCount(ctx, keys.IndexName(keys.TierSemantic))
}

// SeedIfEmpty populates the curated baseline facts when the knowledge base
// is empty. Seeding is idempotent: a non-empty index is left untouched.
func (s *SemanticMemory) SeedIfEmpty(ctx context.Context) (int, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}

	facts, err := LoadSeedFacts()
	if err != nil {
		return 0, err
	}

	stored := 0
	for _, f := range facts {
		if err := s.Store(ctx, f.Fact, f.FactType, f.Category, f.Context, f.Source, nil); err != nil {
			return stored, err
		}
		stored++
	}
	s.log.WithField("facts", stored).Info("semantic knowledge base seeded")
	return stored, nil
}
