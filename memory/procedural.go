package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AllieRays/redis-wellness/config"
	"github.com/AllieRays/redis-wellness/db"
	"github.com/AllieRays/redis-wellness/embedding"
	"github.com/AllieRays/redis-wellness/keys"
)

// patternHashLen is the hex prefix length of a pattern hash.
const patternHashLen = 16

// ProceduralPattern is one recorded query→tool-sequence pattern.
type ProceduralPattern struct {
	PatternHash     string   `json:"pattern_hash"`
	QueryType       string   `json:"query_type"`
	QueryDesc       string   `json:"query_description"`
	ToolsUsed       []string `json:"tools_used"`
	SuccessScore    float64  `json:"success_score"`
	ExecutionTimeMS int64    `json:"execution_time_ms"`
}

// ProceduralResult is the outcome of a retrieval: the ranked candidate
// patterns, the query's classified type, and a synthesized plan — the tool
// sequence of the most successful candidate, nil when there are no hits.
type ProceduralResult struct {
	Patterns  []ProceduralPattern `json:"patterns"`
	QueryType string              `json:"query_type"`
	Plan      []string            `json:"plan,omitempty"`
}

// ProceduralConfig configures the procedural tier.
type ProceduralConfig struct {
	// MinScore is the storage floor; lower-scored executions are skipped.
	MinScore float64
	// Scope selects per-user or shared retrieval.
	Scope config.ProceduralScope
	// TTL is the record lifetime.
	TTL time.Duration
	// Logger receives tier operations at debug level. Optional.
	Logger *logrus.Entry
}

// ProceduralMemory learns which tool sequences answered which kinds of
// queries well, and replays them as candidate plans.
type ProceduralMemory struct {
	kv       KV
	vec      db.VectorIndex
	embed    embedding.Provider
	minScore float64
	scope    config.ProceduralScope
	ttl      time.Duration
	log      *logrus.Entry
}

// NewProceduralMemory creates the tier and ensures its vector index exists.
func NewProceduralMemory(ctx context.Context, kv KV, vec db.VectorIndex, embed embedding.Provider, cfg ProceduralConfig) (*ProceduralMemory, error) {
	if cfg.MinScore <= 0 {
		cfg.MinScore = 0.7
	}
	if cfg.Scope == "" {
		cfg.Scope = config.ProceduralScopeGlobal
	}
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
		Name:      keys.IndexName(keys.TierProcedural),
		Prefix:    keys.TierPrefix(keys.TierProcedural),
		Dim:       embed.Dim(),
		TagFields: []string{"user_id", "query_type"},
		TextField: "query_description",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure procedural index: %w", err)
	}

	return &ProceduralMemory{
		kv:       kv,
		vec:      vec,
		embed:    embed,
		minScore: cfg.MinScore,
		scope:    cfg.Scope,
		ttl:      cfg.TTL,
		log:      log,
	}, nil
}

// PatternHash derives the stable identifier of a (query, tool-sequence)
// pair. Tool order does not matter for identity; the stored record keeps the
// executed order.
func PatternHash(query string, toolsUsed []string) string {
	sorted := append([]string(nil), toolsUsed...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(query + "|" + strings.Join(sorted, ",")))
	return hex.EncodeToString(sum[:])[:patternHashLen]
}

// queryTypeVocabulary drives the deterministic classifier: the type with the
// most matching tags wins; ties go to the type listed first.
var queryTypeVocabulary = []struct {
	queryType string
	tags      []string
}{
	{"aggregation", []string{"average", "avg", "total", "sum", "count", "how many", "per week", "per day", "overall", "mean"}},
	{"trend", []string{"trend", "progress", "over time", "improving", "getting better", "change", "history"}},
	{"comparison", []string{"compare", "versus", "vs", "better", "worse", "difference", "more than", "less than"}},
	{"search", []string{"find", "show", "list", "when did", "what was", "which", "last", "latest", "recent"}},
}

// ClassifyQuery maps a free-form query to its type by tag matching against a
// fixed vocabulary. Unmatched queries are "general".
func ClassifyQuery(query string) string {
	q := strings.ToLower(query)

	best := "general"
	bestHits := 0
	for _, entry := range queryTypeVocabulary {
		hits := 0
		for _, tag := range entry.tags {
			if strings.Contains(q, tag) {
				hits++
			}
		}
		if hits > bestHits {
			best = entry.queryType
			bestHits = hits
		}
	}
	return best
}

// Record stores a successful execution pattern. Executions below the minimum
// score are skipped — the skip is logged and reported, not an error.
func (p *ProceduralMemory) Record(ctx context.Context, user, query string, toolsUsed []string, successScore float64, executionTimeMS int64) (bool, error) {
	if query == "" || len(toolsUsed) == 0 {
		return false, writeErr(TierProcedural, fmt.Errorf("%w: query and tools are required", ErrInvalidInput))
	}
	if successScore < p.minScore {
		p.log.WithFields(logrus.Fields{
			"score": successScore,
			"floor": p.minScore,
		}).Debug("procedural pattern below score floor, skipped")
		return false, nil
	}

	vector, err := p.embed.Embed(ctx, query)
	if err != nil {
		return false, writeErr(TierProcedural, err)
	}

	toolsRaw, err := json.Marshal(toolsUsed)
	if err != nil {
		return false, writeErr(TierProcedural, err)
	}

	now := time.Now().UTC()
	hash := PatternHash(query, toolsUsed)
	key := keys.Procedural(hash, strconv.FormatInt(now.UnixNano(), 10))
	fields := map[string]interface{}{
		"user_id":           user,
		"pattern_hash":      hash,
		"query_type":        ClassifyQuery(query),
		"query_description": query,
		"tools_used":        string(toolsRaw),
		"success_score":     strconv.FormatFloat(successScore, 'f', -1, 64),
		"execution_time_ms": strconv.FormatInt(executionTimeMS, 10),
		"timestamp":         now.Format(time.RFC3339Nano),
	}

	if err := p.vec.VectorUpsert(ctx, key, fields, vector, p.ttl); err != nil {
		return false, writeErr(TierProcedural, err)
	}

	p.log.WithFields(logrus.Fields{"hash": hash, "tools": len(toolsUsed)}).Debug("procedural pattern recorded")
	return true, nil
}

// Retrieve returns the patterns closest to the query, ranked by success
// score, plus the synthesized plan. Retrieval honors the configured scope:
// per-user filtering or the shared pool.
func (p *ProceduralMemory) Retrieve(ctx context.Context, user, query string, k int) (ProceduralResult, error) {
	result := ProceduralResult{QueryType: ClassifyQuery(query)}

	vector, err := p.embed.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, embedding.ErrUnavailable) {
			p.log.WithError(err).Warn("procedural retrieval without embeddings, returning empty")
			return result, nil
		}
		return result, retrievalErr(TierProcedural, err)
	}

	q := db.VectorQuery{
		Index:  keys.IndexName(keys.TierProcedural),
		Vector: vector,
		K:      k,
		ReturnFields: []string{
			"user_id", "pattern_hash", "query_type", "query_description",
			"tools_used", "success_score", "execution_time_ms",
		},
	}
	if p.scope == config.ProceduralScopeUser {
		q.TagFilters = map[string]string{"user_id": user}
	}

	hits, err := p.vec.VectorSearch(ctx, q)
	if err != nil {
		return result, retrievalErr(TierProcedural, err)
	}

	for _, hit := range hits {
		pat := patternFromFields(hit.Fields)
		if pat.SuccessScore < p.minScore {
			continue
		}
		result.Patterns = append(result.Patterns, pat)
	}

	// Rank by success, most reliable plan first.
	sort.SliceStable(result.Patterns, func(i, j int) bool {
		return result.Patterns[i].SuccessScore > result.Patterns[j].SuccessScore
	})
	if len(result.Patterns) > 0 {
		result.Plan = result.Patterns[0].ToolsUsed
	}
	return result, nil
}

func patternFromFields(fields map[string]string) ProceduralPattern {
	pat := ProceduralPattern{
		PatternHash: fields["pattern_hash"],
		QueryType:   fields["query_type"],
		QueryDesc:   fields["query_description"],
	}
	if raw := fields["tools_used"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &pat.ToolsUsed)
	}
	pat.SuccessScore, _ = strconv.ParseFloat(fields["success_score"], 64)
	pat.ExecutionTimeMS, _ = strconv.ParseInt(fields["execution_time_ms"], 10, 64)
	return pat
}

// Count reports how many procedural records exist.
func (p *ProceduralMemory) Count(ctx context.Context) (int64, error) {
	return p.vec.VectorCount(ctx, keys.IndexName(keys.TierProcedural))
}

// ClearUser removes the procedural records stored by a user. Pattern keys
// are hash-addressed, so records are matched on their user_id field.
func (p *ProceduralMemory) ClearUser(ctx context.Context, user string) error {
	ks, err := p.kv.ScanKeys(ctx, keys.UserPattern(keys.TierProcedural, user))
	if err != nil {
		return err
	}
	var toDelete []string
	for _, key := range ks {
		fields, err := p.kv.HGetAll(ctx, key)
		if err != nil {
			return err
		}
		if fields["user_id"] == user {
			toDelete = append(toDelete, key)
		}
	}
	if len(toDelete) == 0 {
		return nil
	}
	return p.vec.VectorDelete(ctx, toDelete...)
}
