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

// EpisodicRecord is one user-scoped fact: a goal, a preference, an event.
// Metadata is opaque JSON; the two shapes the renderer understands are
// {metric, value, unit} and {goal_text}, everything else falls back to the
// description.
type EpisodicRecord struct {
	UserID      string  `json:"user_id"`
	EventType   string  `json:"event_type"`
	Timestamp   string  `json:"timestamp"`
	Description string  `json:"description"`
	Metric      string  `json:"metric,omitempty"`
	Value       float64 `json:"value,omitempty"`
	Unit        string  `json:"unit,omitempty"`
	GoalText    string  `json:"goal_text,omitempty"`
}

// EpisodicResult is the outcome of a semantic retrieval over a user's facts.
type EpisodicResult struct {
	Context string           `json:"context"`
	Count   int              `json:"count"`
	Records []EpisodicRecord `json:"records"`
}

// EpisodicConfig configures the episodic tier.
type EpisodicConfig struct {
	TTL    time.Duration
	Logger *logrus.Entry
}

// EpisodicMemory stores and retrieves user-scoped vectorized facts.
type EpisodicMemory struct {
	kv    KV
	vec   db.VectorIndex
	embed embedding.Provider
	ttl   time.Duration
	log   *logrus.Entry
}

// NewEpisodicMemory creates the tier and ensures its vector index exists.
func NewEpisodicMemory(ctx context.Context, kv KV, vec db.VectorIndex, embed embedding.Provider, cfg EpisodicConfig) (*EpisodicMemory, error) {
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
		Name:      keys.IndexName(keys.TierEpisodic),
		Prefix:    keys.TierPrefix(keys.TierEpisodic),
		Dim:       embed.Dim(),
		TagFields: []string{"user_id", "event_type"},
		TextField: "description",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure episodic index: %w", err)
	}

	return &EpisodicMemory{kv: kv, vec: vec, embed: embed, ttl: cfg.TTL, log: log}, nil
}

// Store persists one fact: the description is embedded, the record hash is
// written with its TTL, and the vector index picks it up by prefix. An
// embedding failure aborts the write.
func (e *EpisodicMemory) Store(ctx context.Context, user, eventType, description string, metadata map[string]interface{}) error {
	if user == "" || eventType == "" || description == "" {
		return writeErr(TierEpisodic, fmt.Errorf("%w: user, event type and description are required", ErrInvalidInput))
	}

	vector, err := e.embed.Embed(ctx, description)
	if err != nil {
		return writeErr(TierEpisodic, err)
	}

	now := time.Now().UTC()
	metaRaw := "{}"
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return writeErr(TierEpisodic, fmt.Errorf("failed to marshal metadata: %w", err))
		}
		metaRaw = string(raw)
	}

	key := keys.Episodic(user, eventType, strconv.FormatInt(now.UnixNano(), 10))
	fields := map[string]interface{}{
		"user_id":     user,
		"event_type":  eventType,
		"timestamp":   now.Format(time.RFC3339Nano),
		"description": description,
		"metadata":    metaRaw,
	}

	if err := e.vec.VectorUpsert(ctx, key, fields, vector, e.ttl); err != nil {
		return writeErr(TierEpisodic, err)
	}

	e.log.WithFields(logrus.Fields{"user": user, "event_type": eventType}).Debug("episodic fact stored")
	return nil
}

// Retrieve embeds the query and returns the k closest facts of this user,
// rendered into a short context string. An unavailable embedding provider
// degrades to an empty result; backend failures surface as retrieval errors.
func (e *EpisodicMemory) Retrieve(ctx context.Context, user, query string, k int) (EpisodicResult, error) {
	vector, err := e.embed.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, embedding.ErrUnavailable) {
			e.log.WithError(err).Warn("episodic retrieval without embeddings, returning empty")
			return EpisodicResult{}, nil
		}
		return EpisodicResult{}, retrievalErr(TierEpisodic, err)
	}

	hits, err := e.vec.VectorSearch(ctx, db.VectorQuery{
		Index:        keys.IndexName(keys.TierEpisodic),
		Vector:       vector,
		K:            k,
		TagFilters:   map[string]string{"user_id": user},
		ReturnFields: []string{"user_id", "event_type", "timestamp", "description", "metadata"},
	})
	if err != nil {
		return EpisodicResult{}, retrievalErr(TierEpisodic, err)
	}

	result := EpisodicResult{}
	var lines []string
	for _, hit := range hits {
		rec := episodicRecordFromFields(hit.Fields)
		result.Records = append(result.Records, rec)
		lines = append(lines, rec.render())
	}
	result.Count = len(result.Records)
	result.Context = strings.Join(lines, "\n")
	return result, nil
}

// episodicRecordFromFields decodes a stored hash, lifting the known metadata
// shapes into typed fields.
func episodicRecordFromFields(fields map[string]string) EpisodicRecord {
	rec := EpisodicRecord{
		UserID:      fields["user_id"],
		EventType:   fields["event_type"],
		Timestamp:   fields["timestamp"],
		Description: fields["description"],
	}

	if raw := fields["metadata"]; raw != "" {
		var meta struct {
			Metric   string      `json:"metric"`
			Value    json.Number `json:"value"`
			Unit     string      `json:"unit"`
			GoalText string      `json:"goal_text"`
		}
		if err := json.Unmarshal([]byte(raw), &meta); err == nil {
			rec.Metric = meta.Metric
			rec.Unit = meta.Unit
			rec.GoalText = meta.GoalText
			if v, err := meta.Value.Float64(); err == nil {
				rec.Value = v
			}
		}
	}
	return rec
}

// render produces the one-line context for a record:
// "{Metric} goal: {value} {unit}", then "Goal: {goal_text}", then the
// description.
func (r EpisodicRecord) render() string {
	switch {
	case r.Metric != "":
		return fmt.Sprintf("%s goal: %s %s", capitalize(r.Metric), formatNumber(r.Value), r.Unit)
	case r.GoalText != "":
		return "Goal: " + r.GoalText
	default:
		return r.Description
	}
}

// CountForUser reports how many episodic records a user has.
func (e *EpisodicMemory) CountForUser(ctx context.Context, user string) (int, error) {
	ks, err := e.kv.ScanKeys(ctx, keys.UserPattern(keys.TierEpisodic, user))
	if err != nil {
		return 0, err
	}
	return len(ks), nil
}

// ClearUser removes every episodic record of a user.
func (e *EpisodicMemory) ClearUser(ctx context.Context, user string) error {
	ks, err := e.kv.ScanKeys(ctx, keys.UserPattern(keys.TierEpisodic, user))
	if err != nil {
		return err
	}
	if len(ks) == 0 {
		return nil
	}
	return e.vec.VectorDelete(ctx, ks...)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
