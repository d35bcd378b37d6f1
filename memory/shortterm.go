package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/AllieRays/redis-wellness/keys"
	"github.com/AllieRays/redis-wellness/tokens"
)

// ShortTermConfig configures the short-term log.
type ShortTermConfig struct {
	// Cap is the hard limit on retained messages per session.
	Cap int
	// TTL is the session lifetime, refreshed on every append.
	TTL time.Duration
	// Logger receives log operations at debug level. Optional.
	Logger *logrus.Entry
}

// ShortTermLog is the per-session ordered message log: newest at the head,
// capped in length, expiring TTL after the last append.
type ShortTermLog struct {
	kv  KV
	tok *tokens.Manager
	cap int
	ttl time.Duration
	log *logrus.Entry
}

// ShortTermStats describes a session's log against the token budget.
type ShortTermStats struct {
	MessageCount int     `json:"message_count"`
	TokenCount   int     `json:"token_count"`
	MaxTokens    int     `json:"max_tokens"`
	UsagePercent float64 `json:"usage_percent"`
	Trimmed      bool    `json:"trimmed"`
	// WarnOverThreshold is set when the minimum-keep floor left the
	// sequence over the trim target.
	WarnOverThreshold bool `json:"warn_over_threshold,omitempty"`
}

// NewShortTermLog creates a ShortTermLog.
func NewShortTermLog(kv KV, tok *tokens.Manager, cfg ShortTermConfig) *ShortTermLog {
	if cfg.Cap <= 0 {
		cfg.Cap = 50
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = logrus.NewEntry(l)
	}
	return &ShortTermLog{kv: kv, tok: tok, cap: cfg.Cap, ttl: cfg.TTL, log: log}
}

// Append pushes a message onto the head of the session log, trims to the cap
// and refreshes the TTL, all in one atomic pipeline.
func (s *ShortTermLog) Append(ctx context.Context, session string, msg Message) error {
	if session == "" {
		return writeErr(TierShortTerm, fmt.Errorf("%w: empty session", ErrInvalidInput))
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if err := msg.Validate(); err != nil {
		return writeErr(TierShortTerm, err)
	}

	raw, err := marshalMessage(msg)
	if err != nil {
		return writeErr(TierShortTerm, err)
	}

	key := keys.ShortTerm(session)
	p := s.kv.Pipeline()
	p.LPush(key, raw)
	p.LTrim(key, 0, int64(s.cap)-1)
	p.Expire(key, s.ttl)
	if err := p.Exec(ctx); err != nil {
		return writeErr(TierShortTerm, err)
	}

	s.log.WithFields(logrus.Fields{"session": session, "role": msg.Role}).Debug("message appended")
	return nil
}

// Latest returns up to n messages, newest first. A missing session yields an
// empty slice, never an error; entries that fail to decode are skipped.
func (s *ShortTermLog) Latest(ctx context.Context, session string, n int) ([]Message, error) {
	if n <= 0 {
		n = s.cap
	}
	raws, err := s.kv.LRange(ctx, keys.ShortTerm(session), 0, int64(n)-1)
	if err != nil {
		return nil, retrievalErr(TierShortTerm, err)
	}

	msgs := make([]Message, 0, len(raws))
	for _, raw := range raws {
		m, err := unmarshalMessage(raw)
		if err != nil {
			s.log.WithError(err).WithField("session", session).Warn("skipping corrupt log entry")
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Count returns the session log's length.
func (s *ShortTermLog) Count(ctx context.Context, session string) (int64, error) {
	return s.kv.LLen(ctx, keys.ShortTerm(session))
}

// TrimToBudget returns the newest messages that fit the token budget, with
// usage statistics. The oldest messages fall off first; at least the
// configured minimum is always kept, with a warning flag when that minimum
// still exceeds the trim target.
func (s *ShortTermLog) TrimToBudget(ctx context.Context, session string, budget int) ([]Message, ShortTermStats, error) {
	msgs, err := s.Latest(ctx, session, s.cap)
	if err != nil {
		return nil, ShortTermStats{}, err
	}
	if budget <= 0 {
		budget = s.tok.Budget()
	}

	counts := make([]int, len(msgs))
	for i, m := range msgs {
		counts[i] = s.tok.MessageTokens(m.Content)
	}

	res := s.tok.TrimCounts(counts, budget)
	kept := msgs[:res.Keep]

	stats := ShortTermStats{
		MessageCount:      len(kept),
		TokenCount:        res.TrimmedTokens,
		MaxTokens:         budget,
		Trimmed:           res.Trimmed,
		WarnOverThreshold: res.WarnOverThreshold,
	}
	if budget > 0 {
		stats.UsagePercent = 100 * float64(res.TrimmedTokens) / float64(budget)
	}
	if res.WarnOverThreshold {
		s.log.WithFields(logrus.Fields{
			"session": session,
			"tokens":  res.TrimmedTokens,
			"budget":  budget,
		}).Warn("short-term log over budget at minimum keep")
	}
	return kept, stats, nil
}

// Transcript renders messages as a chronological transcript for prompt
// context, oldest line first.
func Transcript(msgs []Message) string {
	if len(msgs) == 0 {
		return ""
	}
	lines := make([]string, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		label := "User"
		if msgs[i].Role == RoleAssistant {
			label = "Assistant"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, msgs[i].Content))
	}
	return strings.Join(lines, "\n")
}

// Clear removes the session log.
func (s *ShortTermLog) Clear(ctx context.Context, session string) error {
	return s.kv.Del(ctx, keys.ShortTerm(session))
}
