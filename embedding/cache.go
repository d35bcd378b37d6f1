package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/AllieRays/redis-wellness/db"
	"github.com/AllieRays/redis-wellness/keys"
)

// CacheStore is the narrow backend capability the cache needs. *db.Client
// satisfies it.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Stats are the cache's counters. EstimatedTimeSaved assumes every hit would
// have cost the observed average provider latency.
type Stats struct {
	Hits               int64         `json:"hits"`
	Misses             int64         `json:"misses"`
	ProviderErrors     int64         `json:"provider_errors"`
	AvgProviderLatency time.Duration `json:"avg_provider_latency"`
	EstimatedTimeSaved time.Duration `json:"estimated_time_saved"`
}

// CachedProvider decorates a Provider with a content-addressed backend cache.
//
// The cache key is a SHA-256 fingerprint of the text, so identical queries
// reuse one embedding regardless of which tier asked. Concurrent calls on the
// same fingerprint coalesce into a single provider call via singleflight.
// Cache failures are never fatal: a broken backend degrades the decorator to
// a pass-through.
type CachedProvider struct {
	inner Provider
	store CacheStore
	ttl   time.Duration
	group singleflight.Group
	log   *logrus.Entry

	mu           sync.Mutex
	hits         int64
	misses       int64
	provErrors   int64
	totalLatency time.Duration
	calls        int64
}

// NewCachedProvider wraps inner with the backend cache.
func NewCachedProvider(inner Provider, store CacheStore, ttl time.Duration, log *logrus.Entry) *CachedProvider {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = logrus.NewEntry(l)
	}
	return &CachedProvider{
		inner: inner,
		store: store,
		ttl:   ttl,
		log:   log,
	}
}

// Dim reports the inner provider's dimensionality.
func (c *CachedProvider) Dim() int { return c.inner.Dim() }

// Fingerprint returns the stable cache key for a piece of text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed returns the cached vector when present, otherwise calls the inner
// provider once per fingerprint and stores the result with the cache TTL.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	fp := Fingerprint(text)
	key := keys.EmbeddingCache(fp)

	if vec, ok := c.lookup(ctx, key); ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return vec, nil
	}

	v, err, _ := c.group.Do(fp, func() (interface{}, error) {
		// Re-check under the flight: a concurrent caller may have filled
		// the cache between our lookup and this call.
		if vec, ok := c.lookup(ctx, key); ok {
			return vec, nil
		}

		start := time.Now()
		vec, err := c.inner.Embed(ctx, text)
		elapsed := time.Since(start)

		c.mu.Lock()
		if err != nil {
			c.provErrors++
		} else {
			c.misses++
			c.calls++
			c.totalLatency += elapsed
		}
		c.mu.Unlock()

		if err != nil {
			return nil, err
		}
		c.fill(ctx, key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// lookup reads the cache; any backend failure is treated as a miss.
func (c *CachedProvider) lookup(ctx context.Context, key string) ([]float32, bool) {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			c.log.WithError(err).Debug("embedding cache read failed, treating as miss")
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		c.log.WithError(err).Warn("corrupt embedding cache entry, ignoring")
		return nil, false
	}
	return vec, true
}

// fill writes the cache entry; failures are logged and swallowed.
func (c *CachedProvider) fill(ctx context.Context, key string, vec []float32) {
	raw, err := json.Marshal(vec)
	if err != nil {
		c.log.WithError(err).Warn(fmt.Sprintf("failed to serialize embedding for %s", key))
		return
	}
	if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
		c.log.WithError(err).Warn("embedding cache write failed")
	}
}

// Stats returns a snapshot of the cache counters.
func (c *CachedProvider) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:           c.hits,
		Misses:         c.misses,
		ProviderErrors: c.provErrors,
	}
	if c.calls > 0 {
		s.AvgProviderLatency = c.totalLatency / time.Duration(c.calls)
		s.EstimatedTimeSaved = s.AvgProviderLatency * time.Duration(c.hits)
	}
	return s
}
