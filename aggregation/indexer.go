// Package aggregation maintains the fast read projections for a user's
// workout documents: an O(1) day-bucket counter hash, an O(log N) time-range
// sorted set and a per-item detail hash. The projections are pure on-write —
// a rebuild from the same items always produces the same keys — and every
// rebuild swaps generations atomically, so a concurrent reader sees either
// the old index or the new one, never a mix.
package aggregation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AllieRays/redis-wellness/db"
	"github.com/AllieRays/redis-wellness/keys"
)

// Item is one domain document to index: a workout, a measurement, any record
// with a timestamp and a categorical bucket label (day of week for workouts).
type Item struct {
	ID          string            // unique id; see ItemID for derivation
	Timestamp   time.Time         // when the item happened
	BucketLabel string            // counter key, e.g. "Mon"
	Fields      map[string]string // detail fields stored per item
}

// ItemID derives a collision-free id for items that share a timestamp date:
// the date, the item type and the wall-clock time jointly disambiguate.
func ItemID(date, itemType, clock string) string {
	return fmt.Sprintf("%s-%s-%s", date, itemType, clock)
}

// Store is the backend capability the indexer needs. *db.Client satisfies it.
type Store interface {
	Pipeline() *db.Pipeline
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	ZCard(ctx context.Context, key string) (int64, error)
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
	Del(ctx context.Context, ks ...string) error
}

// Config configures an Indexer.
type Config struct {
	// TTL applies to every projection key.
	TTL time.Duration
	// Logger receives rebuild summaries. Optional.
	Logger *logrus.Entry
}

// Indexer builds and reads the aggregation projections.
type Indexer struct {
	store Store
	ttl   time.Duration
	log   *logrus.Entry
}

// NewIndexer creates an Indexer.
func NewIndexer(store Store, cfg Config) *Indexer {
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = logrus.NewEntry(l)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	return &Indexer{store: store, ttl: cfg.TTL, log: log}
}

// Rebuild replaces the user's projections from the given items in one atomic
// pipeline: the counter hash and time set are deleted and rewritten, detail
// hashes are replaced item by item, and every key receives the TTL.
func (ix *Indexer) Rebuild(ctx context.Context, user string, items []Item) error {
	daysKey := keys.AggDays(user)
	byDateKey := keys.AggByDate(user)

	p := ix.store.Pipeline()
	p.Del(daysKey, byDateKey)

	for _, item := range items {
		p.HIncrBy(daysKey, item.BucketLabel, 1)
		p.ZAdd(byDateKey, db.ZMember{Member: item.ID, Score: float64(item.Timestamp.Unix())})

		itemKey := keys.AggItem(user, item.ID)
		fields := make(map[string]interface{}, len(item.Fields))
		for k, v := range item.Fields {
			fields[k] = v
		}
		if len(fields) > 0 {
			p.Del(itemKey)
			p.HSet(itemKey, fields)
			p.Expire(itemKey, ix.ttl)
		}
	}

	p.Expire(daysKey, ix.ttl)
	p.Expire(byDateKey, ix.ttl)

	if err := p.Exec(ctx); err != nil {
		return fmt.Errorf("failed to rebuild aggregation index for %s: %w", user, err)
	}

	ix.log.WithFields(logrus.Fields{
		"user":  user,
		"items": len(items),
	}).Debug("aggregation index rebuilt")
	return nil
}

// CountsByBucket returns the bucket-label counters. O(1) in item count.
func (ix *Indexer) CountsByBucket(ctx context.Context, user string) (map[string]int, error) {
	raw, err := ix.store.HGetAll(ctx, keys.AggDays(user))
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(raw))
	for label, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("corrupt counter %q for bucket %s: %w", v, label, err)
		}
		out[label] = n
	}
	return out, nil
}

// IDsInRange returns item ids with from <= timestamp <= to, in ascending
// timestamp order. O(log N + M).
func (ix *Indexer) IDsInRange(ctx context.Context, user string, from, to time.Time) ([]string, error) {
	return ix.store.ZRangeByScore(ctx, keys.AggByDate(user), float64(from.Unix()), float64(to.Unix()))
}

// ItemCount returns how many items are indexed.
func (ix *Indexer) ItemCount(ctx context.Context, user string) (int64, error) {
	return ix.store.ZCard(ctx, keys.AggByDate(user))
}

// Item returns one item's detail fields. A missing item yields an empty map.
func (ix *Indexer) Item(ctx context.Context, user, id string) (map[string]string, error) {
	return ix.store.HGetAll(ctx, keys.AggItem(user, id))
}

// Clear removes every projection key of a user.
func (ix *Indexer) Clear(ctx context.Context, user string) error {
	itemKeys, err := ix.store.ScanKeys(ctx, keys.AggItemPattern(user))
	if err != nil {
		return err
	}
	all := append(itemKeys, keys.AggDays(user), keys.AggByDate(user))
	return ix.store.Del(ctx, all...)
}
