// Package db provides the backend adapter for the wellness memory core: a
// narrow, typed facade over a Redis-protocol server (Redis, Valkey,
// DragonflyDB) covering the handful of structures the memory tiers use —
// strings, hashes, lists, sorted sets, TTLs, pipelined transactions and the
// RediSearch vector index family.
//
// Every call goes through a shared circuit breaker and a per-operation
// deadline. Failures are classified into the small error taxonomy in
// errors.go so the layers above never see driver-level error types.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Config configures the backend client.
type Config struct {
	// URL is a redis:// connection URL (host, port, db, credentials).
	URL string

	// PoolSize bounds the number of pooled connections.
	PoolSize int

	// PoolTimeout bounds how long a caller waits for a free connection.
	PoolTimeout time.Duration

	// OpTimeout is the per-operation deadline applied to every call.
	OpTimeout time.Duration

	// Breaker configures the shared circuit breaker.
	Breaker BreakerConfig

	// Logger receives connection and degradation events. Optional.
	Logger *logrus.Entry
}

// DefaultConfig returns a Config with sensible defaults for a local backend.
func DefaultConfig() Config {
	return Config{
		URL:         "redis://localhost:6379/0",
		PoolSize:    10,
		PoolTimeout: 2 * time.Second,
		OpTimeout:   2 * time.Second,
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			OpenDuration:     30 * time.Second,
		},
	}
}

// Client is the concrete adapter. It is safe for concurrent use.
type Client struct {
	rdb     *redis.Client
	breaker *Breaker
	timeout time.Duration
	log     *logrus.Entry
}

// NewClient connects to the backend and verifies the connection with a ping.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	cfg = mergeDefaults(cfg)

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse backend URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.PoolTimeout = cfg.PoolTimeout

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.OpTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to backend: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = logrus.NewEntry(l)
	}

	return &Client{
		rdb:     rdb,
		breaker: NewBreaker(cfg.Breaker),
		timeout: cfg.OpTimeout,
		log:     log,
	}, nil
}

func mergeDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = def.PoolSize
	}
	if cfg.PoolTimeout <= 0 {
		cfg.PoolTimeout = def.PoolTimeout
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}
	return cfg
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// BreakerState exposes the circuit breaker state for health reporting.
func (c *Client) BreakerState() BreakerState {
	return c.breaker.State()
}

// do runs one backend operation under the breaker and the per-op deadline.
// A missing key (ErrNotFound) is a successful round-trip as far as the
// breaker is concerned.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if !c.breaker.Allow() {
		return errCircuitOpen(op)
	}

	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := fn(opCtx)
	if errors.Is(err, ErrNotFound) {
		c.breaker.Record(nil)
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	c.breaker.Record(err)
	if err != nil {
		return classify(op, err)
	}
	return nil
}

// --- strings ---

// Set stores a string value, with an optional TTL (0 = no expiry).
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.do(ctx, "SET "+key, func(ctx context.Context) error {
		return c.rdb.Set(ctx, key, value, ttl).Err()
	})
}

// Get retrieves a string value. A missing key returns ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := c.do(ctx, "GET "+key, func(ctx context.Context) error {
		b, err := c.rdb.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Del removes keys. Missing keys are not an error.
func (c *Client) Del(ctx context.Context, ks ...string) error {
	if len(ks) == 0 {
		return nil
	}
	return c.do(ctx, "DEL", func(ctx context.Context) error {
		return c.rdb.Del(ctx, ks...).Err()
	})
}

// Exists reports how many of the given keys exist.
func (c *Client) Exists(ctx context.Context, ks ...string) (int64, error) {
	var n int64
	err := c.do(ctx, "EXISTS", func(ctx context.Context) error {
		v, err := c.rdb.Exists(ctx, ks...).Result()
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	return n, err
}

// --- hashes ---

// HSet writes fields into a hash.
func (c *Client) HSet(ctx context.Context, key string, fields map[string]interface{}) error {
	return c.do(ctx, "HSET "+key, func(ctx context.Context) error {
		return c.rdb.HSet(ctx, key, fields).Err()
	})
}

// HGet reads one field of a hash. A missing key or field returns ErrNotFound.
func (c *Client) HGet(ctx context.Context, key, field string) (string, error) {
	var out string
	err := c.do(ctx, "HGET "+key, func(ctx context.Context) error {
		v, err := c.rdb.HGet(ctx, key, field).Result()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// HGetAll reads every field of a hash. A missing key yields an empty map.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var out map[string]string
	err := c.do(ctx, "HGETALL "+key, func(ctx context.Context) error {
		m, err := c.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// HIncrBy increments an integer hash field.
func (c *Client) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	var out int64
	err := c.do(ctx, "HINCRBY "+key, func(ctx context.Context) error {
		v, err := c.rdb.HIncrBy(ctx, key, field, delta).Result()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// --- lists ---

// LPush prepends values to a list.
func (c *Client) LPush(ctx context.Context, key string, values ...interface{}) error {
	return c.do(ctx, "LPUSH "+key, func(ctx context.Context) error {
		return c.rdb.LPush(ctx, key, values...).Err()
	})
}

// LRange reads a slice of a list (inclusive indexes, head first).
func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var out []string
	err := c.do(ctx, "LRANGE "+key, func(ctx context.Context) error {
		v, err := c.rdb.LRange(ctx, key, start, stop).Result()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// LTrim trims a list to the inclusive index range.
func (c *Client) LTrim(ctx context.Context, key string, start, stop int64) error {
	return c.do(ctx, "LTRIM "+key, func(ctx context.Context) error {
		return c.rdb.LTrim(ctx, key, start, stop).Err()
	})
}

// LLen returns a list's length.
func (c *Client) LLen(ctx context.Context, key string) (int64, error) {
	var out int64
	err := c.do(ctx, "LLEN "+key, func(ctx context.Context) error {
		v, err := c.rdb.LLen(ctx, key).Result()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// --- sorted sets ---

// ZMember is one member of a sorted set.
type ZMember struct {
	Member string
	Score  float64
}

// ZAdd adds members to a sorted set.
func (c *Client) ZAdd(ctx context.Context, key string, members ...ZMember) error {
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		zs[i] = redis.Z{Member: m.Member, Score: m.Score}
	}
	return c.do(ctx, "ZADD "+key, func(ctx context.Context) error {
		return c.rdb.ZAdd(ctx, key, zs...).Err()
	})
}

// ZRangeByScore returns members with min <= score <= max, ascending.
func (c *Client) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	var out []string
	err := c.do(ctx, "ZRANGEBYSCORE "+key, func(ctx context.Context) error {
		v, err := c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
			Min: formatScore(min),
			Max: formatScore(max),
		}).Result()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// ZCard returns a sorted set's cardinality.
func (c *Client) ZCard(ctx context.Context, key string) (int64, error) {
	var out int64
	err := c.do(ctx, "ZCARD "+key, func(ctx context.Context) error {
		v, err := c.rdb.ZCard(ctx, key).Result()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// --- expiry and scans ---

// Expire sets a key's TTL.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.do(ctx, "EXPIRE "+key, func(ctx context.Context) error {
		return c.rdb.Expire(ctx, key, ttl).Err()
	})
}

// TTL returns a key's remaining TTL.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	var out time.Duration
	err := c.do(ctx, "TTL "+key, func(ctx context.Context) error {
		v, err := c.rdb.TTL(ctx, key).Result()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// ScanKeys walks the keyspace with SCAN and returns every key matching the
// glob pattern. Used only by administrative operations, never per turn.
func (c *Client) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	err := c.do(ctx, "SCAN "+pattern, func(ctx context.Context) error {
		var cursor uint64
		for {
			page, next, err := c.rdb.Scan(ctx, cursor, pattern, 200).Result()
			if err != nil {
				return err
			}
			out = append(out, page...)
			cursor = next
			if cursor == 0 {
				return nil
			}
		}
	})
	return out, err
}

// --- health ---

// Health describes the backend's reachability and pool state.
type Health struct {
	Reachable bool         `json:"reachable"`
	LatencyMS int64        `json:"latency_ms"`
	Breaker   BreakerState `json:"breaker"`
	PoolTotal uint32       `json:"pool_total"`
	PoolIdle  uint32       `json:"pool_idle"`
}

// HealthCheck pings the backend and reports pool and breaker state.
func (c *Client) HealthCheck(ctx context.Context) Health {
	h := Health{Breaker: c.breaker.State()}

	start := time.Now()
	err := c.do(ctx, "PING", func(ctx context.Context) error {
		return c.rdb.Ping(ctx).Err()
	})
	h.LatencyMS = time.Since(start).Milliseconds()
	h.Reachable = err == nil

	stats := c.rdb.PoolStats()
	h.PoolTotal = stats.TotalConns
	h.PoolIdle = stats.IdleConns
	return h
}

func formatScore(f float64) string {
	return fmt.Sprintf("%f", f)
}
