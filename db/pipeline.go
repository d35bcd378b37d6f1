package db

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pipeline buffers writes and applies them atomically on Exec (MULTI/EXEC
// under the hood). Readers concurrent with Exec observe either none or all of
// the buffered commands — the aggregation indexer depends on this for its
// generation-swap rebuilds.
type Pipeline struct {
	c  *Client
	tx redis.Pipeliner
}

// Pipeline starts a buffered atomic executor.
func (c *Client) Pipeline() *Pipeline {
	return &Pipeline{c: c, tx: c.rdb.TxPipeline()}
}

// Del enqueues a key deletion.
func (p *Pipeline) Del(keys ...string) {
	p.tx.Del(context.Background(), keys...)
}

// Set enqueues a string write with TTL.
func (p *Pipeline) Set(key string, value []byte, ttl time.Duration) {
	p.tx.Set(context.Background(), key, value, ttl)
}

// HSet enqueues a hash write.
func (p *Pipeline) HSet(key string, fields map[string]interface{}) {
	p.tx.HSet(context.Background(), key, fields)
}

// HIncrBy enqueues a hash counter increment.
func (p *Pipeline) HIncrBy(key, field string, delta int64) {
	p.tx.HIncrBy(context.Background(), key, field, delta)
}

// LPush enqueues a list prepend.
func (p *Pipeline) LPush(key string, values ...interface{}) {
	p.tx.LPush(context.Background(), key, values...)
}

// LTrim enqueues a list trim.
func (p *Pipeline) LTrim(key string, start, stop int64) {
	p.tx.LTrim(context.Background(), key, start, stop)
}

// ZAdd enqueues sorted-set members.
func (p *Pipeline) ZAdd(key string, members ...ZMember) {
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		zs[i] = redis.Z{Member: m.Member, Score: m.Score}
	}
	p.tx.ZAdd(context.Background(), key, zs...)
}

// Expire enqueues a TTL update.
func (p *Pipeline) Expire(key string, ttl time.Duration) {
	p.tx.Expire(context.Background(), key, ttl)
}

// Exec applies every buffered command atomically. On error nothing is
// applied; the pipeline must not be reused afterwards.
func (p *Pipeline) Exec(ctx context.Context) error {
	return p.c.do(ctx, "EXEC pipeline", func(ctx context.Context) error {
		_, err := p.tx.Exec(ctx)
		return err
	})
}
