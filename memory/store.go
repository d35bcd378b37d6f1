package memory

import (
	"context"

	"github.com/AllieRays/redis-wellness/db"
)

// KV is the key-value capability the memory tiers consume. *db.Client
// satisfies it; tests back it with miniredis through the same client.
type KV interface {
	Pipeline() *db.Pipeline
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, ks ...string) error
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
}

var _ KV = (*db.Client)(nil)
