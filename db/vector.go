package db

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// EmbeddingField is the reserved hash field holding the binary float32 vector
// on every vectorized record.
const EmbeddingField = "embedding"

// IndexSpec declares one HNSW vector index over a key prefix.
type IndexSpec struct {
	Name      string   // index name, e.g. "episodic_idx"
	Prefix    string   // key prefix the index covers, e.g. "episodic:"
	Dim       int      // embedding dimensionality
	TagFields []string // fields indexed as tags (exact-match filters)
	TextField string   // optional field indexed as full text
}

// VectorHit is one k-NN result: the record's key, its stored fields and the
// cosine distance (smaller is closer).
type VectorHit struct {
	Key      string
	Fields   map[string]string
	Distance float64
}

// VectorQuery is a k-NN request against one index.
type VectorQuery struct {
	Index  string
	Vector []float32
	K      int
	// TagFilters restricts results to records whose tag field equals the
	// given value. Multiple entries are ANDed.
	TagFilters map[string]string
	// ReturnFields limits the fields fetched per hit; empty returns all
	// non-vector fields.
	ReturnFields []string
}

// VectorIndex is the vector capability the memory tiers consume. *Client
// implements it against RediSearch; tests substitute MockVectorIndex.
type VectorIndex interface {
	EnsureIndex(ctx context.Context, spec IndexSpec) error
	VectorUpsert(ctx context.Context, key string, fields map[string]interface{}, vector []float32, ttl time.Duration) error
	VectorSearch(ctx context.Context, q VectorQuery) ([]VectorHit, error)
	VectorCount(ctx context.Context, index string) (int64, error)
	VectorDelete(ctx context.Context, ks ...string) error
}

var _ VectorIndex = (*Client)(nil)

// VectorDelete removes vectorized records. Deleting the backing hash is all
// RediSearch needs; the index drops the document automatically.
func (c *Client) VectorDelete(ctx context.Context, ks ...string) error {
	return c.Del(ctx, ks...)
}

// EnsureIndex creates the index if it does not already exist. Creation is
// idempotent; an existing index with the same name is left untouched.
func (c *Client) EnsureIndex(ctx context.Context, spec IndexSpec) error {
	return c.do(ctx, "FT.CREATE "+spec.Name, func(ctx context.Context) error {
		if err := c.rdb.FTInfo(ctx, spec.Name).Err(); err == nil {
			return nil
		} else if !isUnknownIndex(err) {
			return err
		}

		schema := []*redis.FieldSchema{
			{
				FieldName: EmbeddingField,
				FieldType: redis.SearchFieldTypeVector,
				VectorArgs: &redis.FTVectorArgs{
					HNSWOptions: &redis.FTHNSWOptions{
						Type:           "FLOAT32",
						Dim:            spec.Dim,
						DistanceMetric: "COSINE",
					},
				},
			},
		}
		for _, f := range spec.TagFields {
			schema = append(schema, &redis.FieldSchema{
				FieldName: f,
				FieldType: redis.SearchFieldTypeTag,
			})
		}
		if spec.TextField != "" {
			schema = append(schema, &redis.FieldSchema{
				FieldName: spec.TextField,
				FieldType: redis.SearchFieldTypeText,
			})
		}

		return c.rdb.FTCreate(ctx, spec.Name, &redis.FTCreateOptions{
			OnHash: true,
			Prefix: []interface{}{spec.Prefix},
		}, schema...).Err()
	})
}

// VectorUpsert writes a vectorized hash record and its TTL atomically. The
// record becomes searchable as soon as the index has consumed it.
func (c *Client) VectorUpsert(ctx context.Context, key string, fields map[string]interface{}, vector []float32, ttl time.Duration) error {
	all := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		all[k] = v
	}
	all[EmbeddingField] = EncodeVector(vector)

	return c.do(ctx, "HSET(vector) "+key, func(ctx context.Context) error {
		tx := c.rdb.TxPipeline()
		tx.HSet(ctx, key, all)
		if ttl > 0 {
			tx.Expire(ctx, key, ttl)
		}
		_, err := tx.Exec(ctx)
		return err
	})
}

// VectorSearch runs a k-NN query and returns hits ordered by ascending
// cosine distance.
func (c *Client) VectorSearch(ctx context.Context, q VectorQuery) ([]VectorHit, error) {
	if q.K <= 0 {
		q.K = 3
	}

	query := buildKNNQuery(q)
	opts := &redis.FTSearchOptions{
		Params: map[string]interface{}{
			"vec": EncodeVector(q.Vector),
		},
		SortBy:         []redis.FTSearchSortBy{{FieldName: "vector_score", Asc: true}},
		Limit:          q.K,
		DialectVersion: 2,
	}
	for _, f := range q.ReturnFields {
		opts.Return = append(opts.Return, redis.FTSearchReturn{FieldName: f})
	}
	opts.Return = append(opts.Return, redis.FTSearchReturn{FieldName: "vector_score"})

	var hits []VectorHit
	err := c.do(ctx, "FT.SEARCH "+q.Index, func(ctx context.Context) error {
		res, err := c.rdb.FTSearchWithArgs(ctx, q.Index, query, opts).Result()
		if err != nil {
			return err
		}
		hits = make([]VectorHit, 0, len(res.Docs))
		for _, doc := range res.Docs {
			hit := VectorHit{Key: doc.ID, Fields: doc.Fields}
			if s, ok := doc.Fields["vector_score"]; ok {
				fmt.Sscanf(s, "%f", &hit.Distance)
			}
			hits = append(hits, hit)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// VectorCount returns the number of indexed documents.
func (c *Client) VectorCount(ctx context.Context, index string) (int64, error) {
	var n int64
	err := c.do(ctx, "FT.SEARCH(count) "+index, func(ctx context.Context) error {
		res, err := c.rdb.FTSearchWithArgs(ctx, index, "*", &redis.FTSearchOptions{
			NoContent:      true,
			Limit:          0,
			DialectVersion: 2,
		}).Result()
		if err != nil {
			return err
		}
		n = int64(res.Total)
		return nil
	})
	return n, err
}

// buildKNNQuery assembles a RediSearch KNN query with optional tag prefilters:
//
//	(@user_id:{u1})=>[KNN 3 @embedding $vec AS vector_score]
func buildKNNQuery(q VectorQuery) string {
	base := "*"
	if len(q.TagFilters) > 0 {
		var parts []string
		for field, value := range q.TagFilters {
			parts = append(parts, fmt.Sprintf("@%s:{%s}", field, escapeTag(value)))
		}
		base = "(" + strings.Join(parts, " ") + ")"
	}
	return fmt.Sprintf("%s=>[KNN %d @%s $vec AS vector_score]", base, q.K, EmbeddingField)
}

// escapeTag escapes the characters RediSearch treats as syntax inside tag
// values.
func escapeTag(v string) string {
	r := strings.NewReplacer(
		"-", "\\-", ".", "\\.", ":", "\\:", "@", "\\@",
		"{", "\\{", "}", "\\}", "|", "\\|", " ", "\\ ",
	)
	return r.Replace(v)
}

// EncodeVector serializes a float32 vector into the little-endian binary
// layout RediSearch expects in the embedding hash field.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) []float32 {
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec
}

func isUnknownIndex(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown index") || strings.Contains(msg, "no such index")
}
