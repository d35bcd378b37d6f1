package db

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// VectorMirror is the subset of the KV client the mock uses to mirror
// record hashes into the same store the production path writes to. On a real
// backend the vectorized record IS a hash; mirroring keeps key scans and
// hash reads truthful in tests.
type VectorMirror interface {
	HSet(ctx context.Context, key string, fields map[string]interface{}) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, ks ...string) error
}

// MockVectorIndex is an in-memory implementation of VectorIndex for testing.
// It computes exact cosine distances over the stored vectors, so retrieval
// ranking matches what an HNSW index would return on small data sets.
type MockVectorIndex struct {
	mu      sync.Mutex
	indices map[string]IndexSpec
	docs    map[string]mockDoc // key -> doc

	// Mirror, when set, receives every record hash write and delete.
	Mirror VectorMirror
	// Err, when set, is returned from every operation.
	Err error
	// Track function calls
	UpsertCalled bool
	SearchCalled bool
	LastQuery    VectorQuery
}

type mockDoc struct {
	index  string
	fields map[string]string
	vector []float32
}

// NewMockVectorIndex creates an empty mock index.
func NewMockVectorIndex() *MockVectorIndex {
	return &MockVectorIndex{
		indices: make(map[string]IndexSpec),
		docs:    make(map[string]mockDoc),
	}
}

// EnsureIndex registers an index spec.
func (m *MockVectorIndex) EnsureIndex(ctx context.Context, spec IndexSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.indices[spec.Name]; !ok {
		m.indices[spec.Name] = spec
	}
	return nil
}

// VectorUpsert stores a record under the index whose prefix matches the key.
func (m *MockVectorIndex) VectorUpsert(ctx context.Context, key string, fields map[string]interface{}, vector []float32, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.UpsertCalled = true

	index := ""
	for name, spec := range m.indices {
		if strings.HasPrefix(key, spec.Prefix) {
			index = name
			break
		}
	}

	strFields := make(map[string]string, len(fields))
	for k, v := range fields {
		strFields[k] = fmt.Sprintf("%v", v)
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	m.docs[key] = mockDoc{index: index, fields: strFields, vector: vec}

	if m.Mirror != nil {
		if err := m.Mirror.HSet(ctx, key, fields); err != nil {
			return err
		}
		if ttl > 0 {
			if err := m.Mirror.Expire(ctx, key, ttl); err != nil {
				return err
			}
		}
	}
	return nil
}

// VectorDelete removes records by key.
func (m *MockVectorIndex) VectorDelete(ctx context.Context, ks ...string) error {
	m.mu.Lock()
	if m.Err != nil {
		m.mu.Unlock()
		return m.Err
	}
	for _, key := range ks {
		delete(m.docs, key)
	}
	mirror := m.Mirror
	m.mu.Unlock()

	if mirror != nil && len(ks) > 0 {
		return mirror.Del(ctx, ks...)
	}
	return nil
}

// VectorSearch returns the K nearest stored records by cosine distance.
func (m *MockVectorIndex) VectorSearch(ctx context.Context, q VectorQuery) ([]VectorHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.SearchCalled = true
	m.LastQuery = q

	k := q.K
	if k <= 0 {
		k = 3
	}

	var hits []VectorHit
	for key, doc := range m.docs {
		if doc.index != q.Index {
			continue
		}
		if !matchesTags(doc.fields, q.TagFilters) {
			continue
		}
		hits = append(hits, VectorHit{
			Key:      key,
			Fields:   copyFields(doc.fields, q.ReturnFields),
			Distance: cosineDistance(q.Vector, doc.vector),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Key < hits[j].Key
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// VectorCount returns the number of records under an index.
func (m *MockVectorIndex) VectorCount(ctx context.Context, index string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	var n int64
	for _, doc := range m.docs {
		if doc.index == index {
			n++
		}
	}
	return n, nil
}

// DeleteByPrefix removes every stored record whose key has the prefix.
// Mirrors the administrative clear path.
func (m *MockVectorIndex) DeleteByPrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.docs {
		if strings.HasPrefix(key, prefix) {
			delete(m.docs, key)
			n++
		}
	}
	return n
}

func matchesTags(fields map[string]string, filters map[string]string) bool {
	for f, want := range filters {
		if fields[f] != want {
			return false
		}
	}
	return true
}

func copyFields(fields map[string]string, only []string) map[string]string {
	out := make(map[string]string)
	if len(only) == 0 {
		for k, v := range fields {
			out[k] = v
		}
		return out
	}
	for _, k := range only {
		if v, ok := fields[k]; ok {
			out[k] = v
		}
	}
	return out
}

func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

var _ VectorIndex = (*MockVectorIndex)(nil)
