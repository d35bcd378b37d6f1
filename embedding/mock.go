package embedding

import (
	"context"
	"crypto/sha256"
	"math"
	"sync"
)

// MockProvider is a deterministic in-process Provider for testing. The vector
// for a text is derived from its SHA-256 digest and unit-normalized, so equal
// texts embed identically and similar-but-different texts do not collide.
type MockProvider struct {
	// DimSize is the vector dimensionality (default 8).
	DimSize int
	// Err, when set, is returned from every Embed call.
	Err error
	// Fixed, when set, maps exact texts to fixed vectors, overriding the
	// hash derivation. Useful for staging known-similarity scenarios.
	Fixed map[string][]float32

	mu    sync.Mutex
	calls int
}

// Dim reports the mock's dimensionality.
func (m *MockProvider) Dim() int {
	if m.DimSize <= 0 {
		return 8
	}
	return m.DimSize
}

// Calls reports how many Embed calls reached the provider.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Embed derives a deterministic unit vector from the text.
func (m *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if v, ok := m.Fixed[text]; ok {
		return v, nil
	}

	dim := m.Dim()
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, dim)
	var norm float64
	for i := 0; i < dim; i++ {
		// Spread digest bytes across the vector, centered on zero.
		vec[i] = float32(int(sum[i%len(sum)])-128) / 128
		norm += float64(vec[i]) * float64(vec[i])
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec, nil
}
