// Package embedding provides the embedding capability consumed by the memory
// tiers: a Provider interface over an external embedding service, a
// backend-cached decorator that deduplicates provider calls by text
// fingerprint, and call statistics for observability.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrUnavailable is returned when the external embedding provider refuses or
// times out. Read paths degrade to empty context on this error; write paths
// surface it as a tier write failure.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Provider turns text into a fixed-dimensionality vector.
type Provider interface {
	// Embed returns the embedding of text. The returned vector always has
	// Dim() elements on success.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dim reports the provider's vector dimensionality.
	Dim() int
}

// HTTPConfig configures the HTTP provider.
type HTTPConfig struct {
	// URL is an Ollama-compatible /api/embed endpoint.
	URL string
	// Model is the embedding model name.
	Model string
	// Dim is the expected vector dimensionality; responses with any other
	// length are rejected.
	Dim int
	// Timeout bounds each provider call.
	Timeout time.Duration
	// Logger receives provider failures. Optional.
	Logger *logrus.Entry
}

// HTTPProvider calls an Ollama-compatible embedding endpoint.
type HTTPProvider struct {
	url    string
	model  string
	dim    int
	client *http.Client
	log    *logrus.Entry
}

// embedRequest is the /api/embed request body.
type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse is the /api/embed response body.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewHTTPProvider creates a provider for an Ollama-compatible endpoint.
func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = logrus.NewEntry(l)
	}
	return &HTTPProvider{
		url:    cfg.URL,
		model:  cfg.Model,
		dim:    cfg.Dim,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

// Dim reports the configured dimensionality.
func (p *HTTPProvider) Dim() int { return p.dim }

// Embed calls the provider. Transport failures, non-200 responses and
// malformed bodies all map to ErrUnavailable.
func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.WithError(err).Warn("embedding provider unreachable")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		p.log.WithField("status", resp.StatusCode).Warn("embedding provider error")
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, snippet)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrUnavailable)
	}

	vec := parsed.Embeddings[0]
	if p.dim > 0 && len(vec) != p.dim {
		return nil, fmt.Errorf("%w: dimensionality %d, expected %d", ErrUnavailable, len(vec), p.dim)
	}
	return vec, nil
}
