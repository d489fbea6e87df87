package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"clustertalk/internal/config"
	"clustertalk/internal/core"
)

// Embedder converts text into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// HFClient calls a hosted feature-extraction endpoint for the PubMedBERT
// sentence model.
type HFClient struct {
	endpoint  string
	authToken string
	http      *http.Client
}

// NewHFClient builds a client from the embedding configuration.
func NewHFClient(cfg config.Embedding) (*HFClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("embedding endpoint is required")
	}
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("parsing embedding timeout: %w", err)
	}
	return &HFClient{
		endpoint:  cfg.Endpoint,
		authToken: cfg.AuthToken,
		http:      &http.Client{Timeout: timeout},
	}, nil
}

// Embed returns one vector per input text, in input order.
func (c *HFClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(map[string]any{"inputs": texts})
	if err != nil {
		return nil, fmt.Errorf("encoding embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling embedding endpoint: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return nil, fmt.Errorf("embedding endpoint returned status %d: %s", res.StatusCode, msg)
	}

	var vectors [][]float64
	if err := json.NewDecoder(res.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decoding embedding response: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != core.EmbeddingDim {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), core.EmbeddingDim)
		}
	}
	return vectors, nil
}
