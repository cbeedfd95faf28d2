// Package embedding turns review text into fixed-length vectors via an
// OpenAI-compatible embeddings backend, content-addressed and cached so
// identical text never hits the backend twice.
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
)

// ErrEncodingUnavailable signals that the representation backend could
// not be reached. Retryable; callers must not treat it as fatal to the
// rest of the pipeline.
var ErrEncodingUnavailable = errors.New("encoding backend unavailable")

// Encoder produces a vector for one piece of text.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// Client is an OpenAI-compatible embeddings client
type Client struct {
	endpoint  string
	apiKey    string
	model     string
	dimension int
	client    *http.Client
}

// NewClient creates a new embeddings client
func NewClient(endpoint, apiKey, model string, dimension int) *Client {
	// Connection pooling tuned for many small embedding calls
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		endpoint:  endpoint,
		apiKey:    apiKey,
		model:     model,
		dimension: dimension,
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
	}
}

// embedRequest is an OpenAI embeddings request
type embedRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

// embedResponse is an OpenAI embeddings response
type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// Encode requests an embedding vector for the given text
func (c *Client) Encode(ctx context.Context, text string) ([]float32, error) {
	reqBody := embedRequest{
		Model:      c.model,
		Input:      text,
		Dimensions: c.dimension,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/embeddings", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: backend error %d: %s", ErrEncodingUnavailable, resp.StatusCode, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embeddings API error %d: %s", resp.StatusCode, string(body))
	}

	var embedResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(embedResp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	vec := embedResp.Data[0].Embedding
	if len(vec) != c.dimension {
		return nil, fmt.Errorf("backend returned %d dimensions, expected %d", len(vec), c.dimension)
	}
	return vec, nil
}
