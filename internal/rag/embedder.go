package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cognicrew/crewdesk/internal/config"
)

const (
	embeddingProviderAPI    = "api"
	embeddingProviderOllama = "ollama"

	defaultOllamaBaseURL = "http://127.0.0.1:11434"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type embedderClient struct {
	provider    string
	baseURL     string
	apiKey      string
	model       string
	expectedDim int
	batchSize   int
	timeout     time.Duration
	httpClient  *http.Client
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewEmbedder builds an OpenAI-compatible embeddings client. httpClient is
// shared with the other outbound gateways; nil selects http.DefaultClient.
func NewEmbedder(cfg config.EmbeddingConfig, httpClient *http.Client) Embedder {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &embedderClient{
		provider:    embeddingProviderAPI,
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       strings.TrimSpace(cfg.Model),
		expectedDim: cfg.Dimension,
		batchSize:   config.DefaultEmbeddingBatchSize,
		timeout:     time.Duration(config.DefaultEmbeddingTimeoutMs) * time.Millisecond,
		httpClient:  httpClient,
	}
	if p := strings.ToLower(strings.TrimSpace(cfg.Provider)); p != "" {
		c.provider = p
	}
	if cfg.BatchSize > 0 {
		c.batchSize = cfg.BatchSize
	}
	if cfg.TimeoutMs > 0 {
		c.timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	if c.provider == embeddingProviderOllama && c.baseURL == "" {
		c.baseURL = defaultOllamaBaseURL
	}
	return c
}

func (c *embedderClient) Embed(ctx context.Context, text string) ([]float32, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("embed: empty text")
	}
	vectors, err := c.request(ctx, trimmed, 1)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return vectors[0], nil
}

func (c *embedderClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("embed batch: empty texts")
	}
	inputs := make([]string, len(texts))
	for i, text := range texts {
		if inputs[i] = strings.TrimSpace(text); inputs[i] == "" {
			return nil, fmt.Errorf("embed batch: empty text at index %d", i)
		}
	}

	out := make([][]float32, 0, len(inputs))
	for start := 0; start < len(inputs); start += c.batchSize {
		end := min(start+c.batchSize, len(inputs))
		chunk, err := c.request(ctx, inputs[start:end], end-start)
		if err != nil {
			return nil, fmt.Errorf("embed batch: %w", err)
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (c *embedderClient) request(ctx context.Context, input any, count int) ([][]float32, error) {
	if c.model == "" {
		return nil, fmt.Errorf("missing embedding model")
	}
	if c.provider != embeddingProviderAPI && c.provider != embeddingProviderOllama {
		return nil, fmt.Errorf("unsupported embedding provider: %s", c.provider)
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("missing embedding base url")
	}
	if c.provider == embeddingProviderAPI && c.apiKey == "" {
		return nil, fmt.Errorf("missing embedding api key")
	}

	payload, err := json.Marshal(embeddingRequest{Model: c.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded embeddingResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return c.collect(decoded, count)
}

// collect orders vectors by their response index and checks dimensions.
func (c *embedderClient) collect(resp embeddingResponse, count int) ([][]float32, error) {
	if len(resp.Data) != count {
		return nil, fmt.Errorf("response count mismatch: got %d want %d", len(resp.Data), count)
	}

	vectors := make([][]float32, count)
	dim := c.expectedDim
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= count {
			return nil, fmt.Errorf("invalid embedding index %d", item.Index)
		}
		if vectors[item.Index] != nil {
			return nil, fmt.Errorf("duplicate embedding index %d", item.Index)
		}
		if len(item.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding vector at index %d", item.Index)
		}
		if dim == 0 {
			dim = len(item.Embedding)
		}
		if len(item.Embedding) != dim {
			return nil, fmt.Errorf("embedding dimension at index %d: got %d want %d", item.Index, len(item.Embedding), dim)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}
