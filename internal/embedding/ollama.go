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

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrTimeout indicates the embedding request exceeded its deadline.
var ErrTimeout = errors.New("embedding request timed out")

// OllamaClient generates embeddings through Ollama's /api/embed endpoint.
// Calls are rate limited and wrapped in a circuit breaker so a struggling
// Ollama instance degrades retrieval instead of stalling the whole engine.
type OllamaClient struct {
	baseURL   string
	model     string
	dimension int
	timeout   time.Duration
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
}

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434).
	BaseURL string

	// Model is the embedding model name (default: nomic-embed-text).
	Model string

	// Dimension is the vector length the model produces (default: 384).
	Dimension int

	// Timeout bounds each embedding request (default: 5s).
	Timeout time.Duration

	// RequestsPerSecond caps the embed call rate. Zero disables limiting.
	RequestsPerSecond float64
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse is Ollama's /api/embed payload. The embeddings field is a
// 2D array; a single-input request yields exactly one row.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaClient creates an Ollama embedding client with defaults applied
// for any zero-valued config fields.
func NewOllamaClient(config OllamaConfig) *OllamaClient {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "nomic-embed-text"
	}
	if config.Dimension == 0 {
		config.Dimension = 384
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ollama-embed",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &OllamaClient{
		baseURL:   config.BaseURL,
		model:     config.Model,
		dimension: config.Dimension,
		timeout:   config.Timeout,
		client:    &http.Client{Timeout: config.Timeout},
		breaker:   breaker,
		limiter:   limiter,
	}
}

// Embed returns the embedding for text.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding rate limit wait: %w", err)
		}
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("ollama circuit breaker open: %w", err)
		}
		return nil, err
	}
	return result.([]float32), nil
}

// Dimension returns the configured vector length.
func (c *OllamaClient) Dimension() int { return c.dimension }

func (c *OllamaClient) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("send embed request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama embed returned %d: %s", resp.StatusCode, snippet)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama embed returned no embeddings")
	}

	vec := parsed.Embeddings[0]
	if len(vec) != c.dimension {
		return nil, fmt.Errorf("ollama embed returned dimension %d, expected %d", len(vec), c.dimension)
	}
	return vec, nil
}
