// Package mlhttp implements ingest.LanguageModel and ingest.EmbeddingModel
// against an Ollama-shaped HTTP API: plain JSON POSTs to /api/generate and
// /api/embeddings, no gRPC, no generated client.
package mlhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/WessleyAI/rulebook-ingest/engine/domain"
	"github.com/WessleyAI/rulebook-ingest/pkg/fn"
	"github.com/WessleyAI/rulebook-ingest/pkg/resilience"
)

// Client implements both ingest.LanguageModel and ingest.EmbeddingModel
// against a single Ollama-compatible endpoint. Every call is an fn.Stage
// composed retry-with-backoff -> rate limiter -> circuit breaker, retry
// outermost: the limiter paces requests against the model server
// independently of the Orchestrator's job-admission limiter (that one
// throttles new jobs, not individual LM/embedding calls within a running
// job), the breaker fails fast once the server is consistently down, and
// every retried attempt passes through the limiter again and counts toward
// the breaker's failure threshold.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	breaker    *resilience.Breaker
	limiter    *resilience.Limiter
	retry      fn.RetryOpts
}

// New creates a Client. baseURL should carry no trailing slash, e.g.
// "http://localhost:11434". model names the model used for both completion
// and embedding requests.
func New(baseURL, model string) *Client {
	return &Client{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{},
		breaker:    resilience.NewBreaker(resilience.DefaultBreakerOpts),
		limiter:    resilience.NewLimiter(resilience.LimiterOpts{Rate: 10, Burst: 10}),
		retry:      fn.DefaultRetry,
	}
}

// stage composes call through the limiter, breaker, and retry, in that
// order: retry is outermost so a retried attempt still waits its turn at
// the limiter and still counts against the breaker.
func stage[Out any](c *Client, call fn.Stage[[]byte, Out]) fn.Stage[[]byte, Out] {
	return fn.RetryStage(c.retry, resilience.LimiterStageWait(c.limiter, resilience.BreakerStage(c.breaker, call)))
}

type generateRequest struct {
	Model      string `json:"model"`
	Prompt     string `json:"prompt"`
	Stream     bool   `json:"stream"`
	NumPredict int    `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Complete implements ingest.LanguageModel.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:      c.model,
		Prompt:     prompt,
		Stream:     false,
		NumPredict: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("mlhttp: encode generate request: %w", err)
	}

	call := fn.Stage[[]byte, generateResponse](func(ctx context.Context, body []byte) fn.Result[generateResponse] {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
		if err != nil {
			return fn.Err[generateResponse](fmt.Errorf("build generate request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fn.Err[generateResponse](fmt.Errorf("%w: %v", domain.ErrExternalUnavailable, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fn.Err[generateResponse](fmt.Errorf("%w: status %d", domain.ErrExternalUnavailable, resp.StatusCode))
		}
		var out generateResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fn.Err[generateResponse](fmt.Errorf("%w: decode response: %v", domain.ErrExternalUnavailable, err))
		}
		return fn.Ok(out)
	})

	out, err := stage(c, call)(ctx, body).Unwrap()
	if err != nil {
		return "", fmt.Errorf("mlhttp: generate: %w", err)
	}
	return out.Response, nil
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed implements ingest.EmbeddingModel. Ollama's /api/embeddings endpoint
// takes one prompt per call, so a batch is a sequential loop; Pass D is
// already responsible for sizing batches small enough that this is cheap.
func (c *Client) Embed(ctx context.Context, batch []string) ([][]float32, error) {
	out := make([][]float32, len(batch))
	for i, text := range batch {
		vec, err := c.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("mlhttp: embed [%d]: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (c *Client) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("encode embed request: %w", err)
	}

	call := fn.Stage[[]byte, embedResponse](func(ctx context.Context, body []byte) fn.Result[embedResponse] {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
		if err != nil {
			return fn.Err[embedResponse](fmt.Errorf("build embed request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fn.Err[embedResponse](fmt.Errorf("%w: %v", domain.ErrExternalUnavailable, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fn.Err[embedResponse](fmt.Errorf("%w: status %d", domain.ErrExternalUnavailable, resp.StatusCode))
		}
		var result embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fn.Err[embedResponse](fmt.Errorf("%w: decode response: %v", domain.ErrExternalUnavailable, err))
		}
		return fn.Ok(result)
	})

	result, err := stage(c, call)(ctx, body).Unwrap()
	if err != nil {
		return nil, err
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}
