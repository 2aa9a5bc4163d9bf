package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/developer-mesh/codegraph/pkg/cgerrors"
	"github.com/developer-mesh/codegraph/pkg/resilience"
	"golang.org/x/sync/semaphore"
)

// HTTPConfig configures a remote embedding provider (spec.md §4.10's "HTTP
// engine contract").
type HTTPConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Dimension         int
	Timeout           time.Duration
	MaxConcurrency    int64
	MaxRetries        uint64
	RequestsPerSecond float64
	Burst             int
}

func (c *HTTPConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 10
	}
	if c.Burst <= 0 {
		c.Burst = 20
	}
}

// requestFormat distinguishes the request/response JSON shape of each
// remote flavor named in spec.md §4.10.
type requestFormat string

const (
	formatOpenAI  requestFormat = "openai"
	formatOllama  requestFormat = "ollama"
	formatCloudRU requestFormat = "cloudru"
)

// HTTPProvider is a remote embedding provider reached over HTTP, retried at a
// constant 500 ms interval and protected by a circuit breaker. The wait
// between retries does not grow with the attempt number.
type HTTPProvider struct {
	kind   Kind
	format requestFormat
	cfg    HTTPConfig
	client *http.Client
	sem    *semaphore.Weighted
	cb     *resilience.CircuitBreaker
}

// NewHTTPProvider constructs a remote provider. kind selects which of
// KindHTTPOpenAI/KindHTTPOllama/KindHTTPCloudRU this instance represents.
func NewHTTPProvider(kind Kind, cfg HTTPConfig) *HTTPProvider {
	cfg.applyDefaults()
	format := formatOpenAI
	switch kind {
	case KindHTTPOllama:
		format = formatOllama
	case KindHTTPCloudRU:
		format = formatCloudRU
	}
	return &HTTPProvider{
		kind:   kind,
		format: format,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		sem:    semaphore.NewWeighted(cfg.MaxConcurrency),
		cb:     resilience.NewCircuitBreaker(string(kind), resilience.CircuitBreakerConfig{}, nil),
	}
}

func (p *HTTPProvider) Info() Info {
	return Info{Kind: p.kind, Name: string(p.kind), Model: p.cfg.Model, Dimension: p.cfg.Dimension}
}

func (p *HTTPProvider) Initialize(ctx context.Context) error { return nil }

func (p *HTTPProvider) GetDimension() int { return p.cfg.Dimension }

func (p *HTTPProvider) Close() error { return nil }

type openAIEmbedRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type ollamaEmbedRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type cloudRUEmbedRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type cloudRUEmbedResponse struct {
	Vector []float32 `json:"vector"`
}

func (p *HTTPProvider) buildRequest(ctx context.Context, text string) (*http.Request, error) {
	var path string
	var body []byte
	var err error

	switch p.format {
	case formatOllama:
		path = "/api/embeddings"
		body, err = json.Marshal(ollamaEmbedRequest{Prompt: text, Model: p.cfg.Model})
	case formatCloudRU:
		path = "/v1/embed"
		body, err = json.Marshal(cloudRUEmbedRequest{Text: text, Model: p.cfg.Model})
	default:
		path = "/v1/embeddings"
		body, err = json.Marshal(openAIEmbedRequest{Input: text, Model: p.cfg.Model})
	}
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	return req, nil
}

func (p *HTTPProvider) parseResponse(body []byte) ([]float32, error) {
	switch p.format {
	case formatOllama:
		var r ollamaEmbedResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("parse ollama response: %w", err)
		}
		return r.Embedding, nil
	case formatCloudRU:
		var r cloudRUEmbedResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("parse cloudru response: %w", err)
		}
		return r.Vector, nil
	default:
		var r openAIEmbedResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("parse openai response: %w", err)
		}
		if len(r.Data) == 0 {
			return nil, fmt.Errorf("empty embedding data")
		}
		return r.Data[0].Embedding, nil
	}
}

// doOnce sends one HTTP request and returns the decoded vector, or a
// permanent error for a non-retryable status.
func (p *HTTPProvider) doOnce(ctx context.Context, text string) ([]float32, error) {
	req, err := p.buildRequest(ctx, text)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &cgerrors.HTTPError{Status: resp.StatusCode, Body: string(body)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(&cgerrors.HTTPError{Status: resp.StatusCode, Body: string(body)})
	}

	vec, err := p.parseResponse(body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return vec, nil
}

// Embed performs one embedding call, retried on 429/5xx up to MaxRetries with
// a constant 500 ms wait between attempts (not a growing one), behind the
// circuit breaker and the concurrency semaphore.
func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	limiterName := "embedding-http-" + string(p.kind)
	result, err := resilience.ExecuteWithRateLimiter(ctx, limiterName, resilience.RateLimiterConfig{
		Name:  limiterName,
		Rate:  p.cfg.RequestsPerSecond,
		Burst: p.cfg.Burst,
	}, func() (interface{}, error) {
		return p.cb.Execute(ctx, func() (interface{}, error) {
			policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), p.cfg.MaxRetries)
			return backoff.RetryWithData(func() ([]float32, error) {
				return p.doOnce(ctx, text)
			}, backoff.WithContext(policy, ctx))
		})
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

// EmbedBatch chunks texts by maxBatchSize (spec.md §4.10 "Batching") and fans
// each chunk out concurrently; per-call concurrency is already bounded by
// the provider's semaphore inside Embed.
func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	offset := 0
	for _, chunk := range chunkTexts(texts, maxBatchSize) {
		var firstErr error
		var mu sync.Mutex
		var wg sync.WaitGroup
		for i, t := range chunk {
			i, t := i, t
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := p.Embed(ctx, t)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
					return
				}
				out[offset+i] = v
			}()
		}
		wg.Wait()
		if firstErr != nil {
			return nil, firstErr
		}
		offset += len(chunk)
	}
	return out, nil
}
