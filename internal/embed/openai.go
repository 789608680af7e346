package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// OpenAIClient talks to an OpenAI-compatible /embeddings endpoint.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	maxBatch   int
	maxRetries int
	httpClient *http.Client
	limiter    *rate.Limiter

	mu  sync.Mutex
	dim int
}

// OpenAIConfig configures an OpenAIClient. APIKey is held in memory only
// and never written anywhere.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxBatch   int
	MaxRetries int
	QPS        float64
	Timeout    time.Duration
}

// NewOpenAIClient creates an embeddings client for an OpenAI-compatible
// service.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embed: missing API key")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 64
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.QPS > 0 {
		limit = rate.Limit(cfg.QPS)
	}
	return &OpenAIClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxBatch:   cfg.MaxBatch,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
	}, nil
}

func (c *OpenAIClient) Model() string { return c.model }

func (c *OpenAIClient) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dim
}

// Embed returns one vector per input text, in input order. Batches
// larger than the provider maximum are split and submitted sequentially.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.maxBatch {
		end := start + c.maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

type embeddingsRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *OpenAIClient) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	payload, err := json.Marshal(embeddingsRequest{Input: batch, Model: c.model})
	if err != nil {
		return nil, &Error{Kind: KindBadRequest, Op: "encode request", Err: err}
	}

	var lastErr *Error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, backoff(attempt)); err != nil {
				return nil, &Error{Kind: KindTimeout, Op: "backoff", Err: err}
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Kind: KindTimeout, Op: "rate limit", Err: err}
		}

		vecs, embErr := c.doRequest(ctx, payload, len(batch))
		if embErr == nil {
			return vecs, nil
		}
		if !embErr.Transient() {
			return nil, embErr
		}
		lastErr = embErr
	}
	return nil, lastErr
}

func (c *OpenAIClient) doRequest(ctx context.Context, payload []byte, want int) ([][]float32, *Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindBadRequest, Op: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := KindUnavailable
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return nil, &Error{Kind: kind, Op: "post", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Op: "read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, body)
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &Error{Kind: KindUnavailable, Op: "decode response", Err: err}
	}
	if len(parsed.Data) != want {
		return nil, &Error{
			Kind: KindUnavailable,
			Op:   "decode response",
			Err:  fmt.Errorf("got %d embeddings for %d inputs", len(parsed.Data), want),
		}
	}

	// The API may return entries out of order; the index field is
	// authoritative.
	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })

	vecs := make([][]float32, want)
	for i, d := range parsed.Data {
		if len(d.Embedding) == 0 {
			return nil, &Error{
				Kind: KindUnavailable,
				Op:   "decode response",
				Err:  fmt.Errorf("empty embedding at index %d", i),
			}
		}
		vecs[i] = d.Embedding
	}

	c.mu.Lock()
	if c.dim == 0 {
		c.dim = len(vecs[0])
	}
	c.mu.Unlock()

	return vecs, nil
}

func classifyStatus(status int, body []byte) *Error {
	err := fmt.Errorf("status %d: %s", status, truncate(body, 200))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Kind: KindAuth, Op: "post", Err: err}
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimit, Op: "post", Err: err}
	case status == http.StatusRequestTimeout:
		return &Error{Kind: KindTimeout, Op: "post", Err: err}
	case status >= 500:
		return &Error{Kind: KindUnavailable, Op: "post", Err: err}
	default:
		return &Error{Kind: KindBadRequest, Op: "post", Err: err}
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
