package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
)

// OllamaClient produces embeddings from a local Ollama server.
type OllamaClient struct {
	client     *api.Client
	model      string
	maxBatch   int
	maxRetries int

	mu  sync.Mutex
	dim int
}

// NewOllamaClient creates an embeddings client for the given Ollama
// server and model.
func NewOllamaClient(serverURL, model string) (*OllamaClient, error) {
	if serverURL == "" {
		serverURL = "http://localhost:11434"
	}
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		serverURL = "http://" + serverURL
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: missing host", serverURL)
	}
	return &OllamaClient{
		client:     api.NewClient(u, &http.Client{Timeout: 2 * time.Minute}),
		model:      model,
		maxBatch:   32,
		maxRetries: defaultMaxRetries,
	}, nil
}

func (c *OllamaClient) Model() string { return c.model }

func (c *OllamaClient) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dim
}

// Embed returns one vector per input text, in input order.
func (c *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
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

func (c *OllamaClient) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr *Error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, backoff(attempt)); err != nil {
				return nil, &Error{Kind: KindTimeout, Op: "backoff", Err: err}
			}
		}

		resp, err := c.client.Embed(ctx, &api.EmbedRequest{Model: c.model, Input: batch})
		if err != nil {
			embErr := classifyOllama(err, ctx)
			if !embErr.Transient() {
				return nil, embErr
			}
			lastErr = embErr
			continue
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, &Error{
				Kind: KindUnavailable,
				Op:   "embed",
				Err:  fmt.Errorf("got %d embeddings for %d inputs", len(resp.Embeddings), len(batch)),
			}
		}

		vecs := make([][]float32, len(batch))
		for i, e := range resp.Embeddings {
			vecs[i] = e
		}
		c.mu.Lock()
		if c.dim == 0 && len(vecs) > 0 {
			c.dim = len(vecs[0])
		}
		c.mu.Unlock()
		return vecs, nil
	}
	return nil, lastErr
}

func classifyOllama(err error, ctx context.Context) *Error {
	if ctx.Err() != nil {
		return &Error{Kind: KindTimeout, Op: "embed", Err: err}
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.StatusCode, []byte(statusErr.ErrorMessage))
	}
	// Connection refused and friends: the server may come back.
	return &Error{Kind: KindUnavailable, Op: "embed", Err: err}
}
