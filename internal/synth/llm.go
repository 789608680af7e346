// Package synth turns a question plus assembled context into a grounded,
// cited answer via an LLM backend.
package synth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// Message is one turn of a chat exchange.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// LLMClient abstracts LLM providers for swappability.
type LLMClient interface {
	// Chat sends messages and returns the complete response.
	Chat(ctx context.Context, messages []Message) (string, error)
	// ChatStream sends messages and streams response tokens via callback.
	ChatStream(ctx context.Context, messages []Message, onToken func(string)) error
}

// defaultChatTimeout bounds one full generation, not one token.
const defaultChatTimeout = 5 * time.Minute

// OllamaClient implements LLMClient using the Ollama API.
type OllamaClient struct {
	client *api.Client
	model  string
}

// OllamaOption configures an OllamaClient.
type OllamaOption func(*http.Client)

// WithTimeout bounds one full generation. Zero disables the bound.
func WithTimeout(d time.Duration) OllamaOption {
	return func(hc *http.Client) { hc.Timeout = d }
}

// WithTransport overrides the HTTP transport, for tests.
func WithTransport(rt http.RoundTripper) OllamaOption {
	return func(hc *http.Client) { hc.Transport = rt }
}

// NewOllamaClient creates an OllamaClient for the given server and model.
func NewOllamaClient(serverURL, model string, opts ...OllamaOption) (*OllamaClient, error) {
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

	hc := &http.Client{Timeout: defaultChatTimeout}
	for _, opt := range opts {
		opt(hc)
	}
	return &OllamaClient{client: api.NewClient(u, hc), model: model}, nil
}

// chat runs one exchange, delivering content fragments to emit as they
// arrive. With stream false there is a single fragment.
func (o *OllamaClient) chat(ctx context.Context, messages []Message, stream bool, emit func(string)) error {
	msgs := make([]api.Message, len(messages))
	for i, m := range messages {
		msgs[i] = api.Message{Role: m.Role, Content: m.Content}
	}
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &stream,
	}
	return o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			emit(resp.Message.Content)
		}
		return nil
	})
}

func (o *OllamaClient) Chat(ctx context.Context, messages []Message) (string, error) {
	var sb strings.Builder
	if err := o.chat(ctx, messages, false, func(s string) { sb.WriteString(s) }); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (o *OllamaClient) ChatStream(ctx context.Context, messages []Message, onToken func(string)) error {
	return o.chat(ctx, messages, true, onToken)
}
