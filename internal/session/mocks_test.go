package session

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/wesm/mailmind/internal/embed"
	"github.com/wesm/mailmind/internal/synth"
)

// stubProvider embeds text as a bag-of-words hashed into a fixed
// dimension, so texts sharing words score close under cosine.
type stubProvider struct {
	mu    sync.Mutex
	dim   int
	calls int
	err   error
}

func newStubProvider(dim int) *stubProvider {
	return &stubProvider{dim: dim}
}

func (p *stubProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.calls++
	err := p.err
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = hashEmbed(text, p.dim)
	}
	return out, nil
}

func (p *stubProvider) Dimension() int { return p.dim }
func (p *stubProvider) Model() string  { return "stub" }

func (p *stubProvider) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func hashEmbed(text string, dim int) []float32 {
	vec := make([]float32, dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?:;\"'()")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[int(h.Sum32())%dim]++
	}
	return vec
}

// stubLLM records prompts and returns a canned response.
type stubLLM struct {
	mu    sync.Mutex
	resp  string
	err   error
	calls int
	last  []synth.Message
}

func (l *stubLLM) Chat(_ context.Context, messages []synth.Message) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.last = messages
	return l.resp, l.err
}

func (l *stubLLM) ChatStream(ctx context.Context, messages []synth.Message, onToken func(string)) error {
	resp, err := l.Chat(ctx, messages)
	if err != nil {
		return err
	}
	if onToken != nil {
		onToken(resp)
	}
	return nil
}

func (l *stubLLM) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

var (
	_ embed.Provider  = (*stubProvider)(nil)
	_ synth.LLMClient = (*stubLLM)(nil)
)
