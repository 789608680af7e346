package corpus

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/wesm/mailmind/internal/embed"
)

// stubProvider is a deterministic test double for embed.Provider. It
// embeds text as a bag-of-words hashed into a fixed-dimension vector, so
// texts sharing words get similar vectors.
type stubProvider struct {
	mu    sync.Mutex
	dim   int
	calls int
	// err, when set, is returned for every call.
	err error
	// dimFor overrides the vector dimension for texts containing the key.
	dimFor map[string]int
}

func newStubProvider(dim int) *stubProvider {
	return &stubProvider{dim: dim}
}

func (p *stubProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		dim := p.dim
		for key, d := range p.dimFor {
			if strings.Contains(text, key) {
				dim = d
			}
		}
		out[i] = hashEmbed(text, dim)
	}
	return out, nil
}

func (p *stubProvider) Dimension() int { return p.dim }
func (p *stubProvider) Model() string  { return "stub" }

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
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

var _ embed.Provider = (*stubProvider)(nil)
