package retrieve

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/wesm/mailmind/internal/embed"
)

// stubProvider embeds text as a bag-of-words hashed into a fixed
// dimension, so overlapping vocabularies score high under cosine.
type stubProvider struct {
	dim int
	err error
}

func newStubProvider(dim int) *stubProvider { return &stubProvider{dim: dim} }

func (p *stubProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, p.dim)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			word = strings.Trim(word, ".,!?:;\"'()")
			if word == "" {
				continue
			}
			h := fnv.New32a()
			h.Write([]byte(word))
			vec[int(h.Sum32())%p.dim]++
		}
		out[i] = vec
	}
	return out, nil
}

func (p *stubProvider) Dimension() int { return p.dim }
func (p *stubProvider) Model() string  { return "stub" }

var _ embed.Provider = (*stubProvider)(nil)
