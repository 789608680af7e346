// Package retrieve finds the chunks most relevant to a question and
// packs them into a budgeted context for synthesis.
package retrieve

import (
	"context"
	"fmt"

	"github.com/wesm/mailmind/internal/corpus"
	"github.com/wesm/mailmind/internal/embed"
)

// Retriever embeds a query and returns the top-k most relevant chunks
// with scores and provenance.
type Retriever struct {
	corpus   *corpus.Corpus
	provider embed.Provider
	maxK     int
}

// NewRetriever creates a Retriever. maxK bounds how many chunks any
// single retrieval may return.
func NewRetriever(c *corpus.Corpus, provider embed.Provider, maxK int) *Retriever {
	if maxK <= 0 {
		maxK = 20
	}
	return &Retriever{corpus: c, provider: provider, maxK: maxK}
}

// Retrieve embeds the query text (a single-item batch) and searches the
// index. A query that cannot be embedded is an error: retrieval cannot
// proceed blind. k above the configured bound or the corpus size is
// clamped silently.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]corpus.Hit, error) {
	if k <= 0 || k > r.maxK {
		k = r.maxK
	}
	vecs, err := r.provider.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors for one input", len(vecs))
	}
	return r.corpus.Search(vecs[0], k), nil
}
