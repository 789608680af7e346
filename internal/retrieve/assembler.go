package retrieve

import (
	"fmt"
	"strings"
	"time"

	"github.com/wesm/mailmind/internal/corpus"
)

// Policy selects how retrieved chunks are packed into context.
type Policy int

const (
	// TopChunks includes the highest-scoring chunks regardless of which
	// message they came from.
	TopChunks Policy = iota
	// DistinctMessages includes at most one chunk per message,
	// trading raw score for source diversity.
	DistinctMessages
)

// Block is one context entry: a chunk of text with the provenance
// needed for citation.
type Block struct {
	MessageID string
	From      string
	Subject   string
	Date      time.Time
	Text      string
	Score     float64
}

// Render formats the block the way it appears in the synthesis prompt.
// The [msg-id] marker is what the model is instructed to cite.
func (b Block) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s]\n", b.MessageID)
	fmt.Fprintf(&sb, "From: %s\n", b.From)
	if !b.Date.IsZero() {
		fmt.Fprintf(&sb, "Date: %s\n", b.Date.Format("2006-01-02"))
	}
	if b.Subject != "" {
		fmt.Fprintf(&sb, "Subject: %s\n", b.Subject)
	}
	sb.WriteString("\n")
	sb.WriteString(b.Text)
	sb.WriteString("\n")
	return sb.String()
}

// Assemble greedily packs hits into context blocks, in descending score
// order, until the next block would exceed the character budget. The
// budget bounds the full RenderContext output, joining newlines
// included. An oversized block is skipped, never truncated, so included
// blocks are always whole. Under DistinctMessages only the best chunk
// per message is considered.
func Assemble(hits []corpus.Hit, budget int, policy Policy) []Block {
	if budget <= 0 || len(hits) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var blocks []Block
	used := 0
	for _, h := range hits {
		if policy == DistinctMessages && seen[h.Message.ID] {
			continue
		}
		b := Block{
			MessageID: h.Message.ID,
			From:      h.Message.From,
			Subject:   h.Message.Subject,
			Date:      h.Message.Date,
			Text:      h.Chunk.Text,
			Score:     h.Score,
		}
		cost := len(b.Render())
		if len(blocks) > 0 {
			cost++ // newline joining this block in the rendered context
		}
		if used+cost > budget {
			continue // skip, never truncate
		}
		used += cost
		seen[h.Message.ID] = true
		blocks = append(blocks, b)
	}
	return blocks
}

// RenderContext joins assembled blocks into the single context string
// handed to the model.
func RenderContext(blocks []Block) string {
	if len(blocks) == 0 {
		return ""
	}
	parts := make([]string, len(blocks))
	for i, b := range blocks {
		parts[i] = b.Render()
	}
	return strings.Join(parts, "\n")
}
