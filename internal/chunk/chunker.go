// Package chunk splits normalized message bodies into bounded segments,
// the unit of embedding and retrieval.
package chunk

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/wesm/mailmind/internal/mail"
)

// Chunk is one bounded text segment of a message body. Vector is nil
// until the segment has been embedded.
type Chunk struct {
	ID        string
	MessageID string
	Ordinal   int
	Text      string
	Vector    []float32
}

// Embedded reports whether the chunk carries an embedding and is
// therefore eligible for indexing.
func (c *Chunk) Embedded() bool { return c.Vector != nil }

// Chunker splits bodies into chunks of at most MaxSize characters with
// Overlap characters shared between consecutive chunks.
type Chunker struct {
	maxSize  int
	overlap  int
	splitter *regexp.Regexp
}

const (
	// DefaultMaxSize keeps chunks comfortably inside common embedding
	// model input limits.
	DefaultMaxSize = 1600
	DefaultOverlap = 200
)

// New creates a Chunker. Out-of-range arguments fall back to defaults;
// overlap is capped below maxSize so packing always advances.
func New(maxSize, overlap int) *Chunker {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= maxSize {
		overlap = maxSize / 4
	}
	return &Chunker{
		maxSize:  maxSize,
		overlap:  overlap,
		splitter: regexp.MustCompile(`(?m)(?U)([^.!?\n]+[.!?]+|[^.!?\n]+$)`),
	}
}

// Split produces the ordered chunks for one message. A message with an
// empty or whitespace-only body produces no chunks.
func (c *Chunker) Split(msg *mail.Message) []Chunk {
	body := strings.TrimSpace(msg.Body)
	if body == "" {
		return nil
	}

	segments := c.segments(body)

	var chunks []Chunk
	var cur []string
	curLen := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(cur, " "))
		if text == "" {
			cur, curLen = nil, 0
			return
		}
		chunks = append(chunks, Chunk{
			ID:        msg.ID + ":" + strconv.Itoa(len(chunks)),
			MessageID: msg.ID,
			Ordinal:   len(chunks),
			Text:      text,
		})
		// Carry trailing segments into the next chunk so meaning at the
		// boundary is not lost.
		cur, curLen = tail(cur, c.overlap)
	}

	for _, seg := range segments {
		if len(seg) > c.maxSize {
			// A single run-on segment longer than the budget gets its
			// own chunk, unmodified.
			flush()
			cur, curLen = nil, 0
			chunks = append(chunks, Chunk{
				ID:        msg.ID + ":" + strconv.Itoa(len(chunks)),
				MessageID: msg.ID,
				Ordinal:   len(chunks),
				Text:      seg,
			})
			continue
		}
		if curLen > 0 && curLen+1+len(seg) > c.maxSize {
			flush()
			// The overlap carry must never push a chunk past the
			// budget; shrink it to whatever room the segment leaves.
			if curLen > 0 && curLen+1+len(seg) > c.maxSize {
				cur, curLen = tail(cur, c.maxSize-len(seg)-1)
			}
		}
		cur = append(cur, seg)
		curLen += len(seg)
		if len(cur) > 1 {
			curLen++ // joining space
		}
	}
	if curLen > 0 {
		text := strings.TrimSpace(strings.Join(cur, " "))
		if text != "" {
			chunks = append(chunks, Chunk{
				ID:        msg.ID + ":" + strconv.Itoa(len(chunks)),
				MessageID: msg.ID,
				Ordinal:   len(chunks),
				Text:      text,
			})
		}
	}
	return chunks
}

// segments splits a body into packable units: paragraphs, falling back
// to sentences for paragraphs that exceed the chunk budget.
func (c *Chunker) segments(body string) []string {
	var out []string
	for _, para := range strings.Split(body, "\n\n") {
		para = strings.TrimSpace(strings.Join(strings.Fields(para), " "))
		if para == "" {
			continue
		}
		if len(para) <= c.maxSize {
			out = append(out, para)
			continue
		}
		sentences := c.splitter.FindAllString(para, -1)
		if len(sentences) == 0 {
			out = append(out, para)
			continue
		}
		for _, s := range sentences {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// tail returns the trailing segments of cur totaling at most overlap
// characters, with their joined length.
func tail(cur []string, overlap int) ([]string, int) {
	if overlap == 0 {
		return nil, 0
	}
	total := 0
	i := len(cur)
	for i > 0 {
		add := len(cur[i-1])
		if total > 0 {
			add++
		}
		if total+add > overlap {
			break
		}
		total += add
		i--
	}
	if i == len(cur) {
		return nil, 0
	}
	kept := make([]string, len(cur)-i)
	copy(kept, cur[i:])
	return kept, total
}
