package synth

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rotisserie/eris"

	"github.com/wesm/mailmind/internal/retrieve"
)

// Answer is a synthesized response plus the message identifiers used as
// evidence, in order of first appearance.
type Answer struct {
	Text      string
	Citations []string
	// Note explains an empty or degraded answer; never set alongside a
	// normal one.
	Note string
}

// Synthesizer sends a question and its assembled context to the LLM
// backend and parses the grounded answer.
type Synthesizer struct {
	llm        LLMClient
	maxRetries int
}

// NewSynthesizer creates a Synthesizer over the given LLM client.
func NewSynthesizer(llm LLMClient) *Synthesizer {
	return &Synthesizer{llm: llm, maxRetries: 3}
}

// Synthesize asks the model to answer the question using only the
// provided context blocks, citing source messages. Transient backend
// failures are retried with backoff; a response without usable content
// becomes an empty Answer with a Note, not an error.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, blocks []retrieve.Block) (*Answer, error) {
	return s.synthesize(ctx, question, blocks, nil)
}

// SynthesizeStream is Synthesize with tokens forwarded to onToken as
// they arrive.
func (s *Synthesizer) SynthesizeStream(ctx context.Context, question string, blocks []retrieve.Block, onToken func(string)) (*Answer, error) {
	return s.synthesize(ctx, question, blocks, onToken)
}

func (s *Synthesizer) synthesize(ctx context.Context, question string, blocks []retrieve.Block, onToken func(string)) (*Answer, error) {
	msgs := []Message{
		{Role: "system", Content: answerSystem},
		{Role: "system", Content: "Retrieved email excerpts:\n\n" + retrieve.RenderContext(blocks)},
		{Role: "user", Content: question},
	}

	var text string
	var err error
	sent := 0 // chars already forwarded across attempts
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			if serr := sleep(ctx, backoff(attempt)); serr != nil {
				return nil, eris.Wrap(err, "synthesize")
			}
		}
		if onToken != nil {
			var sb strings.Builder
			err = s.llm.ChatStream(ctx, msgs, func(tok string) {
				pos := sb.Len()
				sb.WriteString(tok)
				// A retried attempt replays the response from the
				// start; forward only what has not been seen yet.
				if sb.Len() <= sent {
					return
				}
				if pos < sent {
					tok = tok[sent-pos:]
				}
				onToken(tok)
				sent = sb.Len()
			})
			text = sb.String()
		} else {
			text, err = s.llm.Chat(ctx, msgs)
		}
		if err == nil {
			break
		}
		if ctx.Err() != nil || !transient(err) {
			return nil, eris.Wrap(err, "synthesize")
		}
	}
	if err != nil {
		return nil, eris.Wrap(err, "synthesize: retries exhausted")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return &Answer{Note: "the model returned no content for this question"}, nil
	}
	return &Answer{Text: text, Citations: extractCitations(text, blocks)}, nil
}

// transient reports whether an LLM backend error is worth retrying.
func transient(err error) bool {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == 429 || statusErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

var citationRe = regexp.MustCompile(`\[([^\[\]\n]+)\]`)

// extractCitations returns the context message identifiers referenced by
// the answer, in order of first appearance. An answer that cites nothing
// explicitly is attributed to every context block, in block order.
func extractCitations(text string, blocks []retrieve.Block) []string {
	known := make(map[string]bool, len(blocks))
	for _, b := range blocks {
		known[b.MessageID] = true
	}

	var cited []string
	seen := make(map[string]bool)
	for _, m := range citationRe.FindAllStringSubmatch(text, -1) {
		id := strings.TrimSpace(m[1])
		if known[id] && !seen[id] {
			seen[id] = true
			cited = append(cited, id)
		}
	}
	if len(cited) > 0 {
		return cited
	}

	for _, b := range blocks {
		if !seen[b.MessageID] {
			seen[b.MessageID] = true
			cited = append(cited, b.MessageID)
		}
	}
	return cited
}

const maxBackoff = 15 * time.Second

func backoff(attempt int) time.Duration {
	base := time.Second * time.Duration(uint(1)<<uint(attempt))
	if base > maxBackoff {
		base = maxBackoff
	}
	return time.Duration(rand.Float64() * float64(base))
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
