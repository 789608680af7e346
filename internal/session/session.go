// Package session owns one interactive run: a corpus, its retriever,
// and the guaranteed in-memory-only lifecycle with secure teardown.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/wesm/mailmind/internal/corpus"
	"github.com/wesm/mailmind/internal/embed"
	"github.com/wesm/mailmind/internal/mail"
	"github.com/wesm/mailmind/internal/retrieve"
	"github.com/wesm/mailmind/internal/synth"
)

// ErrClosed is returned by any operation after the session has been
// terminated.
var ErrClosed = eris.New("session closed")

// TeardownError reports that teardown could not verify the scrub of all
// owned buffers. The session still terminates; the failure is surfaced
// because it violates the privacy guarantee.
type TeardownError struct {
	Err error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("session teardown: memory scrub not verified: %v", e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }

// State is the session lifecycle state.
type State int

const (
	StateReady State = iota
	StateIngesting
	StateQuerying
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateIngesting:
		return "ingesting"
	case StateQuerying:
		return "querying"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Config holds the per-session tunables.
type Config struct {
	Corpus        corpus.Config
	TopK          int             // chunks retrieved per question
	ContextBudget int             // max characters of assembled context
	Policy        retrieve.Policy // context packing policy
}

func (c *Config) applyDefaults() {
	if c.TopK <= 0 {
		c.TopK = 12
	}
	if c.ContextBudget <= 0 {
		c.ContextBudget = 24000
	}
}

// Session is the top-level orchestrator for one interactive run. All
// operations are serialized: one ingest or one question at a time, so a
// query can never observe a half-indexed message.
type Session struct {
	mu     sync.Mutex
	state  State
	cfg    Config
	corpus *corpus.Corpus
	retr   *retrieve.Retriever
	synth  *synth.Synthesizer
	logger *slog.Logger
}

// New creates a Ready session with its own corpus and vector index.
func New(cfg Config, provider embed.Provider, llm synth.LLMClient, logger *slog.Logger) *Session {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	c := corpus.New(provider, cfg.Corpus, logger)
	return &Session{
		state:  StateReady,
		cfg:    cfg,
		corpus: c,
		retr:   retrieve.NewRetriever(c, provider, cfg.TopK),
		synth:  synth.NewSynthesizer(llm),
		logger: logger,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ingest admits raw messages into the session corpus. May be called
// repeatedly as more messages arrive.
func (s *Session) Ingest(ctx context.Context, raws []mail.RawMessage) (corpus.IngestStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return corpus.IngestStats{}, ErrClosed
	}
	s.state = StateIngesting
	defer func() { s.state = StateReady }()

	stats, err := s.corpus.Ingest(ctx, raws)
	if err != nil {
		return stats, fmt.Errorf("ingest: %w", err)
	}
	s.logger.Debug("ingested batch",
		"messages", stats.Messages, "chunks", stats.Chunks,
		"embedded", stats.Embedded, "failed", stats.Failed,
		"skipped", stats.Skipped, "degraded", stats.Degraded)
	return stats, nil
}

// Evict removes one message and its chunks from the session.
func (s *Session) Evict(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return false, ErrClosed
	}
	return s.corpus.Evict(id), nil
}

// Ask answers a question from the ingested corpus. Empty retrieval is
// not an error: the returned Answer says no relevant information was
// found. Cancelling ctx aborts the in-flight embedding or LLM call
// without mutating session state.
func (s *Session) Ask(ctx context.Context, question string) (*synth.Answer, error) {
	return s.ask(ctx, question, nil)
}

// AskStream is Ask with answer tokens forwarded as they arrive.
func (s *Session) AskStream(ctx context.Context, question string, onToken func(string)) (*synth.Answer, error) {
	return s.ask(ctx, question, onToken)
}

func (s *Session) ask(ctx context.Context, question string, onToken func(string)) (*synth.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return nil, ErrClosed
	}
	s.state = StateQuerying
	defer func() { s.state = StateReady }()

	hits, err := s.retr.Retrieve(ctx, question, s.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	blocks := retrieve.Assemble(hits, s.cfg.ContextBudget, s.cfg.Policy)
	if len(blocks) == 0 {
		return &synth.Answer{
			Note: "no relevant information found in the ingested messages",
		}, nil
	}

	ans, err := s.synth.SynthesizeStream(ctx, question, blocks, onToken)
	if err != nil {
		return nil, err
	}
	return ans, nil
}

// Messages returns the number of messages currently held.
func (s *Session) Messages() int { return s.corpus.Messages() }

// Indexed returns the number of chunks currently searchable.
func (s *Session) Indexed() int { return s.corpus.Indexed() }

// Close scrubs all message text, chunk text, and vectors, then moves
// the session to Terminated. The session always terminates; if the
// scrub cannot be verified a *TeardownError is returned so the privacy
// violation is loud. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return nil
	}
	s.corpus.Scrub()
	s.state = StateTerminated

	if !s.corpus.Wiped() {
		err := &TeardownError{Err: eris.New("corpus still holds content after scrub")}
		s.logger.Error("session teardown failed", "error", err)
		return err
	}
	s.logger.Debug("session terminated; all content scrubbed")
	return nil
}
