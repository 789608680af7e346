package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/wesm/mailmind/internal/corpus"
	"github.com/wesm/mailmind/internal/embed"
	"github.com/wesm/mailmind/internal/mail"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func raw(id, subject, body string) mail.RawMessage {
	payload := fmt.Sprintf("From: sender@example.com\r\nSubject: %s\r\n\r\n%s\r\n", subject, body)
	return mail.RawMessage{ID: id, Raw: []byte(payload)}
}

func testConfig() Config {
	return Config{
		Corpus: corpus.Config{ChunkSize: 400, EmbedBatchSize: 4, EmbedConcurrency: 2},
		TopK:   4,
	}
}

func TestAskAnswersFromRelevantMessage(t *testing.T) {
	p := newStubProvider(64)
	llm := &stubLLM{resp: "Alice recommended Luigi's on 5th Ave [m-dinner]."}
	s := New(testConfig(), p, llm, discard())
	defer s.Close()

	ctx := context.Background()
	_, err := s.Ingest(ctx, []mail.RawMessage{
		raw("m-dinner", "dinner", "Alice recommended Luigi's restaurant on 5th Ave for dinner next week."),
		raw("m-flight", "itinerary", "Your flight AB123 departs Tuesday at 9am from gate 14."),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	ans, err := s.Ask(ctx, "Which restaurant did Alice recommend for dinner?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !strings.Contains(ans.Text, "Luigi's") {
		t.Errorf("Text = %q, want the recommendation", ans.Text)
	}
	if len(ans.Citations) == 0 || ans.Citations[0] != "m-dinner" {
		t.Errorf("Citations = %v, want [m-dinner] first", ans.Citations)
	}

	// The dinner message should lead the context handed to the LLM.
	var contextMsg string
	for _, m := range llm.last {
		if m.Role == "system" && strings.Contains(m.Content, "[m-") {
			contextMsg = m.Content
		}
	}
	if contextMsg == "" {
		t.Fatal("no context message sent to LLM")
	}
	dinner := strings.Index(contextMsg, "[m-dinner]")
	flight := strings.Index(contextMsg, "[m-flight]")
	if dinner < 0 {
		t.Fatal("dinner message missing from context")
	}
	if flight >= 0 && flight < dinner {
		t.Errorf("flight message ranked above dinner in context")
	}
}

func TestAskEmptyCorpusDoesNotCallLLM(t *testing.T) {
	p := newStubProvider(16)
	llm := &stubLLM{resp: "should never be used"}
	s := New(testConfig(), p, llm, discard())
	defer s.Close()

	ans, err := s.Ask(context.Background(), "anything?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Note == "" || ans.Text != "" {
		t.Errorf("Answer = %+v, want a no-information note", ans)
	}
	if llm.callCount() != 0 {
		t.Errorf("LLM called %d times, want 0", llm.callCount())
	}
}

func TestFailedIngestThenAskReportsNoInformation(t *testing.T) {
	p := newStubProvider(16)
	p.setErr(&embed.Error{Kind: embed.KindAuth, Op: "embed", Err: errors.New("bad key")})
	llm := &stubLLM{resp: "unused"}
	s := New(testConfig(), p, llm, discard())
	defer s.Close()

	ctx := context.Background()
	stats, err := s.Ingest(ctx, []mail.RawMessage{
		raw("m1", "dinner", "Alice recommended Luigi's for dinner."),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stats.Embedded != 0 || stats.Failed == 0 {
		t.Fatalf("stats = %+v, want nothing embedded", stats)
	}

	// Embedding recovers, but the corpus holds no searchable chunks.
	p.setErr(nil)
	ans, err := s.Ask(ctx, "Which restaurant did Alice recommend?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Note == "" {
		t.Errorf("Answer = %+v, want a no-information note", ans)
	}
	if llm.callCount() != 0 {
		t.Errorf("LLM called %d times, want 0", llm.callCount())
	}
}

func TestEvictRemovesMessageFromAnswers(t *testing.T) {
	p := newStubProvider(64)
	llm := &stubLLM{resp: "ok"}
	s := New(testConfig(), p, llm, discard())
	defer s.Close()

	ctx := context.Background()
	if _, err := s.Ingest(ctx, []mail.RawMessage{
		raw("m1", "dinner", "Alice recommended Luigi's restaurant for dinner."),
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	found, err := s.Evict("m1")
	if err != nil || !found {
		t.Fatalf("Evict = (%v, %v), want (true, nil)", found, err)
	}
	if found, _ := s.Evict("m1"); found {
		t.Error("second Evict reported the message still present")
	}

	ans, err := s.Ask(ctx, "Which restaurant was recommended for dinner?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Note == "" {
		t.Errorf("Answer = %+v, want a no-information note after evict", ans)
	}
}

func TestCloseScrubsAndRejectsFurtherCalls(t *testing.T) {
	p := newStubProvider(32)
	llm := &stubLLM{resp: "ok"}
	s := New(testConfig(), p, llm, discard())

	ctx := context.Background()
	if _, err := s.Ingest(ctx, []mail.RawMessage{
		raw("m1", "secret", "The launch codes are in the blue folder."),
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.State() != StateTerminated {
		t.Errorf("State = %v, want terminated", s.State())
	}

	if _, err := s.Ask(ctx, "what are the codes?"); !errors.Is(err, ErrClosed) {
		t.Errorf("Ask after Close: %v, want ErrClosed", err)
	}
	if _, err := s.Ingest(ctx, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Ingest after Close: %v, want ErrClosed", err)
	}
	if _, err := s.Evict("m1"); !errors.Is(err, ErrClosed) {
		t.Errorf("Evict after Close: %v, want ErrClosed", err)
	}

	// Idempotent.
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestAskStreamForwardsTokens(t *testing.T) {
	p := newStubProvider(32)
	llm := &stubLLM{resp: "streamed answer [m1]"}
	s := New(testConfig(), p, llm, discard())
	defer s.Close()

	ctx := context.Background()
	if _, err := s.Ingest(ctx, []mail.RawMessage{
		raw("m1", "note", "Remember the streamed answer lives here."),
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	var got strings.Builder
	ans, err := s.AskStream(ctx, "where does the streamed answer live?", func(tok string) {
		got.WriteString(tok)
	})
	if err != nil {
		t.Fatalf("AskStream: %v", err)
	}
	if got.String() != ans.Text {
		t.Errorf("streamed %q, final %q", got.String(), ans.Text)
	}
}
