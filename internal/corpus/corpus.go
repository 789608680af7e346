// Package corpus owns the session's messages and chunks and orchestrates
// the normalize → chunk → embed → index pipeline.
package corpus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wesm/mailmind/internal/chunk"
	"github.com/wesm/mailmind/internal/embed"
	"github.com/wesm/mailmind/internal/index"
	"github.com/wesm/mailmind/internal/mail"
)

// Config tunes the ingestion pipeline.
type Config struct {
	ChunkSize        int // max characters per chunk
	ChunkOverlap     int // characters shared between consecutive chunks
	EmbedBatchSize   int // chunk texts per embedding call
	EmbedConcurrency int // concurrent embedding calls
}

func (c *Config) applyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = chunk.DefaultMaxSize
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = chunk.DefaultOverlap
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = 32
	}
	if c.EmbedConcurrency <= 0 {
		c.EmbedConcurrency = 4
	}
}

// IngestStats summarizes one Ingest call.
type IngestStats struct {
	Messages int // messages admitted
	Degraded int // messages admitted with degraded content
	Chunks   int // chunks produced
	Embedded int // chunks embedded and indexed
	Failed   int // chunks left unembedded after retries
	Skipped  int // chunks rejected for dimensionality drift
}

// Hit is one retrieval result resolved to its chunk and owning message.
type Hit struct {
	Chunk   *chunk.Chunk
	Message *mail.Message
	Score   float64
}

// Corpus holds all message and chunk state for one session. All mutation
// happens in a single critical section per call; it is never written to
// non-volatile storage.
type Corpus struct {
	mu       sync.Mutex
	cfg      Config
	provider embed.Provider
	chunker  *chunk.Chunker
	index    *index.Index
	logger   *slog.Logger

	messages map[string]*mail.Message
	chunks   map[string][]*chunk.Chunk // message ID → its chunks, in order
	byChunk  map[string]*chunk.Chunk
}

// New creates an empty corpus using the given embedding provider.
func New(provider embed.Provider, cfg Config, logger *slog.Logger) *Corpus {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Corpus{
		cfg:      cfg,
		provider: provider,
		chunker:  chunk.New(cfg.ChunkSize, cfg.ChunkOverlap),
		index:    index.New(),
		logger:   logger,
		messages: make(map[string]*mail.Message),
		chunks:   make(map[string][]*chunk.Chunk),
		byChunk:  make(map[string]*chunk.Chunk),
	}
}

// pending is one message normalized and chunked, awaiting embedding.
type pending struct {
	msg    *mail.Message
	chunks []*chunk.Chunk
}

// Ingest admits a batch of raw messages: normalize → chunk → embed in
// bounded-concurrency batches → index under one critical section.
//
// Faults local to a message or chunk never abort the batch: messages
// that fail normalization are admitted degraded, and chunks whose
// embedding fails stay unembedded and unindexed. Only context
// cancellation aborts, leaving the corpus unmodified.
func (c *Corpus) Ingest(ctx context.Context, raws []mail.RawMessage) (IngestStats, error) {
	var stats IngestStats

	// CPU-bound normalization and chunking, outside any lock.
	var work []pending
	var flat []*chunk.Chunk
	for _, raw := range raws {
		msg := mail.Normalize(raw)
		chs := c.chunker.Split(msg)
		ptrs := make([]*chunk.Chunk, len(chs))
		for i := range chs {
			ptrs[i] = &chs[i]
			flat = append(flat, &chs[i])
		}
		work = append(work, pending{msg: msg, chunks: ptrs})
		stats.Messages++
		if msg.Degraded {
			stats.Degraded++
		}
		stats.Chunks += len(chs)
	}

	if err := c.embedAll(ctx, flat); err != nil {
		return IngestStats{}, err
	}
	if ctx.Err() != nil {
		return IngestStats{}, ctx.Err()
	}

	// Apply everything in one critical section so a reader can never
	// observe a half-indexed message.
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range work {
		c.evictLocked(p.msg.ID)
		c.messages[p.msg.ID] = p.msg
		c.chunks[p.msg.ID] = p.chunks
		for _, ch := range p.chunks {
			c.byChunk[ch.ID] = ch
			if !ch.Embedded() {
				stats.Failed++
				continue
			}
			if err := c.index.Add(ch.ID, ch.Vector); err != nil {
				var ce *index.ConsistencyError
				if errors.As(err, &ce) {
					c.logger.Warn("chunk rejected for dimensionality drift",
						"chunk", ch.ID, "want", ce.Want, "got", ce.Got)
					ch.Vector = nil
					stats.Skipped++
					continue
				}
				return stats, err
			}
			stats.Embedded++
		}
	}
	return stats, nil
}

// embedAll runs embedding calls for all chunks in batches, at most
// cfg.EmbedConcurrency in flight. Batch failures are recorded on the
// affected chunks (left unembedded), not returned; only context
// cancellation propagates.
func (c *Corpus) embedAll(ctx context.Context, flat []*chunk.Chunk) error {
	if len(flat) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.EmbedConcurrency)

	for start := 0; start < len(flat); start += c.cfg.EmbedBatchSize {
		end := start + c.cfg.EmbedBatchSize
		if end > len(flat) {
			end = len(flat)
		}
		batch := flat[start:end]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, ch := range batch {
				texts[i] = ch.Text
			}
			vecs, err := c.provider.Embed(gctx, texts)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.logger.Warn("embedding batch failed; chunks stay unindexed",
					"chunks", len(batch), "error", err)
				return nil
			}
			if len(vecs) != len(batch) {
				c.logger.Warn("embedding batch returned wrong count",
					"want", len(batch), "got", len(vecs))
				return nil
			}
			for i, ch := range batch {
				ch.Vector = vecs[i]
			}
			return nil
		})
	}
	return g.Wait()
}

// Evict removes a message and all its chunks from the corpus and the
// index in one logical step, scrubbing the evicted buffers. Reports
// whether the message was present.
func (c *Corpus) Evict(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.messages[id]
	c.evictLocked(id)
	return ok
}

func (c *Corpus) evictLocked(id string) {
	for _, ch := range c.chunks[id] {
		c.index.Remove(ch.ID)
		delete(c.byChunk, ch.ID)
		scrubChunk(ch)
	}
	delete(c.chunks, id)
	if msg, ok := c.messages[id]; ok {
		scrubMessage(msg)
		delete(c.messages, id)
	}
}

// Search resolves the k nearest chunks for a query vector to their
// chunks and owning messages.
func (c *Corpus) Search(queryVec []float32, k int) []Hit {
	c.mu.Lock()
	defer c.mu.Unlock()

	results := c.index.Search(queryVec, k)
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		ch, ok := c.byChunk[r.ID]
		if !ok {
			continue
		}
		msg, ok := c.messages[ch.MessageID]
		if !ok {
			continue
		}
		hits = append(hits, Hit{Chunk: ch, Message: msg, Score: r.Score})
	}
	return hits
}

// Message returns the message with the given identifier, if present.
func (c *Corpus) Message(id string) (*mail.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.messages[id]
	return msg, ok
}

// Messages returns the number of messages in the corpus.
func (c *Corpus) Messages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Indexed returns the number of chunks currently in the vector index.
func (c *Corpus) Indexed() int {
	return c.index.Len()
}

// Scrub zeroes every vector buffer, drops every message and chunk text
// reference, and empties the index. The corpus is unusable afterwards.
func (c *Corpus) Scrub() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.byChunk {
		scrubChunk(ch)
	}
	for _, msg := range c.messages {
		scrubMessage(msg)
	}
	c.messages = make(map[string]*mail.Message)
	c.chunks = make(map[string][]*chunk.Chunk)
	c.byChunk = make(map[string]*chunk.Chunk)
	c.index.Scrub()
}

// Wiped reports whether no message text, chunk text, or vector remains
// reachable from the corpus. Used to verify teardown.
func (c *Corpus) Wiped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages) == 0 && len(c.chunks) == 0 &&
		len(c.byChunk) == 0 && c.index.Len() == 0
}

func scrubChunk(ch *chunk.Chunk) {
	for i := range ch.Vector {
		ch.Vector[i] = 0
	}
	ch.Vector = nil
	ch.Text = ""
}

func scrubMessage(msg *mail.Message) {
	msg.Body = ""
	msg.Subject = ""
	msg.From = ""
	msg.To = nil
	msg.Notes = nil
}
