package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/wesm/mailmind/internal/corpus"
	"github.com/wesm/mailmind/internal/embed"
	"github.com/wesm/mailmind/internal/gmail"
	"github.com/wesm/mailmind/internal/oauth"
	"github.com/wesm/mailmind/internal/retrieve"
	"github.com/wesm/mailmind/internal/session"
	"github.com/wesm/mailmind/internal/synth"
)

var (
	askQuery       string
	askMaxMessages int
	askServer      string
	askModel       string
	askTopK        int
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Fetch matching mail and answer questions about it",
	Long: `Start an interactive session over a slice of your Gmail.

The session:
  1. Authorizes with Google in the browser (token stays in memory)
  2. Fetches messages matching the query
  3. Chunks and embeds them into an in-memory index
  4. Answers your questions with citations back to source messages

When the session ends, all message content and embeddings are scrubbed
from memory. Nothing touches disk.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Flags override config file
		query := askQuery
		if query == "" {
			query = cfg.Fetch.Query
		}
		maxMessages := askMaxMessages
		if maxMessages == 0 {
			maxMessages = cfg.Fetch.MaxMessages
		}
		server := askServer
		if server == "" {
			server = cfg.Chat.Server
		}
		model := askModel
		if model == "" {
			model = cfg.Chat.Model
		}
		topK := askTopK
		if topK == 0 {
			topK = cfg.Retrieval.TopK
		}

		provider, err := buildProvider()
		if err != nil {
			return err
		}

		llm, err := synth.NewOllamaClient(server, model)
		if err != nil {
			return fmt.Errorf("create llm client: %w", err)
		}

		mgr, err := oauth.NewManager(cfg.ClientSecretsPath(), logger)
		if err != nil {
			return fmt.Errorf("oauth setup: %w (download OAuth client credentials and set [oauth] client_secrets in the config)", err)
		}
		defer mgr.Forget()

		if err := mgr.Authorize(ctx); err != nil {
			return fmt.Errorf("authorize: %w", err)
		}
		ts, err := mgr.TokenSource(ctx)
		if err != nil {
			return err
		}

		client := gmail.NewClient(ts,
			gmail.WithLogger(logger),
			gmail.WithConcurrency(cfg.Fetch.Concurrency),
			gmail.WithRateLimiter(gmail.NewRateLimiter(float64(cfg.Fetch.RateLimitQPS))),
		)

		fmt.Printf("Fetching messages matching %q...\n", query)
		ids, err := client.ListMessageIDs(ctx, query, maxMessages)
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		if len(ids) == 0 {
			return fmt.Errorf("no messages match %q", query)
		}
		raws, err := client.FetchAll(ctx, ids)
		if err != nil {
			return fmt.Errorf("fetch messages: %w", err)
		}

		policy := retrieve.TopChunks
		if cfg.Retrieval.OnePerMessage {
			policy = retrieve.DistinctMessages
		}
		sess := session.New(session.Config{
			Corpus: corpus.Config{
				ChunkSize:        cfg.Chunk.Size,
				ChunkOverlap:     cfg.Chunk.Overlap,
				EmbedBatchSize:   cfg.Embed.BatchSize,
				EmbedConcurrency: cfg.Embed.Concurrency,
			},
			TopK:          topK,
			ContextBudget: cfg.Retrieval.ContextBudget,
			Policy:        policy,
		}, provider, llm, logger)
		defer func() {
			if cerr := sess.Close(); cerr != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", cerr)
				return
			}
			fmt.Println(style("Session ended. All message content scrubbed from memory.", faint))
		}()

		fmt.Printf("Indexing %d messages with %s...\n", len(raws), provider.Model())
		stats, err := sess.Ingest(ctx, raws)
		if err != nil {
			return fmt.Errorf("index messages: %w", err)
		}
		fmt.Printf("Ready: %d messages, %d chunks indexed", stats.Messages, stats.Embedded)
		if stats.Failed > 0 || stats.Skipped > 0 {
			fmt.Printf(" (%d failed, %d skipped)", stats.Failed, stats.Skipped)
		}
		fmt.Println()

		return repl(sess)
	},
}

// repl reads questions until EOF or quit. Ctrl+C cancels the current
// request, not the session.
func repl(sess *session.Session) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	fmt.Println("Type your question, or 'quit' to exit. Ctrl+C cancels current request.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(style("> ", bold))
		if !scanner.Scan() {
			break // EOF or Ctrl-D
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		if id, ok := strings.CutPrefix(line, "/forget "); ok {
			found, err := sess.Evict(strings.TrimSpace(id))
			if err != nil {
				return err
			}
			if found {
				fmt.Println("Message removed from the session.")
			} else {
				fmt.Println("No such message in the session.")
			}
			continue
		}

		// Per-request context so Ctrl+C during generation doesn't
		// poison subsequent questions. An interrupt delivered between
		// questions is dropped, not carried into the next request.
		drainSignals(sigCh)
		reqCtx, reqCancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-sigCh:
				reqCancel()
			case <-reqCtx.Done():
			}
		}()

		ans, err := sess.AskStream(reqCtx, line, func(tok string) {
			fmt.Print(tok)
		})
		switch {
		case err != nil && reqCtx.Err() != nil:
			fmt.Fprintln(os.Stderr, "\n(cancelled)")
		case err != nil:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		case ans.Note != "":
			fmt.Println(style(ans.Note, faint))
		case len(ans.Citations) > 0:
			fmt.Println()
			fmt.Println(style("Sources: "+strings.Join(ans.Citations, ", "), faint))
		}
		reqCancel()
		fmt.Println()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

// drainSignals empties any buffered signal without blocking.
func drainSignals(ch <-chan os.Signal) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// buildProvider creates the embedding backend named in the config.
func buildProvider() (embed.Provider, error) {
	switch cfg.Embed.Provider {
	case "", "ollama":
		return embed.NewOllamaClient(cfg.Embed.Server, cfg.Embed.Model)
	case "openai":
		key := cfg.EmbedAPIKey()
		if key == "" {
			return nil, fmt.Errorf("embedding API key not set: export %s", cfg.Embed.APIKeyEnv)
		}
		return embed.NewOpenAIClient(embed.OpenAIConfig{
			BaseURL: cfg.Embed.BaseURL,
			APIKey:  key,
			Model:   cfg.Embed.Model,
			QPS:     float64(cfg.Embed.QPS),
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embed.Provider)
	}
}

type styleKind int

const (
	bold styleKind = iota
	faint
)

// style decorates terminal output, passing text through untouched when
// stdout is not a terminal.
func style(s string, kind styleKind) string {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return s
	}
	t := termenv.String(s)
	switch kind {
	case bold:
		t = t.Bold()
	case faint:
		t = t.Faint()
	}
	return t.String()
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askQuery, "query", "q", "", "Gmail search query (default from config)")
	askCmd.Flags().IntVar(&askMaxMessages, "max-messages", 0, "Max messages to fetch (default from config)")
	askCmd.Flags().StringVar(&askServer, "server", "", "Ollama server URL (default from config)")
	askCmd.Flags().StringVar(&askModel, "model", "", "Answer model name (default from config)")
	askCmd.Flags().IntVar(&askTopK, "top-k", 0, "Chunks retrieved per question (default from config)")
}
