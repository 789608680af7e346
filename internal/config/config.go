// Package config handles loading and managing mailmind configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ChunkConfig holds message chunking configuration.
type ChunkConfig struct {
	Size    int `toml:"size"`    // Max chunk size in characters
	Overlap int `toml:"overlap"` // Overlap between adjacent chunks
}

// EmbedConfig holds embedding provider configuration.
type EmbedConfig struct {
	Provider    string `toml:"provider"`     // "ollama" or "openai"
	Server      string `toml:"server"`       // Ollama server URL
	Model       string `toml:"model"`        // Embedding model name
	BaseURL     string `toml:"base_url"`     // OpenAI-compatible API base URL
	APIKeyEnv   string `toml:"api_key_env"`  // Env var holding the API key
	BatchSize   int    `toml:"batch_size"`   // Texts per embedding request
	Concurrency int    `toml:"concurrency"`  // Concurrent embedding batches
	QPS         int    `toml:"rate_limit_qps"`
}

// ChatConfig holds answer-model configuration.
type ChatConfig struct {
	Server string `toml:"server"` // Ollama server URL
	Model  string `toml:"model"`  // Model name
}

// RetrievalConfig holds query-time retrieval configuration.
type RetrievalConfig struct {
	TopK          int  `toml:"top_k"`            // Chunks retrieved per question
	ContextBudget int  `toml:"context_budget"`   // Max characters of assembled context
	OnePerMessage bool `toml:"one_per_message"`  // Keep only the best chunk per message
}

// FetchConfig holds Gmail fetch configuration.
type FetchConfig struct {
	Query        string `toml:"query"`          // Gmail search query scoping the session
	MaxMessages  int    `toml:"max_messages"`   // Hard cap on messages fetched
	RateLimitQPS int    `toml:"rate_limit_qps"` // Gmail API request rate
	Concurrency  int    `toml:"concurrency"`    // Concurrent message downloads
}

// OAuthConfig holds OAuth configuration. Tokens are never written to
// disk; only the client credentials file is referenced here.
type OAuthConfig struct {
	ClientSecrets string `toml:"client_secrets"`
}

type Config struct {
	OAuth     OAuthConfig     `toml:"oauth"`
	Fetch     FetchConfig     `toml:"fetch"`
	Chunk     ChunkConfig     `toml:"chunk"`
	Embed     EmbedConfig     `toml:"embed"`
	Chat      ChatConfig      `toml:"chat"`
	Retrieval RetrievalConfig `toml:"retrieval"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// DefaultHome returns the default mailmind home directory.
// Respects MAILMIND_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("MAILMIND_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailmind"
	}
	return filepath.Join(home, ".mailmind")
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.mailmind/config.toml).
func Load(path string) (*Config, error) {
	homeDir := DefaultHome()

	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		HomeDir: homeDir,
		// Defaults
		Fetch: FetchConfig{
			Query:        "newer_than:90d",
			MaxMessages:  500,
			RateLimitQPS: 5,
			Concurrency:  4,
		},
		Chunk: ChunkConfig{
			Size:    1600,
			Overlap: 200,
		},
		Embed: EmbedConfig{
			Provider:    "ollama",
			Server:      "http://localhost:11434",
			Model:       "nomic-embed-text",
			APIKeyEnv:   "OPENAI_API_KEY",
			BatchSize:   32,
			Concurrency: 4,
		},
		Chat: ChatConfig{
			Server: "http://localhost:11434",
			Model:  "gpt-oss-128k",
		},
		Retrieval: RetrievalConfig{
			TopK:          12,
			ContextBudget: 24000,
		},
	}

	// Config file is optional - use defaults if not present
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.OAuth.ClientSecrets = expandPath(cfg.OAuth.ClientSecrets)

	return cfg, nil
}

// ClientSecretsPath returns the OAuth client credentials file path,
// defaulting to credentials.json under the mailmind home.
func (c *Config) ClientSecretsPath() string {
	if c.OAuth.ClientSecrets != "" {
		return c.OAuth.ClientSecrets
	}
	return filepath.Join(c.HomeDir, "credentials.json")
}

// EmbedAPIKey resolves the embedding API key from the environment.
// The key itself never appears in the config file.
func (c *Config) EmbedAPIKey() string {
	if c.Embed.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Embed.APIKeyEnv)
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
