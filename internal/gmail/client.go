// Package gmail fetches raw messages over the Gmail REST API with rate
// limiting and retry. It only reads; the mailbox is never modified.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/wesm/mailmind/internal/mail"
)

const (
	defaultBaseURL = "https://gmail.googleapis.com/gmail/v1"
	maxRetries     = 8
	maxBackoff     = 120 // seconds
	pageSize       = 500
)

// Client calls the Gmail REST API for the authenticated user.
type Client struct {
	httpClient  *http.Client
	rateLimiter *RateLimiter
	logger      *slog.Logger
	baseURL     string
	userID      string
	concurrency int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithConcurrency sets the max concurrent message downloads.
func WithConcurrency(n int) ClientOption {
	return func(c *Client) { c.concurrency = n }
}

// WithRateLimiter sets a custom rate limiter.
func WithRateLimiter(rl *RateLimiter) ClientOption {
	return func(c *Client) { c.rateLimiter = rl }
}

// WithBaseURL overrides the API endpoint, for tests.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// NewClient creates a Gmail client over the given token source.
func NewClient(tokenSource oauth2.TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		httpClient:  oauth2.NewClient(context.Background(), tokenSource),
		baseURL:     defaultBaseURL,
		userID:      "me",
		concurrency: 4,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.rateLimiter == nil {
		c.rateLimiter = NewRateLimiter(5.0)
	}

	return c
}

// NotFoundError indicates a 404 response.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}

// request makes a GET request with rate limiting and retry.
func (c *Client) request(ctx context.Context, op Operation, path string) ([]byte, error) {
	if err := c.rateLimiter.Acquire(ctx, op); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	reqURL := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(attempt)
			c.logger.Debug("retrying request", "attempt", attempt, "backoff", backoff, "path", path)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}

		switch resp.StatusCode {
		case 429:
			c.logger.Debug("rate limited, backing off 30s", "path", path, "attempt", attempt)
			c.rateLimiter.Throttle(30 * time.Second)
			lastErr = fmt.Errorf("rate limited (429)")
			continue

		case 403:
			// Gmail reports quota exhaustion as 403 with a
			// rateLimitExceeded reason rather than 429.
			if isRateLimitError(respBody) {
				c.logger.Debug("quota exceeded, backing off 60s", "path", path, "attempt", attempt)
				c.rateLimiter.Throttle(60 * time.Second)
				lastErr = fmt.Errorf("quota exceeded (403)")
				continue
			}
			return nil, fmt.Errorf("forbidden (403): %s", string(respBody))

		case 500, 502, 503, 504:
			lastErr = fmt.Errorf("server error (%d)", resp.StatusCode)
			continue

		case 401:
			return nil, fmt.Errorf("unauthorized (401): token may be invalid")

		case 404:
			return nil, &NotFoundError{Path: path}

		default:
			return nil, fmt.Errorf("request failed (%d): %s", resp.StatusCode, string(respBody))
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// calculateBackoff returns exponential backoff with full jitter.
func calculateBackoff(attempt int) time.Duration {
	base := float64(uint(1) << uint(attempt))
	if base > maxBackoff {
		base = maxBackoff
	}
	jittered := rand.Float64() * base
	return time.Duration(jittered * float64(time.Second))
}

// isRateLimitError checks whether a 403 body is really a quota error.
func isRateLimitError(body []byte) bool {
	return bytes.Contains(body, []byte("rateLimitExceeded")) ||
		bytes.Contains(body, []byte("RATE_LIMIT_EXCEEDED")) ||
		bytes.Contains(body, []byte("Quota exceeded")) ||
		bytes.Contains(body, []byte("userRateLimitExceeded"))
}

// Gmail API JSON response types.

type profileResponse struct {
	EmailAddress  string `json:"emailAddress"`
	MessagesTotal int64  `json:"messagesTotal"`
}

type messageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type listMessagesResponse struct {
	Messages           []messageRef `json:"messages"`
	NextPageToken      string       `json:"nextPageToken"`
	ResultSizeEstimate int64        `json:"resultSizeEstimate"`
}

type rawMessageResponse struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	LabelIDs []string `json:"labelIds"`
	Raw      string   `json:"raw"` // base64url encoded (unpadded)
}

// decodeBase64URL decodes base64url, tolerating optional padding.
func decodeBase64URL(s string) ([]byte, error) {
	if strings.ContainsRune(s, '=') {
		return base64.URLEncoding.DecodeString(s)
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// Profile identifies the authenticated mailbox.
type Profile struct {
	EmailAddress  string
	MessagesTotal int64
}

// GetProfile returns the authenticated user's profile.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	path := fmt.Sprintf("/users/%s/profile", c.userID)
	data, err := c.request(ctx, OpProfile, path)
	if err != nil {
		return nil, err
	}

	var resp profileResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	return &Profile{EmailAddress: resp.EmailAddress, MessagesTotal: resp.MessagesTotal}, nil
}

// ListMessageIDs returns up to max message IDs matching the query,
// following pagination. A max of 0 means no cap.
func (c *Client) ListMessageIDs(ctx context.Context, query string, max int) ([]string, error) {
	var ids []string
	pageToken := ""

	for {
		params := url.Values{}
		params.Set("maxResults", strconv.Itoa(pageSize))
		if query != "" {
			params.Set("q", query)
		}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		path := fmt.Sprintf("/users/%s/messages?%s", c.userID, params.Encode())
		data, err := c.request(ctx, OpMessagesList, path)
		if err != nil {
			return nil, err
		}

		var resp listMessagesResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("parse messages: %w", err)
		}

		for _, m := range resp.Messages {
			ids = append(ids, m.ID)
			if max > 0 && len(ids) >= max {
				return ids, nil
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			return ids, nil
		}
	}
}

// FetchRaw fetches a single message with its raw MIME content.
func (c *Client) FetchRaw(ctx context.Context, messageID string) (mail.RawMessage, error) {
	path := fmt.Sprintf("/users/%s/messages/%s?format=raw", c.userID, messageID)
	data, err := c.request(ctx, OpMessagesGet, path)
	if err != nil {
		return mail.RawMessage{}, err
	}

	var resp rawMessageResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return mail.RawMessage{}, fmt.Errorf("parse message: %w", err)
	}

	rawBytes, err := decodeBase64URL(resp.Raw)
	if err != nil {
		return mail.RawMessage{}, fmt.Errorf("decode raw MIME: %w", err)
	}

	return mail.RawMessage{
		ID:     resp.ID,
		Labels: resp.LabelIDs,
		Raw:    rawBytes,
	}, nil
}

// FetchAll downloads messages in parallel with bounded concurrency.
// Individual fetch failures are logged and skipped so one bad message
// does not abort the session.
func (c *Client) FetchAll(ctx context.Context, messageIDs []string) ([]mail.RawMessage, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	results := make([]mail.RawMessage, len(messageIDs))
	ok := make([]bool, len(messageIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, id := range messageIDs {
		g.Go(func() error {
			msg, err := c.FetchRaw(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Warn("failed to fetch message", "id", id, "error", err)
				return nil
			}
			results[i] = msg
			ok[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	fetched := results[:0]
	for i := range results {
		if ok[i] {
			fetched = append(fetched, results[i])
		}
	}
	return fetched, nil
}
