// Package chronik is the client for the external append-only event
// log. Pulling is cursor-based with stall detection; pushing wraps a
// payload into the fixed ingest body. The cursor survives restarts in
// a single-line file.
package chronik

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"heimgeist/internal/event"
)

// ExpectedNamespace is the domain prefix this engine subscribes to.
// Other domains still work but draw a warning at construction.
const ExpectedNamespace = "heimgeist."

// DefaultMaxSkip bounds how many non-matching events one NextEvent
// call may consume before giving up for the tick.
const DefaultMaxSkip = 50

// DefaultTimeout is the hard per-request timeout.
const DefaultTimeout = 10 * time.Second

// ErrStalled reports a non-advancing cursor while the server claims
// more data; the poll stops for the tick instead of looping forever.
var ErrStalled = errors.New("chronik: cursor stalled")

// APIError is a non-2xx response from the chronik API.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chronik: %s: status %d: %s", e.Operation, e.StatusCode, e.Message)
}

// Client talks to one chronik instance for one domain.
type Client struct {
	baseURL    string
	domain     string
	cursorPath string
	cursor     string
	maxSkip    int
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the Client during construction.
type Option func(*clientConfig) error

type clientConfig struct {
	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration
	maxSkip    int
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *clientConfig) error {
		cfg.logger = l
		return nil
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		cfg.timeout = d
		return nil
	}
}

// WithMaxSkip bounds the per-call skip budget.
func WithMaxSkip(n int) Option {
	return func(cfg *clientConfig) error {
		if n <= 0 {
			return fmt.Errorf("chronik: max skip must be positive, got %d", n)
		}
		cfg.maxSkip = n
		return nil
	}
}

// New creates a Client for the given chronik instance and domain.
// The cursor is reloaded from cursorPath if the file exists.
func New(baseURL, domain, cursorPath string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("chronik: baseURL is required")
	}
	if domain == "" {
		return nil, fmt.Errorf("chronik: domain is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	cfg := &clientConfig{maxSkip: DefaultMaxSkip, timeout: DefaultTimeout}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if !strings.HasPrefix(domain, ExpectedNamespace) {
		logger.Warn("domain outside expected namespace", "domain", domain, "expected_prefix", ExpectedNamespace)
	}

	c := &Client{
		baseURL:    baseURL,
		domain:     domain,
		cursorPath: cursorPath,
		maxSkip:    cfg.maxSkip,
		httpClient: httpClient,
		logger:     logger,
	}
	if err := c.loadCursor(); err != nil {
		return nil, err
	}
	return c, nil
}

// Cursor returns the in-memory cursor position.
func (c *Client) Cursor() string { return c.cursor }

type pullResponse struct {
	Events     []event.Event `json:"events"`
	NextCursor string        `json:"next_cursor"`
	HasMore    bool          `json:"has_more"`
}

// NextEvent pulls the next event of one of the given types. Events of
// other types are consumed (cursor persisted) to avoid head-of-line
// blocking, up to the skip budget. Returns (nil, nil) on a clean end
// of stream and ErrStalled when the server stops advancing the cursor.
func (c *Client) NextEvent(ctx context.Context, types []string) (*event.Event, error) {
	for i := 0; i < c.maxSkip; i++ {
		u := fmt.Sprintf("%s/api/v1/events/pull?domain=%s&cursor=%s",
			c.baseURL, url.QueryEscape(c.domain), url.QueryEscape(c.cursor))

		var resp pullResponse
		if err := c.doJSON(ctx, http.MethodGet, u, "pull event", nil, &resp); err != nil {
			c.logger.Error("pull event", "error", err)
			return nil, err
		}

		if resp.NextCursor == "" && !resp.HasMore {
			return nil, nil // clean end of stream
		}
		if resp.NextCursor == c.cursor && resp.HasMore {
			c.logger.Warn("event log cursor stalled", "cursor", c.cursor)
			return nil, ErrStalled
		}
		if resp.NextCursor != "" {
			c.cursor = resp.NextCursor
		}

		if len(resp.Events) == 0 {
			// Hole in the stream: remember the advanced position and
			// yield until the next tick.
			c.persistCursor()
			return nil, nil
		}

		ev := resp.Events[0]
		// The event counts as consumed whether or not it matches.
		c.persistCursor()
		if matchesType(ev.Type, types) {
			return &ev, nil
		}
		c.logger.Debug("skipping event outside filter", "id", ev.ID, "type", ev.Type)
	}
	c.logger.Warn("skip budget exhausted without matching event", "budget", c.maxSkip)
	return nil, nil
}

// Append pushes one payload to the log inside the fixed ingest body.
// A non-2xx response is returned as an *APIError; the archive layer
// treats it as a per-item delivery failure.
func (c *Client) Append(ctx context.Context, payload any) error {
	body, err := json.Marshal(map[string]any{
		"domain":  c.domain,
		"payload": payload,
	})
	if err != nil {
		return fmt.Errorf("chronik: marshal ingest body: %w", err)
	}
	u := c.baseURL + "/api/v1/events/ingest"
	return c.doJSON(ctx, http.MethodPost, u, "append event", bytes.NewReader(body), nil)
}

func matchesType(eventType string, types []string) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if t == eventType {
			return true
		}
	}
	return false
}

// doJSON executes an HTTP request and decodes the JSON response into dst.
// If the response has an error status, it returns an *APIError.
func (c *Client) doJSON(ctx context.Context, method, u, operation string, body io.Reader, dst any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("chronik: %s: create request: %w", operation, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chronik: %s: do request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(respBody))
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Operation: operation, StatusCode: resp.StatusCode, Message: msg}
	}

	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return fmt.Errorf("chronik: %s: decode response: %w", operation, err)
		}
	}
	return nil
}

func (c *Client) loadCursor() error {
	if c.cursorPath == "" {
		return nil
	}
	data, err := os.ReadFile(c.cursorPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("chronik: read cursor file: %w", err)
	}
	c.cursor = strings.TrimSpace(strings.Split(string(data), "\n")[0])
	return nil
}

// persistCursor writes the cursor file. Failures are logged and do not
// interrupt the poll; the cursor survives in memory for the process.
func (c *Client) persistCursor() {
	if c.cursorPath == "" {
		return
	}
	if err := os.WriteFile(c.cursorPath, []byte(c.cursor+"\n"), 0o644); err != nil {
		c.logger.Warn("persist cursor", "error", err)
	}
}
