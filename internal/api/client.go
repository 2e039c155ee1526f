package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client defaults.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = time.Second
)

// TokenFunc returns the access token for authenticated trip requests.
// The session provider supplies it, so a refreshed token is picked up by
// the next request.
type TokenFunc func(ctx context.Context) (string, error)

// Client reads and patches trips, their members and chat, and refreshes
// the session. It is safe for concurrent use.
type Client struct {
	baseURL    string // No trailing slash
	apiKey     string // Project key, sent on every request
	token      TokenFunc
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration // First retry delay, doubled per attempt
}

type ClientOption func(*Client)

// NewClient creates a client for the trip service at baseURL.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		logger:       slog.Default(),
		maxRetries:   DefaultMaxRetries,
		retryBackoff: DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTimeout bounds each HTTP attempt, not the retry loop as a whole.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRetries sets how often 5xx and 429 responses are retried and the
// first backoff. Zero retries disables retrying.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
		if backoff > 0 {
			c.retryBackoff = backoff
		}
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient replaces the HTTP client, e.g. an httptest server's.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithToken attaches a bearer token to every request except session
// refresh. Without it requests carry only the API key.
func WithToken(fn TokenFunc) ClientOption {
	return func(c *Client) {
		c.token = fn
	}
}
