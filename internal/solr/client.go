package solr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

const (
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries bounds retries of transient failures.
	DefaultMaxRetries = 3

	// initialBackoff is the delay before the first retry; it doubles per attempt.
	initialBackoff = 1 * time.Second
)

// Client is a Solr core client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
	maxRetries int
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMaxRetries sets the retry budget for transient failures.
func WithMaxRetries(maxRetries int) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a client for a Solr core URL, e.g. http://search:8983/solr/content.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		maxRetries: DefaultMaxRetries,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Select runs a select query and unmarshals the matched documents into docs.
// Returns the total number of matches reported by Solr.
func (c *Client) Select(ctx context.Context, params url.Values, docs interface{}) (int, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("wt", "json")

	reqURL := fmt.Sprintf("%s/select?%s", c.baseURL, params.Encode())

	body, err := c.do(ctx, http.MethodGet, reqURL, "", nil)
	if err != nil {
		return 0, err
	}

	var envelope selectEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return 0, fmt.Errorf("failed to decode select response: %w", err)
	}
	if docs != nil && envelope.Response.Docs != nil {
		if err := json.Unmarshal(envelope.Response.Docs, docs); err != nil {
			return 0, fmt.Errorf("failed to decode select documents: %w", err)
		}
	}

	return envelope.Response.NumFound, nil
}

// update posts a body to the update endpoint, optionally committing in the
// same request.
func (c *Client) update(ctx context.Context, contentType string, payload []byte, commit bool) error {
	reqURL := fmt.Sprintf("%s/update?commit=%t", c.baseURL, commit)
	_, err := c.do(ctx, http.MethodPost, reqURL, contentType, payload)
	return err
}

// do executes one request with bounded retries on transient failures.
func (c *Client) do(ctx context.Context, method, reqURL, contentType string, payload []byte) ([]byte, error) {
	var lastErr error
	backoff := initialBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if c.logger != nil {
				c.logger.Warn().
					Int("attempt", attempt).
					Err(lastErr).
					Msg("Retrying Solr request")
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			lastErr = &APIError{StatusCode: resp.StatusCode, Message: string(body), Endpoint: reqURL}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body), Endpoint: reqURL}
		}
		if readErr != nil {
			lastErr = readErr
			continue
		}
		return body, nil
	}

	return nil, fmt.Errorf("solr request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}
