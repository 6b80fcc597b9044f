// Package httpclient provides a small retrying HTTP client for provider
// implementations. Retries use exponential backoff and honor context
// cancellation between attempts.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config tunes the client. Zero values select the defaults.
type Config struct {
	Timeout         time.Duration
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	Headers         map[string]string
	UserAgent       string
	RetryableStatus []int

	// Authorization, when set, supplies the Authorization header per
	// request. It runs on every attempt so short-lived tokens stay fresh.
	Authorization func(ctx context.Context) (string, error)
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "sessionkit/1.0"
	}
	if len(c.RetryableStatus) == 0 {
		c.RetryableStatus = []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		}
	}
	return c
}

// Client wraps http.Client with bounded retries on transport errors and
// retryable status codes.
type Client struct {
	http   *http.Client
	config Config
}

// New creates a client.
func New(config Config) *Client {
	config = config.withDefaults()
	return &Client{
		http: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
		config: config,
	}
}

// Do executes the request, retrying transport failures and retryable status
// codes up to MaxRetries times. The request body, if any, must be provided as
// bytes so it can be replayed on retry.
func (c *Client) Do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	bo := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.config.BaseDelay),
		backoff.WithMaxInterval(c.config.MaxDelay),
		backoff.WithMaxElapsedTime(0),
	)

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := c.newRequest(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if c.retryableStatus(resp.StatusCode) && attempt < c.config.MaxRetries {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("retryable status %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// PostJSON marshals body and POSTs it, returning the raw response body and
// status code. Non-2xx responses are returned to the caller for
// classification, not treated as transport errors.
func (c *Client) PostJSON(ctx context.Context, url string, body any) ([]byte, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request body: %w", err)
	}
	resp, err := c.Do(ctx, http.MethodPost, url, payload)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	return raw, resp.StatusCode, nil
}

// GetJSON GETs url and returns the raw response body and status code.
func (c *Client) GetJSON(ctx context.Context, url string) ([]byte, int, error) {
	resp, err := c.Do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	return raw, resp.StatusCode, nil
}

func (c *Client) newRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	if c.config.Authorization != nil {
		auth, err := c.config.Authorization(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve authorization: %w", err)
		}
		req.Header.Set("Authorization", auth)
	}
	return req, nil
}

func (c *Client) retryableStatus(code int) bool {
	for _, s := range c.config.RetryableStatus {
		if s == code {
			return true
		}
	}
	return false
}
