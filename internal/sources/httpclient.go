package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/scholarsift/retrieval-service/internal/domain"
)

const defaultUserAgent = "scholarsift-retrieval/1.0 (+https://github.com/scholarsift/retrieval-service)"

// ClientConfig configures the HTTP client shared by all requests of one
// source adapter.
type ClientConfig struct {
	// Timeout is the per-request timeout.
	Timeout time.Duration

	// RateLimit is the sustained requests per second.
	RateLimit float64

	// BurstSize is the burst ceiling. Zero derives it from RateLimit.
	BurstSize int

	// MaxRetries is the number of retry attempts after the first request.
	MaxRetries int

	// RetryDelay is the base delay before the first retry; it doubles per
	// attempt unless the server sends Retry-After.
	RetryDelay time.Duration

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// APIKey is an optional key sent on every request.
	APIKey string

	// APIKeyHeader is the header carrying APIKey (e.g. "X-API-Key").
	// Sources that pass keys as query parameters leave this empty.
	APIKeyHeader string
}

// HTTPClient wraps http.Client with rate limiting and retry on transient
// upstream failures. It is safe for concurrent use.
type HTTPClient struct {
	client  *http.Client
	limiter *RateLimiter
	cfg     ClientConfig
}

// NewHTTPClient creates an HTTP client that waits on a token-bucket
// limiter before every attempt and retries 429 and 5xx responses as well
// as network errors.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = int(cfg.RateLimit)
		if cfg.BurstSize < 1 {
			cfg.BurstSize = 1
		}
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	return &HTTPClient{
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		cfg:     cfg,
	}
}

// Do executes a request with rate limiting and retries.
//
// The limiter gates every attempt. Responses with status 429 or 5xx and
// network errors are retried with a doubling delay, honoring Retry-After
// when the server sends one; context cancellation stops the loop
// immediately. Exhausting retries on 429 wraps domain.ErrRateLimited, on
// 5xx domain.ErrServiceUnavailable, so callers can match with errors.Is.
//
// The request body is not preserved across retries; callers must set
// GetBody on requests whose body needs to be resent.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.APIKey != "" && c.cfg.APIKeyHeader != "" {
		req.Header.Set(c.cfg.APIKeyHeader, c.cfg.APIKey)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := c.client.Do(req)
		if err == nil && !retryableStatus(resp.StatusCode) {
			return resp, nil
		}

		var delay time.Duration
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			delay = c.backoff(attempt)
		} else {
			lastErr = statusError(attempt+1, resp.StatusCode)
			delay = retryAfter(resp, c.backoff(attempt))
			drain(resp)
		}

		if attempt >= c.cfg.MaxRetries {
			return nil, lastErr
		}
		if err := sleep(req.Context(), delay); err != nil {
			return nil, err
		}
		if err := rewindBody(req); err != nil {
			return nil, fmt.Errorf("cannot retry request: %w", err)
		}
	}
}

// retryableStatus reports whether a response status warrants a retry.
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}

// statusError builds the terminal error for a retryable status, wrapping
// the matching domain sentinel.
func statusError(attempts, status int) error {
	if status == http.StatusTooManyRequests {
		return fmt.Errorf("gave up after %d attempts: %w", attempts, domain.ErrRateLimited)
	}
	return fmt.Errorf("gave up after %d attempts, last status %d: %w", attempts, status, domain.ErrServiceUnavailable)
}

// backoff returns the doubling retry delay for the given attempt.
func (c *HTTPClient) backoff(attempt int) time.Duration {
	return c.cfg.RetryDelay * time.Duration(1<<attempt)
}

// retryAfter extracts the server-requested delay from the Retry-After
// header, either in seconds or as an HTTP date, falling back otherwise.
func retryAfter(resp *http.Response, fallback time.Duration) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return fallback
	}

	if seconds, err := strconv.ParseInt(header, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return fallback
	}

	if t, err := http.ParseTime(header); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}

	return fallback
}

// drain discards and closes the response body so the connection can be
// reused for the retry.
func drain(resp *http.Response) {
	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

// sleep waits for the given duration, respecting context cancellation.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// rewindBody restores the request body for a retry when possible.
func rewindBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}

	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("failed to get request body for retry: %w", err)
	}
	req.Body = body
	return nil
}
