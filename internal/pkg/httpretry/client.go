// Package httpretry retries HTTP requests that fail with a transient network
// error or a retryable status, backing off exponentially with jitter.
package httpretry

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ignite/listing-live/internal/pkg/logger"
)

// Defaults for Options.
const (
	DefaultAttempts  = 3
	DefaultBaseDelay = 500 * time.Millisecond
	DefaultMaxDelay  = 10 * time.Second
)

// Doer executes HTTP requests. *http.Client and *Client satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Client. Zero values pick defaults.
type Options struct {
	// Client sends each attempt. Nil means an http.Client with a 30s timeout.
	Client Doer
	// Attempts is the total number of tries, including the first.
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Client wraps a Doer with retries.
type Client struct {
	doer      Doer
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration

	retries atomic.Int64
}

// New creates a retrying client.
func New(opts Options) *Client {
	c := &Client{
		doer:      opts.Client,
		attempts:  opts.Attempts,
		baseDelay: opts.BaseDelay,
		maxDelay:  opts.MaxDelay,
	}
	if c.doer == nil {
		c.doer = &http.Client{Timeout: 30 * time.Second}
	}
	if c.attempts <= 0 {
		c.attempts = DefaultAttempts
	}
	if c.baseDelay <= 0 {
		c.baseDelay = DefaultBaseDelay
	}
	if c.maxDelay < c.baseDelay {
		c.maxDelay = DefaultMaxDelay
		if c.maxDelay < c.baseDelay {
			c.maxDelay = c.baseDelay
		}
	}
	return c
}

// Retryable reports whether status signals a transient server condition.
func Retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Do sends req until it gets a non-retryable response or runs out of
// attempts. The last retryable response is returned as-is so the caller can
// inspect it. Cancellation of the request context stops retrying at once.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	for attempt := 1; ; attempt++ {
		resp, err := c.doer.Do(req)
		if err == nil && !Retryable(resp.StatusCode) {
			return resp, nil
		}
		if ctx.Err() != nil {
			if resp != nil {
				resp.Body.Close()
			}
			if err == nil {
				err = ctx.Err()
			}
			return nil, err
		}
		if attempt >= c.attempts {
			return resp, err
		}

		reason := "network error"
		if resp != nil {
			reason = resp.Status
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		if req.Body != nil && req.GetBody != nil {
			body, berr := req.GetBody()
			if berr != nil {
				return nil, fmt.Errorf("httpretry: resetting request body: %w", berr)
			}
			req.Body = body
		} else if req.Body != nil && req.Body != http.NoBody {
			return nil, fmt.Errorf("httpretry: request body cannot be replayed after %s", reason)
		}

		delay := c.backoff(attempt)
		c.retries.Add(1)
		logger.Debug("[HTTPRetry] retrying request",
			"method", req.Method,
			"host", req.URL.Host,
			"attempt", attempt+1,
			"reason", reason,
			"delay", delay.String())
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// Get issues a GET for url under ctx.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Retries returns how many retries the client has made.
func (c *Client) Retries() int64 { return c.retries.Load() }

// backoff returns a delay in [d/2, d] where d doubles per attempt up to
// maxDelay.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.baseDelay
	for i := 1; i < attempt && d < c.maxDelay; i++ {
		d *= 2
	}
	if d > c.maxDelay {
		d = c.maxDelay
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(d-half)+1))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
