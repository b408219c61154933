package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/esglend/verify-cli/internal/resilience"
)

const maxResponseBytes = 4 << 20

// HTTPClient is the shared client for provider calls: per-host rate limiting,
// transient-error retry, and a bounded response body. One instance is shared
// by all providers so the limiter state is global across the fan-out.
type HTTPClient struct {
	client *http.Client
	retry  resilience.RetryConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPClient builds a client with the given per-request timeout.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     60 * time.Second,
			},
		},
		retry:    resilience.DefaultRetryConfig(),
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiter returns the rate limiter for a host, creating it on first use.
// External data APIs tolerate a handful of requests per second per key.
func (c *HTTPClient) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(5), 5)
		c.limiters[host] = l
	}
	return l
}

// GetJSON fetches rawURL and decodes the JSON response into out. Transient
// failures (429, 5xx, network timeouts) are retried with backoff; other
// failures return immediately.
func (c *HTTPClient) GetJSON(ctx context.Context, rawURL string, out any) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return eris.Wrap(err, "source: parse url")
	}

	if err := c.limiter(u.Host).Wait(ctx); err != nil {
		return eris.Wrap(err, "source: rate limit wait")
	}

	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, rawURL)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "source: decode response")
	}
	return nil
}

// GetBody fetches rawURL and returns the raw response body, for providers
// that serve non-JSON payloads.
func (c *HTTPClient) GetBody(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "source: parse url")
	}

	if err := c.limiter(u.Host).Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "source: rate limit wait")
	}

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, rawURL)
	})
}

func (c *HTTPClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "source: build request")
	}
	req.Header.Set("Accept", "application/json, text/csv;q=0.9, */*;q=0.1")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("source: unexpected status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resilience.NewTransientError(err, 0)
	}
	return body, nil
}
