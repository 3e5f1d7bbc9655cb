package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/jdholdren/lectern/internal/lectern"
)

type (
	// ContentProvider downloads the raw bytes of feeds.
	ContentProvider struct {
		client     *http.Client
		limiter    *rate.Limiter
		userAgent  string
		maxRetries uint64
		maxBytes   int64
		backoff    time.Duration
	}

	ContentConfig struct {
		Timeout    time.Duration
		UserAgent  string
		MaxRetries uint64
		// Requests per second across every feed, 0 means unlimited.
		RequestsPerSecond float64
		// The largest body accepted, 0 means the default of 10MiB.
		MaxBytes int64
	}
)

var _ lectern.ContentProvider = ContentProvider{}

const defaultMaxBytes = 10 << 20

func NewContentProvider(cfg ContentConfig) ContentProvider {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	return ContentProvider{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:    rate.NewLimiter(limit, 1),
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		maxBytes:   maxBytes,
		backoff:    250 * time.Millisecond,
	}
}

// Signals a response that's worth asking for again.
type transientStatusError struct {
	status int
}

func (e transientStatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.status)
}

// FeedContent GETs the feed's url, retrying network errors and 5xx/429 responses.
func (c ContentProvider) FeedContent(ctx context.Context, feed lectern.Feed) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, retry.WithMaxRetries(c.maxRetries, retry.NewFibonacci(c.backoff)), func(ctx context.Context) error {
		b, err := c.get(ctx, feed.FeedURL)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var transient transientStatusError
		if errors.As(err, &transient) || isNetworkError(err) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}

		body = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching feed %q: %w", feed.FeedURL, err)
	}

	return body, nil
}

func (c ContentProvider) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("error waiting for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &networkError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, transientStatusError{status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, &networkError{err: err}
	}
	if int64(len(body)) > c.maxBytes {
		return nil, fmt.Errorf("feed body exceeds %d bytes", c.maxBytes)
	}

	return body, nil
}

type networkError struct {
	err error
}

func (e *networkError) Error() string { return e.err.Error() }
func (e *networkError) Unwrap() error { return e.err }

func isNetworkError(err error) bool {
	var netErr *networkError
	return errors.As(err, &netErr)
}
