package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/matzehuels/cudaredist/pkg/cache"
	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/httputil"
	"github.com/matzehuels/cudaredist/pkg/observability"
)

// Client provides shared HTTP functionality for remote manifest sources.
// It handles response caching, the retry policy, and common request headers.
//
// All methods are safe for concurrent use.
type Client struct {
	http      *http.Client
	cache     cache.Cache
	keyer     cache.Keyer
	namespace string
	ttl       time.Duration
	headers   map[string]string
	retry     httputil.Policy
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithRetry sets the retry policy. The default makes a single attempt.
func WithRetry(p httputil.Policy) Option { return func(c *Client) { c.retry = p } }

// WithKeyer sets the cache key scheme.
func WithKeyer(k cache.Keyer) Option { return func(c *Client) { c.keyer = k } }

// NewClient creates a Client caching bodies in backend under namespace for
// ttl. Pass nil for headers if no default headers are needed; a nil backend
// disables caching.
func NewClient(backend cache.Cache, namespace string, ttl time.Duration, headers map[string]string, opts ...Option) *Client {
	if backend == nil {
		backend = cache.NewNullCache()
	}
	c := &Client{
		http:      NewHTTPClient(),
		cache:     backend,
		keyer:     cache.NewDefaultKeyer(),
		namespace: namespace,
		ttl:       ttl,
		headers:   headers,
		retry:     httputil.NoRetry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cached returns the cached body for key, or runs fetch under the retry
// policy and caches its result. If refresh is true the cache is bypassed
// for the read but still updated.
func (c *Client) Cached(ctx context.Context, key string, refresh bool, fetch func() ([]byte, error)) ([]byte, error) {
	ck := c.keyer.HTTPKey(c.namespace, key)
	if !refresh {
		if data, ok, err := c.cache.Get(ctx, ck); err == nil && ok {
			observability.Cache().OnCacheHit(ctx, c.namespace)
			return data, nil
		}
		observability.Cache().OnCacheMiss(ctx, c.namespace)
	}

	var data []byte
	err := c.retry.Do(ctx, func() error {
		var err error
		data, err = fetch()
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, ck, data, c.ttl); err == nil {
		observability.Cache().OnCacheSet(ctx, c.namespace, len(data))
	}
	return data, nil
}

// GetText performs an HTTP GET request and returns the body as a string.
func (c *Client) GetText(ctx context.Context, url string) (string, error) {
	data, err := c.GetBytes(ctx, url)
	return string(data), err
}

// GetWithHeaders performs an HTTP GET request with extra headers, which
// take precedence over the client defaults, and JSON-decodes the response
// into v. A body that is not valid JSON is a schema error.
func (c *Client) GetWithHeaders(ctx context.Context, url string, headers map[string]string, v any) error {
	data, err := c.get(ctx, url, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(errors.ErrCodeSchema, err, "decode %s", url)
	}
	return nil
}

// GetBytes performs an HTTP GET request and returns the body.
func (c *Client) GetBytes(ctx context.Context, rawURL string) ([]byte, error) {
	return c.get(ctx, rawURL, nil)
}

func (c *Client) get(ctx context.Context, rawURL string, extra map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "build request for %s", rawURL)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	host, path := splitURL(rawURL)
	observability.HTTP().OnRequest(ctx, http.MethodGet, host, path)
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		observability.HTTP().OnError(ctx, http.MethodGet, host, path, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, httputil.Retryable(errors.Wrap(errors.ErrCodeTransport, fmt.Errorf("%w: %v", ErrNetwork, err), "GET %s", rawURL))
	}
	defer resp.Body.Close()
	observability.HTTP().OnResponse(ctx, http.MethodGet, host, path, resp.StatusCode, time.Since(start))

	if err := checkStatus(rawURL, resp.StatusCode); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, httputil.Retryable(errors.Wrap(errors.ErrCodeTransport, err, "read body of %s", rawURL))
	}
	return data, nil
}

func checkStatus(rawURL string, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return errors.Wrap(errors.ErrCodeTransport, ErrNotFound, "GET %s: status %d", rawURL, code)
	case code >= 500:
		return httputil.Retryable(errors.Wrap(errors.ErrCodeTransport, ErrNetwork, "GET %s: status %d", rawURL, code))
	default:
		return errors.Wrap(errors.ErrCodeTransport, ErrNetwork, "GET %s: status %d", rawURL, code)
	}
}

func splitURL(raw string) (host, path string) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", raw
	}
	return u.Host, u.Path
}
