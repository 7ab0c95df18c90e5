package integrations

import (
	"errors"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single request made by NewHTTPClient clients.
const DefaultTimeout = 30 * time.Second

var (
	// ErrNotFound is returned when a manifest or index does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrNetwork is returned for HTTP failures (timeouts, connection errors, non-2xx responses).
	ErrNetwork = errors.New("network error")
)

// NewHTTPClient creates an HTTP client with the default timeout.
func NewHTTPClient() *http.Client {
	return NewHTTPClientWithTimeout(DefaultTimeout)
}

// NewHTTPClientWithTimeout creates an HTTP client with the given timeout.
// A timeout of zero selects DefaultTimeout.
func NewHTTPClientWithTimeout(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
