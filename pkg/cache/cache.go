// Package cache provides the byte caches that sit in front of remote
// manifest fetches.
//
// Four backends implement [Cache]:
//   - [NullCache]: caching disabled
//   - [FileCache]: one JSON file per entry, for CLI runs
//   - [MemoryCache]: bounded in-process LRU, for the HTTP server
//   - [RedisCache]: shared cache across processes
//
// Keys are produced by a [Keyer] so that every backend sees the same
// namespacing.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque byte values with an optional time-to-live.
// A ttl of zero means the entry never expires. Implementations are safe for
// concurrent use.
type Cache interface {
	// Get returns the value for key. A miss is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores data under key.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases backend resources.
	Close() error
}
