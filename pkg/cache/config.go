package cache

import (
	"fmt"
	"time"

	"github.com/matzehuels/cudaredist/pkg/errors"
)

// Backend names accepted by New.
const (
	BackendNone   = "none"
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config selects and configures a cache backend.
type Config struct {
	Backend  string        // one of the Backend* names; empty means file
	Dir      string        // FileCache directory
	Size     int           // MemoryCache entry bound
	RedisURL string        // RedisCache connection URL
	TTL      time.Duration // default entry lifetime, used by callers
}

// New constructs the backend named by cfg.Backend.
func New(cfg Config) (Cache, error) {
	switch cfg.Backend {
	case BackendNone:
		return NewNullCache(), nil
	case "", BackendFile:
		if cfg.Dir == "" {
			return nil, errors.New(errors.ErrCodeInvalidInput, "file cache requires a directory")
		}
		return NewFileCache(cfg.Dir)
	case BackendMemory:
		return NewMemoryCache(cfg.Size)
	case BackendRedis:
		return NewRedisCache(cfg.RedisURL)
	}
	return nil, errors.New(errors.ErrCodeInvalidInput, "unknown cache backend %q", cfg.Backend)
}

// Describe returns a one-line description of the backend for logs.
func (cfg Config) Describe() string {
	switch cfg.Backend {
	case BackendRedis:
		return fmt.Sprintf("redis (%s)", cfg.RedisURL)
	case BackendMemory:
		return fmt.Sprintf("memory (%d entries)", cfg.Size)
	case BackendNone:
		return "disabled"
	}
	return fmt.Sprintf("file (%s)", cfg.Dir)
}
