package cache

import (
	"context"
	"time"
)

// Cache defines the interface for caching attribute reads.
// This abstraction allows swapping between memory cache (development)
// and Redis cache (production) without changing business logic.
type Cache interface {
	// Get retrieves a value by key. Returns ErrCacheMiss if not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes values by key.
	Delete(ctx context.Context, keys ...string) error

	// Clear removes all entries from the cache.
	Clear(ctx context.Context) error

	// Stats reports hit/miss counters.
	Stats() Stats
}

// Stats holds cache counters.
type Stats struct {
	Backend string `json:"backend"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int64  `json:"entries,omitempty"`
}

// Common cache errors
type CacheError string

func (e CacheError) Error() string { return string(e) }

const (
	// ErrCacheMiss indicates the key was not found in cache.
	ErrCacheMiss CacheError = "cache miss"
)

// Noop is a Cache that stores nothing. Every Get misses.
type Noop struct{}

func (Noop) Get(ctx context.Context, key string) ([]byte, error) { return nil, ErrCacheMiss }

func (Noop) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error { return nil }

func (Noop) Delete(ctx context.Context, keys ...string) error { return nil }

func (Noop) Clear(ctx context.Context) error { return nil }

func (Noop) Stats() Stats { return Stats{Backend: "none"} }
