package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL applies uniformly to every entry; there is no per-key override.
const DefaultTTL = 30 * time.Minute

// Entry wraps a cached value with its capture time. Entries are replaced on write, never mutated.
type Entry[T any] struct {
	Data      T         `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Cache defines the interface for response caching implementations.
// Get returns the entry if present and not older than the TTL; Set overwrites unconditionally.
type Cache[T any] interface {
	Get(ctx context.Context, key string) (Entry[T], bool, error)
	Set(ctx context.Context, key string, value T) error
}

// InMemoryCache implements Cache using a process-local map.
// Expired entries are removed on access only; there is no background sweep.
type InMemoryCache[T any] struct {
	mu   sync.Mutex
	data map[string]Entry[T]
	ttl  time.Duration
	now  func() time.Time
}

// NewInMemoryCache creates an empty in-memory cache. ttl <= 0 uses DefaultTTL.
func NewInMemoryCache[T any](ttl time.Duration) *InMemoryCache[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &InMemoryCache[T]{
		data: make(map[string]Entry[T]),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Get retrieves the entry for key if present and now - timestamp <= TTL.
// Returns (entry, true, nil) on hit, (zero, false, nil) on miss or expiration.
// Expired entries are deleted.
func (c *InMemoryCache[T]) Get(ctx context.Context, key string) (Entry[T], bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return Entry[T]{}, false, nil
	}

	if c.now().Sub(entry.Timestamp) > c.ttl {
		delete(c.data, key)
		return Entry[T]{}, false, nil
	}

	return entry, true, nil
}

// Set stores value under key stamped with the current time, replacing any prior entry.
func (c *InMemoryCache[T]) Set(ctx context.Context, key string, value T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = Entry[T]{
		Data:      value,
		Timestamp: c.now(),
	}
	return nil
}

// Len returns the number of stored entries, expired ones included until they are read.
func (c *InMemoryCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
