package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const (
	keyPrefix = "trends:"
	// memcached rejects keys over 250 bytes; leave room for the prefix.
	maxRawKeyLen = 200
)

// MemcachedConn owns the memcached client shared by every typed MemcachedCache.
type MemcachedConn struct {
	client *memcache.Client
}

// NewMemcachedConn creates a MemcachedConn. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedConn(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedConn, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedConn{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedConn) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedConn) Close() error {
	return c.client.Close()
}

// MemcachedCache implements Cache on memcached. Entries are JSON encoded and carry their
// capture timestamp, so the TTL rule is enforced on read exactly as in InMemoryCache.
type MemcachedCache[T any] struct {
	conn *MemcachedConn
	ttl  time.Duration
	now  func() time.Time
}

// NewMemcachedCache returns a typed view over conn. ttl <= 0 uses DefaultTTL.
func NewMemcachedCache[T any](conn *MemcachedConn, ttl time.Duration) *MemcachedCache[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemcachedCache[T]{conn: conn, ttl: ttl, now: time.Now}
}

// storageKey prefixes k and hashes it when it is too long or holds bytes memcached rejects.
func storageKey(k string) string {
	if len(k) > maxRawKeyLen || strings.IndexFunc(k, func(r rune) bool { return r <= ' ' || r == 0x7f }) >= 0 {
		sum := sha256.Sum256([]byte(k))
		return keyPrefix + hex.EncodeToString(sum[:])
	}
	return keyPrefix + k
}

// Get implements Cache.Get. Returns false, nil on miss or expiry; false, err on error.
func (c *MemcachedCache[T]) Get(ctx context.Context, key string) (Entry[T], bool, error) {
	if ctx.Err() != nil {
		return Entry[T]{}, false, ctx.Err()
	}
	sk := storageKey(key)
	item, err := c.conn.client.Get(sk)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return Entry[T]{}, false, nil
		}
		return Entry[T]{}, false, err
	}
	var entry Entry[T]
	if err := json.Unmarshal(item.Value, &entry); err != nil {
		return Entry[T]{}, false, err
	}
	if c.now().Sub(entry.Timestamp) > c.ttl {
		if err := c.conn.client.Delete(sk); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
			return Entry[T]{}, false, err
		}
		return Entry[T]{}, false, nil
	}
	return entry, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache[T]) Set(ctx context.Context, key string, value T) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(Entry[T]{Data: value, Timestamp: c.now()})
	if err != nil {
		return err
	}
	// Server-side expiry is a backstop; Get enforces the TTL from the stored timestamp.
	expSec := int32(c.ttl.Seconds()) + 1
	const maxRelativeExp = 30 * 24 * 60 * 60 // 30 days
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 3600
	}
	return c.conn.client.Set(&memcache.Item{
		Key:        storageKey(key),
		Value:      raw,
		Expiration: expSec,
	})
}
