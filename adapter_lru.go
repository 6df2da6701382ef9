package datasource

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultLRUSize is the entry cap for the fallback in-process cache.
	DefaultLRUSize = 10000
	// DefaultLRUTTL applies to entries written without an explicit TTL.
	DefaultLRUTTL = 1 * time.Hour
)

type lruEntry struct {
	value     []byte
	expiresAt time.Time
}

// LRUAdapter is the in-process CacheAdapter used when Initialize is given
// no external cache. Each entry carries its own deadline, so per-write
// TTLs are honored even though the underlying LRU only evicts by recency.
type LRUAdapter struct {
	entries    *lru.Cache[string, lruEntry]
	defaultTTL time.Duration
	now        func() time.Time
}

// NewLRUAdapter creates an adapter holding at most size entries.
// If size is zero or negative, DefaultLRUSize is used.
func NewLRUAdapter(size int) *LRUAdapter {
	if size <= 0 {
		size = DefaultLRUSize
	}

	// lru.New only errors on a non-positive size, which is handled above.
	entries, _ := lru.New[string, lruEntry](size)

	return &LRUAdapter{
		entries:    entries,
		defaultTTL: DefaultLRUTTL,
		now:        time.Now,
	}
}

func (a *LRUAdapter) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := a.entries.Get(key)
	if !ok {
		return nil, false, nil
	}

	if !e.expiresAt.IsZero() && a.now().After(e.expiresAt) {
		a.entries.Remove(key)
		return nil, false, nil
	}

	return e.value, true, nil
}

func (a *LRUAdapter) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = a.defaultTTL
	}

	a.entries.Add(key, lruEntry{
		value:     value,
		expiresAt: a.now().Add(ttl),
	})

	return nil
}

func (a *LRUAdapter) Delete(_ context.Context, key string) error {
	a.entries.Remove(key)
	return nil
}
