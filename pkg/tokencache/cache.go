// Package tokencache holds short-lived vendor access tokens in process
// memory. The cache is size-bounded: exceeding the configured number of
// distinct names is a hard error rather than an eviction, because the set of
// tenant credentials is small and known, and silent eviction would hide a
// configuration leak.
package tokencache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrCacheFull = errors.New("token cache is full")

type entry struct {
	value    string
	storedAt time.Time
	ttl      time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) >= e.ttl
}

type Cache struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string]entry
	inflight   map[string]*sync.Mutex

	now func() time.Time // test hook
}

func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 100
	}

	return &Cache{
		maxEntries: maxEntries,
		entries:    make(map[string]entry),
		inflight:   make(map[string]*sync.Mutex),
		now:        time.Now,
	}
}

// GetOrRefresh returns the cached token for name, calling refresh exactly
// once on a miss. Refresh runs under a per-name guard, not the cache mutex,
// so a slow upstream for one credential never blocks lookups or refreshes
// for other names; cross-process refresh serialization is the caller's
// concern (lease lock).
func (c *Cache) GetOrRefresh(
	ctx context.Context,
	name string,
	ttl time.Duration,
	refresh func(ctx context.Context) (string, error),
) (string, error) {
	c.mu.Lock()

	c.sweep(c.now())

	if e, ok := c.entries[name]; ok {
		c.mu.Unlock()
		return e.value, nil
	}

	if len(c.entries) >= c.maxEntries {
		n := len(c.entries)
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %d names cached, refusing %q", ErrCacheFull, n, name)
	}

	guard, ok := c.inflight[name]
	if !ok {
		guard = &sync.Mutex{}
		c.inflight[name] = guard
	}
	c.mu.Unlock()

	guard.Lock()
	defer guard.Unlock()

	// A concurrent caller may have refreshed this name while we waited.
	c.mu.Lock()
	if e, ok := c.entries[name]; ok && !e.expired(c.now()) {
		c.mu.Unlock()
		return e.value, nil
	}
	c.mu.Unlock()

	value, err := refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token %q: %w", name, err)
	}

	c.mu.Lock()
	c.entries[name] = entry{value: value, storedAt: c.now(), ttl: ttl}
	c.mu.Unlock()

	return value, nil
}

// Invalidate drops one name, forcing the next caller to refresh.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, name)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweep(c.now())
	return len(c.entries)
}

// sweep lazily drops expired entries. O(n) over current entries, which stays
// cheap for the bounded sizes this cache allows.
func (c *Cache) sweep(now time.Time) {
	for name, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, name)
		}
	}
}
