// Package cache provides the runtime-snapshot cache backend.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bonk1t/agent-os/internal/domain"
)

// MemoryCache is a TTL-based snapshot cache. Entries are stored as
// encoded bytes so every Get hands back a private copy: mutating a
// returned snapshot can never bleed into a later lookup.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time // for testing
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryCache creates an empty snapshot cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the snapshot stored under key, or ErrNotFound when the key
// is absent or expired. Expired entries are dropped lazily.
func (c *MemoryCache) Get(_ context.Context, key string) (*domain.AgencySnapshot, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, domain.NewDomainError("cache.Get", domain.ErrNotFound, key)
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have refreshed it.
		if cur, ok := c.entries[key]; ok && c.now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, domain.NewDomainError("cache.Get", domain.ErrNotFound, key)
	}

	var snap domain.AgencySnapshot
	if err := json.Unmarshal(e.data, &snap); err != nil {
		return nil, domain.WrapOp("cache.Get", err)
	}
	return &snap, nil
}

// Set stores an encoded copy of the snapshot under key with the given TTL.
func (c *MemoryCache) Set(_ context.Context, key string, snap *domain.AgencySnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return domain.WrapOp("cache.Set", err)
	}

	c.mu.Lock()
	c.entries[key] = entry{data: data, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Delete removes the entry under key. Deleting a missing key is not an error.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Len returns the number of live entries. Intended for testing.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
