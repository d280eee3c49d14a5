package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-process Cache. Stale entries are dropped on read.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
	policy  Policy
	now     func() time.Time
}

func NewMemoryCache(policy Policy) *MemoryCache {
	return NewMemoryCacheWithClock(policy, time.Now)
}

func NewMemoryCacheWithClock(policy Policy, now func() time.Time) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string][]byte),
		policy:  policy,
		now:     now,
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	c.mu.RLock()
	raw, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}

	found, err := decode(raw, dest, c.policy, c.now())
	if err == nil && !found {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
	}
	return found, err
}

func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}) error {
	raw, err := encode(value, c.now())
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[key] = raw
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, fresh or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
