// Package memory provides a repository.Cache held in process memory, used
// when no Redis is configured.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/prn-tf/vidsnag/internal/repository"
)

const sweepInterval = time.Minute

type entry struct {
	value   []byte
	counter int64
	expires time.Time // zero: never
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Cache is safe for concurrent use. Call Stop to end its sweeper.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry

	done     chan struct{}
	stopOnce sync.Once
}

// NewCache creates a Cache and starts the goroutine sweeping expired entries.
func NewCache() *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.sweep(now)
		}
	}
}

func (c *Cache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
		}
	}
}

// Stop ends the sweeper. It is safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// Len returns the number of stored entries, expired ones included until the
// next sweep.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// live returns the entry at key unless it is missing or expired.
// c.mu must be held.
func (c *Cache) live(key string, now time.Time) (entry, bool) {
	e, ok := c.entries[key]
	if !ok || e.expired(now) {
		return entry{}, false
	}
	return e, true
}

// Get implements repository.Cache. The returned slice is a copy.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.live(key, time.Now())
	if !ok || e.value == nil {
		return nil, repository.ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

// SetNX implements repository.Cache. A ttl <= 0 stores without expiry.
func (c *Cache) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.live(key, now); ok {
		return false, nil
	}

	e := entry{value: append([]byte{}, value...)}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	c.entries[key] = e
	return true, nil
}

// Delete implements repository.Cache.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// IncrementWindow implements repository.Cache.
func (c *Cache) IncrementWindow(_ context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.live(key, now)
	if !ok {
		e = entry{expires: now.Add(window)}
	}
	e.counter++
	c.entries[key] = e
	return e.counter, nil
}

var _ repository.Cache = (*Cache)(nil)
