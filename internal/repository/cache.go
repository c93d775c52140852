package repository

import (
	"context"
	"strconv"
	"time"
)

// Cache is the short-lived key/value store behind sessions and rate limits.
// Implemented in process memory or on Redis.
type Cache interface {
	// Get returns the value at key or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetNX stores value under key for ttl unless key is present, and reports
	// whether it stored.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key string) error

	// IncrementWindow adds one to the counter at key and returns the new
	// value. The first increment starts a window expiry that later
	// increments leave untouched.
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// CacheKey names the cache entries.
type CacheKey struct{}

// Session returns the cache key holding a session record.
func (CacheKey) Session(token string) string {
	return "session:" + token
}

// RateLimit returns the counter key of one client in one window.
func (CacheKey) RateLimit(client string, window int64) string {
	return "ratelimit:" + client + ":" + strconv.FormatInt(window, 10)
}
