package repository

import "errors"

// ErrCorrupted indicates a stored row could not be decoded. It is surfaced
// to callers; the store is never silently reset.
var ErrCorrupted = errors.New("stored data is corrupted")

var (
	// ErrCacheMiss indicates the key is absent or expired.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheUnavailable wraps transport failures of a remote cache.
	ErrCacheUnavailable = errors.New("cache unavailable")
)
