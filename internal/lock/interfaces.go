// Package lock serialises work across requests and, with Redis, across
// server instances sharing one database.
package lock

import (
	"context"
	"errors"
	"strconv"
	"time"
)

var (
	// ErrHeld is returned by TryAcquire when another owner holds the key.
	ErrHeld = errors.New("lock is held by another owner")

	// ErrNotHeld is returned by Release when the lease expired or was
	// taken over before release.
	ErrNotHeld = errors.New("lock is no longer held by this lease")
)

// Lease proves ownership of a key until it expires or is released.
type Lease struct {
	Key   string
	Token string
}

// Locker grants time-bounded exclusive leases on string keys.
type Locker interface {
	// TryAcquire takes key for ttl or fails with ErrHeld without waiting.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)

	// Release frees the key if lease still owns it. A lease that lost
	// ownership yields ErrNotHeld and leaves the current owner untouched.
	Release(ctx context.Context, lease Lease) error
}

// Wait polls TryAcquire every interval until the key is free, ctx is done or
// attempts run out. attempts < 1 means a single try.
func Wait(ctx context.Context, l Locker, key string, ttl time.Duration, attempts int, interval time.Duration) (Lease, error) {
	if attempts < 1 {
		attempts = 1
	}

	var timer *time.Timer
	for i := 1; ; i++ {
		lease, err := l.TryAcquire(ctx, key, ttl)
		if !errors.Is(err, ErrHeld) || i == attempts {
			return lease, err
		}

		if timer == nil {
			timer = time.NewTimer(interval)
			defer timer.Stop()
		} else {
			timer.Reset(interval)
		}
		select {
		case <-ctx.Done():
			return Lease{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// Keys names the locks used by the services.
var Keys = lockKeys{}

type lockKeys struct{}

// AnalyzeUser returns the lock key serialising analyze calls of one user.
func (lockKeys) AnalyzeUser(userID int64) string {
	return "lock:analyze:user:" + strconv.FormatInt(userID, 10)
}

// Bootstrap returns the lock key guarding the first-start admin seed.
func (lockKeys) Bootstrap() string {
	return "lock:bootstrap"
}
