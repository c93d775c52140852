package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only while it still carries the lease token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker stores leases as Redis keys set with NX and a PX expiry; the
// value is the lease token.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker creates a RedisLocker. prefix is prepended to every key.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// TryAcquire implements Locker.
func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	lease := Lease{Key: key, Token: uuid.NewString()}

	err := l.client.SetArgs(ctx, l.prefix+key, lease.Token, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	switch {
	case errors.Is(err, redis.Nil):
		return Lease{}, ErrHeld
	case err != nil:
		return Lease{}, err
	}
	return lease, nil
}

// Release implements Locker.
func (l *RedisLocker) Release(ctx context.Context, lease Lease) error {
	n, err := unlockScript.Run(ctx, l.client, []string{l.prefix + lease.Key}, lease.Token).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

var _ Locker = (*RedisLocker)(nil)
