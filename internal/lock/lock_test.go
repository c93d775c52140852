package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "lock:analyze:user:7", Keys.AnalyzeUser(7))
	assert.Equal(t, "lock:bootstrap", Keys.Bootstrap())
}

func TestMemoryLocker_TryAcquireRelease(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	defer l.Stop()

	lease, err := l.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "k", lease.Key)
	assert.NotEmpty(t, lease.Token)

	_, err = l.TryAcquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrHeld)

	_, err = l.TryAcquire(ctx, "other", time.Minute)
	assert.NoError(t, err, "keys are independent")

	require.NoError(t, l.Release(ctx, lease))
	assert.ErrorIs(t, l.Release(ctx, lease), ErrNotHeld, "double release")

	_, err = l.TryAcquire(ctx, "k", time.Minute)
	assert.NoError(t, err)
}

func TestMemoryLocker_ExpiredLeaseCannotReleaseNewOwner(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	defer l.Stop()

	stale, err := l.TryAcquire(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	current, err := l.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err, "expired lease frees the key")

	assert.ErrorIs(t, l.Release(ctx, stale), ErrNotHeld)

	_, err = l.TryAcquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrHeld, "new owner keeps the key")

	assert.NoError(t, l.Release(ctx, current))
}

func TestMemoryLocker_ReleaseAfterExpiry(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	defer l.Stop()

	lease, err := l.TryAcquire(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	assert.ErrorIs(t, l.Release(ctx, lease), ErrNotHeld)
}

func TestMemoryLocker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := NewMemoryLocker()
	defer l.Stop()

	_, err := l.TryAcquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryLocker_OneWinner(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	defer l.Stop()

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.TryAcquire(ctx, "k", time.Minute); err == nil {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners)
}

func TestMemoryLocker_StopTwice(t *testing.T) {
	l := NewMemoryLocker()
	l.Stop()
	assert.NotPanics(t, l.Stop)
}

func TestWait(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	defer l.Stop()

	_, err := l.TryAcquire(ctx, "k", 30*time.Millisecond)
	require.NoError(t, err)

	_, err = Wait(ctx, l, "k", time.Minute, 1, time.Millisecond)
	assert.ErrorIs(t, err, ErrHeld, "single attempt gives up")

	lease, err := Wait(ctx, l, "k", time.Minute, 20, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "k", lease.Key)
}

func TestWait_ContextDone(t *testing.T) {
	l := NewMemoryLocker()
	defer l.Stop()

	_, err := l.TryAcquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = Wait(ctx, l, "k", time.Minute, 1000, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNoOpLocker(t *testing.T) {
	ctx := context.Background()
	var l Locker = NewNoOpLocker()

	a, err := l.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	_, err = l.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err, "never contended")

	assert.NoError(t, l.Release(ctx, a))
	assert.NoError(t, l.Release(ctx, a))
}
