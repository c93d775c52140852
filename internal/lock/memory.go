package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// pruneInterval is how often expired leases are dropped from memory.
const pruneInterval = 30 * time.Second

// MemoryLocker keeps leases in process memory. It only serialises requests
// handled by this process.
type MemoryLocker struct {
	mu     sync.Mutex
	owners map[string]owner

	done     chan struct{}
	stopOnce sync.Once
}

type owner struct {
	token   string
	expires time.Time
}

func (o owner) live(now time.Time) bool {
	return now.Before(o.expires)
}

// NewMemoryLocker creates a MemoryLocker and starts its pruning goroutine.
// Call Stop to end it.
func NewMemoryLocker() *MemoryLocker {
	m := &MemoryLocker{
		owners: make(map[string]owner),
		done:   make(chan struct{}),
	}
	go m.pruneLoop()
	return m
}

func (m *MemoryLocker) pruneLoop() {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case now := <-ticker.C:
			m.mu.Lock()
			for key, o := range m.owners {
				if !o.live(now) {
					delete(m.owners, key)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Stop ends the pruning goroutine. It is safe to call more than once.
func (m *MemoryLocker) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

// TryAcquire implements Locker.
func (m *MemoryLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return Lease{}, err
	}

	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if o, ok := m.owners[key]; ok && o.live(now) {
		return Lease{}, ErrHeld
	}

	lease := Lease{Key: key, Token: uuid.NewString()}
	m.owners[key] = owner{token: lease.Token, expires: now.Add(ttl)}
	return lease, nil
}

// Release implements Locker.
func (m *MemoryLocker) Release(ctx context.Context, lease Lease) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.owners[lease.Key]
	if !ok || o.token != lease.Token {
		return ErrNotHeld
	}
	delete(m.owners, lease.Key)
	if !o.live(time.Now()) {
		return ErrNotHeld
	}
	return nil
}

var _ Locker = (*MemoryLocker)(nil)
