// Package session stores login sessions in a repository.Cache.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prn-tf/vidsnag/internal/domain"
	"github.com/prn-tf/vidsnag/internal/pkg/crypto"
	"github.com/prn-tf/vidsnag/internal/repository"
)

// DefaultTTL is the absolute session lifetime.
const DefaultTTL = 24 * time.Hour

// Store creates, resolves and destroys sessions.
type Store interface {
	// Create starts a new session for userID.
	Create(ctx context.Context, userID int64) (*domain.Session, error)

	// Lookup resolves a token. Returns domain.ErrSessionNotFound for unknown
	// tokens and domain.ErrSessionExpired once the lifetime has passed.
	Lookup(ctx context.Context, token string) (*domain.Session, error)

	// Destroy removes a session. Unknown tokens are ignored.
	Destroy(ctx context.Context, token string) error
}

// CacheStore implements Store on top of a repository.Cache.
// Records expire through the cache TTL; ExpiresAt is checked as well.
type CacheStore struct {
	cache repository.Cache
	ttl   time.Duration
	keys  repository.CacheKey
}

// NewCacheStore creates a store. A non-positive ttl selects DefaultTTL.
func NewCacheStore(cache repository.Cache, ttl time.Duration) *CacheStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CacheStore{cache: cache, ttl: ttl}
}

// TTL returns the session lifetime.
func (s *CacheStore) TTL() time.Duration {
	return s.ttl
}

// Create starts a new session for userID.
func (s *CacheStore) Create(ctx context.Context, userID int64) (*domain.Session, error) {
	token, err := crypto.GenerateSessionToken()
	if err != nil {
		return nil, err
	}

	sess := domain.NewSession(token, userID, s.ttl)
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}

	ok, err := s.cache.SetNX(ctx, s.keys.Session(token), data, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("session token collision")
	}

	return sess, nil
}

// Lookup resolves a token.
func (s *CacheStore) Lookup(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, domain.ErrSessionNotFound
	}

	data, err := s.cache.Get(ctx, s.keys.Session(token))
	if err != nil {
		if errors.Is(err, repository.ErrCacheMiss) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		_ = s.cache.Delete(ctx, s.keys.Session(token))
		return nil, domain.ErrSessionNotFound
	}

	if sess.IsExpired() {
		_ = s.cache.Delete(ctx, s.keys.Session(token))
		return nil, domain.ErrSessionExpired
	}

	return &sess, nil
}

// Destroy removes a session.
func (s *CacheStore) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.cache.Delete(ctx, s.keys.Session(token)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Ensure CacheStore implements Store.
var _ Store = (*CacheStore)(nil)
