package domain

import (
	"time"
)

// Session binds an opaque cookie token to a user for a fixed lifetime.
type Session struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewSession creates a session that expires ttl from now.
func NewSession(token string, userID int64, ttl time.Duration) *Session {
	now := time.Now().UTC()
	return &Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// IsExpired returns true once the session lifetime has passed.
func (s *Session) IsExpired() bool {
	return !time.Now().Before(s.ExpiresAt)
}

// TTL returns the remaining lifetime, never negative.
func (s *Session) TTL() time.Duration {
	d := time.Until(s.ExpiresAt)
	if d < 0 {
		return 0
	}
	return d
}
