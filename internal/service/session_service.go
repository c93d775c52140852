package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prn-tf/vidsnag/internal/domain"
	"github.com/prn-tf/vidsnag/internal/metrics"
	"github.com/prn-tf/vidsnag/internal/session"
)

// Login results reported to metrics.
const (
	loginSuccess = "success"
	loginInvalid = "invalid"
	loginBanned  = "banned"
	loginError   = "error"
)

// SessionService binds cookie sessions to users.
type SessionService struct {
	users   *UserService
	store   session.Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewSessionService creates a new SessionService. m may be nil.
func NewSessionService(users *UserService, store session.Store, m *metrics.Metrics, logger zerolog.Logger) *SessionService {
	return &SessionService{
		users:   users,
		store:   store,
		metrics: m,
		logger:  logger.With().Str("service", "session").Logger(),
	}
}

// LoginInput contains the credentials and client details of a login attempt.
type LoginInput struct {
	Username  string
	Password  string
	IPAddress string
	UserAgent string
}

// LoginOutput is the result of a successful login.
type LoginOutput struct {
	Session *domain.Session
	User    *domain.User
}

// Login verifies credentials and opens a session.
func (s *SessionService) Login(ctx context.Context, input LoginInput) (*LoginOutput, error) {
	if input.Username == "" || input.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}

	user, err := s.users.Authenticate(ctx, input.Username, input.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			s.metrics.ObserveLogin(loginInvalid)
		case errors.Is(err, ErrUserBanned):
			s.metrics.ObserveLogin(loginBanned)
		default:
			s.metrics.ObserveLogin(loginError)
		}
		s.logger.Info().
			Str("username", input.Username).
			Str("ip", input.IPAddress).
			Str("reason", err.Error()).
			Msg("login refused")
		return nil, err
	}

	sess, err := s.store.Create(ctx, user.ID)
	if err != nil {
		s.metrics.ObserveLogin(loginError)
		s.logger.Error().Err(err).Int64("user_id", user.ID).Msg("failed to create session")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.metrics.ObserveLogin(loginSuccess)
	s.metrics.SessionCreated()
	s.logger.Info().
		Int64("user_id", user.ID).
		Str("username", user.Username).
		Str("ip", input.IPAddress).
		Str("user_agent", input.UserAgent).
		Msg("user logged in")

	return &LoginOutput{Session: sess, User: user}, nil
}

// Logout destroys the session behind token. Unknown tokens are ignored.
func (s *SessionService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if _, err := s.store.Lookup(ctx, token); err == nil {
		s.metrics.SessionDestroyed()
	}
	if err := s.store.Destroy(ctx, token); err != nil {
		s.logger.Error().Err(err).Msg("failed to destroy session")
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return nil
}

// ValidateSession resolves token to its user.
// Missing, unknown, expired and stale sessions yield ErrUnauthenticated.
// A banned user yields ErrUserBanned.
func (s *SessionService) ValidateSession(ctx context.Context, token string) (*domain.User, error) {
	sess, err := s.store.Lookup(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrSessionExpired) {
			return nil, ErrUnauthenticated
		}
		s.logger.Error().Err(err).Msg("failed to look up session")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	user, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// The user was deleted after logging in.
			_ = s.store.Destroy(ctx, token)
			return nil, ErrUnauthenticated
		}
		return nil, err
	}

	if !user.CanAuthenticate() {
		return nil, ErrUserBanned
	}

	return user, nil
}

// CurrentUser is ValidateSession without errors for anonymous callers:
// it returns nil when the token does not resolve to an active user.
func (s *SessionService) CurrentUser(ctx context.Context, token string) *domain.User {
	if token == "" {
		return nil
	}
	user, err := s.ValidateSession(ctx, token)
	if err != nil {
		return nil
	}
	return user
}
