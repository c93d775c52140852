package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/vidsnag/internal/domain"
)

// DefaultCookieName is the session cookie name when none is configured.
const DefaultCookieName = "vidsnag_session"

// SessionValidator resolves a session token to its user.
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*domain.User, error)
}

// Config contains configuration for the auth middleware.
type Config struct {
	// CookieName is the name of the session cookie.
	CookieName string

	// TTL is the cookie lifetime. It should match the session lifetime.
	TTL time.Duration

	// Secure marks the cookie as HTTPS only.
	Secure bool

	// Logger receives debug output for refused requests.
	Logger zerolog.Logger
}

// DefaultConfig returns the default auth configuration.
func DefaultConfig() Config {
	return Config{
		CookieName: DefaultCookieName,
		TTL:        24 * time.Hour,
		Logger:     zerolog.Nop(),
	}
}

func (c Config) cookieName() string {
	if c.CookieName == "" {
		return DefaultCookieName
	}
	return c.CookieName
}

// userContextKey is the context key for the authenticated user.
type userContextKey struct{}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *domain.User {
	if user, ok := ctx.Value(userContextKey{}).(*domain.User); ok {
		return user
	}
	return nil
}

// Middleware requires a valid session and stores its user in the request context.
// Missing, unknown, expired and stale sessions get 401 Unauthorized; banned
// users get 401 Banned.
func Middleware(validator SessionValidator, config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := config.Token(r)
			if token == "" {
				writeAuthError(w, ErrUnauthorized)
				return
			}

			user, err := validator.ValidateSession(r.Context(), token)
			if err != nil {
				config.Logger.Debug().Err(err).Str("path", r.URL.Path).Msg("session rejected")
				writeAuthError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireAdmin refuses users without the admin role with 403 Admin only.
// It must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())
		if user == nil {
			writeAuthError(w, ErrUnauthorized)
			return
		}
		if !user.IsAdmin() {
			writeAuthError(w, ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Token returns the session token carried by r, or "".
func (c Config) Token(r *http.Request) string {
	cookie, err := r.Cookie(c.cookieName())
	if err != nil {
		return ""
	}
	return cookie.Value
}

// SetSessionCookie writes the session cookie for token.
func (c Config) SetSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	maxAge := int(time.Until(expires) / time.Second)
	if maxAge <= 0 {
		maxAge = int(c.TTL / time.Second)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.cookieName(),
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func (c Config) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.cookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
