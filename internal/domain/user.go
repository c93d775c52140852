// Package domain contains the core business entities for Vidsnag.
// These are pure Go structs with no external dependencies, representing
// the accounts, sessions and download records the service works with.
package domain

import (
	"time"
)

// Role is the authorization role of a user.
type Role string

const (
	// RoleAdmin can manage users and sees every download record.
	RoleAdmin Role = "admin"

	// RoleUser can analyze URLs and sees only its own history.
	RoleUser Role = "user"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleUser
}

const (
	// DefaultDailyLimit is the quota given to users created without an explicit limit.
	DefaultDailyLimit = 10

	// AdminDailyLimit is the quota given to the bootstrap admin.
	AdminDailyLimit = 999999
)

// User represents a registered account.
type User struct {
	// ID is the unique identifier for the user (auto-generated).
	ID int64 `json:"id"`

	// Username is the unique login name.
	Username string `json:"username"`

	// PasswordHash is the bcrypt hash of the user's password.
	// This should never be exposed in API responses.
	PasswordHash string `json:"-"`

	// Role is either admin or user.
	Role Role `json:"role"`

	// IsBanned blocks login and invalidates existing sessions.
	IsBanned bool `json:"isBanned"`

	// BanUntil is informational only. The ban stays in effect until IsBanned is cleared.
	BanUntil *time.Time `json:"banUntil"`

	// DailyLimit is the number of analyze calls allowed before the counter is reset.
	DailyLimit int `json:"dailyLimit"`

	// UsedToday is the number of successful analyze calls since the last reset.
	UsedToday int `json:"usedToday"`

	// LastUsedAt is the time of the last successful analyze call.
	LastUsedAt *time.Time `json:"lastUsedAt"`

	// CreatedAt is the timestamp when the user was created.
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is the timestamp when the user was last updated.
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewUser creates a new User with default values.
func NewUser(username, passwordHash string, role Role, dailyLimit int) *User {
	now := time.Now().UTC()
	return &User{
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		DailyLimit:   dailyLimit,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsAdmin returns true if the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CanAuthenticate returns true if the user is allowed to authenticate.
func (u *User) CanAuthenticate() bool {
	return !u.IsBanned
}

// HasQuota returns true while another analyze call fits in the daily limit.
func (u *User) HasQuota() bool {
	return u.UsedToday < u.DailyLimit
}

// RemainingQuota returns how many analyze calls are left.
func (u *User) RemainingQuota() int {
	if u.UsedToday >= u.DailyLimit {
		return 0
	}
	return u.DailyLimit - u.UsedToday
}
