// Package repository defines data access interfaces for Vidsnag.
// These interfaces abstract database operations, allowing for different implementations
// (SQLite, PostgreSQL, in-memory for testing) while keeping the service layer clean.
package repository

import (
	"context"
	"time"

	"github.com/prn-tf/vidsnag/internal/domain"
)

// =============================================================================
// User Repository
// =============================================================================

// UserRepository defines the interface for user data access.
type UserRepository interface {
	// Create creates a new user and assigns its ID.
	// A non-zero ID is kept as is (used when importing snapshots).
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id int64) (*domain.User, error)

	// GetByUsername retrieves a user by username.
	GetByUsername(ctx context.Context, username string) (*domain.User, error)

	// Update writes the account fields of an existing user. It never writes
	// UsedToday or LastUsedAt.
	Update(ctx context.Context, user *domain.User) error

	// Delete deletes a user by ID. Download records are kept.
	Delete(ctx context.Context, id int64) error

	// List returns all users ordered by ID.
	List(ctx context.Context) ([]*domain.User, error)

	// Count returns the number of users.
	Count(ctx context.Context) (int64, error)

	// ExistsByUsername checks if a user with the given username exists.
	ExistsByUsername(ctx context.Context, username string) (bool, error)

	// IncrementUsage adds one to used_today and sets last_used_at, but only while
	// used_today < daily_limit. Returns domain.ErrQuotaExceeded when the quota
	// is already consumed and domain.ErrUserNotFound when the user is gone.
	IncrementUsage(ctx context.Context, id int64, at time.Time) error

	// ResetUsage sets used_today back to zero for one user.
	ResetUsage(ctx context.Context, id int64) error

	// ResetAllUsage sets used_today back to zero for every user.
	// Returns the number of users touched.
	ResetAllUsage(ctx context.Context) (int64, error)
}

// =============================================================================
// Download Repository
// =============================================================================

// DownloadRepository defines the interface for download history access.
type DownloadRepository interface {
	// Create stores a new download record and assigns its ID.
	// A non-zero ID is kept as is (used when importing snapshots).
	Create(ctx context.Context, download *domain.Download) error

	// List returns records newest first (created_at desc, id desc).
	List(ctx context.Context, opts DownloadListOptions) ([]*domain.Download, error)
}

// DownloadListOptions contains options for listing downloads.
type DownloadListOptions struct {
	// UserID restricts the result to one owner. Zero means every owner.
	UserID int64

	// Limit is the maximum number of records. Zero or less means no limit.
	Limit int
}

// =============================================================================
// Transactions
// =============================================================================

// TxManager runs a function inside a database transaction.
// Repository calls made with the context passed to fn join the transaction.
// A nested WithTx call reuses the outer transaction.
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// =============================================================================
// Aggregate
// =============================================================================

// Repositories holds all repository instances of one backend.
type Repositories struct {
	User     UserRepository
	Download DownloadRepository
	Tx       TxManager
}

// DatabaseHealth is an interface for database health checks.
// This interface satisfies handler.HealthChecker for the health endpoint.
type DatabaseHealth interface {
	Ping(ctx context.Context) error
	Close() error
}
