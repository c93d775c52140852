package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/prn-tf/vidsnag/internal/domain"
	"github.com/prn-tf/vidsnag/internal/lock"
	"github.com/prn-tf/vidsnag/internal/repository"
)

const maxUsernameLength = 255

// bootstrapLockTTL bounds how long the first-start seed may hold its lock.
const bootstrapLockTTL = 30 * time.Second

// UserService handles user management operations.
type UserService struct {
	userRepo repository.UserRepository
	locker   lock.Locker
	logger   zerolog.Logger
}

// NewUserService creates a new UserService. A nil locker disables locking.
func NewUserService(userRepo repository.UserRepository, locker lock.Locker, logger zerolog.Logger) *UserService {
	if locker == nil {
		locker = lock.NewNoOpLocker()
	}
	return &UserService{
		userRepo: userRepo,
		locker:   locker,
		logger:   logger.With().Str("service", "user").Logger(),
	}
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%w: failed to hash password", ErrInternalError)
	}
	return string(hash), nil
}

// CreateUserInput contains the data needed to create a new user.
type CreateUserInput struct {
	Username string
	Password string

	// Role defaults to user when empty.
	Role string

	// DailyLimit defaults to domain.DefaultDailyLimit when nil.
	DailyLimit *int
}

// Create creates a new user account.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*domain.User, error) {
	role, limit, err := validateCreateInput(&input)
	if err != nil {
		return nil, err
	}

	exists, err := s.userRepo.ExistsByUsername(ctx, input.Username)
	if err != nil {
		s.logger.Error().Err(err).Str("username", input.Username).Msg("failed to check username existence")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if exists {
		return nil, domain.NewDomainError(ErrUserAlreadyExists, "username taken", input.Username)
	}

	passwordHash, err := HashPassword(input.Password)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to hash password")
		return nil, err
	}

	user := domain.NewUser(input.Username, passwordHash, role, limit)
	if err := s.userRepo.Create(ctx, user); err != nil {
		// Lost a race with a concurrent creator of the same name.
		if errors.Is(err, domain.ErrUserAlreadyExists) {
			return nil, domain.NewDomainError(ErrUserAlreadyExists, "username taken", input.Username)
		}
		s.logger.Error().Err(err).Str("username", input.Username).Msg("failed to create user")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().
		Int64("user_id", user.ID).
		Str("username", user.Username).
		Str("role", string(user.Role)).
		Int("daily_limit", user.DailyLimit).
		Msg("user created")

	return user, nil
}

// UpdateUserInput is a partial update. Nil fields are left untouched.
type UpdateUserInput struct {
	IsBanned   *bool
	BanUntil   *time.Time
	DailyLimit *int
	Password   *string

	// ClearBanUntil removes banUntil. It wins over BanUntil.
	ClearBanUntil bool
}

// IsEmpty reports whether the input changes nothing.
func (in UpdateUserInput) IsEmpty() bool {
	return in.IsBanned == nil && in.BanUntil == nil && in.DailyLimit == nil &&
		in.Password == nil && !in.ClearBanUntil
}

// Update applies a partial update to a user and returns the stored result.
func (s *UserService) Update(ctx context.Context, id int64, input UpdateUserInput) (*domain.User, error) {
	if input.DailyLimit != nil && *input.DailyLimit < 0 {
		return nil, ErrInvalidDailyLimit
	}
	if input.Password != nil && *input.Password == "" {
		return nil, ErrInvalidPassword
	}

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.IsBanned != nil {
		user.IsBanned = *input.IsBanned
	}
	if input.ClearBanUntil {
		user.BanUntil = nil
	} else if input.BanUntil != nil {
		t := input.BanUntil.UTC()
		user.BanUntil = &t
	}
	if input.DailyLimit != nil {
		user.DailyLimit = *input.DailyLimit
	}
	if input.Password != nil {
		hash, err := HashPassword(*input.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}
	user.UpdatedAt = time.Now().UTC()

	if err := s.userRepo.Update(ctx, user); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		s.logger.Error().Err(err).Int64("user_id", id).Msg("failed to update user")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	// Usage may have moved since the read above.
	user, err = s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("user_id", user.ID).
		Bool("is_banned", user.IsBanned).
		Int("daily_limit", user.DailyLimit).
		Msg("user updated")

	return user, nil
}

// Authenticate verifies user credentials and returns the user.
// Unknown users and wrong passwords both yield ErrInvalidCredentials. A banned
// user with correct credentials yields ErrUserBanned.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	user, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.logger.Debug().Str("username", username).Msg("user not found during authentication")
			return nil, ErrInvalidCredentials
		}
		s.logger.Error().Err(err).Str("username", username).Msg("failed to load user")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Debug().Str("username", username).Msg("invalid password during authentication")
		return nil, ErrInvalidCredentials
	}

	if !user.CanAuthenticate() {
		s.logger.Info().Int64("user_id", user.ID).Msg("banned user attempted authentication")
		return nil, ErrUserBanned
	}

	return user, nil
}

// GetByID retrieves a user by ID.
func (s *UserService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.NewDomainError(ErrUserNotFound, "lookup by id", strconv.FormatInt(id, 10))
		}
		s.logger.Error().Err(err).Int64("user_id", id).Msg("failed to get user")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return user, nil
}

// List returns every user ordered by id.
func (s *UserService) List(ctx context.Context) ([]*domain.User, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list users")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return users, nil
}

// Delete hard-deletes a user account. Its download records are kept.
func (s *UserService) Delete(ctx context.Context, id int64) error {
	if err := s.userRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return ErrUserNotFound
		}
		s.logger.Error().Err(err).Int64("user_id", id).Msg("failed to delete user")
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().Int64("user_id", id).Msg("user deleted")
	return nil
}

// ResetUsage sets one user's usedToday back to zero.
func (s *UserService) ResetUsage(ctx context.Context, id int64) error {
	if err := s.userRepo.ResetUsage(ctx, id); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().Int64("user_id", id).Msg("usage reset")
	return nil
}

// ResetAllUsage sets usedToday back to zero for every user.
func (s *UserService) ResetAllUsage(ctx context.Context) (int64, error) {
	n, err := s.userRepo.ResetAllUsage(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().Int64("users", n).Msg("usage reset for all users")
	return n, nil
}

// BootstrapInput describes the admin seeded into an empty store.
type BootstrapInput struct {
	Username   string
	Password   string
	DailyLimit int
}

// EnsureBootstrapAdmin seeds one admin with id 1 when the store has no users.
// Returns the seeded user, or nil when users already exist.
func (s *UserService) EnsureBootstrapAdmin(ctx context.Context, input BootstrapInput) (*domain.User, error) {
	if input.Username == "" || input.Password == "" {
		return nil, fmt.Errorf("%w: bootstrap credentials are required", ErrInvalidInput)
	}
	if input.DailyLimit < 0 {
		return nil, ErrInvalidDailyLimit
	}

	lease, err := lock.Wait(ctx, s.locker, lock.Keys.Bootstrap(), bootstrapLockTTL, 50, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("%w: bootstrap lock: %v", ErrInternalError, err)
	}
	defer func() {
		_ = s.locker.Release(context.WithoutCancel(ctx), lease)
	}()

	count, err := s.userRepo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if count > 0 {
		return nil, nil
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	admin := domain.NewUser(input.Username, hash, domain.RoleAdmin, input.DailyLimit)
	admin.ID = 1
	if err := s.userRepo.Create(ctx, admin); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().
		Int64("user_id", admin.ID).
		Str("username", admin.Username).
		Msg("bootstrap admin created")

	return admin, nil
}

// validateCreateInput checks the input and resolves defaults.
func validateCreateInput(input *CreateUserInput) (domain.Role, int, error) {
	input.Username = strings.TrimSpace(input.Username)
	if input.Username == "" || len(input.Username) > maxUsernameLength {
		return "", 0, ErrInvalidUsername
	}
	if input.Password == "" {
		return "", 0, ErrInvalidPassword
	}

	role := domain.RoleUser
	if input.Role != "" {
		role = domain.Role(input.Role)
		if !role.IsValid() {
			return "", 0, ErrInvalidRole
		}
	}

	limit := domain.DefaultDailyLimit
	if input.DailyLimit != nil {
		limit = *input.DailyLimit
		if limit < 0 {
			return "", 0, ErrInvalidDailyLimit
		}
	}

	return role, limit, nil
}
