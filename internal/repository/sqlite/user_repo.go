package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prn-tf/vidsnag/internal/domain"
	"github.com/prn-tf/vidsnag/internal/repository"
)

// userRepository implements repository.UserRepository for SQLite.
type userRepository struct {
	db *DB
}

// NewUserRepository creates a new SQLite user repository.
func NewUserRepository(db *DB) repository.UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, username, password_hash, role, is_banned, ban_until,
	daily_limit, used_today, last_used_at, created_at, updated_at`

// Create creates a new user.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	args := []any{
		user.Username,
		user.PasswordHash,
		string(user.Role),
		boolToInt(user.IsBanned),
		formatNullTime(user.BanUntil),
		user.DailyLimit,
		user.UsedToday,
		formatNullTime(user.LastUsedAt),
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	}

	query := `
		INSERT INTO users (username, password_hash, role, is_banned, ban_until,
			daily_limit, used_today, last_used_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if user.ID != 0 {
		query = `
			INSERT INTO users (id, username, password_hash, role, is_banned, ban_until,
				daily_limit, used_today, last_used_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		args = append([]any{user.ID}, args...)
	}

	result, err := r.db.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username already exists", domain.ErrUserAlreadyExists)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	if user.ID == 0 {
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID: %w", err)
		}
		user.ID = id
	}

	return nil
}

// GetByID retrieves a user by ID.
func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	row := r.db.conn(ctx).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	user, err := scanUser(row)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	return user, nil
}

// GetByUsername retrieves a user by username.
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	row := r.db.conn(ctx).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)

	user, err := scanUser(row)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return user, nil
}

// Update writes the account fields of an existing user. used_today and
// last_used_at belong to IncrementUsage and the resets and are not written.
func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	query := `
		UPDATE users
		SET username = ?, password_hash = ?, role = ?, is_banned = ?, ban_until = ?,
			daily_limit = ?, updated_at = ?
		WHERE id = ?
	`

	user.UpdatedAt = time.Now().UTC()
	result, err := r.db.conn(ctx).ExecContext(ctx, query,
		user.Username,
		user.PasswordHash,
		string(user.Role),
		boolToInt(user.IsBanned),
		formatNullTime(user.BanUntil),
		user.DailyLimit,
		formatTime(user.UpdatedAt),
		user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username already exists", domain.ErrUserAlreadyExists)
		}
		return fmt.Errorf("failed to update user: %w", err)
	}

	return expectOneRow(result, domain.ErrUserNotFound)
}

// Delete deletes a user by ID.
func (r *userRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.conn(ctx).ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return expectOneRow(result, domain.ErrUserNotFound)
}

// List returns all users ordered by ID.
func (r *userRepository) List(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.db.conn(ctx).QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*domain.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// Count returns the number of users.
func (r *userRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// ExistsByUsername checks if a user with the given username exists.
func (r *userRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists int
	err := r.db.conn(ctx).QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check username existence: %w", err)
	}
	return exists != 0, nil
}

// IncrementUsage consumes one quota slot if one is left.
func (r *userRepository) IncrementUsage(ctx context.Context, id int64, at time.Time) error {
	now := formatTime(at)
	result, err := r.db.conn(ctx).ExecContext(ctx, `
		UPDATE users
		SET used_today = used_today + 1, last_used_at = ?, updated_at = ?
		WHERE id = ? AND used_today < daily_limit
	`, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = r.db.conn(ctx).QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check user existence: %w", err)
	}
	if exists == 0 {
		return domain.ErrUserNotFound
	}
	return domain.ErrQuotaExceeded
}

// ResetUsage sets used_today back to zero for one user.
func (r *userRepository) ResetUsage(ctx context.Context, id int64) error {
	result, err := r.db.conn(ctx).ExecContext(ctx,
		`UPDATE users SET used_today = 0, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}
	return expectOneRow(result, domain.ErrUserNotFound)
}

// ResetAllUsage sets used_today back to zero for every user that used any quota.
func (r *userRepository) ResetAllUsage(ctx context.Context) (int64, error) {
	result, err := r.db.conn(ctx).ExecContext(ctx,
		`UPDATE users SET used_today = 0, updated_at = ? WHERE used_today <> 0`,
		formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("failed to reset usage: %w", err)
	}
	return result.RowsAffected()
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	user := &domain.User{}
	var (
		role                 string
		isBanned             int
		banUntil, lastUsedAt sql.NullString
		createdAt, updatedAt string
	)

	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&role,
		&isBanned,
		&banUntil,
		&user.DailyLimit,
		&user.UsedToday,
		&lastUsedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.Role = domain.Role(role)
	user.IsBanned = isBanned != 0

	if user.BanUntil, err = parseNullTime(banUntil); err != nil {
		return nil, err
	}
	if user.LastUsedAt, err = parseNullTime(lastUsedAt); err != nil {
		return nil, err
	}
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if user.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return user, nil
}

// Ensure userRepository implements repository.UserRepository.
var _ repository.UserRepository = (*userRepository)(nil)
