package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prn-tf/vidsnag/internal/domain"
	"github.com/prn-tf/vidsnag/internal/repository"
)

// userRepository implements repository.UserRepository.
type userRepository struct {
	db *DB
}

// NewUserRepository creates a new PostgreSQL user repository.
func NewUserRepository(db *DB) repository.UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, username, password_hash, role, is_banned, ban_until,
	daily_limit, used_today, last_used_at, created_at, updated_at`

// Create creates a new user.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	q := r.db.conn(ctx)
	args := []any{
		user.Username,
		user.PasswordHash,
		string(user.Role),
		user.IsBanned,
		user.BanUntil,
		user.DailyLimit,
		user.UsedToday,
		user.LastUsedAt,
		user.CreatedAt,
		user.UpdatedAt,
	}

	if user.ID != 0 {
		_, err := q.Exec(ctx, `
			INSERT INTO users (id, username, password_hash, role, is_banned, ban_until,
				daily_limit, used_today, last_used_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, append([]any{user.ID}, args...)...)
		if err != nil {
			return r.createError(err)
		}
		// Keep the identity sequence ahead of explicitly assigned ids.
		_, err = q.Exec(ctx, `SELECT setval(pg_get_serial_sequence('users', 'id'), (SELECT MAX(id) FROM users))`)
		if err != nil {
			return fmt.Errorf("failed to advance user id sequence: %w", err)
		}
		return nil
	}

	err := q.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, role, is_banned, ban_until,
			daily_limit, used_today, last_used_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, args...).Scan(&user.ID)
	if err != nil {
		return r.createError(err)
	}

	return nil
}

func (r *userRepository) createError(err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: username already exists", domain.ErrUserAlreadyExists)
	}
	return fmt.Errorf("failed to create user: %w", err)
}

// GetByID retrieves a user by ID.
func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	row := r.db.conn(ctx).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	return user, nil
}

// GetByUsername retrieves a user by username.
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	row := r.db.conn(ctx).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return user, nil
}

// Update writes the account fields of an existing user. Usage counters are
// left to IncrementUsage and the resets.
func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	user.UpdatedAt = time.Now().UTC()
	tag, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE users
		SET username = $1, password_hash = $2, role = $3, is_banned = $4, ban_until = $5,
			daily_limit = $6, updated_at = $7
		WHERE id = $8
	`,
		user.Username,
		user.PasswordHash,
		string(user.Role),
		user.IsBanned,
		user.BanUntil,
		user.DailyLimit,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username already exists", domain.ErrUserAlreadyExists)
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// Delete deletes a user by ID.
func (r *userRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.conn(ctx).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// List returns all users ordered by ID.
func (r *userRepository) List(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.db.conn(ctx).Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
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
	if err := r.db.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// ExistsByUsername checks if a user with the given username exists.
func (r *userRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check username existence: %w", err)
	}
	return exists, nil
}

// IncrementUsage consumes one quota slot if one is left.
func (r *userRepository) IncrementUsage(ctx context.Context, id int64, at time.Time) error {
	q := r.db.conn(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE users
		SET used_today = used_today + 1, last_used_at = $1, updated_at = $1
		WHERE id = $2 AND used_today < daily_limit
	`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check user existence: %w", err)
	}
	if !exists {
		return domain.ErrUserNotFound
	}
	return domain.ErrQuotaExceeded
}

// ResetUsage sets used_today back to zero for one user.
func (r *userRepository) ResetUsage(ctx context.Context, id int64) error {
	tag, err := r.db.conn(ctx).Exec(ctx,
		`UPDATE users SET used_today = 0, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// ResetAllUsage sets used_today back to zero for every user that used any quota.
func (r *userRepository) ResetAllUsage(ctx context.Context) (int64, error) {
	tag, err := r.db.conn(ctx).Exec(ctx,
		`UPDATE users SET used_today = 0, updated_at = NOW() WHERE used_today <> 0`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset usage: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	user := &domain.User{}
	var role string

	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&role,
		&user.IsBanned,
		&user.BanUntil,
		&user.DailyLimit,
		&user.UsedToday,
		&user.LastUsedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.Role = domain.Role(role)
	return user, nil
}

// isUniqueViolation checks for PostgreSQL error 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Ensure userRepository implements repository.UserRepository.
var _ repository.UserRepository = (*userRepository)(nil)
