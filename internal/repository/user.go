package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dice-wager-engine/internal/model"
)

// UserRepository handles player accounts and their points balance.
type UserRepository struct {
	conn
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{conn: newConn(pool)}
}

const userColumns = `id, username, balance, suspended, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Balance,
		&user.Suspended,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create creates a new user with a zero balance.
func (r *UserRepository) Create(ctx context.Context, id int64, username string) (*model.User, error) {
	const query = `
		INSERT INTO users (id, username, balance, created_at, updated_at)
		VALUES ($1, $2, 0, NOW(), NOW())
		RETURNING ` + userColumns

	user, err := scanUser(r.db(ctx).QueryRow(ctx, query, id, username))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateUser
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by ID.
// Returns ErrUserNotFound if the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetForUpdate reads a user and locks the row until the surrounding
// transaction ends. Outside a transaction the lock is released immediately.
func (r *UserRepository) GetForUpdate(ctx context.Context, id int64) (*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`

	user, err := scanUser(r.db(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}
	return user, nil
}

// GetOrCreate retrieves a user, creating one if it doesn't exist.
func (r *UserRepository) GetOrCreate(ctx context.Context, id int64, username string) (*model.User, bool, error) {
	user, err := r.GetByID(ctx, id)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}

	user, err = r.Create(ctx, id, username)
	if err != nil {
		// another request may have created the user first
		user, err = r.GetByID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return user, false, nil
	}
	return user, true, nil
}

// UpdateBalance adds amount (possibly negative) to the balance.
// Overdrafts fail with ErrNegativeBalance.
func (r *UserRepository) UpdateBalance(ctx context.Context, id int64, amount int64) (*model.User, error) {
	const query = `
		UPDATE users
		SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(r.db(ctx).QueryRow(ctx, query, id, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		if isCheckViolation(err) {
			return nil, ErrNegativeBalance
		}
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	return user, nil
}

// SetSuspended toggles whether the user may play.
func (r *UserRepository) SetSuspended(ctx context.Context, id int64, suspended bool) error {
	const query = `UPDATE users SET suspended = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.db(ctx).Exec(ctx, query, id, suspended)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
