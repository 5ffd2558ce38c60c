package memory

import (
	"context"
	"time"

	"dice-wager-engine/internal/model"
	"dice-wager-engine/internal/repository"
)

// UserRepository stores accounts in memory.
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

func copyUser(u *model.User) *model.User {
	c := *u
	return &c
}

// Create creates a new user with a zero balance.
func (r *UserRepository) Create(ctx context.Context, id int64, username string) (*model.User, error) {
	var user *model.User
	err := r.db.write(ctx, func() (func(), error) {
		if _, ok := r.db.users[id]; ok {
			return nil, repository.ErrDuplicateUser
		}
		now := time.Now()
		u := &model.User{ID: id, Username: username, CreatedAt: now, UpdatedAt: now}
		r.db.users[id] = u
		user = copyUser(u)
		return func() { delete(r.db.users, id) }, nil
	})
	return user, err
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	var user *model.User
	r.db.read(func() {
		if u, ok := r.db.users[id]; ok {
			user = copyUser(u)
		}
	})
	if user == nil {
		return nil, repository.ErrUserNotFound
	}
	return user, nil
}

// GetForUpdate reads a user. Transactions are already serialized.
func (r *UserRepository) GetForUpdate(ctx context.Context, id int64) (*model.User, error) {
	return r.GetByID(ctx, id)
}

// GetOrCreate retrieves a user, creating one if it doesn't exist.
func (r *UserRepository) GetOrCreate(ctx context.Context, id int64, username string) (*model.User, bool, error) {
	if user, err := r.GetByID(ctx, id); err == nil {
		return user, false, nil
	}
	user, err := r.Create(ctx, id, username)
	if err != nil {
		user, err = r.GetByID(ctx, id)
		return user, false, err
	}
	return user, true, nil
}

// UpdateBalance adds amount (possibly negative) to the balance.
func (r *UserRepository) UpdateBalance(ctx context.Context, id int64, amount int64) (*model.User, error) {
	var user *model.User
	err := r.db.write(ctx, func() (func(), error) {
		u, ok := r.db.users[id]
		if !ok {
			return nil, repository.ErrUserNotFound
		}
		if u.Balance+amount < 0 {
			return nil, repository.ErrNegativeBalance
		}
		u.Balance += amount
		u.UpdatedAt = time.Now()
		user = copyUser(u)
		return func() { u.Balance -= amount }, nil
	})
	return user, err
}

// SetSuspended toggles whether the user may play.
func (r *UserRepository) SetSuspended(ctx context.Context, id int64, suspended bool) error {
	return r.db.write(ctx, func() (func(), error) {
		u, ok := r.db.users[id]
		if !ok {
			return nil, repository.ErrUserNotFound
		}
		prev := u.Suspended
		u.Suspended = suspended
		return func() { u.Suspended = prev }, nil
	})
}
