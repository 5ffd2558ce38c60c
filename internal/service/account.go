// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"dice-wager-engine/internal/model"
	"dice-wager-engine/internal/pkg/apperrors"
	"dice-wager-engine/internal/repository"
	"dice-wager-engine/internal/settlement"
)

// UserStore is the identity and wallet collaborator.
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetOrCreate(ctx context.Context, id int64, username string) (*model.User, bool, error)
	UpdateBalance(ctx context.Context, id int64, amount int64) (*model.User, error)
	SetSuspended(ctx context.Context, id int64, suspended bool) error
}

// LedgerStore records balance changes.
type LedgerStore interface {
	Create(ctx context.Context, e *model.LedgerEntry) error
	GetByUserID(ctx context.Context, userID int64, txType string, limit int) ([]*model.LedgerEntry, error)
}

// AccountService handles user accounts and admin balance adjustments.
type AccountService struct {
	users  UserStore
	ledger LedgerStore
	tx     settlement.TxManager
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(users UserStore, ledger LedgerStore, tx settlement.TxManager) *AccountService {
	return &AccountService{
		users:  users,
		ledger: ledger,
		tx:     tx,
	}
}

// EnsureUser ensures a user exists, creating one if necessary.
// Returns the user and whether it was newly created.
func (s *AccountService) EnsureUser(ctx context.Context, userID int64, username string) (*model.User, bool, error) {
	user, created, err := s.users.GetOrCreate(ctx, userID, username)
	if err != nil {
		return nil, false, apperrors.NewTransient("failed to ensure user", err)
	}
	if created {
		log.Info().Int64("user_id", userID).Msg("User created")
	}
	return user, created, nil
}

// GetUser retrieves a user by ID.
func (s *AccountService) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("user %d not found", userID), err)
		}
		return nil, apperrors.NewTransient("failed to load user", err)
	}
	return user, nil
}

// GetBalance retrieves a user's current balance.
func (s *AccountService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.Balance, nil
}

// CheckIdentity returns the user if it exists and may play.
func (s *AccountService) CheckIdentity(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Suspended {
		return nil, apperrors.New(apperrors.ErrForbidden, fmt.Sprintf("user %d is suspended", userID), nil)
	}
	return user, nil
}

// Credit adds amount (possibly negative) to a balance on behalf of an admin
// and records it in the ledger. Both happen in one transaction.
func (s *AccountService) Credit(ctx context.Context, userID, amount int64, actor, note string) (*model.User, error) {
	if amount == 0 {
		return nil, apperrors.NewValidation("amount cannot be zero", nil)
	}
	txType := model.TxTypeAdminAdd
	if amount < 0 {
		txType = model.TxTypeAdminSub
	}
	desc := fmt.Sprintf("%s: %s", actor, note)

	var user *model.User
	err := s.tx.Do(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.users.UpdateBalance(ctx, userID, amount)
		if err != nil {
			return err
		}
		return s.ledger.Create(ctx, &model.LedgerEntry{
			UserID:      userID,
			Amount:      amount,
			Type:        txType,
			Description: &desc,
		})
	})
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrUserNotFound):
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("user %d not found", userID), err)
	case errors.Is(err, repository.ErrNegativeBalance):
		return nil, apperrors.NewValidation("balance cannot go negative", err)
	default:
		return nil, apperrors.NewTransient("failed to credit user", err)
	}

	log.Info().Int64("user_id", userID).Int64("amount", amount).Str("actor", actor).Msg("Balance adjusted by admin")
	return user, nil
}

// SetSuspended blocks or unblocks a user.
func (s *AccountService) SetSuspended(ctx context.Context, userID int64, suspended bool) error {
	if err := s.users.SetSuspended(ctx, userID, suspended); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("user %d not found", userID), err)
		}
		return apperrors.NewTransient("failed to update user", err)
	}
	return nil
}

// History returns a user's ledger entries, newest first.
func (s *AccountService) History(ctx context.Context, userID int64, txType string, limit int) ([]*model.LedgerEntry, error) {
	entries, err := s.ledger.GetByUserID(ctx, userID, txType, limit)
	if err != nil {
		return nil, apperrors.NewTransient("failed to load ledger", err)
	}
	return entries, nil
}
