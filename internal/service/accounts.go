package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/punchamoorthee/moneybook/internal/domain"
	"github.com/punchamoorthee/moneybook/internal/log"
	"github.com/punchamoorthee/moneybook/internal/store"
)

type AccountService struct {
	repo   store.Repository
	logger *log.Logger
}

func NewAccountService(repo store.Repository, logger *log.Logger) *AccountService {
	if logger == nil {
		logger = log.Discard()
	}
	return &AccountService{repo: repo, logger: logger.WithComponent(log.ComponentLedger)}
}

// CreateAccount stores a new account. req.Balance is the seed balance every
// later transaction adds to.
func (s *AccountService) CreateAccount(ctx context.Context, userID int64, req domain.NewAccount) (_ *domain.Account, err error) {
	defer observe("create_account", time.Now(), &err)

	if err := validateSeedBalance(req.Balance); err != nil {
		return nil, err
	}
	a := &domain.Account{
		UserID:  userID,
		Name:    strings.TrimSpace(req.Name),
		Type:    strings.TrimSpace(req.Type),
		Balance: req.Balance.Round(2),
	}
	if err := validateAccount(a); err != nil {
		return nil, err
	}

	if err := s.repo.CreateAccount(ctx, a); err != nil {
		return nil, lookupErr(err, "user", userID)
	}
	s.logger.InfoContext(ctx, "Account created",
		log.FieldUserID, userID,
		log.FieldAccountID, a.ID)
	return a, nil
}

func (s *AccountService) GetAccount(ctx context.Context, userID, id int64) (*domain.Account, error) {
	a, err := s.repo.GetAccount(ctx, userID, id)
	if err != nil {
		return nil, lookupErr(err, "account", id)
	}
	return a, nil
}

func (s *AccountService) ListAccounts(ctx context.Context, userID int64, page domain.Page) ([]domain.Account, error) {
	accounts, err := s.repo.ListAccounts(ctx, userID, page.Normalize())
	if err != nil {
		return nil, internal(err)
	}
	return accounts, nil
}

// UpdateAccount applies the allow-listed fields. A new balance is accepted
// only while no transaction references the account; afterwards the balance
// belongs to the ledger.
func (s *AccountService) UpdateAccount(ctx context.Context, userID, id int64, patch domain.AccountPatch) (_ *domain.Account, err error) {
	defer observe("update_account", time.Now(), &err)

	if patch.Balance != nil {
		if err := validateSeedBalance(*patch.Balance); err != nil {
			return nil, err
		}
	}

	var updated *domain.Account
	err = s.repo.WithTx(ctx, func(tx store.Repository) error {
		a, err := tx.LockAccount(ctx, userID, id)
		if err != nil {
			return lookupErr(err, "account", id)
		}
		if patch.Name != nil {
			a.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Type != nil {
			a.Type = strings.TrimSpace(*patch.Type)
		}
		if err := validateAccount(a); err != nil {
			return err
		}

		if patch.Balance != nil && !patch.Balance.Equal(a.Balance) {
			n, err := tx.CountAccountTransactions(ctx, userID, id)
			if err != nil {
				return internal(err)
			}
			if n > 0 {
				return validationf("balance of account %d is derived from its %d transactions and cannot be set directly", id, n)
			}
			a.Balance = patch.Balance.Round(2)
		}

		if err := tx.UpdateAccount(ctx, a); err != nil {
			return lookupErr(err, "account", id)
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, internal(err)
	}
	return updated, nil
}

// DeleteAccount removes the account together with its transactions.
func (s *AccountService) DeleteAccount(ctx context.Context, userID, id int64) (err error) {
	defer observe("delete_account", time.Now(), &err)

	if err := s.repo.DeleteAccount(ctx, userID, id); err != nil {
		return lookupErr(err, "account", id)
	}
	s.logger.InfoContext(ctx, "Account deleted",
		log.FieldUserID, userID,
		log.FieldAccountID, id)
	return nil
}

func validateAccount(a *domain.Account) error {
	return errors.Join(
		validateText("name", a.Name, 1, maxNameLen),
		validateText("type", a.Type, 1, maxTypeLen),
	)
}
