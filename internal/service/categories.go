package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/punchamoorthee/moneybook/internal/domain"
	"github.com/punchamoorthee/moneybook/internal/log"
	"github.com/punchamoorthee/moneybook/internal/store"
)

type CategoryService struct {
	repo   store.Repository
	logger *log.Logger
}

func NewCategoryService(repo store.Repository, logger *log.Logger) *CategoryService {
	if logger == nil {
		logger = log.Discard()
	}
	return &CategoryService{repo: repo, logger: logger.WithComponent(log.ComponentLedger)}
}

func (s *CategoryService) CreateCategory(ctx context.Context, userID int64, req domain.NewCategory) (_ *domain.Category, err error) {
	defer observe("create_category", time.Now(), &err)

	c := &domain.Category{UserID: userID, Name: strings.TrimSpace(req.Name), Kind: req.Kind}
	if err := validateText("name", c.Name, 1, maxNameLen); err != nil {
		return nil, err
	}
	if err := validateKind(c.Kind); err != nil {
		return nil, err
	}
	if err := s.repo.CreateCategory(ctx, c); err != nil {
		return nil, lookupErr(err, "user", userID)
	}
	return c, nil
}

func (s *CategoryService) GetCategory(ctx context.Context, userID, id int64) (*domain.Category, error) {
	c, err := s.repo.GetCategory(ctx, userID, id)
	if err != nil {
		return nil, lookupErr(err, "category", id)
	}
	return c, nil
}

func (s *CategoryService) ListCategories(ctx context.Context, userID int64, filter domain.CategoryFilter) ([]domain.Category, error) {
	if filter.Kind != "" {
		if err := validateKind(filter.Kind); err != nil {
			return nil, err
		}
	}
	filter.Page = filter.Page.Normalize()
	categories, err := s.repo.ListCategories(ctx, userID, filter)
	if err != nil {
		return nil, internal(err)
	}
	return categories, nil
}

// UpdateCategory renames a category or changes its kind. The kind is fixed
// once transactions reference the category, since they must share it.
func (s *CategoryService) UpdateCategory(ctx context.Context, userID, id int64, patch domain.CategoryPatch) (_ *domain.Category, err error) {
	defer observe("update_category", time.Now(), &err)

	if patch.Kind != nil {
		if err := validateKind(*patch.Kind); err != nil {
			return nil, err
		}
	}

	var updated *domain.Category
	err = s.repo.WithTx(ctx, func(tx store.Repository) error {
		c, err := tx.LockCategory(ctx, userID, id)
		if err != nil {
			return lookupErr(err, "category", id)
		}
		if patch.Name != nil {
			c.Name = strings.TrimSpace(*patch.Name)
			if err := validateText("name", c.Name, 1, maxNameLen); err != nil {
				return err
			}
		}
		if patch.Kind != nil && *patch.Kind != c.Kind {
			n, err := tx.CountCategoryTransactions(ctx, userID, id)
			if err != nil {
				return internal(err)
			}
			if n > 0 {
				return fmt.Errorf("%w: category %d has %d %s transactions", ErrKindMismatch, id, n, c.Kind)
			}
			c.Kind = *patch.Kind
		}
		if err := tx.UpdateCategory(ctx, c); err != nil {
			return lookupErr(err, "category", id)
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, internal(err)
	}
	return updated, nil
}

// DeleteCategory removes the category and its transactions, first reversing
// their deltas so every affected account keeps a consistent balance.
func (s *CategoryService) DeleteCategory(ctx context.Context, userID, id int64) (err error) {
	defer observe("delete_category", time.Now(), &err)

	var affected int
	err = s.repo.WithTx(ctx, func(tx store.Repository) error {
		if _, err := tx.LockCategory(ctx, userID, id); err != nil {
			return lookupErr(err, "category", id)
		}
		deltas, err := tx.CategoryDeltas(ctx, userID, id)
		if err != nil {
			return internal(err)
		}

		accountIDs := make([]int64, 0, len(deltas))
		for accountID := range deltas {
			accountIDs = append(accountIDs, accountID)
		}
		// ascending order, as in rebalance
		slices.Sort(accountIDs)
		for _, accountID := range accountIDs {
			if err := tx.AdjustBalance(ctx, userID, accountID, deltas[accountID].Neg()); err != nil {
				return internal(fmt.Errorf("adjust balance of account %d: %w", accountID, err))
			}
		}
		affected = len(accountIDs)

		if err := tx.DeleteCategory(ctx, userID, id); err != nil {
			return lookupErr(err, "category", id)
		}
		return nil
	})
	if err != nil {
		return internal(err)
	}

	s.logger.InfoContext(ctx, "Category deleted",
		log.FieldUserID, userID,
		log.FieldCategoryID, id,
		"accounts_rebalanced", affected)
	return nil
}
