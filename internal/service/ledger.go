package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/moneybook/internal/domain"
	"github.com/punchamoorthee/moneybook/internal/events"
	"github.com/punchamoorthee/moneybook/internal/log"
	"github.com/punchamoorthee/moneybook/internal/store"
	"github.com/shopspring/decimal"
)

// EventPublisher receives ledger events after the store transaction commits.
type EventPublisher interface {
	Publish(ctx context.Context, evt events.LedgerEvent) error
}

// LedgerService owns the balance invariant: every Account balance equals its
// seed plus the signed sum of the transactions that reference it.
type LedgerService struct {
	repo   store.Repository
	events EventPublisher
	logger *log.Logger
}

func NewLedgerService(repo store.Repository, pub EventPublisher, logger *log.Logger) *LedgerService {
	if pub == nil {
		pub = events.Nop{}
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &LedgerService{repo: repo, events: pub, logger: logger.WithComponent(log.ComponentLedger)}
}

// CreateTransaction persists a transaction and applies its signed delta to the
// account in one store transaction. The second result reports an idempotent
// replay, in which case nothing was written.
func (s *LedgerService) CreateTransaction(ctx context.Context, userID int64, req domain.NewTransaction) (_ *domain.Transaction, replayed bool, err error) {
	defer observe("create_transaction", time.Now(), &err)

	if err := validateNewTransaction(req); err != nil {
		return nil, false, err
	}

	t := &domain.Transaction{
		UserID:      userID,
		AccountID:   req.AccountID,
		CategoryID:  req.CategoryID,
		Kind:        req.Kind,
		Amount:      req.Amount,
		Date:        dateOnly(req.Date),
		Description: req.Description,
	}

	err = s.repo.WithTx(ctx, func(tx store.Repository) error {
		if req.IdempotencyKey != "" {
			prev, err := s.replay(ctx, tx, userID, req)
			if err != nil {
				return err
			}
			if prev != nil {
				t, replayed = prev, true
				return nil
			}
		}

		if _, err := tx.GetAccount(ctx, userID, req.AccountID); err != nil {
			return lookupErr(err, "account", req.AccountID)
		}
		cat, err := tx.ShareCategory(ctx, userID, req.CategoryID)
		if err != nil {
			return lookupErr(err, "category", req.CategoryID)
		}
		if cat.Kind != req.Kind {
			return kindMismatch(req.Kind, cat)
		}

		if err := tx.CreateTransaction(ctx, t); err != nil {
			return referenceErr(err, t)
		}
		if err := tx.AdjustBalance(ctx, userID, t.AccountID, t.Delta()); err != nil {
			return internal(err)
		}

		if req.IdempotencyKey != "" {
			rec := &domain.IdempotencyRecord{
				UserID:        userID,
				Key:           req.IdempotencyKey,
				RequestHash:   req.RequestHash,
				TransactionID: t.ID,
			}
			if err := tx.SaveIdempotencyRecord(ctx, rec); err != nil {
				if errors.Is(err, store.ErrDuplicate) {
					return fmt.Errorf("%w: idempotency key %q is being used by a concurrent request", ErrConflict, req.IdempotencyKey)
				}
				return internal(err)
			}
		}
		return nil
	})
	if err != nil {
		s.logFailure(ctx, log.OpCreate, userID, err)
		return nil, false, internal(err)
	}
	if replayed {
		return t, true, nil
	}

	s.logger.With(log.NewFields().WithUser(userID).
		WithTransaction(t.ID, t.AccountID, t.CategoryID, string(t.Kind), t.Amount.StringFixed(2)).ToSlice()...).
		InfoContext(ctx, "Transaction created")
	s.publish(ctx, events.LedgerEvent{
		Type:          events.TypeTransactionCreated,
		UserID:        userID,
		TransactionID: t.ID,
		AccountID:     t.AccountID,
		Delta:         t.Delta(),
	})
	return t, false, nil
}

// replay returns the transaction a previous request with the same key
// created, or nil when the key is unused.
func (s *LedgerService) replay(ctx context.Context, tx store.Repository, userID int64, req domain.NewTransaction) (*domain.Transaction, error) {
	rec, err := tx.GetIdempotencyRecord(ctx, userID, req.IdempotencyKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, internal(err)
	}
	if rec.RequestHash != req.RequestHash {
		return nil, ErrIdempotencyMismatch
	}
	prev, err := tx.GetTransaction(ctx, userID, rec.TransactionID)
	if err != nil {
		return nil, lookupErr(err, "transaction", rec.TransactionID)
	}
	return prev, nil
}

// UpdateTransaction applies patch and rebalances in two half-steps: the old
// delta is reversed on the old account, then the new delta is applied on the
// new account. The kind check runs against the post-update category.
func (s *LedgerService) UpdateTransaction(ctx context.Context, userID, id int64, patch domain.TransactionPatch) (_ *domain.Transaction, err error) {
	defer observe("update_transaction", time.Now(), &err)

	if err := validatePatch(patch); err != nil {
		return nil, err
	}
	if patch.Empty() {
		return s.GetTransaction(ctx, userID, id)
	}

	var old, updated domain.Transaction
	err = s.repo.WithTx(ctx, func(tx store.Repository) error {
		cur, err := tx.LockTransaction(ctx, userID, id)
		if err != nil {
			return lookupErr(err, "transaction", id)
		}
		old = *cur
		updated = applyPatch(old, patch)

		if patch.AccountID != nil {
			if _, err := tx.GetAccount(ctx, userID, updated.AccountID); err != nil {
				return lookupErr(err, "account", updated.AccountID)
			}
		}
		cat, err := tx.ShareCategory(ctx, userID, updated.CategoryID)
		if err != nil {
			return lookupErr(err, "category", updated.CategoryID)
		}
		if cat.Kind != updated.Kind {
			return kindMismatch(updated.Kind, cat)
		}

		if err := rebalance(ctx, tx, userID, old, updated); err != nil {
			return internal(err)
		}
		if err := tx.UpdateTransaction(ctx, &updated); err != nil {
			return referenceErr(err, &updated)
		}
		return nil
	})
	if err != nil {
		s.logFailure(ctx, log.OpUpdate, userID, err)
		return nil, internal(err)
	}

	s.logger.With(log.NewFields().WithUser(userID).
		WithTransaction(updated.ID, updated.AccountID, updated.CategoryID, string(updated.Kind), updated.Amount.StringFixed(2)).ToSlice()...).
		InfoContext(ctx, "Transaction updated", "previous_account_id", old.AccountID)
	prevDelta := old.Delta()
	s.publish(ctx, events.LedgerEvent{
		Type:              events.TypeTransactionUpdated,
		UserID:            userID,
		TransactionID:     updated.ID,
		AccountID:         updated.AccountID,
		Delta:             updated.Delta(),
		PreviousAccountID: old.AccountID,
		PreviousDelta:     &prevDelta,
	})
	return &updated, nil
}

// rebalance moves old's contribution to updated's. On one account the
// reversal runs first; across two accounts the rows are touched in ascending
// id order so concurrent updates cannot deadlock.
func rebalance(ctx context.Context, tx store.Repository, userID int64, old, updated domain.Transaction) error {
	type step struct {
		accountID int64
		delta     decimal.Decimal
	}
	steps := []step{
		{old.AccountID, old.Delta().Neg()},
		{updated.AccountID, updated.Delta()},
	}
	if old.AccountID > updated.AccountID {
		steps[0], steps[1] = steps[1], steps[0]
	}
	for _, st := range steps {
		if err := tx.AdjustBalance(ctx, userID, st.accountID, st.delta); err != nil {
			return fmt.Errorf("adjust balance of account %d: %w", st.accountID, err)
		}
	}
	return nil
}

func applyPatch(t domain.Transaction, p domain.TransactionPatch) domain.Transaction {
	if p.AccountID != nil {
		t.AccountID = *p.AccountID
	}
	if p.CategoryID != nil {
		t.CategoryID = *p.CategoryID
	}
	if p.Kind != nil {
		t.Kind = *p.Kind
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Date != nil {
		t.Date = dateOnly(*p.Date)
	}
	if p.Description != nil {
		if *p.Description == "" {
			t.Description = nil
		} else {
			desc := *p.Description
			t.Description = &desc
		}
	}
	return t
}

// DeleteTransaction reverses the transaction's delta and removes it.
func (s *LedgerService) DeleteTransaction(ctx context.Context, userID, id int64) (err error) {
	defer observe("delete_transaction", time.Now(), &err)

	var t *domain.Transaction
	err = s.repo.WithTx(ctx, func(tx store.Repository) error {
		var err error
		t, err = tx.LockTransaction(ctx, userID, id)
		if err != nil {
			return lookupErr(err, "transaction", id)
		}
		if err := tx.AdjustBalance(ctx, userID, t.AccountID, t.Delta().Neg()); err != nil {
			return internal(err)
		}
		if err := tx.DeleteTransaction(ctx, userID, id); err != nil {
			return internal(err)
		}
		return nil
	})
	if err != nil {
		s.logFailure(ctx, log.OpDelete, userID, err)
		return internal(err)
	}

	s.logger.InfoContext(ctx, "Transaction deleted",
		log.FieldUserID, userID,
		log.FieldTransactionID, id,
		log.FieldAccountID, t.AccountID)
	s.publish(ctx, events.LedgerEvent{
		Type:          events.TypeTransactionDeleted,
		UserID:        userID,
		TransactionID: id,
		AccountID:     t.AccountID,
		Delta:         t.Delta().Neg(),
	})
	return nil
}

func (s *LedgerService) GetTransaction(ctx context.Context, userID, id int64) (*domain.Transaction, error) {
	t, err := s.repo.GetTransaction(ctx, userID, id)
	if err != nil {
		return nil, lookupErr(err, "transaction", id)
	}
	return t, nil
}

// ListTransactions returns the caller's transactions newest first.
func (s *LedgerService) ListTransactions(ctx context.Context, userID int64, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	if filter.Kind != "" {
		if err := validateKind(filter.Kind); err != nil {
			return nil, err
		}
	}
	filter.Page = filter.Page.Normalize()
	txs, err := s.repo.ListTransactions(ctx, userID, filter)
	if err != nil {
		return nil, internal(err)
	}
	return txs, nil
}

func (s *LedgerService) publish(ctx context.Context, evt events.LedgerEvent) {
	evt.RequestID = log.RequestID(ctx)
	evt.OccurredAt = time.Now().UTC()
	if err := s.events.Publish(ctx, evt); err != nil {
		log.FromContextOr(ctx, s.logger, log.ComponentEvents).WarnContext(ctx, "Failed to publish ledger event",
			"type", evt.Type,
			log.FieldTransactionID, evt.TransactionID,
			log.FieldError, err)
	}
}

// logFailure logs internal failures at error level and rejected requests at
// debug level.
func (s *LedgerService) logFailure(ctx context.Context, op string, userID int64, err error) {
	fields := log.NewFields().WithOperation(op).WithUser(userID).WithError(err).ToSlice()
	if Outcome(err) == "internal" {
		s.logger.ErrorContext(ctx, "Ledger operation failed", fields...)
		return
	}
	s.logger.DebugContext(ctx, "Ledger operation rejected", fields...)
}

// referenceErr reports a write rejected because the account or category it
// points at vanished after the lookup.
func referenceErr(err error, t *domain.Transaction) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: account %d or category %d no longer exists", ErrNotFound, t.AccountID, t.CategoryID)
	}
	return internal(err)
}

func kindMismatch(k domain.Kind, cat *domain.Category) error {
	return fmt.Errorf("%w: transaction kind %q does not match category %d kind %q", ErrKindMismatch, k, cat.ID, cat.Kind)
}

func validateNewTransaction(req domain.NewTransaction) error {
	if err := validateID("account_id", req.AccountID); err != nil {
		return err
	}
	if err := validateID("category_id", req.CategoryID); err != nil {
		return err
	}
	if err := validateKind(req.Kind); err != nil {
		return err
	}
	if err := validateAmount(req.Amount); err != nil {
		return err
	}
	if err := validateDate(req.Date); err != nil {
		return err
	}
	if err := validateDescription(req.Description); err != nil {
		return err
	}
	if req.IdempotencyKey != "" && len(req.IdempotencyKey) > maxIdempotencyKeyLen {
		return validationf("idempotency key too long (max %d characters)", maxIdempotencyKeyLen)
	}
	return nil
}

func validatePatch(p domain.TransactionPatch) error {
	if p.AccountID != nil {
		if err := validateID("account_id", *p.AccountID); err != nil {
			return err
		}
	}
	if p.CategoryID != nil {
		if err := validateID("category_id", *p.CategoryID); err != nil {
			return err
		}
	}
	if p.Kind != nil {
		if err := validateKind(*p.Kind); err != nil {
			return err
		}
	}
	if p.Amount != nil {
		if err := validateAmount(*p.Amount); err != nil {
			return err
		}
	}
	if p.Date != nil {
		if err := validateDate(*p.Date); err != nil {
			return err
		}
	}
	return validateDescription(p.Description)
}
