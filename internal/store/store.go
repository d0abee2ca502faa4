package store

import (
	"context"
	"errors"

	"github.com/punchamoorthee/moneybook/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	// ErrConflict reports a lock or serialization conflict with a concurrent writer.
	ErrConflict = errors.New("concurrent update conflict")
)

// Repository is the Ledger Store contract. Every lookup is scoped by the
// owning user; a record owned by someone else is reported as ErrNotFound.
//
// WithTx runs fn against a Repository bound to a single store transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
// Calling WithTx on a transaction-bound Repository reuses the transaction.
type Repository interface {
	WithTx(ctx context.Context, fn func(Repository) error) error

	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	ListUsers(ctx context.Context, page domain.Page) ([]domain.User, error)
	UpdateUser(ctx context.Context, u *domain.User) error
	DeleteUser(ctx context.Context, id int64) error

	CreateAccount(ctx context.Context, a *domain.Account) error
	GetAccount(ctx context.Context, userID, id int64) (*domain.Account, error)
	// LockAccount reads the account and holds a row lock on it until the
	// surrounding store transaction ends. New transactions referencing the
	// account wait for the lock.
	LockAccount(ctx context.Context, userID, id int64) (*domain.Account, error)
	ListAccounts(ctx context.Context, userID int64, page domain.Page) ([]domain.Account, error)
	// UpdateAccount writes the name, type and balance columns.
	UpdateAccount(ctx context.Context, a *domain.Account) error
	DeleteAccount(ctx context.Context, userID, id int64) error
	// AdjustBalance adds delta to the stored balance in one atomic step.
	AdjustBalance(ctx context.Context, userID, accountID int64, delta decimal.Decimal) error
	CountAccountTransactions(ctx context.Context, userID, accountID int64) (int64, error)

	CreateCategory(ctx context.Context, c *domain.Category) error
	GetCategory(ctx context.Context, userID, id int64) (*domain.Category, error)
	// LockCategory is LockAccount for categories.
	LockCategory(ctx context.Context, userID, id int64) (*domain.Category, error)
	// ShareCategory reads the category under a shared row lock held until the
	// surrounding store transaction ends. A transaction row's kind is checked
	// against the category read this way, so a concurrent kind change or
	// delete (which take LockCategory) cannot land between check and insert.
	ShareCategory(ctx context.Context, userID, id int64) (*domain.Category, error)
	ListCategories(ctx context.Context, userID int64, filter domain.CategoryFilter) ([]domain.Category, error)
	UpdateCategory(ctx context.Context, c *domain.Category) error
	// DeleteCategory removes the category and the transactions that reference it.
	// Balance reversal of those transactions is the caller's job.
	DeleteCategory(ctx context.Context, userID, id int64) error
	CountCategoryTransactions(ctx context.Context, userID, categoryID int64) (int64, error)
	// CategoryDeltas sums the signed deltas of the category's transactions per account.
	CategoryDeltas(ctx context.Context, userID, categoryID int64) (map[int64]decimal.Decimal, error)

	CreateTransaction(ctx context.Context, t *domain.Transaction) error
	GetTransaction(ctx context.Context, userID, id int64) (*domain.Transaction, error)
	// LockTransaction reads the transaction and holds a row lock on it until
	// the surrounding store transaction ends.
	LockTransaction(ctx context.Context, userID, id int64) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, userID int64, filter domain.TransactionFilter) ([]domain.Transaction, error)
	UpdateTransaction(ctx context.Context, t *domain.Transaction) error
	DeleteTransaction(ctx context.Context, userID, id int64) error

	GetIdempotencyRecord(ctx context.Context, userID int64, key string) (*domain.IdempotencyRecord, error)
	SaveIdempotencyRecord(ctx context.Context, rec *domain.IdempotencyRecord) error

	// Wipe deletes every record in cascade order.
	Wipe(ctx context.Context) error
}
