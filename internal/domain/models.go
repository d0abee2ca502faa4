package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind classifies money flow. Transactions and Categories share it.
type Kind string

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

// Valid reports whether k is one of the two legal kinds.
func (k Kind) Valid() bool {
	return k == KindIncome || k == KindExpense
}

// User is the identity scope that owns accounts, categories and transactions.
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Account holds a balance. Balance equals the seed balance plus the signed
// sum of every transaction that references the account.
type Account struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// Category labels transactions as income or expense.
type Category struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// Transaction is one ledger entry. Amount is always positive; Kind carries
// the direction.
type Transaction struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	AccountID   int64           `json:"account_id"`
	CategoryID  int64           `json:"category_id"`
	Kind        Kind            `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	Description *string         `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Delta is the signed contribution of t to its account balance.
func (t Transaction) Delta() decimal.Decimal {
	return SignedDelta(t.Kind, t.Amount)
}

// SignedDelta returns +amount for income and -amount for expense.
func SignedDelta(k Kind, amount decimal.Decimal) decimal.Decimal {
	if k == KindExpense {
		return amount.Neg()
	}
	return amount
}

// IdempotencyRecord binds a client supplied key to the transaction it created.
type IdempotencyRecord struct {
	UserID        int64
	Key           string
	RequestHash   string
	TransactionID int64
	CreatedAt     time.Time
}
