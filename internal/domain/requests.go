package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NewTransaction carries the fields of CreateTransaction.
type NewTransaction struct {
	AccountID   int64
	CategoryID  int64
	Kind        Kind
	Amount      decimal.Decimal
	Date        time.Time
	Description *string

	// IdempotencyKey and RequestHash are optional. When the key is set, a
	// replay with the same hash returns the originally created transaction.
	IdempotencyKey string
	RequestHash    string
}

// TransactionPatch lists the mutable transaction fields. Nil means unchanged.
type TransactionPatch struct {
	AccountID   *int64
	CategoryID  *int64
	Kind        *Kind
	Amount      *decimal.Decimal
	Date        *time.Time
	Description *string
}

// Empty reports whether the patch changes nothing.
func (p TransactionPatch) Empty() bool {
	return p.AccountID == nil && p.CategoryID == nil && p.Kind == nil &&
		p.Amount == nil && p.Date == nil && p.Description == nil
}

// NewAccount carries the fields of account creation. Balance is the seed.
type NewAccount struct {
	Name    string
	Type    string
	Balance decimal.Decimal
}

// AccountPatch is the allow-list of account fields a caller may change.
// Balance is only honoured while the account has no transactions.
type AccountPatch struct {
	Name    *string
	Type    *string
	Balance *decimal.Decimal
}

type NewCategory struct {
	Name string
	Kind Kind
}

type CategoryPatch struct {
	Name *string
	Kind *Kind
}

type NewUser struct {
	Name     string
	Email    string
	Password string
}

type UserPatch struct {
	Name     *string
	Email    *string
	Password *string
}

// Page is a plain offset window over a list.
type Page struct {
	Skip  int
	Limit int
}

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 500
)

// Normalize clamps the window to sane bounds.
func (p Page) Normalize() Page {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// TransactionFilter narrows transaction listings by equality. Zero values
// are ignored.
type TransactionFilter struct {
	Kind       Kind
	AccountID  int64
	CategoryID int64
	Page
}

type CategoryFilter struct {
	Kind Kind
	Page
}
