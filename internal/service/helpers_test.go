package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/punchamoorthee/moneybook/internal/auth"
	"github.com/punchamoorthee/moneybook/internal/domain"
	"github.com/punchamoorthee/moneybook/internal/events"
	"github.com/punchamoorthee/moneybook/internal/log"
	"github.com/punchamoorthee/moneybook/internal/store/memory"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.LedgerEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	repo       *memory.Store
	pub        *recordingPublisher
	ledger     *LedgerService
	accounts   *AccountService
	categories *CategoryService
	users      *UserService
	userID     int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := memory.New()
	pub := &recordingPublisher{}
	logger := log.Discard()
	f := &fixture{
		repo:       repo,
		pub:        pub,
		ledger:     NewLedgerService(repo, pub, logger),
		accounts:   NewAccountService(repo, logger),
		categories: NewCategoryService(repo, logger),
		users:      NewUserService(repo, auth.NewHasher(bcrypt.MinCost), auth.NewTokenIssuer("test-secret", time.Minute), logger),
	}
	f.userID = f.register(t, "Ada Lovelace", "ada@example.com")
	return f
}

func (f *fixture) register(t *testing.T, name, email string) int64 {
	t.Helper()
	u, err := f.users.Register(context.Background(), domain.NewUser{Name: name, Email: email, Password: "secret123"})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return u.ID
}

func (f *fixture) account(t *testing.T, name, seed string) int64 {
	t.Helper()
	a, err := f.accounts.CreateAccount(context.Background(), f.userID, domain.NewAccount{
		Name: name, Type: "bank", Balance: dec(seed),
	})
	if err != nil {
		t.Fatalf("CreateAccount(%s): %v", name, err)
	}
	return a.ID
}

func (f *fixture) category(t *testing.T, name string, kind domain.Kind) int64 {
	t.Helper()
	c, err := f.categories.CreateCategory(context.Background(), f.userID, domain.NewCategory{Name: name, Kind: kind})
	if err != nil {
		t.Fatalf("CreateCategory(%s): %v", name, err)
	}
	return c.ID
}

func (f *fixture) create(t *testing.T, accountID, categoryID int64, kind domain.Kind, amount string) *domain.Transaction {
	t.Helper()
	tx, _, err := f.ledger.CreateTransaction(context.Background(), f.userID, newTx(accountID, categoryID, kind, amount))
	if err != nil {
		t.Fatalf("CreateTransaction(%s %s): %v", kind, amount, err)
	}
	return tx
}

func (f *fixture) assertBalance(t *testing.T, accountID int64, want string) {
	t.Helper()
	a, err := f.accounts.GetAccount(context.Background(), f.userID, accountID)
	if err != nil {
		t.Fatalf("GetAccount(%d): %v", accountID, err)
	}
	if !a.Balance.Equal(dec(want)) {
		t.Fatalf("account %d balance = %s, want %s", accountID, a.Balance.StringFixed(2), want)
	}
}

func (f *fixture) countTransactions(t *testing.T) int {
	t.Helper()
	txs, err := f.ledger.ListTransactions(context.Background(), f.userID, domain.TransactionFilter{})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	return len(txs)
}

func newTx(accountID, categoryID int64, kind domain.Kind, amount string) domain.NewTransaction {
	return domain.NewTransaction{
		AccountID:  accountID,
		CategoryID: categoryID,
		Kind:       kind,
		Amount:     dec(amount),
		Date:       time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr[T any](v T) *T {
	return &v
}

func assertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}
