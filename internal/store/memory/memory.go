// Package memory is an in-process Repository with the same integrity rules
// as the PostgreSQL store. Transactions are serialized by one mutex and run
// against a copy of the state that replaces the original only on success.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/punchamoorthee/moneybook/internal/domain"
	"github.com/punchamoorthee/moneybook/internal/store"
	"github.com/shopspring/decimal"
)

type idemKey struct {
	userID int64
	key    string
}

type state struct {
	nextID       int64
	users        map[int64]domain.User
	accounts     map[int64]domain.Account
	categories   map[int64]domain.Category
	transactions map[int64]domain.Transaction
	idempotency  map[idemKey]domain.IdempotencyRecord
}

func newState() *state {
	return &state{
		users:        make(map[int64]domain.User),
		accounts:     make(map[int64]domain.Account),
		categories:   make(map[int64]domain.Category),
		transactions: make(map[int64]domain.Transaction),
		idempotency:  make(map[idemKey]domain.IdempotencyRecord),
	}
}

func (s *state) clone() *state {
	c := newState()
	c.nextID = s.nextID
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store implements store.Repository in memory.
type Store struct {
	mu   *sync.Mutex
	root **state
	st   *state
	inTx bool

	faults *faults
}

// faults lets tests make a named operation fail.
type faults struct {
	mu  sync.Mutex
	ops map[string]error
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	st := newState()
	return &Store{
		mu:     &sync.Mutex{},
		root:   &st,
		faults: &faults{ops: make(map[string]error)},
	}
}

// FailOn makes every later call of op (for example "AdjustBalance") return
// err. A nil err clears the fault.
func (s *Store) FailOn(op string, err error) {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	if err == nil {
		delete(s.faults.ops, op)
		return
	}
	s.faults.ops[op] = err
}

func (s *Store) fault(op string) error {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	return s.faults.ops[op]
}

// view returns the state to operate on and a release func.
func (s *Store) view() (*state, func()) {
	if s.inTx {
		return s.st, func() {}
	}
	s.mu.Lock()
	return *s.root, s.mu.Unlock
}

func (s *Store) WithTx(ctx context.Context, fn func(store.Repository) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Store{mu: s.mu, root: s.root, st: (*s.root).clone(), inTx: true, faults: s.faults}
	if err := fn(tx); err != nil {
		return err
	}
	if err := s.fault("Commit"); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	*s.root = tx.st
	return nil
}

// write runs fn atomically: inside a transaction directly, otherwise as a
// one-statement transaction so a failing fn leaves the state untouched.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	return s.WithTx(ctx, func(r store.Repository) error {
		return fn(r.(*Store).st)
	})
}

// Users

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	if err := s.fault("CreateUser"); err != nil {
		return err
	}
	return s.write(ctx, func(st *state) error {
		for _, existing := range st.users {
			if strings.EqualFold(existing.Email, u.Email) {
				return fmt.Errorf("%w: users_email_key", store.ErrDuplicate)
			}
		}
		u.ID = st.id()
		u.CreatedAt = time.Now().UTC()
		st.users[u.ID] = *u
		return nil
	})
}

func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	st, release := s.view()
	defer release()
	u, ok := st.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	st, release := s.view()
	defer release()
	for _, u := range st.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListUsers(ctx context.Context, page domain.Page) ([]domain.User, error) {
	st, release := s.view()
	defer release()
	users := make([]domain.User, 0, len(st.users))
	for _, u := range st.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return window(users, page), nil
}

func (s *Store) UpdateUser(ctx context.Context, u *domain.User) error {
	if err := s.fault("UpdateUser"); err != nil {
		return err
	}
	return s.write(ctx, func(st *state) error {
		if _, ok := st.users[u.ID]; !ok {
			return store.ErrNotFound
		}
		for _, existing := range st.users {
			if existing.ID != u.ID && strings.EqualFold(existing.Email, u.Email) {
				return fmt.Errorf("%w: users_email_key", store.ErrDuplicate)
			}
		}
		st.users[u.ID] = *u
		return nil
	})
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	if err := s.fault("DeleteUser"); err != nil {
		return err
	}
	return s.write(ctx, func(st *state) error {
		if _, ok := st.users[id]; !ok {
			return store.ErrNotFound
		}
		for k := range st.idempotency {
			if k.userID == id {
				delete(st.idempotency, k)
			}
		}
		for tid, t := range st.transactions {
			if t.UserID == id {
				delete(st.transactions, tid)
			}
		}
		for cid, c := range st.categories {
			if c.UserID == id {
				delete(st.categories, cid)
			}
		}
		for aid, a := range st.accounts {
			if a.UserID == id {
				delete(st.accounts, aid)
			}
		}
		delete(st.users, id)
		return nil
	})
}

// Accounts

func (s *Store) CreateAccount(ctx context.Context, a *domain.Account) error {
	if err := s.fault("CreateAccount"); err != nil {
		return err
	}
	return s.write(ctx, func(st *state) error {
		if _, ok := st.users[a.UserID]; !ok {
			return fmt.Errorf("%w: accounts_user_id_fkey", store.ErrNotFound)
		}
		a.ID = st.id()
		a.CreatedAt = time.Now().UTC()
		st.accounts[a.ID] = *a
		return nil
	})
}

func (s *Store) GetAccount(ctx context.Context, userID, id int64) (*domain.Account, error) {
	st, release := s.view()
	defer release()
	a, ok := st.accounts[id]
	if !ok || a.UserID != userID {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

// LockAccount is GetAccount: WithTx already serializes writers.
func (s *Store) LockAccount(ctx context.Context, userID, id int64) (*domain.Account, error) {
	return s.GetAccount(ctx, userID, id)
}

func (s *Store) ListAccounts(ctx context.Context, userID int64, page domain.Page) ([]domain.Account, error) {
	st, release := s.view()
	defer release()
	accounts := []domain.Account{}
	for _, a := range st.accounts {
		if a.UserID == userID {
			accounts = append(accounts, a)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return window(accounts, page), nil
}

func (s *Store) UpdateAccount(ctx context.Context, a *domain.Account) error {
	if err := s.fault("UpdateAccount"); err != nil {
		return err
	}
	return s.write(ctx, func(st *state) error {
		cur, ok := st.accounts[a.ID]
		if !ok || cur.UserID != a.UserID {
			return store.ErrNotFound
		}
		cur.Name, cur.Type, cur.Balance = a.Name, a.Type, a.Balance
		st.accounts[a.ID] = cur
		return nil
	})
}

func (s *Store) DeleteAccount(ctx context.Context, userID, id int64) error {
	if err := s.fault("DeleteAccount"); err != nil {
		return err
	}
	return s.write(ctx, func(st *state) error {
		a, ok := st.accounts[id]
		if !ok || a.UserID != userID {
			return store.ErrNotFound
		}
		for tid, t := range st.transactions {
			if t.AccountID == id {
				delete(st.transactions, tid)
			}
		}
		delete(st.accounts, id)
		return nil
	})
}

func (s *Store) AdjustBalance(ctx context.Context, userID, accountID int64, delta decimal.Decimal) error {
	if err := s.fault("AdjustBalance"); err != nil {
		return err
	}
	return s.write(ctx, func(st *state) error {
		a, ok := st.accounts[accountID]
		if !ok || a.UserID != userID {
			return store.ErrNotFound
		}
		a.Balance = a.Balance.Add(delta)
		st.accounts[accountID] = a
		return nil
	})
}

func (s *Store) CountAccountTransactions(ctx context.Context, userID, accountID int64) (int64, error) {
	st, release := s.view()
	defer release()
	var n int64
	for _, t := range st.transactions {
		if t.UserID == userID && t.AccountID == accountID {
			n++
		}
	}
	return n, nil
}

// Categories

func (s *Store) CreateCategory(ctx context.Context, c *domain.Category) error {
	if err := s.fault("CreateCategory"); err != nil {
		return err
	}
	return s.write(ctx, func(st *state) error {
		if _, ok := st.users[c.UserID]; !ok {
			return fmt.Errorf("%w: categories_user_id_fkey", store.ErrNotFound)
		}
		c.ID = st.id()
		c.CreatedAt = time.Now().UTC()
		st.categories[c.ID] = *c
		return nil
	})
}

func (s *Store) GetCategory(ctx context.Context, userID, id int64) (*domain.Category, error) {
	st, release := s.view()
	defer release()
	c, ok := st.categories[id]
	if !ok || c.UserID != userID {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) LockCategory(ctx context.Context, userID, id int64) (*domain.Category, error) {
	return s.GetCategory(ctx, userID, id)
}

func (s *Store) ShareCategory(ctx context.Context, userID, id int64) (*domain.Category, error) {
	return s.GetCategory(ctx, userID, id)
}

func (s *Store) ListCategories(ctx context.Context, userID int64, filter domain.CategoryFilter) ([]domain.Category, error) {
	st, release := s.view()
	defer release()
	categories := []domain.Category{}
	for _, c := range st.categories {
		if c.UserID != userID {
			continue
		}
		if filter.Kind != "" && c.Kind != filter.Kind {
			continue
		}
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].ID < categories[j].ID })
	return window(categories, filter.Page), nil
}

func (s *Store) UpdateCategory(ctx context.Context, c *domain.Category) error {
	if err := s.fault("UpdateCategory"); err != nil {
		return err
	}
	return s.write(ctx, func(st *state) error {
		cur, ok := st.categories[c.ID]
		if !ok || cur.UserID != c.UserID {
			return store.ErrNotFound
		}
		cur.Name, cur.Kind = c.Name, c.Kind
		st.categories[c.ID] = cur
		return nil
	})
}

func (s *Store) DeleteCategory(ctx context.Context, userID, id int64) error {
	if err := s.fault("DeleteCategory"); err != nil {
		return err
	}
	return s.write(ctx, func(st *state) error {
		c, ok := st.categories[id]
		if !ok || c.UserID != userID {
			return store.ErrNotFound
		}
		for tid, t := range st.transactions {
			if t.CategoryID == id {
				delete(st.transactions, tid)
			}
		}
		delete(st.categories, id)
		return nil
	})
}

func (s *Store) CountCategoryTransactions(ctx context.Context, userID, categoryID int64) (int64, error) {
	st, release := s.view()
	defer release()
	var n int64
	for _, t := range st.transactions {
		if t.UserID == userID && t.CategoryID == categoryID {
			n++
		}
	}
	return n, nil
}

func (s *Store) CategoryDeltas(ctx context.Context, userID, categoryID int64) (map[int64]decimal.Decimal, error) {
	st, release := s.view()
	defer release()
	deltas := make(map[int64]decimal.Decimal)
	for _, t := range st.transactions {
		if t.UserID == userID && t.CategoryID == categoryID {
			deltas[t.AccountID] = deltas[t.AccountID].Add(t.Delta())
		}
	}
	return deltas, nil
}

// Transactions

func (s *Store) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	if err := s.fault("CreateTransaction"); err != nil {
		return err
	}
	return s.write(ctx, func(st *state) error {
		if err := st.checkRefs(t); err != nil {
			return err
		}
		t.ID = st.id()
		t.CreatedAt = time.Now().UTC()
		st.transactions[t.ID] = *t
		return nil
	})
}

// checkRefs enforces the composite foreign keys of the SQL schema.
func (st *state) checkRefs(t *domain.Transaction) error {
	if a, ok := st.accounts[t.AccountID]; !ok || a.UserID != t.UserID {
		return fmt.Errorf("%w: transactions_account_id_user_id_fkey", store.ErrNotFound)
	}
	if c, ok := st.categories[t.CategoryID]; !ok || c.UserID != t.UserID {
		return fmt.Errorf("%w: transactions_category_id_user_id_fkey", store.ErrNotFound)
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("transactions_amount_check violated: %s", t.Amount)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, userID, id int64) (*domain.Transaction, error) {
	st, release := s.view()
	defer release()
	t, ok := st.transactions[id]
	if !ok || t.UserID != userID {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

// LockTransaction is GetTransaction: WithTx already serializes writers.
func (s *Store) LockTransaction(ctx context.Context, userID, id int64) (*domain.Transaction, error) {
	return s.GetTransaction(ctx, userID, id)
}

func (s *Store) ListTransactions(ctx context.Context, userID int64, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	st, release := s.view()
	defer release()
	txns := []domain.Transaction{}
	for _, t := range st.transactions {
		if t.UserID != userID {
			continue
		}
		if filter.Kind != "" && t.Kind != filter.Kind {
			continue
		}
		if filter.AccountID != 0 && t.AccountID != filter.AccountID {
			continue
		}
		if filter.CategoryID != 0 && t.CategoryID != filter.CategoryID {
			continue
		}
		txns = append(txns, t)
	}
	sort.Slice(txns, func(i, j int) bool {
		if !txns[i].Date.Equal(txns[j].Date) {
			return txns[i].Date.After(txns[j].Date)
		}
		return txns[i].ID > txns[j].ID
	})
	return window(txns, filter.Page), nil
}

func (s *Store) UpdateTransaction(ctx context.Context, t *domain.Transaction) error {
	if err := s.fault("UpdateTransaction"); err != nil {
		return err
	}
	return s.write(ctx, func(st *state) error {
		cur, ok := st.transactions[t.ID]
		if !ok || cur.UserID != t.UserID {
			return store.ErrNotFound
		}
		if err := st.checkRefs(t); err != nil {
			return err
		}
		t.CreatedAt = cur.CreatedAt
		st.transactions[t.ID] = *t
		return nil
	})
}

func (s *Store) DeleteTransaction(ctx context.Context, userID, id int64) error {
	if err := s.fault("DeleteTransaction"); err != nil {
		return err
	}
	return s.write(ctx, func(st *state) error {
		t, ok := st.transactions[id]
		if !ok || t.UserID != userID {
			return store.ErrNotFound
		}
		delete(st.transactions, id)
		return nil
	})
}

// Idempotency

func (s *Store) GetIdempotencyRecord(ctx context.Context, userID int64, key string) (*domain.IdempotencyRecord, error) {
	st, release := s.view()
	defer release()
	rec, ok := st.idempotency[idemKey{userID, key}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) SaveIdempotencyRecord(ctx context.Context, rec *domain.IdempotencyRecord) error {
	if err := s.fault("SaveIdempotencyRecord"); err != nil {
		return err
	}
	return s.write(ctx, func(st *state) error {
		k := idemKey{rec.UserID, rec.Key}
		if _, exists := st.idempotency[k]; exists {
			return fmt.Errorf("%w: idempotency_keys_pkey", store.ErrDuplicate)
		}
		rec.CreatedAt = time.Now().UTC()
		st.idempotency[k] = *rec
		return nil
	})
}

func (s *Store) Wipe(ctx context.Context) error {
	return s.write(ctx, func(st *state) error {
		fresh := newState()
		fresh.nextID = st.nextID
		*st = *fresh
		return nil
	})
}

func window[T any](items []T, page domain.Page) []T {
	if page.Skip >= len(items) {
		return []T{}
	}
	items = items[page.Skip:]
	if page.Limit > 0 && page.Limit < len(items) {
		items = items[:page.Limit]
	}
	return items
}
