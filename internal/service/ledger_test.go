package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/punchamoorthee/moneybook/internal/domain"
	"github.com/punchamoorthee/moneybook/internal/events"
	"github.com/punchamoorthee/moneybook/internal/store"
)

func TestLedger_SalaryScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	checking := f.account(t, "Checking", "0.00")
	salary := f.category(t, "Salary", domain.KindIncome)

	tx := f.create(t, checking, salary, domain.KindIncome, "5000.00")
	f.assertBalance(t, checking, "5000.00")

	if _, err := f.ledger.UpdateTransaction(ctx, f.userID, tx.ID, domain.TransactionPatch{Amount: ptr(dec("3000.00"))}); err != nil {
		t.Fatalf("UpdateTransaction: %v", err)
	}
	f.assertBalance(t, checking, "3000.00")

	if err := f.ledger.DeleteTransaction(ctx, f.userID, tx.ID); err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}
	f.assertBalance(t, checking, "0.00")

	want := []string{events.TypeTransactionCreated, events.TypeTransactionUpdated, events.TypeTransactionDeleted}
	got := f.pub.types()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("published %v, want %v", got, want)
	}
}

func TestLedger_ExpenseSubtracts(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "Wallet", "100.00")
	food := f.category(t, "Food", domain.KindExpense)

	f.create(t, acc, food, domain.KindExpense, "12.34")
	f.assertBalance(t, acc, "87.66")
}

func TestLedger_UpdateReattribution(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "A", "0.00")
	b := f.account(t, "B", "0.00")
	salary := f.category(t, "Salary", domain.KindIncome)

	tx := f.create(t, a, salary, domain.KindIncome, "100.00")
	f.assertBalance(t, a, "100.00")

	updated, err := f.ledger.UpdateTransaction(context.Background(), f.userID, tx.ID, domain.TransactionPatch{AccountID: &b})
	if err != nil {
		t.Fatalf("UpdateTransaction: %v", err)
	}
	if updated.AccountID != b {
		t.Fatalf("AccountID = %d, want %d", updated.AccountID, b)
	}
	f.assertBalance(t, a, "0.00")
	f.assertBalance(t, b, "100.00")

	evt := f.pub.events[len(f.pub.events)-1]
	if evt.PreviousAccountID != a || evt.AccountID != b {
		t.Fatalf("update event accounts = %d -> %d, want %d -> %d", evt.PreviousAccountID, evt.AccountID, a, b)
	}
}

func TestLedger_UpdateKindAndCategoryTogether(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "Checking", "50.00")
	salary := f.category(t, "Salary", domain.KindIncome)
	rent := f.category(t, "Rent", domain.KindExpense)

	tx := f.create(t, acc, salary, domain.KindIncome, "20.00")
	f.assertBalance(t, acc, "70.00")

	_, err := f.ledger.UpdateTransaction(context.Background(), f.userID, tx.ID, domain.TransactionPatch{
		CategoryID: &rent,
		Kind:       ptr(domain.KindExpense),
	})
	if err != nil {
		t.Fatalf("UpdateTransaction: %v", err)
	}
	f.assertBalance(t, acc, "30.00")
}

func TestLedger_UpdateAccountKindAndAmount(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "A", "10.00")
	b := f.account(t, "B", "10.00")
	salary := f.category(t, "Salary", domain.KindIncome)
	rent := f.category(t, "Rent", domain.KindExpense)

	tx := f.create(t, b, salary, domain.KindIncome, "5.00")
	_, err := f.ledger.UpdateTransaction(context.Background(), f.userID, tx.ID, domain.TransactionPatch{
		AccountID:  &a,
		CategoryID: &rent,
		Kind:       ptr(domain.KindExpense),
		Amount:     ptr(dec("2.50")),
	})
	if err != nil {
		t.Fatalf("UpdateTransaction: %v", err)
	}
	f.assertBalance(t, a, "7.50")
	f.assertBalance(t, b, "10.00")
}

func TestLedger_KindMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "Checking", "100.00")
	food := f.category(t, "Food", domain.KindExpense)
	salary := f.category(t, "Salary", domain.KindIncome)

	t.Run("create", func(t *testing.T) {
		_, _, err := f.ledger.CreateTransaction(ctx, f.userID, newTx(acc, food, domain.KindIncome, "10.00"))
		assertErrorIs(t, err, ErrKindMismatch)
		f.assertBalance(t, acc, "100.00")
		if n := f.countTransactions(t); n != 0 {
			t.Fatalf("%d transactions persisted, want 0", n)
		}
	})

	t.Run("update uses the new category", func(t *testing.T) {
		tx := f.create(t, acc, salary, domain.KindIncome, "10.00")
		_, err := f.ledger.UpdateTransaction(ctx, f.userID, tx.ID, domain.TransactionPatch{CategoryID: &food})
		assertErrorIs(t, err, ErrKindMismatch)
		f.assertBalance(t, acc, "110.00")

		got, err := f.ledger.GetTransaction(ctx, f.userID, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction: %v", err)
		}
		if got.CategoryID != salary {
			t.Fatalf("CategoryID = %d, want unchanged %d", got.CategoryID, salary)
		}
	})

	t.Run("update kind alone", func(t *testing.T) {
		tx := f.create(t, acc, salary, domain.KindIncome, "1.00")
		_, err := f.ledger.UpdateTransaction(ctx, f.userID, tx.ID, domain.TransactionPatch{Kind: ptr(domain.KindExpense)})
		assertErrorIs(t, err, ErrKindMismatch)
		f.assertBalance(t, acc, "111.00")
	})
}

func TestLedger_Validation(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "Checking", "0.00")
	salary := f.category(t, "Salary", domain.KindIncome)

	tests := []struct {
		name   string
		mutate func(req *domain.NewTransaction)
	}{
		{"negative amount", func(req *domain.NewTransaction) { req.Amount = dec("-10.00") }},
		{"zero amount", func(req *domain.NewTransaction) { req.Amount = dec("0") }},
		{"three decimals", func(req *domain.NewTransaction) { req.Amount = dec("1.005") }},
		{"too large", func(req *domain.NewTransaction) { req.Amount = dec("100000000.00") }},
		{"unknown kind", func(req *domain.NewTransaction) { req.Kind = "transfer" }},
		{"missing date", func(req *domain.NewTransaction) { req.Date = time.Time{} }},
		{"missing account", func(req *domain.NewTransaction) { req.AccountID = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newTx(acc, salary, domain.KindIncome, "10.00")
			tt.mutate(&req)
			_, _, err := f.ledger.CreateTransaction(context.Background(), f.userID, req)
			assertErrorIs(t, err, ErrValidation)
		})
	}

	f.assertBalance(t, acc, "0.00")
	if n := f.countTransactions(t); n != 0 {
		t.Fatalf("%d transactions persisted, want 0", n)
	}
}

func TestLedger_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "Checking", "0.00")
	salary := f.category(t, "Salary", domain.KindIncome)

	_, _, err := f.ledger.CreateTransaction(ctx, f.userID, newTx(999, salary, domain.KindIncome, "1.00"))
	assertErrorIs(t, err, ErrNotFound)
	_, _, err = f.ledger.CreateTransaction(ctx, f.userID, newTx(acc, 999, domain.KindIncome, "1.00"))
	assertErrorIs(t, err, ErrNotFound)

	_, err = f.ledger.UpdateTransaction(ctx, f.userID, 999, domain.TransactionPatch{Amount: ptr(dec("1.00"))})
	assertErrorIs(t, err, ErrNotFound)
	assertErrorIs(t, f.ledger.DeleteTransaction(ctx, f.userID, 999), ErrNotFound)

	tx := f.create(t, acc, salary, domain.KindIncome, "1.00")
	_, err = f.ledger.UpdateTransaction(ctx, f.userID, tx.ID, domain.TransactionPatch{AccountID: ptr(int64(999))})
	assertErrorIs(t, err, ErrNotFound)
	f.assertBalance(t, acc, "1.00")
}

// A reference that disappears between lookup and write is a missing record,
// not a server failure.
func TestLedger_VanishedReferenceIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "Checking", "10.00")
	salary := f.category(t, "Salary", domain.KindIncome)
	tx := f.create(t, acc, salary, domain.KindIncome, "5.00")

	f.repo.FailOn("CreateTransaction", store.ErrNotFound)
	_, _, err := f.ledger.CreateTransaction(ctx, f.userID, newTx(acc, salary, domain.KindIncome, "1.00"))
	assertErrorIs(t, err, ErrNotFound)
	f.repo.FailOn("CreateTransaction", nil)

	f.repo.FailOn("UpdateTransaction", fmt.Errorf("%w: transactions_category_fkey", store.ErrNotFound))
	_, err = f.ledger.UpdateTransaction(ctx, f.userID, tx.ID, domain.TransactionPatch{Amount: ptr(dec("7.00"))})
	assertErrorIs(t, err, ErrNotFound)
	f.repo.FailOn("UpdateTransaction", nil)

	f.assertBalance(t, acc, "15.00")
}

// shareSpy records which categories the engine read under a shared lock.
type shareSpy struct {
	store.Repository
	shared *[]int64
}

func (s shareSpy) WithTx(ctx context.Context, fn func(store.Repository) error) error {
	return s.Repository.WithTx(ctx, func(tx store.Repository) error {
		return fn(shareSpy{Repository: tx, shared: s.shared})
	})
}

func (s shareSpy) ShareCategory(ctx context.Context, userID, id int64) (*domain.Category, error) {
	*s.shared = append(*s.shared, id)
	return s.Repository.ShareCategory(ctx, userID, id)
}

func TestLedger_KindCheckHoldsCategoryLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "Checking", "0.00")
	salary := f.category(t, "Salary", domain.KindIncome)
	food := f.category(t, "Food", domain.KindExpense)

	var shared []int64
	ledger := NewLedgerService(shareSpy{Repository: f.repo, shared: &shared}, nil, nil)

	tx, _, err := ledger.CreateTransaction(ctx, f.userID, newTx(acc, salary, domain.KindIncome, "10.00"))
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	_, err = ledger.UpdateTransaction(ctx, f.userID, tx.ID, domain.TransactionPatch{
		CategoryID: ptr(food),
		Kind:       ptr(domain.KindExpense),
	})
	if err != nil {
		t.Fatalf("UpdateTransaction: %v", err)
	}

	if len(shared) != 2 || shared[0] != salary || shared[1] != food {
		t.Fatalf("shared category reads = %v, want [%d %d]", shared, salary, food)
	}
	f.assertBalance(t, acc, "-10.00")
}

func TestLedger_OtherUsersRecordsAreNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "Checking", "0.00")
	salary := f.category(t, "Salary", domain.KindIncome)
	tx := f.create(t, acc, salary, domain.KindIncome, "10.00")

	mallory := f.register(t, "Mallory", "mallory@example.com")
	_, _, err := f.ledger.CreateTransaction(ctx, mallory, newTx(acc, salary, domain.KindIncome, "1.00"))
	assertErrorIs(t, err, ErrNotFound)
	_, err = f.ledger.GetTransaction(ctx, mallory, tx.ID)
	assertErrorIs(t, err, ErrNotFound)
	assertErrorIs(t, f.ledger.DeleteTransaction(ctx, mallory, tx.ID), ErrNotFound)
	f.assertBalance(t, acc, "10.00")
}

func TestLedger_RoundTripIsExact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "Checking", "1234.56")
	food := f.category(t, "Food", domain.KindExpense)

	before, _ := f.accounts.GetAccount(ctx, f.userID, acc)
	for _, amount := range []string{"0.01", "0.10", "19.99", "33.33", "99999999.99"} {
		tx := f.create(t, acc, food, domain.KindExpense, amount)
		if err := f.ledger.DeleteTransaction(ctx, f.userID, tx.ID); err != nil {
			t.Fatalf("DeleteTransaction: %v", err)
		}
	}
	after, _ := f.accounts.GetAccount(ctx, f.userID, acc)
	if after.Balance.String() != before.Balance.String() {
		t.Fatalf("balance %s after round trips, want %s", after.Balance, before.Balance)
	}
}

func TestLedger_GetIsStable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "Checking", "0.00")
	salary := f.category(t, "Salary", domain.KindIncome)
	req := newTx(acc, salary, domain.KindIncome, "42.00")
	req.Description = ptr("March salary")
	created, _, err := f.ledger.CreateTransaction(ctx, f.userID, req)
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	first, err := f.ledger.GetTransaction(ctx, f.userID, created.ID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	second, _ := f.ledger.GetTransaction(ctx, f.userID, created.ID)
	if fmt.Sprintf("%+v %s", *first, *first.Description) != fmt.Sprintf("%+v %s", *second, *second.Description) {
		t.Fatalf("repeated reads differ:\n%+v\n%+v", first, second)
	}
}

func TestLedger_StoreFailureRollsBack(t *testing.T) {
	for _, op := range []string{"AdjustBalance", "CreateTransaction", "Commit"} {
		t.Run(op, func(t *testing.T) {
			f := newFixture(t)
			acc := f.account(t, "Checking", "10.00")
			salary := f.category(t, "Salary", domain.KindIncome)

			f.repo.FailOn(op, errors.New("disk full"))
			_, _, err := f.ledger.CreateTransaction(context.Background(), f.userID, newTx(acc, salary, domain.KindIncome, "5.00"))
			assertErrorIs(t, err, ErrInternal)
			f.repo.FailOn(op, nil)

			f.assertBalance(t, acc, "10.00")
			if n := f.countTransactions(t); n != 0 {
				t.Fatalf("%d transactions persisted, want 0", n)
			}
			if len(f.pub.events) != 0 {
				t.Fatalf("published %d events for a failed create", len(f.pub.events))
			}
		})
	}
}

func TestLedger_UpdateFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "A", "0.00")
	b := f.account(t, "B", "0.00")
	salary := f.category(t, "Salary", domain.KindIncome)
	tx := f.create(t, a, salary, domain.KindIncome, "100.00")

	f.repo.FailOn("UpdateTransaction", errors.New("connection reset"))
	_, err := f.ledger.UpdateTransaction(ctx, f.userID, tx.ID, domain.TransactionPatch{AccountID: &b})
	assertErrorIs(t, err, ErrInternal)
	f.repo.FailOn("UpdateTransaction", nil)

	f.assertBalance(t, a, "100.00")
	f.assertBalance(t, b, "0.00")
}

func TestLedger_PublishFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")
	acc := f.account(t, "Checking", "0.00")
	salary := f.category(t, "Salary", domain.KindIncome)

	f.create(t, acc, salary, domain.KindIncome, "5.00")
	f.assertBalance(t, acc, "5.00")
}

func TestLedger_ConcurrentCreates(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "Checking", "0.00")
	salary := f.category(t, "Salary", domain.KindIncome)
	food := f.category(t, "Food", domain.KindExpense)

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := newTx(acc, salary, domain.KindIncome, "3.00")
			if i%2 == 1 {
				req = newTx(acc, food, domain.KindExpense, "1.00")
			}
			if _, _, err := f.ledger.CreateTransaction(context.Background(), f.userID, req); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent create: %v", err)
	}

	// 25 * 3.00 - 25 * 1.00
	f.assertBalance(t, acc, "50.00")
}

func TestLedger_IdempotentCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "Checking", "0.00")
	salary := f.category(t, "Salary", domain.KindIncome)

	req := newTx(acc, salary, domain.KindIncome, "10.00")
	req.IdempotencyKey = "key-1"
	req.RequestHash = "hash-a"

	first, replayed, err := f.ledger.CreateTransaction(ctx, f.userID, req)
	if err != nil || replayed {
		t.Fatalf("first create: replayed=%v err=%v", replayed, err)
	}
	second, replayed, err := f.ledger.CreateTransaction(ctx, f.userID, req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replayed || second.ID != first.ID {
		t.Fatalf("replay returned id %d replayed=%v, want id %d replayed", second.ID, replayed, first.ID)
	}
	f.assertBalance(t, acc, "10.00")
	if len(f.pub.events) != 1 {
		t.Fatalf("published %d events, want 1", len(f.pub.events))
	}

	req.RequestHash = "hash-b"
	_, _, err = f.ledger.CreateTransaction(ctx, f.userID, req)
	assertErrorIs(t, err, ErrIdempotencyMismatch)
	assertErrorIs(t, err, ErrValidation)
	f.assertBalance(t, acc, "10.00")

	// keys are scoped per user
	other := f.register(t, "Grace Hopper", "grace@example.com")
	otherAcc, err := f.accounts.CreateAccount(ctx, other, domain.NewAccount{Name: "Main", Type: "bank"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	otherCat, err := f.categories.CreateCategory(ctx, other, domain.NewCategory{Name: "Salary", Kind: domain.KindIncome})
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	otherReq := newTx(otherAcc.ID, otherCat.ID, domain.KindIncome, "1.00")
	otherReq.IdempotencyKey = "key-1"
	otherReq.RequestHash = "hash-c"
	if _, replayed, err := f.ledger.CreateTransaction(ctx, other, otherReq); err != nil || replayed {
		t.Fatalf("other user's create: replayed=%v err=%v", replayed, err)
	}
}

func TestLedger_IdempotencyRecordFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "Checking", "0.00")
	salary := f.category(t, "Salary", domain.KindIncome)

	f.repo.FailOn("SaveIdempotencyRecord", errors.New("boom"))
	req := newTx(acc, salary, domain.KindIncome, "10.00")
	req.IdempotencyKey = "key-1"
	req.RequestHash = "hash"
	_, _, err := f.ledger.CreateTransaction(context.Background(), f.userID, req)
	assertErrorIs(t, err, ErrInternal)

	f.assertBalance(t, acc, "0.00")
	if n := f.countTransactions(t); n != 0 {
		t.Fatalf("%d transactions persisted, want 0", n)
	}
}

func TestLedger_ListTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "A", "0.00")
	b := f.account(t, "B", "0.00")
	salary := f.category(t, "Salary", domain.KindIncome)
	food := f.category(t, "Food", domain.KindExpense)

	for i, day := range []int{3, 1, 2} {
		req := newTx(a, food, domain.KindExpense, "1.00")
		if i == 1 {
			req = newTx(b, salary, domain.KindIncome, "5.00")
		}
		req.Date = time.Date(2025, 1, day, 15, 30, 0, 0, time.UTC)
		if _, _, err := f.ledger.CreateTransaction(ctx, f.userID, req); err != nil {
			t.Fatalf("CreateTransaction: %v", err)
		}
	}

	all, err := f.ledger.ListTransactions(ctx, f.userID, domain.TransactionFilter{})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d transactions, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Date.After(all[i-1].Date) {
			t.Fatalf("transactions not newest first: %v before %v", all[i-1].Date, all[i].Date)
		}
	}
	if all[0].Date.Hour() != 0 {
		t.Fatalf("date kept a clock part: %v", all[0].Date)
	}

	tests := []struct {
		name   string
		filter domain.TransactionFilter
		want   int
	}{
		{"by kind", domain.TransactionFilter{Kind: domain.KindExpense}, 2},
		{"by account", domain.TransactionFilter{AccountID: b}, 1},
		{"by category", domain.TransactionFilter{CategoryID: food}, 2},
		{"combined", domain.TransactionFilter{AccountID: a, Kind: domain.KindIncome}, 0},
		{"limit", domain.TransactionFilter{Page: domain.Page{Limit: 2}}, 2},
		{"skip", domain.TransactionFilter{Page: domain.Page{Skip: 2}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.ledger.ListTransactions(ctx, f.userID, tt.filter)
			if err != nil {
				t.Fatalf("ListTransactions: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("got %d transactions, want %d", len(got), tt.want)
			}
		})
	}

	_, err = f.ledger.ListTransactions(ctx, f.userID, domain.TransactionFilter{Kind: "bogus"})
	assertErrorIs(t, err, ErrValidation)
}

func TestLedger_UpdateDescription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "Checking", "0.00")
	salary := f.category(t, "Salary", domain.KindIncome)
	tx := f.create(t, acc, salary, domain.KindIncome, "1.00")

	got, err := f.ledger.UpdateTransaction(ctx, f.userID, tx.ID, domain.TransactionPatch{Description: ptr("bonus")})
	if err != nil {
		t.Fatalf("UpdateTransaction: %v", err)
	}
	if got.Description == nil || *got.Description != "bonus" {
		t.Fatalf("Description = %v, want bonus", got.Description)
	}

	got, err = f.ledger.UpdateTransaction(ctx, f.userID, tx.ID, domain.TransactionPatch{Description: ptr("")})
	if err != nil {
		t.Fatalf("UpdateTransaction: %v", err)
	}
	if got.Description != nil {
		t.Fatalf("Description = %q, want cleared", *got.Description)
	}
	f.assertBalance(t, acc, "1.00")
}
