package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/moneybook/internal/domain"
	"github.com/shopspring/decimal"
)

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LedgerStore is the PostgreSQL Repository.
type LedgerStore struct {
	pool *pgxpool.Pool
	db   querier
	inTx bool
}

var _ Repository = (*LedgerStore)(nil)

// NewPool opens a pgx pool with NUMERIC mapped to decimal.Decimal.
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return pool, nil
}

func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool, db: pool}
}

func (s *LedgerStore) Close() {
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *LedgerStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *LedgerStore) WithTx(ctx context.Context, fn func(Repository) error) error {
	if s.inTx {
		return fn(s)
	}

	// READ COMMITTED lets "balance = balance + $1" wait on the row lock and
	// re-read the committed value instead of aborting.
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&LedgerStore{pool: s.pool, db: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", mapErr(err))
	}
	return nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return err
}

func expectOne(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Users

func (s *LedgerStore) CreateUser(ctx context.Context, u *domain.User) error {
	err := s.db.QueryRow(ctx,
		"INSERT INTO users (name, email, password_hash) VALUES ($1, $2, $3) RETURNING id, created_at",
		u.Name, u.Email, u.PasswordHash,
	).Scan(&u.ID, &u.CreatedAt)
	return mapErr(err)
}

const userColumns = "id, name, email, password_hash, created_at"

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (s *LedgerStore) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return scanUser(s.db.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

func (s *LedgerStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(s.db.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE email = $1", email))
}

func (s *LedgerStore) ListUsers(ctx context.Context, page domain.Page) ([]domain.User, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY id OFFSET $1 LIMIT $2",
		page.Skip, page.Limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, mapErr(rows.Err())
}

func (s *LedgerStore) UpdateUser(ctx context.Context, u *domain.User) error {
	return expectOne(s.db.Exec(ctx,
		"UPDATE users SET name = $1, email = $2, password_hash = $3 WHERE id = $4",
		u.Name, u.Email, u.PasswordHash, u.ID))
}

// DeleteUser removes the user's transactions, then categories and accounts,
// then the user.
func (s *LedgerStore) DeleteUser(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(r Repository) error {
		tx := r.(*LedgerStore)
		for _, q := range []string{
			"DELETE FROM idempotency_keys WHERE user_id = $1",
			"DELETE FROM transactions WHERE user_id = $1",
			"DELETE FROM categories WHERE user_id = $1",
			"DELETE FROM accounts WHERE user_id = $1",
		} {
			if _, err := tx.db.Exec(ctx, q, id); err != nil {
				return mapErr(err)
			}
		}
		return expectOne(tx.db.Exec(ctx, "DELETE FROM users WHERE id = $1", id))
	})
}

// Accounts

const accountColumns = "id, user_id, name, type, balance, created_at"

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Type, &a.Balance, &a.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (s *LedgerStore) CreateAccount(ctx context.Context, a *domain.Account) error {
	err := s.db.QueryRow(ctx,
		"INSERT INTO accounts (user_id, name, type, balance) VALUES ($1, $2, $3, $4) RETURNING id, created_at",
		a.UserID, a.Name, a.Type, a.Balance,
	).Scan(&a.ID, &a.CreatedAt)
	return mapErr(err)
}

func (s *LedgerStore) GetAccount(ctx context.Context, userID, id int64) (*domain.Account, error) {
	return scanAccount(s.db.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1 AND user_id = $2", id, userID))
}

func (s *LedgerStore) LockAccount(ctx context.Context, userID, id int64) (*domain.Account, error) {
	return scanAccount(s.db.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1 AND user_id = $2 FOR UPDATE", id, userID))
}

func (s *LedgerStore) ListAccounts(ctx context.Context, userID int64, page domain.Page) ([]domain.Account, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE user_id = $1 ORDER BY id OFFSET $2 LIMIT $3",
		userID, page.Skip, page.Limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	accounts := []domain.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, mapErr(rows.Err())
}

func (s *LedgerStore) UpdateAccount(ctx context.Context, a *domain.Account) error {
	return expectOne(s.db.Exec(ctx,
		"UPDATE accounts SET name = $1, type = $2, balance = $3 WHERE id = $4 AND user_id = $5",
		a.Name, a.Type, a.Balance, a.ID, a.UserID))
}

func (s *LedgerStore) DeleteAccount(ctx context.Context, userID, id int64) error {
	return s.WithTx(ctx, func(r Repository) error {
		tx := r.(*LedgerStore)
		if _, err := tx.db.Exec(ctx,
			"DELETE FROM transactions WHERE account_id = $1 AND user_id = $2", id, userID); err != nil {
			return mapErr(err)
		}
		return expectOne(tx.db.Exec(ctx, "DELETE FROM accounts WHERE id = $1 AND user_id = $2", id, userID))
	})
}

func (s *LedgerStore) AdjustBalance(ctx context.Context, userID, accountID int64, delta decimal.Decimal) error {
	return expectOne(s.db.Exec(ctx,
		"UPDATE accounts SET balance = balance + $1 WHERE id = $2 AND user_id = $3",
		delta, accountID, userID))
}

func (s *LedgerStore) CountAccountTransactions(ctx context.Context, userID, accountID int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM transactions WHERE account_id = $1 AND user_id = $2",
		accountID, userID).Scan(&n)
	return n, mapErr(err)
}

// Categories

const categoryColumns = "id, user_id, name, kind, created_at"

func scanCategory(row pgx.Row) (*domain.Category, error) {
	var c domain.Category
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Kind, &c.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (s *LedgerStore) CreateCategory(ctx context.Context, c *domain.Category) error {
	err := s.db.QueryRow(ctx,
		"INSERT INTO categories (user_id, name, kind) VALUES ($1, $2, $3) RETURNING id, created_at",
		c.UserID, c.Name, c.Kind,
	).Scan(&c.ID, &c.CreatedAt)
	return mapErr(err)
}

func (s *LedgerStore) GetCategory(ctx context.Context, userID, id int64) (*domain.Category, error) {
	return scanCategory(s.db.QueryRow(ctx,
		"SELECT "+categoryColumns+" FROM categories WHERE id = $1 AND user_id = $2", id, userID))
}

func (s *LedgerStore) LockCategory(ctx context.Context, userID, id int64) (*domain.Category, error) {
	return scanCategory(s.db.QueryRow(ctx,
		"SELECT "+categoryColumns+" FROM categories WHERE id = $1 AND user_id = $2 FOR UPDATE", id, userID))
}

func (s *LedgerStore) ShareCategory(ctx context.Context, userID, id int64) (*domain.Category, error) {
	return scanCategory(s.db.QueryRow(ctx,
		"SELECT "+categoryColumns+" FROM categories WHERE id = $1 AND user_id = $2 FOR SHARE", id, userID))
}

func (s *LedgerStore) ListCategories(ctx context.Context, userID int64, filter domain.CategoryFilter) ([]domain.Category, error) {
	query := "SELECT " + categoryColumns + " FROM categories WHERE user_id = $1"
	args := []any{userID}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	args = append(args, filter.Skip, filter.Limit)
	query += fmt.Sprintf(" ORDER BY id OFFSET $%d LIMIT $%d", len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	categories := []domain.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, *c)
	}
	return categories, mapErr(rows.Err())
}

func (s *LedgerStore) UpdateCategory(ctx context.Context, c *domain.Category) error {
	return expectOne(s.db.Exec(ctx,
		"UPDATE categories SET name = $1, kind = $2 WHERE id = $3 AND user_id = $4",
		c.Name, c.Kind, c.ID, c.UserID))
}

func (s *LedgerStore) DeleteCategory(ctx context.Context, userID, id int64) error {
	return s.WithTx(ctx, func(r Repository) error {
		tx := r.(*LedgerStore)
		if _, err := tx.db.Exec(ctx,
			"DELETE FROM transactions WHERE category_id = $1 AND user_id = $2", id, userID); err != nil {
			return mapErr(err)
		}
		return expectOne(tx.db.Exec(ctx, "DELETE FROM categories WHERE id = $1 AND user_id = $2", id, userID))
	})
}

func (s *LedgerStore) CountCategoryTransactions(ctx context.Context, userID, categoryID int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM transactions WHERE category_id = $1 AND user_id = $2",
		categoryID, userID).Scan(&n)
	return n, mapErr(err)
}

func (s *LedgerStore) CategoryDeltas(ctx context.Context, userID, categoryID int64) (map[int64]decimal.Decimal, error) {
	rows, err := s.db.Query(ctx, `
		SELECT account_id,
		       SUM(CASE WHEN kind = 'income' THEN amount ELSE -amount END)
		FROM transactions
		WHERE category_id = $1 AND user_id = $2
		GROUP BY account_id`,
		categoryID, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	deltas := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var accountID int64
		var sum decimal.Decimal
		if err := rows.Scan(&accountID, &sum); err != nil {
			return nil, mapErr(err)
		}
		deltas[accountID] = sum
	}
	return deltas, mapErr(rows.Err())
}

// Transactions

const transactionColumns = "id, user_id, account_id, category_id, kind, amount, date, description, created_at"

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.AccountID, &t.CategoryID, &t.Kind,
		&t.Amount, &t.Date, &t.Description, &t.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (s *LedgerStore) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO transactions (user_id, account_id, category_id, kind, amount, date, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		t.UserID, t.AccountID, t.CategoryID, t.Kind, t.Amount, t.Date, t.Description,
	).Scan(&t.ID, &t.CreatedAt)
	return mapErr(err)
}

func (s *LedgerStore) GetTransaction(ctx context.Context, userID, id int64) (*domain.Transaction, error) {
	return scanTransaction(s.db.QueryRow(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = $1 AND user_id = $2", id, userID))
}

func (s *LedgerStore) LockTransaction(ctx context.Context, userID, id int64) (*domain.Transaction, error) {
	return scanTransaction(s.db.QueryRow(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = $1 AND user_id = $2 FOR UPDATE", id, userID))
}

func (s *LedgerStore) ListTransactions(ctx context.Context, userID int64, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	conds := []string{"user_id = $1"}
	args := []any{userID}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.AccountID != 0 {
		args = append(args, filter.AccountID)
		conds = append(conds, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if filter.CategoryID != 0 {
		args = append(args, filter.CategoryID)
		conds = append(conds, fmt.Sprintf("category_id = $%d", len(args)))
	}
	args = append(args, filter.Skip, filter.Limit)
	query := fmt.Sprintf(
		"SELECT %s FROM transactions WHERE %s ORDER BY date DESC, id DESC OFFSET $%d LIMIT $%d",
		transactionColumns, strings.Join(conds, " AND "), len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	txns := []domain.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	return txns, mapErr(rows.Err())
}

func (s *LedgerStore) UpdateTransaction(ctx context.Context, t *domain.Transaction) error {
	return expectOne(s.db.Exec(ctx, `
		UPDATE transactions
		SET account_id = $1, category_id = $2, kind = $3, amount = $4, date = $5, description = $6
		WHERE id = $7 AND user_id = $8`,
		t.AccountID, t.CategoryID, t.Kind, t.Amount, t.Date, t.Description, t.ID, t.UserID))
}

func (s *LedgerStore) DeleteTransaction(ctx context.Context, userID, id int64) error {
	return expectOne(s.db.Exec(ctx,
		"DELETE FROM transactions WHERE id = $1 AND user_id = $2", id, userID))
}

// Idempotency

func (s *LedgerStore) GetIdempotencyRecord(ctx context.Context, userID int64, key string) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := s.db.QueryRow(ctx,
		"SELECT user_id, key, request_hash, transaction_id, created_at FROM idempotency_keys WHERE user_id = $1 AND key = $2",
		userID, key,
	).Scan(&rec.UserID, &rec.Key, &rec.RequestHash, &rec.TransactionID, &rec.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &rec, nil
}

func (s *LedgerStore) SaveIdempotencyRecord(ctx context.Context, rec *domain.IdempotencyRecord) error {
	err := s.db.QueryRow(ctx,
		"INSERT INTO idempotency_keys (user_id, key, request_hash, transaction_id) VALUES ($1, $2, $3, $4) RETURNING created_at",
		rec.UserID, rec.Key, rec.RequestHash, rec.TransactionID,
	).Scan(&rec.CreatedAt)
	return mapErr(err)
}

func (s *LedgerStore) Wipe(ctx context.Context) error {
	return s.WithTx(ctx, func(r Repository) error {
		tx := r.(*LedgerStore)
		for _, table := range []string{"idempotency_keys", "transactions", "categories", "accounts", "users"} {
			if _, err := tx.db.Exec(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("wipe %s: %w", table, err)
			}
		}
		return nil
	})
}
