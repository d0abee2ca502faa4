package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/moneybook/internal/auth"
	"github.com/punchamoorthee/moneybook/internal/config"
	"github.com/punchamoorthee/moneybook/internal/domain"
	"github.com/punchamoorthee/moneybook/internal/log"
	"github.com/punchamoorthee/moneybook/internal/service"
	"github.com/punchamoorthee/moneybook/internal/store"
	"github.com/shopspring/decimal"
)

type demoUser struct {
	name, email, password string
}

type demoAccount struct {
	owner      int // index into demoUsers
	name, kind string
	seed       string
}

type demoCategory struct {
	name string
	kind domain.Kind
}

type demoTransaction struct {
	account     int // index into demoAccounts
	category    string
	kind        domain.Kind
	amount      string
	date        time.Time
	description string
}

var (
	demoUsers = []demoUser{
		{"João Silva", "joao@example.com", "senha123"},
		{"Maria Santos", "maria@example.com", "senha456"},
	}
	demoAccounts = []demoAccount{
		{0, "Conta Corrente", "corrente", "5000.00"},
		{0, "Poupança", "poupanca", "10000.00"},
		{0, "Investimentos", "investimento", "25000.00"},
		{1, "Conta Corrente", "corrente", "3000.00"},
		{1, "Carteira Digital", "digital", "500.00"},
	}
	// all owned by the first demo user
	demoCategories = []demoCategory{
		{"Salário", domain.KindIncome},
		{"Freelance", domain.KindIncome},
		{"Investimentos", domain.KindIncome},
		{"Alimentação", domain.KindExpense},
		{"Transporte", domain.KindExpense},
		{"Moradia", domain.KindExpense},
	}
	demoTransactions = []demoTransaction{
		{0, "Salário", domain.KindIncome, "5000.00", day(2025, 1, 1), "Salário Janeiro"},
		{0, "Freelance", domain.KindIncome, "1500.00", day(2025, 1, 15), "Projeto Freelance"},
		{0, "Moradia", domain.KindExpense, "800.00", day(2025, 1, 5), "Aluguel"},
		{0, "Alimentação", domain.KindExpense, "250.00", day(2025, 1, 8), "Mercado"},
		{0, "Transporte", domain.KindExpense, "150.00", day(2025, 1, 10), "Gasolina"},
	}
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func main() {
	reset := flag.Bool("reset", false, "Delete all existing data before seeding")
	flag.Parse()

	logger := log.New(log.DefaultConfig()).WithComponent(log.ComponentSeeder)
	if err := run(context.Background(), *reset, logger); err != nil {
		logger.Error("Seeding failed", log.FieldError, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, reset bool, logger *log.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DataBackend != config.BackendPostgres {
		return fmt.Errorf("seeder needs the %s backend, got %s", config.BackendPostgres, cfg.DataBackend)
	}

	if err := store.RunMigrations(cfg.DBSource); err != nil {
		return err
	}
	pool, err := store.NewPool(ctx, cfg.DBSource)
	if err != nil {
		return err
	}
	defer pool.Close()
	repo := store.NewLedgerStore(pool)

	logger.Info("--- Seeding Database ---")

	if reset {
		logger.Warn("Wiping all data")
		if err := repo.Wipe(ctx); err != nil {
			return err
		}
	}

	// Check existing
	var count int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		logger.Info("Database already has users. Skipping, use -reset to start over.", "users", count)
		return nil
	}

	users := service.NewUserService(repo, auth.NewHasher(cfg.BcryptCost), auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL), logger)
	accounts := service.NewAccountService(repo, logger)
	ledger := service.NewLedgerService(repo, nil, logger)

	userIDs := make([]int64, len(demoUsers))
	for i, du := range demoUsers {
		u, err := users.Register(ctx, domain.NewUser{Name: du.name, Email: du.email, Password: du.password})
		if err != nil {
			return fmt.Errorf("create user %s: %w", du.email, err)
		}
		userIDs[i] = u.ID
	}

	accountIDs := make([]int64, len(demoAccounts))
	for i, da := range demoAccounts {
		a, err := accounts.CreateAccount(ctx, userIDs[da.owner], domain.NewAccount{
			Name: da.name, Type: da.kind, Balance: decimal.RequireFromString(da.seed),
		})
		if err != nil {
			return fmt.Errorf("create account %s: %w", da.name, err)
		}
		accountIDs[i] = a.ID
	}

	categoryIDs, err := copyCategories(ctx, pool, userIDs[0])
	if err != nil {
		return err
	}

	// Transactions go through the engine so balances include them.
	for _, dt := range demoTransactions {
		desc := dt.description
		_, _, err := ledger.CreateTransaction(ctx, userIDs[demoAccounts[dt.account].owner], domain.NewTransaction{
			AccountID:   accountIDs[dt.account],
			CategoryID:  categoryIDs[dt.category],
			Kind:        dt.kind,
			Amount:      decimal.RequireFromString(dt.amount),
			Date:        dt.date,
			Description: &desc,
		})
		if err != nil {
			return fmt.Errorf("create transaction %q: %w", dt.description, err)
		}
	}

	logger.Info("Successfully seeded database",
		"users", len(demoUsers),
		"accounts", len(demoAccounts),
		"categories", len(demoCategories),
		"transactions", len(demoTransactions),
		"login_email", demoUsers[0].email)
	return nil
}

// copyCategories bulk inserts the demo categories and returns their ids by name.
func copyCategories(ctx context.Context, pool *pgxpool.Pool, userID int64) (map[string]int64, error) {
	now := time.Now()
	rows := make([][]any, 0, len(demoCategories))
	for _, c := range demoCategories {
		rows = append(rows, []any{userID, c.name, string(c.kind), now})
	}

	copyCount, err := pool.CopyFrom(
		ctx,
		pgx.Identifier{"categories"},
		[]string{"user_id", "name", "kind", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return nil, fmt.Errorf("bulk insert categories: %w", err)
	}
	if int(copyCount) != len(demoCategories) {
		return nil, fmt.Errorf("bulk insert categories: copied %d of %d rows", copyCount, len(demoCategories))
	}

	ids := make(map[string]int64, len(demoCategories))
	dbRows, err := pool.Query(ctx, "SELECT id, name FROM categories WHERE user_id = $1", userID)
	if err != nil {
		return nil, fmt.Errorf("read categories: %w", err)
	}
	defer dbRows.Close()
	for dbRows.Next() {
		var (
			id   int64
			name string
		)
		if err := dbRows.Scan(&id, &name); err != nil {
			return nil, err
		}
		ids[name] = id
	}
	return ids, dbRows.Err()
}
