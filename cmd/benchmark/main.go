package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/moneybook/internal/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	numAccounts int
	replayRate  float64
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Idempotent replays
	success201    uint64 // Created
	fail409       uint64 // Conflicts
	failOther     uint64
)

const seedBalance = "1000.00"

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&numAccounts, "accounts", 20, "Number of accounts to spread load over")
	flag.Float64Var(&replayRate, "replay", 0.05, "Fraction of requests resent with the previous Idempotency-Key")
}

type client struct {
	http  *http.Client
	token string
}

// ledgerModel tracks the deltas the server acknowledged per account.
type ledgerModel struct {
	mu     sync.Mutex
	deltas map[int64]decimal.Decimal
}

func (m *ledgerModel) add(accountID int64, delta decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deltas[accountID] = m.deltas[accountID].Add(delta)
}

func main() {
	flag.Parse()
	logger := log.New(log.DefaultConfig()).WithComponent("benchmark")
	if workload != "uniform" && workload != "hotspot" {
		logger.Error("Unknown workload", "workload", workload)
		os.Exit(2)
	}
	logger.Info("Starting Benchmark", "workload", workload, "workers", concurrency, "duration", duration)

	c := &client{http: &http.Client{Timeout: 5 * time.Second}}
	fx, err := setup(c)
	if err != nil {
		logger.Error("Setup failed", log.FieldError, err)
		os.Exit(1)
	}

	model := &ledgerModel{deltas: make(map[int64]decimal.Decimal)}
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		seed := int64(i)
		g.Go(func() error {
			worker(gctx, c, fx, model, rand.New(rand.NewSource(time.Now().UnixNano()+seed)))
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)

	mismatches, err := verify(c, fx, model)
	if err != nil {
		logger.Error("Verification failed", log.FieldError, err)
		os.Exit(1)
	}
	printResults(elapsed, mismatches)
	if mismatches > 0 {
		logger.Error("Lost updates detected", "accounts", mismatches)
		os.Exit(1)
	}
}

type fixture struct {
	accounts []int64
	income   int64
	expense  int64
}

// setup registers a throwaway user, logs in and creates the accounts and
// categories the workers write to.
func setup(c *client) (*fixture, error) {
	email := fmt.Sprintf("bench-%s@example.com", uuid.NewString()[:8])
	password := "benchmark"
	if _, err := c.call(http.MethodPost, "/api/v1/users", "", map[string]string{
		"name": "Benchmark", "email": email, "password": password,
	}, http.StatusCreated, nil); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if _, err := c.call(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": email, "password": password,
	}, http.StatusOK, &tok); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	c.token = tok.AccessToken

	fx := &fixture{}
	for i := 0; i < numAccounts; i++ {
		var a struct {
			ID int64 `json:"id"`
		}
		if _, err := c.call(http.MethodPost, "/api/v1/accounts", "", map[string]string{
			"name": fmt.Sprintf("bench-%d", i), "type": "bank", "balance": seedBalance,
		}, http.StatusCreated, &a); err != nil {
			return nil, fmt.Errorf("create account: %w", err)
		}
		fx.accounts = append(fx.accounts, a.ID)
	}
	for _, cat := range []struct {
		kind string
		id   *int64
	}{{"income", &fx.income}, {"expense", &fx.expense}} {
		var out struct {
			ID int64 `json:"id"`
		}
		if _, err := c.call(http.MethodPost, "/api/v1/categories", "", map[string]string{
			"name": "bench-" + cat.kind, "kind": cat.kind,
		}, http.StatusCreated, &out); err != nil {
			return nil, fmt.Errorf("create category: %w", err)
		}
		*cat.id = out.ID
	}
	return fx, nil
}

func worker(ctx context.Context, c *client, fx *fixture, model *ledgerModel, rng *rand.Rand) {
	var lastKey string
	var lastPayload map[string]any

	for ctx.Err() == nil {
		key, payload := lastKey, lastPayload
		replay := payload != nil && rng.Float64() < replayRate
		if !replay {
			key = uuid.NewString()
			payload = newPayload(fx, rng)
		}

		status, err := c.call(http.MethodPost, "/api/v1/transactions", key, payload, 0, nil)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return
			}
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch status {
		case http.StatusCreated:
			atomic.AddUint64(&success201, 1)
			delta := payload["amount"].(decimal.Decimal)
			if payload["kind"] == "expense" {
				delta = delta.Neg()
			}
			model.add(payload["account_id"].(int64), delta)
		case http.StatusOK:
			atomic.AddUint64(&success200, 1)
		case http.StatusConflict:
			atomic.AddUint64(&fail409, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		lastKey, lastPayload = key, payload
	}
}

func newPayload(fx *fixture, rng *rand.Rand) map[string]any {
	account := fx.accounts[rng.Intn(len(fx.accounts))]
	// Hotspot: 90% of traffic goes to the first account
	if workload == "hotspot" && rng.Float32() < 0.90 {
		account = fx.accounts[0]
	}
	kind, category := "income", fx.income
	if rng.Intn(2) == 0 {
		kind, category = "expense", fx.expense
	}
	return map[string]any{
		"account_id":  account,
		"category_id": category,
		"kind":        kind,
		"amount":      decimal.New(int64(rng.Intn(999)+1), -2),
		"date":        time.Now().UTC().Format("2006-01-02"),
	}
}

// verify compares every account balance with seed plus acknowledged deltas.
func verify(c *client, fx *fixture, model *ledgerModel) (int, error) {
	seed := decimal.RequireFromString(seedBalance)
	mismatches := 0
	for _, id := range fx.accounts {
		var a struct {
			Balance decimal.Decimal `json:"balance"`
		}
		if _, err := c.call(http.MethodGet, fmt.Sprintf("/api/v1/accounts/%d", id), "", nil, http.StatusOK, &a); err != nil {
			return 0, err
		}
		want := seed.Add(model.deltas[id])
		if !a.Balance.Equal(want) {
			mismatches++
			fmt.Fprintf(os.Stderr, "account %d: balance %s, expected %s\n", id, a.Balance, want)
		}
	}
	return mismatches, nil
}

// call sends a JSON request. When want is non-zero any other status is an
// error. It returns the response status.
func (c *client) call(method, path, idempotencyKey string, payload any, want int, out any) (int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, targetURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if want != 0 && resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

func printResults(d time.Duration, mismatches int) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&fail409)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	var abortRate float64
	if total > 0 {
		abortRate = float64(f409) / float64(total) * 100
	}

	results := map[string]any{
		"workload":           workload,
		"duration_sec":       d.Seconds(),
		"total_requests":     total,
		"throughput_tps":     tps,
		"success_created":    s201,
		"success_replay":     s200,
		"aborts_conflict":    f409,
		"abort_rate_pct":     abortRate,
		"errors":             fErr,
		"balance_mismatches": mismatches,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
