package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/moneybook/internal/domain"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

type transactionRequest struct {
	AccountID   int64           `json:"account_id"`
	CategoryID  int64           `json:"category_id"`
	Kind        domain.Kind     `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date"`
	Description *string         `json:"description"`
}

type transactionPatchRequest struct {
	AccountID   *int64           `json:"account_id"`
	CategoryID  *int64           `json:"category_id"`
	Kind        *domain.Kind     `json:"kind"`
	Amount      *decimal.Decimal `json:"amount"`
	Date        *string          `json:"date"`
	Description *string          `json:"description"`
}

type transactionResponse struct {
	ID          int64       `json:"id"`
	UserID      int64       `json:"user_id"`
	AccountID   int64       `json:"account_id"`
	CategoryID  int64       `json:"category_id"`
	Kind        domain.Kind `json:"kind"`
	Amount      string      `json:"amount"`
	Date        string      `json:"date"`
	Description *string     `json:"description"`
	CreatedAt   time.Time   `json:"created_at"`
}

func toTransaction(t *domain.Transaction) transactionResponse {
	return transactionResponse{
		ID:          t.ID,
		UserID:      t.UserID,
		AccountID:   t.AccountID,
		CategoryID:  t.CategoryID,
		Kind:        t.Kind,
		Amount:      t.Amount.StringFixed(2),
		Date:        t.Date.Format(dateLayout),
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
	}
}

type accountRequest struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Balance decimal.Decimal `json:"balance"`
}

type accountPatchRequest struct {
	Name    *string          `json:"name"`
	Type    *string          `json:"type"`
	Balance *decimal.Decimal `json:"balance"`
}

type accountResponse struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Balance   string    `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

func toAccount(a *domain.Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		UserID:    a.UserID,
		Name:      a.Name,
		Type:      a.Type,
		Balance:   a.Balance.StringFixed(2),
		CreatedAt: a.CreatedAt,
	}
}

type categoryRequest struct {
	Name string      `json:"name"`
	Kind domain.Kind `json:"kind"`
}

type categoryPatchRequest struct {
	Name *string      `json:"name"`
	Kind *domain.Kind `json:"kind"`
}

type userRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userPatchRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func mapSlice[T, R any](items []T, fn func(*T) R) []R {
	out := make([]R, len(items))
	for i := range items {
		out[i] = fn(&items[i])
	}
	return out
}

// decodeJSON decodes a single JSON object and rejects unknown fields, so a
// request cannot set anything outside the allow-listed fields.
func decodeJSON(body io.Reader, dst any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("malformed JSON body: %v", err)
	}
	if dec.More() {
		return fmt.Errorf("malformed JSON body: trailing data")
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return d, nil
}

func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func queryInt64(r *http.Request, key string) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return v, nil
}

func parsePage(r *http.Request) (domain.Page, error) {
	skip, err := queryInt64(r, "skip")
	if err != nil {
		return domain.Page{}, err
	}
	limit, err := queryInt64(r, "limit")
	if err != nil {
		return domain.Page{}, err
	}
	if limit > domain.MaxPageLimit {
		return domain.Page{}, fmt.Errorf("limit must be at most %d", domain.MaxPageLimit)
	}
	return domain.Page{Skip: int(skip), Limit: int(limit)}.Normalize(), nil
}
