package service

import (
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/punchamoorthee/moneybook/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	maxDescriptionLen = 255
	maxNameLen        = 100
	maxTypeLen        = 50
	minUserNameLen    = 3
	minPasswordLen    = 6

	maxIdempotencyKeyLen = 255
)

// MaxAmount bounds a single amount or seed balance (exclusive).
var MaxAmount = decimal.New(100_000_000, 0)

// Exponent window for money input. Rounding, comparing or printing a decimal
// expands its coefficient to the exponent, so "1e-100000000" must be refused
// before any of those run. The slack below -2 admits trailing zeros such as
// "10.000".
const (
	minMoneyExponent = -2 - 16
	maxMoneyExponent = 8
)

func validateAmount(amount decimal.Decimal) error {
	if err := checkExponent("amount", amount); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return validationf("amount must be greater than zero")
	}
	return validateMoney("amount", amount)
}

func validateSeedBalance(balance decimal.Decimal) error {
	if err := checkExponent("balance", balance); err != nil {
		return err
	}
	if balance.IsNegative() {
		return validationf("balance must not be negative")
	}
	return validateMoney("balance", balance)
}

func checkExponent(field string, v decimal.Decimal) error {
	if exp := v.Exponent(); exp < minMoneyExponent || exp > maxMoneyExponent {
		return validationf("%s is out of range", field)
	}
	return nil
}

func validateMoney(field string, v decimal.Decimal) error {
	if !v.Equal(v.Round(2)) {
		return validationf("%s must have at most 2 decimal places", field)
	}
	if v.Abs().GreaterThanOrEqual(MaxAmount) {
		return validationf("%s must be less than %s", field, MaxAmount)
	}
	return nil
}

func validateKind(k domain.Kind) error {
	if !k.Valid() {
		return validationf("kind must be %q or %q, got %q", domain.KindIncome, domain.KindExpense, k)
	}
	return nil
}

func validateDate(d time.Time) error {
	if d.IsZero() {
		return validationf("date is required")
	}
	return nil
}

// dateOnly drops the clock part so dates compare and store as calendar days.
func dateOnly(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func validateDescription(desc *string) error {
	if desc != nil && utf8.RuneCountInString(*desc) > maxDescriptionLen {
		return validationf("description too long (max %d characters)", maxDescriptionLen)
	}
	return nil
}

func validateText(field, value string, minLen, maxLen int) error {
	n := utf8.RuneCountInString(strings.TrimSpace(value))
	if n < minLen || n > maxLen {
		return validationf("%s must be between %d and %d characters", field, minLen, maxLen)
	}
	return nil
}

func validateID(field string, id int64) error {
	if id <= 0 {
		return validationf("%s must be a positive id, got %d", field, id)
	}
	return nil
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return validationf("invalid email address %q", email)
	}
	return nil
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLen {
		return validationf("password must be at least %d characters", minPasswordLen)
	}
	return nil
}
