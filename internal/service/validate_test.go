package service

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateMoney_ExtremeExponents(t *testing.T) {
	inputs := []string{"1e-100000000", "-1e-100000000", "0e-100000000", "1e100000000", "5e-19", "1e9"}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			v, err := decimal.NewFromString(in)
			if err != nil {
				t.Fatalf("NewFromString(%q): %v", in, err)
			}
			for name, validate := range map[string]func(decimal.Decimal) error{
				"amount":  validateAmount,
				"balance": validateSeedBalance,
			} {
				err := validate(v)
				assertErrorIs(t, err, ErrValidation)
				if len(err.Error()) > 200 {
					t.Fatalf("%s: error message is %d bytes long", name, len(err.Error()))
				}
			}
		})
	}
}

func TestValidateMoney_TrailingZerosAccepted(t *testing.T) {
	for _, in := range []string{"10.000", "0.10000000", "99999999.99", "12e2"} {
		if err := validateAmount(dec(in)); err != nil {
			t.Fatalf("validateAmount(%s) = %v, want nil", in, err)
		}
	}
}
