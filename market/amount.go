package market

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is the arbitrary-precision decimal used for every balance, price,
// rate and USD valuation. Never use float64 for money.
type Amount = decimal.Decimal

var (
	ErrEmptyAmount       = errors.New("amount is empty")
	ErrNonPositiveAmount = errors.New("amount must be greater than zero")
)

// Zero is the zero Amount.
var Zero = decimal.Zero

// ParseAmount parses a decimal string such as "10", "0.015" or "-3.2".
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, ErrEmptyAmount
	}
	a, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return a, nil
}

// ParsePositiveAmount parses s and rejects values <= 0.
func ParsePositiveAmount(s string) (Amount, error) {
	a, err := ParseAmount(s)
	if err != nil {
		return Zero, err
	}
	if !a.IsPositive() {
		return Zero, fmt.Errorf("%w: %s", ErrNonPositiveAmount, a.String())
	}
	return a, nil
}

// MustAmount is ParseAmount for literals in tests and defaults.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// WireString is the decimal-string form sent to the backend.
func WireString(a Amount) string {
	return a.String()
}

// FormatAmount renders a with a fixed number of decimal places.
func FormatAmount(a Amount, places int32) string {
	return a.StringFixed(places)
}

// Max returns the larger of a and b.
func Max(a, b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
