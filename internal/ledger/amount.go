package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept for amounts and balances.
const Scale = 8

// Epsilon is the smallest representable amount. Values closer than this
// compare equal.
var Epsilon = decimal.New(1, -Scale)

// MaxAmount is the largest value a numeric(20,8) column holds.
var MaxAmount = decimal.New(1, 12).Sub(Epsilon)

// Quantize rounds d to Scale fractional digits.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// ParseAmount parses a decimal string and quantizes it.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Quantize(d), nil
}

// FormatAmount renders d with exactly Scale fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}

func add(a, b decimal.Decimal) decimal.Decimal {
	return a.Add(b).Round(Scale)
}

func sub(a, b decimal.Decimal) decimal.Decimal {
	return a.Sub(b).Round(Scale)
}

// compare returns -1, 0 or 1. Differences smaller than Epsilon are treated as
// equal; on quantized values this is exact comparison.
func compare(a, b decimal.Decimal) int {
	if a.Sub(b).Abs().LessThan(Epsilon) {
		return 0
	}
	return a.Cmp(b)
}

func validAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	q := Quantize(amount)
	if !q.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if q.GreaterThan(MaxAmount) {
		return decimal.Zero, fmt.Errorf("%w: must not exceed %s", ErrInvalidAmount, MaxAmount.StringFixed(Scale))
	}
	return q, nil
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}
