// Package money holds the exact decimal helpers used for every amount in the
// billing core. Amounts carry two decimal places; the gateway boundary uses
// integer minor units.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places carried by every amount.
const Scale = 2

var Zero = decimal.Zero

// Parse reads a decimal string and rejects values with more than two
// decimal places.
func Parse(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("amount is empty")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if !HasScale(d) {
		return decimal.Zero, fmt.Errorf("amount %q has more than %d decimal places", raw, Scale)
	}
	return d, nil
}

// MustParse is Parse for constants and tests.
func MustParse(raw string) decimal.Decimal {
	d, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return d
}

// HasScale reports whether d is representable with two decimal places.
func HasScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(Scale))
}

// IsPositive reports whether d is a valid, strictly positive amount.
func IsPositive(d decimal.Decimal) bool {
	return d.IsPositive() && HasScale(d)
}

// Round rounds half away from zero to two decimal places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Format renders d with exactly two decimal places.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Sum adds the values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// ToMinor converts an amount to integer minor units. The amount must have
// at most two decimal places.
func ToMinor(d decimal.Decimal) (int64, error) {
	if !HasScale(d) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", d.String(), Scale)
	}
	return d.Shift(Scale).IntPart(), nil
}

// FromMinor converts integer minor units to an amount.
func FromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -Scale)
}
