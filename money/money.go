// Package money provides the rounding primitive shared by every monetary
// calculation in the system. All amounts are decimal values rounded to the
// cent through the single Round entry point.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// Zero is the canonical zero amount.
	Zero = decimal.Zero
	// Cent is the smallest representable amount and doubles as the
	// settlement tolerance.
	Cent = decimal.New(1, -2)
)

// Round normalises an amount to two decimal places, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// FromString parses a database NUMERIC rendered as text.
func FromString(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return d, nil
}

// String renders an amount for storage with exactly two decimal places.
func String(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Min returns the smaller of two amounts.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// MaxZero clamps a negative amount to zero.
func MaxZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// WithinTolerance reports whether a is within ε of ceiling, where ε is one
// cent. Repeated cent rounding across many small payments can leave sub-cent
// residues; callers use this instead of exact equality against ceilings.
func WithinTolerance(a, ceiling decimal.Decimal) bool {
	return ceiling.Sub(a).LessThanOrEqual(Cent)
}
