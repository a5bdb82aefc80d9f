// Package money provides exact decimal amounts and the tolerance rules used
// across the ledger. Monetary values are never represented as binary floats;
// they enter the system as strings or integer cents and stay decimal.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// BalanceTolerance is the maximum debit/credit residual an entry may
	// carry and still be considered balanced.
	BalanceTolerance = decimal.RequireFromString("0.01")

	// RelativeTolerance is the relative amount-difference window used when
	// pairing bank transactions with ledger entries (0.5%).
	RelativeTolerance = decimal.RequireFromString("0.005")

	// FeeToleranceAbs is the fixed fee-split heuristic window: an amount
	// difference up to this value is still considered a plausible match
	// with a fee component. Deliberately a flat constant, not scaled.
	FeeToleranceAbs = decimal.RequireFromString("5.00")
)

// Parse converts a decimal string into an exact amount.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", s, err)
	}

	return d, nil
}

// FromCents builds an amount from an integer number of cents.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Cents returns the amount as integer cents, rounding half away from zero.
func Cents(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}

// Diff returns the absolute difference between two amounts.
func Diff(a, b decimal.Decimal) decimal.Decimal {
	return a.Sub(b).Abs()
}

// WithinTolerance reports whether a and b differ by at most tol.
func WithinTolerance(a, b, tol decimal.Decimal) bool {
	return Diff(a, b).LessThanOrEqual(tol)
}

// RelativeDiff returns |a-b| / |b|. A zero reference never matches relatively.
func RelativeDiff(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.New(1, 0)
	}

	return Diff(a, b).Div(b.Abs())
}
