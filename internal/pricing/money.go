// Package pricing holds the pure fee and commission calculations. Nothing in
// this package performs I/O.
package pricing

import "github.com/shopspring/decimal"

var (
	zero    = decimal.Zero
	hundred = decimal.NewFromInt(100)
)

// Round2 rounds a money amount to 2 decimal places, half-up.
// decimal.Round rounds half away from zero, which is half-up for the
// non-negative amounts this package produces.
func Round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// percentOf returns amount × pct / 100, unrounded.
func percentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}

func minDec(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func maxDec(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
