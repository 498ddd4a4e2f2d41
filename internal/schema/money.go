package schema

import (
	"fmt"

	"github.com/yanun0323/decimal"
)

// MicrosScale is the fixed-point scale used by Money: 1 unit = 1e-6 currency.
const MicrosScale = 1_000_000

// Money is a fixed-point integer amount in micros of the account currency.
// All capital-decision arithmetic stays in this type; float64 never enters
// an enforcement path.
type Money int64

// Quantity is a signed fixed-point instrument quantity in micros.
type Quantity int64

// Price is a fixed-point instrument price in micros.
type Price int64

// Bps is an integer basis-points value (1 bps = 1/10000).
type Bps int64

// String renders the amount as a decimal string, e.g. "105.105000".
func (m Money) String() string {
	return decimal.NewFromInt(int64(m)).Div(decimal.NewFromInt(MicrosScale)).String()
}

// MoneyFromDecimal converts a decimal string amount into micros, rejecting
// values that would overflow or that carry more precision than the scale
// supports silently losing information.
func MoneyFromDecimal(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid decimal amount %q: %w", s, err)
	}
	scaled := d.Mul(decimal.NewFromInt(MicrosScale))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("decimal amount %q has sub-micro precision", s)
	}
	m := scaled.IntPart()
	if !decimal.NewFromInt(m).Equal(scaled) {
		return 0, fmt.Errorf("decimal amount %q overflows int64 micros", s)
	}
	return Money(m), nil
}

// Abs returns the absolute value.
func (m Money) Abs() Money {
	if m < 0 {
		return -m
	}
	return m
}

// Add returns m+n, checked for overflow.
func (m Money) Add(n Money) (Money, bool) {
	sum := m + n
	if (n > 0 && sum < m) || (n < 0 && sum > m) {
		return 0, false
	}
	return sum, true
}

// Sub returns m-n, checked for overflow (mirrors the original's checked_sub
// guard on equity arithmetic).
func (m Money) Sub(n Money) (Money, bool) {
	return m.Add(-n)
}
