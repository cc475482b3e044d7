// This file converts between the engine's float amounts and integer cents.
// Cent conversion goes through shopspring/decimal so that rounding is exact.

package core

import (
	"errors"
	"math"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in cents.
type Money struct {
	Cents int64
}

var ErrInvalidAmount = errors.New("invalid amount")

// MaxAmount is the largest absolute amount whose cents fit in an int64 with
// room to spare. Callers reject totals above it before allocating cents.
const MaxAmount = 1e16

var hundred = decimal.NewFromInt(100)

// ParseAmount converts a decimal string to a float amount.
//
// Both dot (12.34) and comma (12,34) separators are accepted. Surrounding
// whitespace is ignored. Negative values are allowed; callers decide whether
// they make sense.
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return d.InexactFloat64(), nil
}

// ToCents rounds a float amount half away from zero to the nearest cent.
func ToCents(amount float64) Money {
	return Money{Cents: fromFloat(amount).Mul(hundred).Round(0).IntPart()}
}

// fromFloat converts a float to a decimal; NaN and infinities become zero.
func fromFloat(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

// String formats the amount with two decimals, e.g. "12.34".
func (m Money) String() string {
	return decimal.New(m.Cents, -2).StringFixed(2)
}

// AllocateCents rounds shares to cents so that the cents add up to the
// rounded sum of the shares. Shares must stay within MaxAmount.
//
// Every share is first floored to a whole cent. The cents lost by flooring
// are handed out one at a time to the shares with the largest fractional
// remainder; ties go to the earlier participant. 100 split three ways gives
// 33.34, 33.33, 33.33.
func AllocateCents(shares []Share) []Money {
	out := make([]Money, len(shares))
	if len(shares) == 0 {
		return out
	}

	exact := decimal.Zero
	floored := int64(0)
	remainders := make([]decimal.Decimal, len(shares))
	for i, s := range shares {
		c := fromFloat(s.Amount).Mul(hundred)
		f := c.Floor()
		out[i] = Money{Cents: f.IntPart()}
		remainders[i] = c.Sub(f)
		exact = exact.Add(c)
		floored += out[i].Cents
	}

	leftover := exact.Round(0).IntPart() - floored
	if leftover <= 0 {
		return out
	}

	order := make([]int, len(shares))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return remainders[b].Cmp(remainders[a])
	})
	for _, i := range order {
		if leftover == 0 {
			break
		}
		if !remainders[i].IsPositive() {
			break
		}
		out[i].Cents++
		leftover--
	}
	return out
}
