package numeric

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	QuantityPlaces = 8
	CashPlaces     = 2
)

var hundred = decimal.NewFromInt(100)

// Dec converts a float to a decimal using its shortest representation, so 99.2 stays 99.2.
// Non-finite inputs map to zero.
func Dec(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func Float(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// FloorQuantity truncates a quantity to 8 decimals. Negative input returns 0.
// Float noise below 1e-12 is rounded away first so 7*0.3 floors to 2.1, not 2.09999999.
func FloorQuantity(q float64) float64 {
	if !(q > 0) || math.IsInf(q, 0) {
		return 0
	}
	return Float(Dec(q).Round(12).RoundFloor(QuantityPlaces))
}

// RoundCash rounds a money amount to cents for display.
func RoundCash(v float64) float64 {
	return Float(Dec(v).Round(CashPlaces))
}

// Round rounds to the given number of places for display.
func Round(v float64, places int32) float64 {
	return Float(Dec(v).Round(places))
}

// PercentChange is (price-entry)/entry*100 in decimal arithmetic.
func PercentChange(entry, price float64) decimal.Decimal {
	if entry <= 0 {
		return decimal.Zero
	}
	e := Dec(entry)
	return Dec(price).Sub(e).Div(e).Mul(hundred)
}

func LTE(a decimal.Decimal, b float64) bool { return a.Cmp(Dec(b)) <= 0 }
func GTE(a decimal.Decimal, b float64) bool { return a.Cmp(Dec(b)) >= 0 }
func GT(a decimal.Decimal, b float64) bool  { return a.Cmp(Dec(b)) > 0 }

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
