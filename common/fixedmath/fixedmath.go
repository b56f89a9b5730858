// Package fixedmath implements the 18-decimal fixed-point arithmetic shared
// by every ledger component. Multiply and divide truncate toward zero at the
// unit scale, so results match integer math on 1e18-scaled values exactly.
package fixedmath

import "github.com/shopspring/decimal"

// UnitDecimals is the canonical fixed-point scale.
const UnitDecimals = 18

// One is the multiplicative unit.
var One = decimal.New(1, 0)

// MulFloor multiplies two fixed-point values and truncates at the unit scale.
func MulFloor(x, y decimal.Decimal) decimal.Decimal {
	return x.Mul(y).Truncate(UnitDecimals)
}

// DivFloor divides two fixed-point values and truncates at the unit scale.
// Division by zero panics, callers must reject zero denominators first.
func DivFloor(x, y decimal.Decimal) decimal.Decimal {
	q, _ := x.Shift(UnitDecimals).QuoRem(y, 0)
	return q.Shift(-UnitDecimals)
}

// Min returns the smaller of x and y.
func Min(x, y decimal.Decimal) decimal.Decimal {
	if x.LessThan(y) {
		return x
	}
	return y
}
