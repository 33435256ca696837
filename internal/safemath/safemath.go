// Package safemath provides overflow and underflow checked arithmetic on
// unsigned minor-unit amounts.
package safemath

import (
	"math"
	"math/bits"

	"guildhall.org/internal/errs"
)

var (
	ErrOverflow     = errs.New(errs.Validation, "arithmetic_overflow", "arithmetic overflow")
	ErrUnderflow    = errs.New(errs.Validation, "arithmetic_underflow", "arithmetic underflow")
	ErrDivideByZero = errs.New(errs.Validation, "division_by_zero", "division by zero")
	ErrPercent      = errs.New(errs.Validation, "invalid_percent", "percentage must be within [0,100]")
)

// Add returns a+b.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, errs.Wrapf(ErrOverflow, "%d + %d", a, b)
	}
	return sum, nil
}

// Sub returns a-b.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, errs.Wrapf(ErrUnderflow, "%d - %d", a, b)
	}
	return diff, nil
}

// Mul returns a*b.
func Mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, errs.Wrapf(ErrOverflow, "%d * %d", a, b)
	}
	return lo, nil
}

// Div returns a/b truncated.
func Div(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, ErrDivideByZero
	}
	return a / b, nil
}

// MulDiv returns a*b/d. The product is kept in 128 bits, so only a quotient
// that does not fit in 64 bits overflows.
func MulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrDivideByZero
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, errs.Wrapf(ErrOverflow, "%d * %d / %d", a, b, d)
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, nil
}

// Percent returns amount*pct/100. The multiplication is checked before it is performed.
func Percent(amount, pct uint64) (uint64, error) {
	if pct > 100 {
		return 0, errs.Wrapf(ErrPercent, "got %d", pct)
	}
	if pct != 0 && amount > math.MaxUint64/pct {
		return 0, errs.Wrapf(ErrOverflow, "%d * %d%%", amount, pct)
	}
	return amount * pct / 100, nil
}

// Sum adds all values.
func Sum(values ...uint64) (uint64, error) {
	var total uint64
	for _, v := range values {
		next, err := Add(total, v)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}
