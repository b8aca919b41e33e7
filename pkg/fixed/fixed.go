// Package fixed implements the unsigned 1e18-scaled arithmetic used for every
// balance, rate and percentage on the ledger. All operations report overflow
// and underflow instead of wrapping.
package fixed

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// Decimals is the number of implied decimal places of a scaled value.
const Decimals = 18

var (
	ErrOverflow     = errors.New("fixed: arithmetic overflow")
	ErrUnderflow    = errors.New("fixed: arithmetic underflow")
	ErrDivideByZero = errors.New("fixed: division by zero")
	ErrSyntax       = errors.New("fixed: invalid decimal")
)

// One is 1.0 at 1e18 scale. Never mutate it.
var One = uint256.NewInt(1_000_000_000_000_000_000)

// Zero returns a fresh zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// Clone returns a copy of v, treating nil as zero.
func Clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// IsZero treats nil as zero.
func IsZero(v *uint256.Int) bool { return v == nil || v.IsZero() }

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

// Add and Sub treat nil operands as zero.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	a, b = orZero(a), orZero(b)
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("%w: %s + %s", ErrOverflow, a, b)
	}
	return z, nil
}

func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	a, b = orZero(a), orZero(b)
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, fmt.Errorf("%w: %s - %s", ErrUnderflow, a, b)
	}
	return z, nil
}

// SubFloor returns a-b, or zero when b > a.
func SubFloor(a, b *uint256.Int) *uint256.Int {
	a, b = orZero(a), orZero(b)
	if a.Lt(b) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}

// MulDiv returns floor(a*b/d) with a 512-bit intermediate product.
func MulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivideByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s / %s", ErrOverflow, a, b, d)
	}
	return z, nil
}

// MulDivUp returns ceil(a*b/d).
func MulDivUp(a, b, d *uint256.Int) (*uint256.Int, error) {
	z, err := MulDiv(a, b, d)
	if err != nil {
		return nil, err
	}
	rem := new(big.Int).Mul(a.ToBig(), b.ToBig())
	if rem.Mod(rem, d.ToBig()).Sign() == 0 {
		return z, nil
	}
	return Add(z, uint256.NewInt(1))
}

// Mul returns a*b/1e18: a value scaled by a rate or percentage.
func Mul(value, rate *uint256.Int) (*uint256.Int, error) {
	return MulDiv(value, rate, One)
}

// Div returns value*1e18/rate: the amount that converts to value at rate.
func Div(value, rate *uint256.Int) (*uint256.Int, error) {
	return MulDiv(value, One, rate)
}

// DivUp is Div rounded up. It is used for "amount needed" computations so the
// converted proceeds never fall short of the target.
func DivUp(value, rate *uint256.Int) (*uint256.Int, error) {
	return MulDivUp(value, One, rate)
}

// Min returns a copy of the smaller operand.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return Clone(a)
	}
	return Clone(b)
}

// Parse reads a decimal string such as "1.08" into a 1e18-scaled value.
// Plain integers without a fraction are scaled too ("2" -> 2e18).
func Parse(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrSyntax
	}
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > Decimals {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrSyntax, s, Decimals)
	}
	if whole == "" {
		whole = "0"
	}
	digits := whole + frac + strings.Repeat("0", Decimals-len(frac))
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrSyntax, s, err)
	}
	return v, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) *uint256.Int {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Format renders a 1e18-scaled value as a trimmed decimal string.
func Format(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	dec := v.Dec()
	if len(dec) <= Decimals {
		dec = strings.Repeat("0", Decimals-len(dec)+1) + dec
	}
	whole, frac := dec[:len(dec)-Decimals], strings.TrimRight(dec[len(dec)-Decimals:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}
