// Package fixedpoint implements the 1e18 fixed-point arithmetic used by the
// pricing and clearing engines. All quote values, base quantities, prices and
// rates are signed big.Int values scaled by 1e18. Intermediate products are
// computed at full precision; callers pick the rounding direction explicitly
// so that rounding always favors the protocol (round up when collecting,
// round down when paying out).
package fixedpoint

import "math/big"

// ScaleX18 is the global fixed-point scale (18 decimal places).
const ScaleX18 = int64(1_000_000_000_000_000_000)

// BpsDenominator is the basis-point scale (10_000 = 100%).
const BpsDenominator = int64(10_000)

var (
	oneX18 = big.NewInt(ScaleX18)
	bpsDen = big.NewInt(BpsDenominator)
)

// RoundingMode selects the rounding direction for divisions.
// Up and Down are magnitude-based: Up rounds away from zero, Down toward zero.
type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
)

// One returns a fresh copy of 1.0 in X18.
func One() *big.Int {
	return new(big.Int).Set(oneX18)
}

// FromInt converts a whole-unit integer to X18.
func FromInt(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), oneX18)
}

// Clone returns a defensive copy of v (nil-safe: nil becomes zero).
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// IsZero reports whether v is nil or exactly zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// Abs returns |v| as a new value.
func Abs(v *big.Int) *big.Int {
	return new(big.Int).Abs(v)
}

// Neg returns -v as a new value.
func Neg(v *big.Int) *big.Int {
	return new(big.Int).Neg(v)
}

// Min returns the smaller of a and b (copy).
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Max returns the larger of a and b (copy).
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// MulDiv computes a * b / denom at full intermediate precision.
// The rounding mode applies to the magnitude of the result: RoundUp rounds
// away from zero, RoundDown truncates toward zero. denom must be non-zero.
func MulDiv(a, b, denom *big.Int, mode RoundingMode) *big.Int {
	if denom.Sign() == 0 {
		panic("fixedpoint: division by zero")
	}

	num := new(big.Int).Mul(a, b)

	negative := (num.Sign() < 0) != (denom.Sign() < 0)
	absNum := new(big.Int).Abs(num)
	absDen := new(big.Int).Abs(denom)

	quo, rem := new(big.Int).QuoRem(absNum, absDen, new(big.Int))
	if mode == RoundUp && rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}

	if negative {
		quo.Neg(quo)
	}
	return quo
}

// MulX18 computes a * b where both are X18, result X18.
func MulX18(a, b *big.Int, mode RoundingMode) *big.Int {
	return MulDiv(a, b, oneX18, mode)
}

// DivX18 computes a / b where both are X18, result X18.
func DivX18(a, b *big.Int, mode RoundingMode) *big.Int {
	return MulDiv(a, oneX18, b, mode)
}

// ApplyBps computes a * bps / 10_000.
func ApplyBps(a *big.Int, bps int64, mode RoundingMode) *big.Int {
	return MulDiv(a, big.NewInt(bps), bpsDen, mode)
}

// ScaleToToken converts an X18 amount into native token units for a token
// with the given base unit (10^decimals). Collecting from users rounds up,
// paying out rounds down; the caller picks the mode.
func ScaleToToken(x18 *big.Int, baseUnit *big.Int, mode RoundingMode) *big.Int {
	return MulDiv(x18, baseUnit, oneX18, mode)
}

// ScaleFromToken converts native token units into an X18 amount.
func ScaleFromToken(units *big.Int, baseUnit *big.Int, mode RoundingMode) *big.Int {
	return MulDiv(units, oneX18, baseUnit, mode)
}
