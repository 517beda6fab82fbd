// Package wad implements the fixed-point, 18-decimal-digit money type used
// throughout the keeper. Every monetary amount that crosses an internal
// component boundary is a WAD; conversion to and from token-native decimals
// or floating point happens only at the edges (oracle responses, token
// transfer amounts, log fields).
package wad

import (
	"fmt"
	"math"
	"math/big"

	"github.com/holiman/uint256"
)

// Decimals is the number of fractional digits a WAD carries.
const Decimals = 18

var scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// WAD is a signed, 18-decimal fixed-point amount. Internally the magnitude is
// held in a uint256 and the sign tracked separately so that intermediate
// settlement/reward math (which can legitimately go negative, e.g. clamped
// LP deltas) never panics on underflow the way a raw uint256 subtraction
// would.
type WAD struct {
	mag     uint256.Int
	negative bool
}

// Zero is the additive identity.
var Zero = WAD{}

// FromBigInt wraps an already-WAD-scaled big.Int (such as a value read
// directly off-chain) into a WAD.
func FromBigInt(v *big.Int) (WAD, error) {
	if v == nil {
		return Zero, nil
	}
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)
	mag, overflow := uint256.FromBig(abs)
	if overflow {
		return Zero, fmt.Errorf("wad: value overflows 256 bits")
	}
	return WAD{mag: *mag, negative: neg && !mag.IsZero()}, nil
}

// FromFloat64 converts a float64 (oracle/logging boundary only) into a WAD.
// NaN and Inf are rejected since callers must already have treated NaN as
// "skip this iteration" before reaching any WAD arithmetic.
func FromFloat64(f float64) (WAD, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Zero, fmt.Errorf("wad: cannot convert NaN/Inf")
	}
	bf := new(big.Float).SetFloat64(f)
	bf.Mul(bf, new(big.Float).SetInt(scale))
	bi, _ := bf.Int(nil)
	return FromBigInt(bi)
}

// FromTokenAmount scales a token-native integer amount (native decimals) up
// to WAD precision.
func FromTokenAmount(amount *big.Int, tokenDecimals uint8) (WAD, error) {
	if amount == nil {
		return Zero, nil
	}
	if int(tokenDecimals) > Decimals {
		return Zero, fmt.Errorf("wad: token decimals %d exceed WAD precision", tokenDecimals)
	}
	shift := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(Decimals-int(tokenDecimals))), nil)
	scaled := new(big.Int).Mul(amount, shift)
	return FromBigInt(scaled)
}

// ToTokenAmount truncates a WAD down to a token-native integer amount,
// discarding precision below tokenDecimals (truncation, not rounding, to
// never overstate the amount actually transferred).
func (w WAD) ToTokenAmount(tokenDecimals uint8) (*big.Int, error) {
	if int(tokenDecimals) > Decimals {
		return nil, fmt.Errorf("wad: token decimals %d exceed WAD precision", tokenDecimals)
	}
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(Decimals-int(tokenDecimals))), nil)
	out := new(big.Int).Div(w.BigInt(), divisor)
	return out, nil
}

// BigInt returns the signed WAD-scaled value as a big.Int.
func (w WAD) BigInt() *big.Int {
	bi := w.mag.ToBig()
	if w.negative {
		bi.Neg(bi)
	}
	return bi
}

// Float64 converts to a float64 for logging and oracle-boundary comparisons
// only; never use the result for further monetary arithmetic.
func (w WAD) Float64() float64 {
	bf := new(big.Float).SetInt(w.BigInt())
	bf.Quo(bf, new(big.Float).SetInt(scale))
	f, _ := bf.Float64()
	return f
}

// Add returns w + other.
func (w WAD) Add(other WAD) WAD {
	sum := new(big.Int).Add(w.BigInt(), other.BigInt())
	r, _ := FromBigInt(sum)
	return r
}

// Sub returns w - other.
func (w WAD) Sub(other WAD) WAD {
	diff := new(big.Int).Sub(w.BigInt(), other.BigInt())
	r, _ := FromBigInt(diff)
	return r
}

// Mul returns w * other, rescaled back down to WAD precision.
func (w WAD) Mul(other WAD) WAD {
	prod := new(big.Int).Mul(w.BigInt(), other.BigInt())
	prod.Div(prod, scale)
	r, _ := FromBigInt(prod)
	return r
}

// Div returns w / other, rescaled to WAD precision. Division by zero
// returns Zero rather than panicking, mirroring the Price Resolver's
// "invert of zero is zero" rule so callers can reuse the same helper.
func (w WAD) Div(other WAD) WAD {
	if other.IsZero() {
		return Zero
	}
	num := new(big.Int).Mul(w.BigInt(), scale)
	num.Div(num, other.BigInt())
	r, _ := FromBigInt(num)
	return r
}

// Cmp compares w to other: -1, 0, 1.
func (w WAD) Cmp(other WAD) int {
	return w.BigInt().Cmp(other.BigInt())
}

// LessThan reports w < other.
func (w WAD) LessThan(other WAD) bool { return w.Cmp(other) < 0 }

// GreaterThan reports w > other.
func (w WAD) GreaterThan(other WAD) bool { return w.Cmp(other) > 0 }

// GreaterOrEqual reports w >= other.
func (w WAD) GreaterOrEqual(other WAD) bool { return w.Cmp(other) >= 0 }

// IsZero reports whether the magnitude is zero.
func (w WAD) IsZero() bool { return w.mag.IsZero() }

// IsNegative reports whether the value is strictly below zero.
func (w WAD) IsNegative() bool { return w.negative && !w.mag.IsZero() }

// Neg returns -w.
func (w WAD) Neg() WAD {
	if w.IsZero() {
		return w
	}
	return WAD{mag: w.mag, negative: !w.negative}
}

// String renders the value with up to Decimals fractional digits, trimming
// trailing zeros, suitable for log fields.
func (w WAD) String() string {
	bi := w.BigInt()
	neg := bi.Sign() < 0
	abs := new(big.Int).Abs(bi)
	q, r := new(big.Int).QuoRem(abs, scale, new(big.Int))
	frac := r.String()
	for len(frac) < Decimals {
		frac = "0" + frac
	}
	for len(frac) > 0 && frac[len(frac)-1] == '0' {
		frac = frac[:len(frac)-1]
	}
	out := q.String()
	if frac != "" {
		out = out + "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// MustFromString parses a decimal string literal into a WAD, panicking on a
// malformed literal. Intended for constants in tests and config defaults,
// never for untrusted input.
func MustFromString(s string) WAD {
	bf, ok := new(big.Float).SetPrec(256).SetString(s)
	if !ok {
		panic(fmt.Sprintf("wad: invalid literal %q", s))
	}
	bf.Mul(bf, new(big.Float).SetInt(scale))
	bi, _ := bf.Int(nil)
	w, err := FromBigInt(bi)
	if err != nil {
		panic(err)
	}
	return w
}
