package fixedpoint

import (
	"math/big"

	"github.com/shopspring/decimal"
)

var zero = big.NewInt(0)

// RatioToDecimalString renders numerator/denominator with at most precision
// fractional digits. Digits past precision are truncated, trailing fractional
// zeros are stripped and a zero denominator yields "0".
func RatioToDecimalString(numerator, denominator *big.Int, precision int) string {
	if denominator == nil || denominator.Sign() == 0 || numerator == nil {
		return "0"
	}
	if precision < 0 {
		precision = 0
	}

	num := new(big.Int).Abs(numerator)
	den := new(big.Int).Abs(denominator)

	// QuoRem truncates toward zero, so working on absolute values keeps the
	// digits identical for both signs.
	q, _ := decimal.NewFromBigInt(num, 0).QuoRem(decimal.NewFromBigInt(den, 0), int32(precision))
	if numerator.Sign()*denominator.Sign() < 0 {
		q = q.Neg()
	}
	return q.String()
}

// FormatUnits renders a raw token amount as whole units given the token's
// decimals, e.g. 1500000 with 6 decimals is "1.5".
func FormatUnits(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).String()
}

// Pow10 returns 10^n.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Min returns a copy of the smaller value.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Max returns a copy of the larger value.
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// ClampZero returns max(v, 0).
func ClampZero(v *big.Int) *big.Int {
	return Max(v, zero)
}

// Sub returns a - b without touching either operand.
func Sub(a, b *big.Int) *big.Int {
	return new(big.Int).Sub(a, b)
}

// MulDiv returns a*b/c truncated, or 0 when c is zero.
func MulDiv(a, b, c *big.Int) *big.Int {
	if c.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, c)
}

// OrZero returns v, or a fresh zero when v is nil.
func OrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
