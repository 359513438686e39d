package fpmath

import "math/big"

var (
	// Wad is the 18-decimal fixed point unit used for all monetary values.
	Wad = mustBigInt("1000000000000000000")
	// BpsDenominator is the 4-decimal fixed point unit used for multipliers
	// and fee weights (10000 = 100%).
	BpsDenominator = big.NewInt(10_000)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// MulWadUp computes a*b/1e18 rounding any remainder up. Amounts a user must
// pay are always computed with this helper so truncation can never favour the
// payer over the treasury.
func MulWadUp(a, b *big.Int) *big.Int {
	return MulDivUp(a, b, Wad)
}

// MulWadDown computes a*b/1e18 discarding the remainder.
func MulWadDown(a, b *big.Int) *big.Int {
	return MulDivDown(a, b, Wad)
}

// MulDivUp computes a*num/den rounding any remainder up. A nil or
// non-positive denominator yields zero.
func MulDivUp(a, num, den *big.Int) *big.Int {
	if a == nil || num == nil || den == nil || den.Sign() <= 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, num)
	if product.Sign() <= 0 {
		return big.NewInt(0)
	}
	quo, rem := new(big.Int).QuoRem(product, den, new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// MulDivDown computes a*num/den discarding the remainder. Used for
// proportional and informational values where rounding must never overstate
// what a counterparty is owed.
func MulDivDown(a, num, den *big.Int) *big.Int {
	if a == nil || num == nil || den == nil || den.Sign() <= 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, num)
	if product.Sign() <= 0 {
		return big.NewInt(0)
	}
	return product.Quo(product, den)
}

// MulBpsUp applies a basis-point multiplier rounding up.
func MulBpsUp(a *big.Int, bps uint64) *big.Int {
	return MulDivUp(a, new(big.Int).SetUint64(bps), BpsDenominator)
}

// MulBpsDown applies a basis-point multiplier rounding down.
func MulBpsDown(a *big.Int, bps uint64) *big.Int {
	return MulDivDown(a, new(big.Int).SetUint64(bps), BpsDenominator)
}

// Clone returns a defensive copy of v, treating nil as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
