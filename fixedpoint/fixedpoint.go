// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fixedpoint implements deterministic integer arithmetic for prices,
// reserves and liquidity shares. All routines are pure: the same inputs
// always produce the same outputs, with explicit rounding control and
// overflow reporting instead of silent truncation.
package fixedpoint

import (
	"errors"

	"github.com/holiman/uint256"
)

// Rounding selects the direction a division result is rounded.
type Rounding uint8

const (
	RoundDown Rounding = iota
	RoundUp
)

// Wad is the 1e18 fixed-point scale used for prices.
var Wad = uint256.NewInt(1_000_000_000_000_000_000)

// BasisPointMax is the denominator for basis-point quantities.
const BasisPointMax = 10_000

var (
	ErrOverflow       = errors.New("fixedpoint: result overflows 256 bits")
	ErrDivByZero      = errors.New("fixedpoint: division by zero")
	ErrCastOverflow   = errors.New("fixedpoint: value does not fit target width")
	ErrInvalidShift   = errors.New("fixedpoint: shift amount out of range")
	ErrInvalidBinStep = errors.New("fixedpoint: bin step out of range")
)

// MaxUint128 is the largest value representable in 128 bits.
var MaxUint128 = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)

// MulDiv computes a*b/denom with 512-bit intermediate precision.
func MulDiv(a, b, denom *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	if denom.IsZero() {
		return nil, ErrDivByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, denom)
	if overflow {
		return nil, ErrOverflow
	}
	if rounding == RoundUp {
		rem := new(uint256.Int).MulMod(a, b, denom)
		if !rem.IsZero() {
			var carry bool
			z, carry = new(uint256.Int).AddOverflow(z, uint256.NewInt(1))
			if carry {
				return nil, ErrOverflow
			}
		}
	}
	return z, nil
}

// MulShr computes (a*b) >> shift, used for Q-number price multiplication.
func MulShr(a, b *uint256.Int, shift uint, rounding Rounding) (*uint256.Int, error) {
	if shift > 255 {
		return nil, ErrInvalidShift
	}
	denom := new(uint256.Int).Lsh(uint256.NewInt(1), shift)
	return MulDiv(a, b, denom, rounding)
}

// ShlDiv computes (a << shift) / b, the inverse of MulShr.
func ShlDiv(a, b *uint256.Int, shift uint, rounding Rounding) (*uint256.Int, error) {
	if shift > 255 {
		return nil, ErrInvalidShift
	}
	scale := new(uint256.Int).Lsh(uint256.NewInt(1), shift)
	return MulDiv(a, scale, b, rounding)
}

// Sqrt returns the integer square root of x, rounded down.
func Sqrt(x *uint256.Int) *uint256.Int {
	return new(uint256.Int).Sqrt(x)
}

// ToUint64 narrows x to uint64.
func ToUint64(x *uint256.Int) (uint64, error) {
	if !x.IsUint64() {
		return 0, ErrCastOverflow
	}
	return x.Uint64(), nil
}

// ToUint128 verifies x fits in 128 bits and returns it unchanged.
func ToUint128(x *uint256.Int) (*uint256.Int, error) {
	if x.Gt(MaxUint128) {
		return nil, ErrCastOverflow
	}
	return x.Clone(), nil
}

// PriceOfLevel returns the wad-scaled price of a discrete level for a given
// bin step in basis points: price = (1 + step/10000)^level. Negative levels
// yield the reciprocal. Computed by square-and-multiply so large exponents
// stay cheap and deterministic.
func PriceOfLevel(level int32, binStepBps uint16) (*uint256.Int, error) {
	if binStepBps == 0 || binStepBps >= BasisPointMax {
		return nil, ErrInvalidBinStep
	}
	base, err := MulDiv(
		Wad,
		uint256.NewInt(uint64(BasisPointMax)+uint64(binStepBps)),
		uint256.NewInt(BasisPointMax),
		RoundDown,
	)
	if err != nil {
		return nil, err
	}

	exp := uint64(level)
	invert := false
	if level < 0 {
		exp = uint64(-int64(level))
		invert = true
	}

	result := Wad.Clone()
	sq := base.Clone()
	for exp > 0 {
		if exp&1 == 1 {
			result, err = MulDiv(result, sq, Wad, RoundDown)
			if err != nil {
				return nil, err
			}
		}
		exp >>= 1
		if exp > 0 {
			sq, err = MulDiv(sq, sq, Wad, RoundDown)
			if err != nil {
				return nil, err
			}
		}
	}

	if invert {
		return MulDiv(Wad, Wad, result, RoundDown)
	}
	return result, nil
}
