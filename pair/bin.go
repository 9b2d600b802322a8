// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pair

import (
	"github.com/holiman/uint256"

	"github.com/luxfi/amm/fixedpoint"
)

// =========================================================================
// Constant-product math
// =========================================================================

// cpAmountOut computes the constant-product output for a fee-adjusted
// input: out = rOut - rIn*rOut/(rIn + inAfterFee). The division is rounded
// up so the subtraction floors the output in the pool's favor.
func cpAmountOut(inAfterFee, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	if inAfterFee.IsZero() {
		return nil, ErrInsufficientInput
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	denom := new(uint256.Int).Add(reserveIn, inAfterFee)
	keep, err := fixedpoint.MulDiv(reserveIn, reserveOut, denom, fixedpoint.RoundUp)
	if err != nil {
		return nil, err
	}
	if keep.Gt(reserveOut) {
		return uint256.NewInt(0), nil
	}
	return new(uint256.Int).Sub(reserveOut, keep), nil
}

// cpAmountIn computes the input needed for an exact constant-product
// output, before fees: in = rIn*out/(rOut - out), rounded up.
func cpAmountIn(amountOut, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	if amountOut.IsZero() {
		return nil, ErrInsufficientOutput
	}
	if !amountOut.Lt(reserveOut) {
		return nil, ErrInsufficientLiquidity
	}
	denom := new(uint256.Int).Sub(reserveOut, amountOut)
	return fixedpoint.MulDiv(reserveIn, amountOut, denom, fixedpoint.RoundUp)
}

// =========================================================================
// Discrete-level (book) exchange math
// =========================================================================

// levelAmountIn returns the input owed for taking amountOut from a bin at
// a wad-scaled level price (price = Y per unit X), rounded up.
func levelAmountIn(amountOut, price *uint256.Int, xForY bool) (*uint256.Int, error) {
	if xForY {
		// Taking Y out, paying X: in = out/price.
		return fixedpoint.MulDiv(amountOut, fixedpoint.Wad, price, fixedpoint.RoundUp)
	}
	// Taking X out, paying Y: in = out*price.
	return fixedpoint.MulDiv(amountOut, price, fixedpoint.Wad, fixedpoint.RoundUp)
}

// levelAmountOut returns the output for a fee-adjusted input at a
// wad-scaled level price, rounded down.
func levelAmountOut(inAfterFee, price *uint256.Int, xForY bool) (*uint256.Int, error) {
	if xForY {
		// Paying X, taking Y: out = in*price.
		return fixedpoint.MulDiv(inAfterFee, price, fixedpoint.Wad, fixedpoint.RoundDown)
	}
	// Paying Y, taking X: out = in/price.
	return fixedpoint.MulDiv(inAfterFee, fixedpoint.Wad, price, fixedpoint.RoundDown)
}

// binValue values a bin's reserves in units of Y at the level price:
// value = rX*price + rY.
func binValue(b *Bin, price *uint256.Int) (*uint256.Int, error) {
	xv, err := fixedpoint.MulDiv(b.ReserveX, price, fixedpoint.Wad, fixedpoint.RoundDown)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Add(xv, b.ReserveY), nil
}

// =========================================================================
// Share accounting
// =========================================================================

// pairMintShares computes shares for a deposit into the two-reserve pair
// bin. The first deposit issues sqrt(x*y) shares with MinimumLiquidity
// locked; later deposits issue the proportional minimum so the excess of
// the less-constrained asset is never creditable.
func pairMintShares(b *Bin, amountX, amountY *uint256.Int) (minted, locked *uint256.Int, err error) {
	if b.TotalShares.IsZero() {
		product, overflow := new(uint256.Int).MulOverflow(amountX, amountY)
		if overflow {
			return nil, nil, fixedpoint.ErrOverflow
		}
		root := fixedpoint.Sqrt(product)
		if !root.Gt(MinimumLiquidity) {
			return nil, nil, ErrInsufficientLiquidityMinted
		}
		return new(uint256.Int).Sub(root, MinimumLiquidity), MinimumLiquidity.Clone(), nil
	}

	byX, err := fixedpoint.MulDiv(amountX, b.TotalShares, b.ReserveX, fixedpoint.RoundDown)
	if err != nil {
		return nil, nil, err
	}
	byY, err := fixedpoint.MulDiv(amountY, b.TotalShares, b.ReserveY, fixedpoint.RoundDown)
	if err != nil {
		return nil, nil, err
	}
	shares := byX
	if byY.Lt(byX) {
		shares = byY
	}
	if shares.IsZero() {
		return nil, nil, ErrInsufficientLiquidityMinted
	}
	return shares, uint256.NewInt(0), nil
}

// bookMintShares computes shares for a deposit into a discrete-level bin.
// Shares are issued against the bin's value at the level price, so a
// deposit into a partially crossed bin cannot dilute earlier depositors.
// No share lock applies: the level price is fixed, so there is no share
// price to manipulate at zero supply.
func bookMintShares(b *Bin, amountX, amountY, price *uint256.Int) (*uint256.Int, error) {
	xv, err := fixedpoint.MulDiv(amountX, price, fixedpoint.Wad, fixedpoint.RoundDown)
	if err != nil {
		return nil, err
	}
	depositValue := new(uint256.Int).Add(xv, amountY)
	if depositValue.IsZero() {
		return nil, ErrInsufficientLiquidityMinted
	}

	if b.TotalShares.IsZero() {
		return depositValue, nil
	}
	value, err := binValue(b, price)
	if err != nil {
		return nil, err
	}
	if value.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	shares, err := fixedpoint.MulDiv(depositValue, b.TotalShares, value, fixedpoint.RoundDown)
	if err != nil {
		return nil, err
	}
	if shares.IsZero() {
		return nil, ErrInsufficientLiquidityMinted
	}
	return shares, nil
}

// burnAmounts computes the pro-rata withdrawal for a share burn, rounded
// down in the pool's favor.
func burnAmounts(b *Bin, shares *uint256.Int) (amountX, amountY *uint256.Int, err error) {
	if shares.IsZero() {
		return nil, nil, ErrInsufficientLiquidityBurned
	}
	if shares.Gt(b.TotalShares) {
		return nil, nil, ErrInsufficientShares
	}
	amountX, err = fixedpoint.MulDiv(shares, b.ReserveX, b.TotalShares, fixedpoint.RoundDown)
	if err != nil {
		return nil, nil, err
	}
	amountY, err = fixedpoint.MulDiv(shares, b.ReserveY, b.TotalShares, fixedpoint.RoundDown)
	if err != nil {
		return nil, nil, err
	}
	if amountX.IsZero() && amountY.IsZero() {
		return nil, nil, ErrInsufficientLiquidityBurned
	}
	return amountX, amountY, nil
}
