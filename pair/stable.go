// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pair

import (
	"math/big"

	"github.com/holiman/uint256"
)

// Stable-curve math for correlated pairs: the pool preserves
// f(x,y) = x*y*(x² + y²) = k, evaluated at wad (1e18) scale. The curve is
// solved with a bounded Newton iteration; the iteration cap and the
// one-unit nudge fallback are pricing-relevant and must not change.

const newtonMaxIterations = 255

var wadBig = big.NewInt(1_000_000_000_000_000_000)

// stableK evaluates the invariant at wad scale.
func stableK(x, y *big.Int) *big.Int {
	a := new(big.Int).Mul(x, y)
	a.Div(a, wadBig) // xy/1e18

	x2 := new(big.Int).Mul(x, x)
	x2.Div(x2, wadBig)
	y2 := new(big.Int).Mul(y, y)
	y2.Div(y2, wadBig)

	b := new(big.Int).Add(x2, y2)
	k := new(big.Int).Mul(a, b)
	return k.Div(k, wadBig)
}

// stableF is the invariant restated for the solver:
// f(x0,y) = x0*y³/1e36 + x0³*y/1e36.
func stableF(x0, y *big.Int) *big.Int {
	y2 := new(big.Int).Mul(y, y)
	y2.Div(y2, wadBig)
	y3 := y2.Mul(y2, y)
	y3.Div(y3, wadBig)
	a := new(big.Int).Mul(x0, y3)
	a.Div(a, wadBig)

	x2 := new(big.Int).Mul(x0, x0)
	x2.Div(x2, wadBig)
	x3 := x2.Mul(x2, x0)
	x3.Div(x3, wadBig)
	b := new(big.Int).Mul(x3, y)
	b.Div(b, wadBig)

	return a.Add(a, b)
}

// stableD is ∂f/∂y: 3*x0*y²/1e36 + x0³/1e36.
func stableD(x0, y *big.Int) *big.Int {
	y2 := new(big.Int).Mul(y, y)
	y2.Div(y2, wadBig)
	a := new(big.Int).Mul(big.NewInt(3), x0)
	a.Mul(a, y2)
	a.Div(a, wadBig)

	x2 := new(big.Int).Mul(x0, x0)
	x2.Div(x2, wadBig)
	x3 := x2.Mul(x2, x0)
	x3.Div(x3, wadBig)

	return a.Add(a, x3)
}

// stableY solves f(x0, y) = xy for y. Newton steps both overshoot and
// undershoot; when a step rounds to zero the solver checks for exact
// convergence and otherwise nudges by one unit.
func stableY(x0, xy, y *big.Int) (*big.Int, error) {
	y = new(big.Int).Set(y)
	one := big.NewInt(1)
	for i := 0; i < newtonMaxIterations; i++ {
		k := stableF(x0, y)
		switch k.Cmp(xy) {
		case -1:
			dy := new(big.Int).Sub(xy, k)
			dy.Mul(dy, wadBig)
			dy.Div(dy, stableD(x0, y))
			if dy.Sign() == 0 {
				if k.Cmp(xy) == 0 {
					return y, nil
				}
				up := new(big.Int).Add(y, one)
				if stableF(x0, up).Cmp(xy) > 0 {
					return up, nil
				}
				dy = one
			}
			y.Add(y, dy)
		default:
			dy := new(big.Int).Sub(k, xy)
			dy.Mul(dy, wadBig)
			dy.Div(dy, stableD(x0, y))
			if dy.Sign() == 0 {
				if k.Cmp(xy) == 0 {
					return y, nil
				}
				down := new(big.Int).Sub(y, one)
				if stableF(x0, down).Cmp(xy) < 0 {
					return y, nil
				}
				dy = one
			}
			y.Sub(y, dy)
		}
	}
	return nil, ErrNewtonDiverged
}

// stableAmountOut computes the stable-curve output for a fee-adjusted
// input. Reserves and input arrive raw; precision multipliers normalize
// them to wad scale for the solver and the result is denormalized back.
func stableAmountOut(inAfterFee, reserveIn, reserveOut, precIn, precOut *uint256.Int) (*uint256.Int, error) {
	rIn := normalize(reserveIn, precIn)
	rOut := normalize(reserveOut, precOut)
	in := normalize(inAfterFee, precIn)

	if rIn.Sign() == 0 || rOut.Sign() == 0 {
		return nil, ErrInsufficientLiquidity
	}

	xy := stableK(rIn, rOut)
	newIn := new(big.Int).Add(rIn, in)
	newOut, err := stableY(newIn, xy, rOut)
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Sub(rOut, newOut)
	if out.Sign() <= 0 {
		return uint256.NewInt(0), nil
	}
	return denormalize(out, precOut)
}

// stableInvariantRaw evaluates the invariant from raw reserves.
func stableInvariantRaw(reserveX, reserveY, precX, precY *uint256.Int) *big.Int {
	return stableK(normalize(reserveX, precX), normalize(reserveY, precY))
}

func normalize(v, prec *uint256.Int) *big.Int {
	n := new(big.Int).Mul(v.ToBig(), wadBig)
	return n.Div(n, prec.ToBig())
}

func denormalize(v *big.Int, prec *uint256.Int) (*uint256.Int, error) {
	d := new(big.Int).Mul(v, prec.ToBig())
	d.Div(d, wadBig)
	out, overflow := uint256.FromBig(d)
	if overflow {
		return nil, ErrInsufficientLiquidity
	}
	return out, nil
}
