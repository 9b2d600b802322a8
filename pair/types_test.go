// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pair

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestNewFeeSplit(t *testing.T) {
	fs, err := NewFeeSplit(8, 8)
	require.NoError(t, err)
	require.Equal(t, uint64(8), fs.LPWeight())
	require.Equal(t, uint64(8), fs.TreasuryWeight())

	fs, err = NewFeeSplit(15, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(15), fs.LPWeight())
	require.Equal(t, uint64(1), fs.TreasuryWeight())

	_, err = NewFeeSplit(16, 1)
	require.ErrorIs(t, err, ErrInvalidFeeSplit)
	_, err = NewFeeSplit(1, 16)
	require.ErrorIs(t, err, ErrInvalidFeeSplit)
	_, err = NewFeeSplit(0, 0)
	require.ErrorIs(t, err, ErrInvalidFeeSplit)
}

func TestFeeSplitDivides(t *testing.T) {
	tests := []struct {
		name      string
		lp, tr    uint8
		fee       uint64
		wantLP    uint64
		wantTreas uint64
	}{
		{"even split", 8, 8, 100, 50, 50},
		{"lp floor treasury remainder", 8, 8, 101, 50, 51},
		{"three to one", 12, 4, 100, 75, 25},
		{"all lp", 1, 0, 100, 100, 0},
		{"all treasury", 0, 1, 100, 0, 100},
		{"zero fee", 8, 8, 0, 0, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fs, err := NewFeeSplit(tc.lp, tc.tr)
			require.NoError(t, err)
			lp, treas := fs.Split(uint256.NewInt(tc.fee))
			require.Equal(t, tc.wantLP, lp.Uint64())
			require.Equal(t, tc.wantTreas, treas.Uint64())

			// The split never mints or loses a unit.
			sum := new(uint256.Int).Add(lp, treas)
			require.Equal(t, tc.fee, sum.Uint64())
		})
	}
}

func TestPoolKeyIDDistinct(t *testing.T) {
	base := PoolKey{TokenX: tokenX, TokenY: tokenY, FeeBps: 30, Variant: ConstantProduct}

	byFee := base
	byFee.FeeBps = 100
	byVariant := base
	byVariant.Variant = StableSwap
	byStep := base
	byStep.Variant = LiquidityBook
	byStep.BinStep = 10

	seen := map[[32]byte]bool{}
	for _, k := range []PoolKey{base, byFee, byVariant, byStep} {
		id := k.ID()
		require.False(t, seen[id], "duplicate id for %+v", k)
		seen[id] = true
	}
	require.Equal(t, base.ID(), base.ID())
}
