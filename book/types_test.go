// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package book

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOrderKeyHashDistinct(t *testing.T) {
	base := OrderKey{Pool: [32]byte{1}, Side: Bid, Level: -5}

	bySide := base
	bySide.Side = Ask
	byLevel := base
	byLevel.Level = 5
	byPool := base
	byPool.Pool = [32]byte{2}

	seen := map[[32]byte]bool{}
	for _, k := range []OrderKey{base, bySide, byLevel, byPool} {
		h := k.Hash()
		require.False(t, seen[h], "duplicate hash for %+v", k)
		seen[h] = true
	}
	require.Equal(t, base.Hash(), base.Hash())
}

func TestSideString(t *testing.T) {
	require.Equal(t, "bid", Bid.String())
	require.Equal(t, "ask", Ask.String())
}
