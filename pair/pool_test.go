// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pair

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"github.com/stretchr/testify/require"
)

// =========================================================================
// Test doubles
// =========================================================================

// mockAssets is an in-memory token ledger. TransferFrom performs a plain
// balance move with no allowance bookkeeping, matching the host-trusted
// module semantics of the boundary.
type mockAssets struct {
	balances map[common.Address]map[common.Address]*uint256.Int
	failing  map[common.Address]bool
}

func newMockAssets() *mockAssets {
	return &mockAssets{
		balances: make(map[common.Address]map[common.Address]*uint256.Int),
		failing:  make(map[common.Address]bool),
	}
}

// setFail makes every transfer of a token soft-fail, leaving balances
// untouched.
func (a *mockAssets) setFail(token common.Address, fail bool) {
	a.failing[token] = fail
}

func (a *mockAssets) mint(token, account common.Address, amount uint64) {
	a.mintBig(token, account, uint256.NewInt(amount))
}

func (a *mockAssets) mintBig(token, account common.Address, amount *uint256.Int) {
	ledger, ok := a.balances[token]
	if !ok {
		ledger = make(map[common.Address]*uint256.Int)
		a.balances[token] = ledger
	}
	cur, ok := ledger[account]
	if !ok {
		cur = uint256.NewInt(0)
		ledger[account] = cur
	}
	cur.Add(cur, amount)
}

func (a *mockAssets) Transfer(token, to common.Address, amount *uint256.Int) (bool, error) {
	return false, nil // unused: modules move balances via TransferFrom
}

func (a *mockAssets) TransferFrom(token, from, to common.Address, amount *uint256.Int) (bool, error) {
	if a.failing[token] {
		return false, nil
	}
	ledger, ok := a.balances[token]
	if !ok {
		return false, nil
	}
	src, ok := ledger[from]
	if !ok || src.Lt(amount) {
		return false, nil
	}
	src.Sub(src, amount)
	dst, ok := ledger[to]
	if !ok {
		dst = uint256.NewInt(0)
		ledger[to] = dst
	}
	dst.Add(dst, amount)
	return true, nil
}

func (a *mockAssets) BalanceOf(token, account common.Address) (*uint256.Int, error) {
	if ledger, ok := a.balances[token]; ok {
		if cur, ok := ledger[account]; ok {
			return cur.Clone(), nil
		}
	}
	return uint256.NewInt(0), nil
}

func (a *mockAssets) Approve(token, spender common.Address, amount *uint256.Int) (bool, error) {
	return true, nil
}

// manualClock is advanced explicitly by tests.
type manualClock struct {
	now uint64
}

func (c *manualClock) Now() uint64      { return c.now }
func (c *manualClock) advance(d uint64) { c.now += d }

// recordSink captures emitted events in order.
type recordSink struct {
	events []Event
}

func (s *recordSink) Emit(ev Event) { s.events = append(s.events, ev) }

func (s *recordSink) named(name string) []Event {
	var out []Event
	for _, ev := range s.events {
		if ev.EventName() == name {
			out = append(out, ev)
		}
	}
	return out
}

// flashFn adapts a closure to the flash callback boundary.
type flashFn func(feeX, feeY *uint256.Int, data []byte) error

func (f flashFn) FlashCall(feeX, feeY *uint256.Int, data []byte) error {
	return f(feeX, feeY, data)
}

var (
	tokenX   = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	tokenY   = common.HexToAddress("0x0000000000000000000000000000000000000b02")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

type testEnv struct {
	pool   *Pool
	assets *mockAssets
	clock  *manualClock
	sink   *recordSink
}

func newTestPool(t *testing.T, variant Variant, feeBps, binStep uint16) *testEnv {
	t.Helper()
	assets := newMockAssets()
	clock := &manualClock{now: 1_000_000}
	sink := &recordSink{}
	pool, err := NewPool(
		PoolKey{TokenX: tokenX, TokenY: tokenY, FeeBps: feeBps, Variant: variant, BinStep: binStep},
		PoolConfig{Treasury: treasury},
		assets, clock, sink, log.NewTestLogger(log.InfoLevel),
	)
	require.NoError(t, err)
	return &testEnv{pool: pool, assets: assets, clock: clock, sink: sink}
}

// fundAndMint deposits amounts at the pool account and mints to owner.
func (e *testEnv) fundAndMint(t *testing.T, owner common.Address, amountX, amountY uint64) *uint256.Int {
	t.Helper()
	e.assets.mint(tokenX, e.pool.Address(), amountX)
	e.assets.mint(tokenY, e.pool.Address(), amountY)
	shares, err := e.pool.Mint(owner)
	require.NoError(t, err)
	return shares
}

func (e *testEnv) balance(t *testing.T, token, account common.Address) uint64 {
	t.Helper()
	bal, err := e.assets.BalanceOf(token, account)
	require.NoError(t, err)
	return bal.Uint64()
}

// =========================================================================
// Construction
// =========================================================================

func TestNewPoolValidation(t *testing.T) {
	assets := newMockAssets()
	clock := &manualClock{}
	logger := log.NewTestLogger(log.InfoLevel)

	tests := []struct {
		name string
		key  PoolKey
		want error
	}{
		{
			name: "unsorted tokens",
			key:  PoolKey{TokenX: tokenY, TokenY: tokenX, Variant: ConstantProduct},
			want: ErrTokensNotSorted,
		},
		{
			name: "identical tokens",
			key:  PoolKey{TokenX: tokenX, TokenY: tokenX, Variant: ConstantProduct},
			want: ErrTokensNotSorted,
		},
		{
			name: "fee above cap",
			key:  PoolKey{TokenX: tokenX, TokenY: tokenY, FeeBps: FeeMax + 1, Variant: ConstantProduct},
			want: ErrInvalidFee,
		},
		{
			name: "bin step on pair variant",
			key:  PoolKey{TokenX: tokenX, TokenY: tokenY, Variant: ConstantProduct, BinStep: 10},
			want: ErrInvalidBinStep,
		},
		{
			name: "book variant without bin step",
			key:  PoolKey{TokenX: tokenX, TokenY: tokenY, Variant: LiquidityBook},
			want: ErrInvalidBinStep,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPool(tc.key, PoolConfig{}, assets, clock, nil, logger)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestHubCreateAndLookup(t *testing.T) {
	assets := newMockAssets()
	hub := NewHub(assets, &manualClock{now: 1}, nil, log.NewTestLogger(log.InfoLevel))

	key := PoolKey{TokenX: tokenX, TokenY: tokenY, FeeBps: 30, Variant: ConstantProduct}
	pool, err := hub.CreatePool(key, PoolConfig{Treasury: treasury})
	require.NoError(t, err)

	got, err := hub.GetPoolByKey(key)
	require.NoError(t, err)
	require.Same(t, pool, got)

	_, err = hub.CreatePool(key, PoolConfig{Treasury: treasury})
	require.ErrorIs(t, err, ErrPoolExists)

	other := key
	other.FeeBps = 100
	_, err = hub.GetPoolByKey(other)
	require.ErrorIs(t, err, ErrPoolNotFound)

	require.Equal(t, 1, hub.PoolCount())
}

// =========================================================================
// Mint / Burn
// =========================================================================

func TestMintFirstDeposit(t *testing.T) {
	env := newTestPool(t, ConstantProduct, 0, 0)

	shares := env.fundAndMint(t, alice, 10_000, 10_000)
	require.Equal(t, uint64(9000), shares.Uint64())

	// The minimum liquidity stays locked at the dead address.
	require.Equal(t, uint64(1000), env.pool.SharesOf(0, DeadAddress).Uint64())
	require.Equal(t, uint64(9000), env.pool.SharesOf(0, alice).Uint64())

	rx, ry := env.pool.Reserves()
	require.Equal(t, uint64(10_000), rx.Uint64())
	require.Equal(t, uint64(10_000), ry.Uint64())
}

func TestMintSecondDeposit(t *testing.T) {
	env := newTestPool(t, ConstantProduct, 0, 0)
	env.fundAndMint(t, alice, 10_000, 10_000)

	shares := env.fundAndMint(t, bob, 1000, 1000)
	require.Equal(t, uint64(1000), shares.Uint64())

	bin, ok := env.pool.BinAt(0)
	require.True(t, ok)
	require.Equal(t, uint64(11_000), bin.TotalShares.Uint64())
}

func TestMintWithoutDeposit(t *testing.T) {
	env := newTestPool(t, ConstantProduct, 0, 0)
	_, err := env.pool.Mint(alice)
	require.ErrorIs(t, err, ErrZeroAmount)
}

func TestBurnProRata(t *testing.T) {
	env := newTestPool(t, ConstantProduct, 0, 0)
	env.fundAndMint(t, alice, 10_000, 10_000)

	x, y, err := env.pool.Burn(alice, uint256.NewInt(9000), bob)
	require.NoError(t, err)
	require.Equal(t, uint64(9000), x.Uint64())
	require.Equal(t, uint64(9000), y.Uint64())
	require.Equal(t, uint64(9000), env.balance(t, tokenX, bob))
	require.Equal(t, uint64(9000), env.balance(t, tokenY, bob))

	// Locked liquidity keeps the pool alive.
	rx, ry := env.pool.Reserves()
	require.Equal(t, uint64(1000), rx.Uint64())
	require.Equal(t, uint64(1000), ry.Uint64())
}

func TestBurnMoreThanHeld(t *testing.T) {
	env := newTestPool(t, ConstantProduct, 0, 0)
	env.fundAndMint(t, alice, 10_000, 10_000)

	_, _, err := env.pool.Burn(alice, uint256.NewInt(9001), alice)
	require.ErrorIs(t, err, ErrInsufficientShares)
}

func TestBurnSlippageGuard(t *testing.T) {
	env := newTestPool(t, ConstantProduct, 0, 0)
	env.fundAndMint(t, alice, 10_000, 10_000)

	_, _, err := env.pool.BurnAt(0, alice, uint256.NewInt(1000), alice,
		uint256.NewInt(1001), uint256.NewInt(0))
	require.ErrorIs(t, err, ErrSlippage)
}

// =========================================================================
// Swap
// =========================================================================

// swapSetup builds the 1000/1000 zero-fee pool: mint 10k, burn back to
// the locked floor.
func swapSetup(t *testing.T) *testEnv {
	t.Helper()
	env := newTestPool(t, ConstantProduct, 0, 0)
	env.fundAndMint(t, alice, 10_000, 10_000)
	_, _, err := env.pool.Burn(alice, uint256.NewInt(9000), alice)
	require.NoError(t, err)
	return env
}

func TestSwapExactOutput(t *testing.T) {
	env := swapSetup(t)

	// 100 X in buys exactly 90 Y at 1000/1000 with zero fee.
	env.assets.mint(tokenX, env.pool.Address(), 100)
	res, err := env.pool.Swap(uint256.NewInt(90), true, bob, nil, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(100), res.AmountIn.Uint64())
	require.Equal(t, uint64(90), res.AmountOut.Uint64())
	require.Equal(t, uint64(90), env.balance(t, tokenY, bob))

	rx, ry := env.pool.Reserves()
	require.Equal(t, uint64(1100), rx.Uint64())
	require.Equal(t, uint64(910), ry.Uint64())

	require.Len(t, env.sink.named("Swap"), 1)
	require.NotEmpty(t, env.sink.named("Sync"))
}

func TestSwapQuoteMatchesExecution(t *testing.T) {
	env := newTestPool(t, ConstantProduct, 100, 0) // 1% fee
	env.fundAndMint(t, alice, 10_000, 10_000)

	quote, err := env.pool.GetAmountOut(uint256.NewInt(1000), true)
	require.NoError(t, err)
	require.Equal(t, uint64(900), quote.Uint64())

	env.assets.mint(tokenX, env.pool.Address(), 1000)
	res, err := env.pool.Swap(quote, true, bob, nil, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(10), res.Fee.Uint64())
}

func TestSwapUnderpaidInvariant(t *testing.T) {
	env := swapSetup(t)

	// 89 in cannot buy 90 out: 1089 * 910 < 1000 * 1000.
	env.assets.mint(tokenX, env.pool.Address(), 89)
	_, err := env.pool.Swap(uint256.NewInt(90), true, bob, nil, nil)
	require.ErrorIs(t, err, ErrInvariant)
}

func TestSwapInputEdgeCases(t *testing.T) {
	env := swapSetup(t)

	_, err := env.pool.Swap(uint256.NewInt(0), true, bob, nil, nil)
	require.ErrorIs(t, err, ErrInsufficientOutput)

	_, err = env.pool.Swap(uint256.NewInt(1000), true, bob, nil, nil)
	require.ErrorIs(t, err, ErrInsufficientLiquidity)

	_, err = env.pool.Swap(uint256.NewInt(90), true, tokenY, nil, nil)
	require.ErrorIs(t, err, ErrInvalidRecipient)

	_, err = env.pool.Swap(uint256.NewInt(90), true, bob, nil, nil)
	require.ErrorIs(t, err, ErrInsufficientInput)
}

func TestSwapFeeAccrualAndSplit(t *testing.T) {
	env := newTestPool(t, ConstantProduct, 100, 0) // 1% fee, default 8/8 split
	env.fundAndMint(t, alice, 10_000, 10_000)

	env.assets.mint(tokenX, env.pool.Address(), 1000)
	_, err := env.pool.Swap(uint256.NewInt(900), true, bob, nil, nil)
	require.NoError(t, err)

	lpX, _ := env.pool.LPFees()
	protoX, _ := env.pool.ProtocolFees()
	require.Equal(t, uint64(5), lpX.Uint64())
	require.Equal(t, uint64(5), protoX.Uint64())

	// Fees live outside the reserves.
	rx, _ := env.pool.Reserves()
	require.Equal(t, uint64(10_990), rx.Uint64())
	require.Equal(t, uint64(11_000), env.balance(t, tokenX, env.pool.Address()))

	fx, _, err := env.pool.CollectProtocolFees()
	require.NoError(t, err)
	require.Equal(t, uint64(5), fx.Uint64())
	require.Equal(t, uint64(5), env.balance(t, tokenX, treasury))

	cx, _, err := env.pool.ClaimFees(0, alice, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(4), cx.Uint64()) // 5 * 9000/10000 floored
}

func TestClaimFeesRepeatedCannotOverdraw(t *testing.T) {
	env := newTestPool(t, ConstantProduct, 100, 0) // 1% fee, default 8/8 split
	env.fundAndMint(t, alice, 10_000, 10_000)

	env.assets.mint(tokenX, env.pool.Address(), 1000)
	_, err := env.pool.Swap(uint256.NewInt(900), true, bob, nil, nil)
	require.NoError(t, err)

	cx, _, err := env.pool.ClaimFees(0, alice, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(4), cx.Uint64())

	// A second claim with no new fee growth pays nothing.
	_, _, err = env.pool.ClaimFees(0, alice, alice)
	require.ErrorIs(t, err, ErrInsufficientShares)
	require.Equal(t, uint64(4), env.balance(t, tokenX, alice))
}

func TestClaimFeesTwoProvidersSplitByShares(t *testing.T) {
	env := newTestPool(t, ConstantProduct, 100, 0)
	env.fundAndMint(t, alice, 10_000, 10_000)
	env.fundAndMint(t, bob, 10_000, 10_000)

	env.assets.mint(tokenX, env.pool.Address(), 1000)
	_, err := env.pool.Swap(uint256.NewInt(900), true, bob, nil, nil)
	require.NoError(t, err)

	// 5-unit LP pool over 20_000 shares: alice and bob each hold
	// 10_000 (alice's figure net of the locked minimum, rounded down).
	ax, _, err := env.pool.ClaimFees(0, alice, alice)
	require.NoError(t, err)
	bx, _, err := env.pool.ClaimFees(0, bob, bob)
	require.NoError(t, err)
	require.Equal(t, uint64(2), ax.Uint64())
	require.Equal(t, uint64(2), bx.Uint64())

	_, _, err = env.pool.ClaimFees(0, alice, alice)
	require.ErrorIs(t, err, ErrInsufficientShares)
	_, _, err = env.pool.ClaimFees(0, bob, bob)
	require.ErrorIs(t, err, ErrInsufficientShares)
}

func TestClaimFeesSurvivesBurn(t *testing.T) {
	env := newTestPool(t, ConstantProduct, 100, 0)
	shares := env.fundAndMint(t, alice, 10_000, 10_000)

	env.assets.mint(tokenX, env.pool.Address(), 1000)
	_, err := env.pool.Swap(uint256.NewInt(900), true, bob, nil, nil)
	require.NoError(t, err)

	// Burning checkpoints the earned fees; they stay claimable after
	// the shares are gone.
	_, _, err = env.pool.Burn(alice, shares, alice)
	require.NoError(t, err)

	cx, _, err := env.pool.ClaimFees(0, alice, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(4), cx.Uint64())

	_, _, err = env.pool.ClaimFees(0, alice, alice)
	require.ErrorIs(t, err, ErrInsufficientShares)
}

func feeSetup(t *testing.T) *testEnv {
	t.Helper()
	env := newTestPool(t, ConstantProduct, 100, 0)
	env.fundAndMint(t, alice, 10_000, 10_000)
	env.assets.mint(tokenX, env.pool.Address(), 1000)
	_, err := env.pool.Swap(uint256.NewInt(900), true, bob, nil, nil)
	require.NoError(t, err)
	return env
}

func TestCollectProtocolFeesTransferFailure(t *testing.T) {
	env := feeSetup(t)

	env.assets.setFail(tokenX, true)
	_, _, err := env.pool.CollectProtocolFees()
	require.ErrorIs(t, err, ErrTransferFailed)

	// The ledger is untouched and the collect can be retried.
	protoX, _ := env.pool.ProtocolFees()
	require.Equal(t, uint64(5), protoX.Uint64())

	env.assets.setFail(tokenX, false)
	fx, _, err := env.pool.CollectProtocolFees()
	require.NoError(t, err)
	require.Equal(t, uint64(5), fx.Uint64())
	require.Equal(t, uint64(5), env.balance(t, tokenX, treasury))
}

func TestClaimFeesTransferFailure(t *testing.T) {
	env := feeSetup(t)

	env.assets.setFail(tokenX, true)
	_, _, err := env.pool.ClaimFees(0, alice, alice)
	require.ErrorIs(t, err, ErrTransferFailed)

	env.assets.setFail(tokenX, false)
	cx, _, err := env.pool.ClaimFees(0, alice, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(4), cx.Uint64())
	require.Equal(t, uint64(4), env.balance(t, tokenX, alice))
}

func TestBurnTransferFailure(t *testing.T) {
	env := newTestPool(t, ConstantProduct, 0, 0)
	shares := env.fundAndMint(t, alice, 10_000, 10_000)

	env.assets.setFail(tokenX, true)
	_, _, err := env.pool.Burn(alice, shares, alice)
	require.ErrorIs(t, err, ErrTransferFailed)

	// Reserves and shares survive the failed payout.
	rx, ry := env.pool.Reserves()
	require.Equal(t, uint64(10_000), rx.Uint64())
	require.Equal(t, uint64(10_000), ry.Uint64())
	require.Equal(t, shares.Uint64(), env.pool.SharesOf(0, alice).Uint64())

	env.assets.setFail(tokenX, false)
	ax, ay, err := env.pool.Burn(alice, shares, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(9_000), ax.Uint64())
	require.Equal(t, uint64(9_000), ay.Uint64())
}

func TestBookClaimFeesAtSettledLevel(t *testing.T) {
	env := newTestPool(t, LiquidityBook, 100, 100) // 1% fee, 1% bin step

	env.assets.mint(tokenY, env.pool.Address(), 1000)
	_, err := env.pool.MintAt(-1, alice, uint256.NewInt(0), uint256.NewInt(1000))
	require.NoError(t, err)
	env.assets.mint(tokenX, env.pool.Address(), 1000)
	_, err = env.pool.MintAt(0, bob, uint256.NewInt(1000), uint256.NewInt(0))
	require.NoError(t, err)

	// 400 Y out of level -1 costs 405 X plus the on-top fee of 5; the
	// swap settles at -1 and the fee growth lands on that bin.
	env.assets.mint(tokenX, env.pool.Address(), 410)
	res, err := env.pool.Swap(uint256.NewInt(400), true, bob, nil, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(5), res.Fee.Uint64())
	require.Equal(t, int32(-1), env.pool.ActiveLevel())

	// LP slice 2 of 5 at the default split; alice holds all of bin -1
	// and collects it net of Q128 floor dust. Bob's bin earned nothing.
	cx, _, err := env.pool.ClaimFees(-1, alice, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cx.Uint64())

	_, _, err = env.pool.ClaimFees(-1, alice, alice)
	require.ErrorIs(t, err, ErrInsufficientShares)
	_, _, err = env.pool.ClaimFees(0, bob, bob)
	require.ErrorIs(t, err, ErrInsufficientShares)
}

func TestStableQuoteBeatsConstantProduct(t *testing.T) {
	env := newTestPool(t, StableSwap, 0, 0)

	big := uint256.NewInt(1000)
	big.Mul(big, fixedWad())
	env.assets.mintBig(tokenX, env.pool.Address(), big)
	env.assets.mintBig(tokenY, env.pool.Address(), big)
	_, err := env.pool.Mint(alice)
	require.NoError(t, err)

	in := uint256.NewInt(10)
	in.Mul(in, fixedWad())
	quote, err := env.pool.GetAmountOut(in, true)
	require.NoError(t, err)

	cpQuote, err := cpAmountOut(in, big, big)
	require.NoError(t, err)
	require.True(t, quote.Gt(cpQuote))
	require.True(t, quote.Lt(in))
}

func fixedWad() *uint256.Int {
	return uint256.NewInt(1_000_000_000_000_000_000)
}

// =========================================================================
// Flash callbacks and reentrancy
// =========================================================================

func TestFlashSwapRepaysSameAsset(t *testing.T) {
	env := newTestPool(t, ConstantProduct, 100, 0) // 1% fee
	env.fundAndMint(t, alice, 10_000, 10_000)
	env.assets.mint(tokenY, bob, 100)

	var seenFeeY uint64
	cb := flashFn(func(feeX, feeY *uint256.Int, data []byte) error {
		seenFeeY = feeY.Uint64()
		// Repay principal plus fee in the borrowed asset.
		repay := new(uint256.Int).AddUint64(uint256.NewInt(90), seenFeeY)
		ok, err := env.assets.TransferFrom(tokenY, bob, env.pool.Address(), repay)
		if err != nil || !ok {
			return ErrTransferFailed
		}
		return nil
	})

	res, err := env.pool.Swap(uint256.NewInt(90), true, bob, []byte("flash"), cb)
	require.NoError(t, err)
	require.Equal(t, uint64(1), seenFeeY)
	require.Equal(t, uint64(91), res.AmountIn.Uint64())

	// Borrower netted the principal and paid only the fee.
	require.Equal(t, uint64(90+100-91), env.balance(t, tokenY, bob))
}

func TestFlashCallbackErrorAborts(t *testing.T) {
	env := swapSetup(t)

	cb := flashFn(func(_, _ *uint256.Int, _ []byte) error {
		return ErrTransferFailed
	})
	_, err := env.pool.Swap(uint256.NewInt(90), true, bob, nil, cb)
	require.ErrorIs(t, err, ErrTransferFailed)

	// Internal accounting never moved.
	rx, ry := env.pool.Reserves()
	require.Equal(t, uint64(1000), rx.Uint64())
	require.Equal(t, uint64(1000), ry.Uint64())
}

func TestReentrantSwapBlocked(t *testing.T) {
	env := swapSetup(t)

	cb := flashFn(func(_, _ *uint256.Int, _ []byte) error {
		_, err := env.pool.Swap(uint256.NewInt(1), false, bob, nil, nil)
		return err
	})
	_, err := env.pool.Swap(uint256.NewInt(90), true, bob, nil, cb)
	require.ErrorIs(t, err, ErrReentrant)
}

func TestReentrantMintBlocked(t *testing.T) {
	env := swapSetup(t)

	cb := flashFn(func(_, _ *uint256.Int, _ []byte) error {
		_, err := env.pool.Mint(bob)
		return err
	})
	_, err := env.pool.Swap(uint256.NewInt(90), true, bob, nil, cb)
	require.ErrorIs(t, err, ErrReentrant)
}

func TestReadOnlyQueriesDuringFlash(t *testing.T) {
	env := swapSetup(t)
	env.assets.mint(tokenX, env.pool.Address(), 100)

	cb := flashFn(func(_, _ *uint256.Int, _ []byte) error {
		// Views stay available while the mutation lock is held.
		if lvl := env.pool.ActiveLevel(); lvl != 0 {
			return ErrNoSuchLevel
		}
		_, _ = env.pool.Reserves()
		return nil
	})
	_, err := env.pool.Swap(uint256.NewInt(90), true, bob, []byte{}, cb)
	require.NoError(t, err)
}

// =========================================================================
// Pause, skim, sync
// =========================================================================

func TestPauseBlocksMutations(t *testing.T) {
	env := swapSetup(t)
	env.pool.SetPaused(true)

	env.assets.mint(tokenX, env.pool.Address(), 100)
	_, err := env.pool.Swap(uint256.NewInt(90), true, bob, nil, nil)
	require.ErrorIs(t, err, ErrPaused)

	_, err = env.pool.Mint(alice)
	require.ErrorIs(t, err, ErrPaused)

	env.pool.SetPaused(false)
	_, err = env.pool.Swap(uint256.NewInt(90), true, bob, nil, nil)
	require.NoError(t, err)
}

func TestSkimRecoversExcess(t *testing.T) {
	env := swapSetup(t)

	env.assets.mint(tokenX, env.pool.Address(), 55)
	require.NoError(t, env.pool.Skim(bob))
	require.Equal(t, uint64(55), env.balance(t, tokenX, bob))

	rx, _ := env.pool.Reserves()
	require.Equal(t, uint64(1000), rx.Uint64())
}

func TestSyncAdoptsBalances(t *testing.T) {
	env := swapSetup(t)

	env.assets.mint(tokenX, env.pool.Address(), 55)
	require.NoError(t, env.pool.Sync())

	rx, ry := env.pool.Reserves()
	require.Equal(t, uint64(1055), rx.Uint64())
	require.Equal(t, uint64(1000), ry.Uint64())
}

// =========================================================================
// Oracle integration
// =========================================================================

func TestPoolOracleSample(t *testing.T) {
	env := swapSetup(t)

	// Two full periods at flat 1:1 reserves.
	env.clock.advance(1800)
	env.fundAndMint(t, alice, 1000, 1000)
	env.clock.advance(1800)
	env.fundAndMint(t, alice, 1000, 1000)
	env.clock.advance(10)

	price, err := env.pool.Sample(1, 1)
	require.NoError(t, err)
	require.Equal(t, fixedWad(), price)
}

func TestPoolOracleInsufficientHistory(t *testing.T) {
	env := swapSetup(t)
	_, err := env.pool.Sample(5, 1)
	require.Error(t, err)
}

// =========================================================================
// Liquidity-book pools
// =========================================================================

func TestBookMintAtAndSwapWalk(t *testing.T) {
	env := newTestPool(t, LiquidityBook, 0, 100)

	// Y liquidity one level below the active price.
	env.assets.mint(tokenY, env.pool.Address(), 1000)
	shares, err := env.pool.MintAt(-1, alice, uint256.NewInt(0), uint256.NewInt(1000))
	require.NoError(t, err)
	require.False(t, shares.IsZero())

	// Buy 500 Y: the truncated level price makes the cost 506 X, one unit
	// above the ideal ceil(500 * 1.01).
	quote, err := env.pool.GetAmountOut(uint256.NewInt(506), true)
	require.NoError(t, err)
	require.Equal(t, uint64(500), quote.Uint64())

	env.assets.mint(tokenX, env.pool.Address(), 506)
	res, err := env.pool.Swap(uint256.NewInt(500), true, bob, nil, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(506), res.AmountIn.Uint64())
	require.Equal(t, int32(-1), res.ActiveLevel)
	require.Equal(t, int32(-1), env.pool.ActiveLevel())

	bin, ok := env.pool.BinAt(-1)
	require.True(t, ok)
	require.Equal(t, uint64(500), bin.ReserveY.Uint64())
	require.Equal(t, uint64(506), bin.ReserveX.Uint64())
}

func TestBookSwapWalksMultipleLevels(t *testing.T) {
	env := newTestPool(t, LiquidityBook, 0, 100)

	env.assets.mint(tokenY, env.pool.Address(), 2000)
	_, err := env.pool.MintAt(-1, alice, uint256.NewInt(0), uint256.NewInt(1000))
	require.NoError(t, err)
	_, err = env.pool.MintAt(-2, alice, uint256.NewInt(0), uint256.NewInt(1000))
	require.NoError(t, err)

	// 1500 Y spans the -1 bin entirely and half of -2.
	env.assets.mint(tokenX, env.pool.Address(), 2000)
	res, err := env.pool.Swap(uint256.NewInt(1500), true, bob, nil, nil)
	require.NoError(t, err)
	require.Equal(t, int32(-2), res.ActiveLevel)
	require.Equal(t, uint64(1500), env.balance(t, tokenY, bob))

	binLow, ok := env.pool.BinAt(-2)
	require.True(t, ok)
	require.Equal(t, uint64(500), binLow.ReserveY.Uint64())
}

func TestBookSwapInsufficientDepth(t *testing.T) {
	env := newTestPool(t, LiquidityBook, 0, 100)

	env.assets.mint(tokenY, env.pool.Address(), 100)
	_, err := env.pool.MintAt(-1, alice, uint256.NewInt(0), uint256.NewInt(100))
	require.NoError(t, err)

	_, err = env.pool.Swap(uint256.NewInt(101), true, bob, nil, nil)
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestBookBurnAtRemovesEmptyBin(t *testing.T) {
	env := newTestPool(t, LiquidityBook, 0, 100)

	env.assets.mint(tokenY, env.pool.Address(), 1000)
	shares, err := env.pool.MintAt(3, alice, uint256.NewInt(0), uint256.NewInt(1000))
	require.NoError(t, err)

	_, y, err := env.pool.BurnAt(3, alice, shares, alice, uint256.NewInt(0), uint256.NewInt(0))
	require.NoError(t, err)
	require.Equal(t, uint64(1000), y.Uint64())

	_, ok := env.pool.BinAt(3)
	require.False(t, ok)
}

func TestMintAtRejectsPairVariant(t *testing.T) {
	env := newTestPool(t, ConstantProduct, 0, 0)
	_, err := env.pool.MintAt(1, alice, uint256.NewInt(1), uint256.NewInt(1))
	require.ErrorIs(t, err, ErrWrongVariant)
}

func TestMintAtRequiresFunding(t *testing.T) {
	env := newTestPool(t, LiquidityBook, 0, 100)
	_, err := env.pool.MintAt(-1, alice, uint256.NewInt(0), uint256.NewInt(1000))
	require.ErrorIs(t, err, ErrInsufficientInput)
}
