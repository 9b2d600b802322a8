// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pair

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/amm/fixedpoint"
	"github.com/luxfi/amm/oracle"
)

// Pool owns its bins, share ledgers and observation ring. Every
// state-mutating entry point runs under the instance lock; a re-entrant
// mutation attempt (e.g. from a flash callback) fails with ErrReentrant
// instead of deadlocking. Read-only views take only the short mutex.
type Pool struct {
	// mu protects the locked flag and all pool state
	mu sync.Mutex

	// locked prevents reentrancy during an in-flight mutation
	locked bool

	paused bool

	key  PoolKey
	id   [32]byte
	addr common.Address

	cfg   PoolConfig
	precX *uint256.Int // 10^decimalsX
	precY *uint256.Int

	bins    map[int32]*Bin
	levels  []int32 // sorted initialized levels, book pools only
	shares  map[int32]map[common.Address]*uint256.Int
	tallies map[int32]map[common.Address]*feeTally
	active  int32

	// aggregate reserves across all bins
	totalX *uint256.Int
	totalY *uint256.Int

	// accrued fees, held at the pool account but outside the reserves
	lpFeeX    *uint256.Int
	lpFeeY    *uint256.Int
	protoFeeX *uint256.Int
	protoFeeY *uint256.Int

	ring   *oracle.Ring
	assets AssetTransfer
	clock  Clock
	sink   EventSink
	log    log.Logger
}

// NewPool validates the key and constructs an empty pool.
func NewPool(key PoolKey, cfg PoolConfig, assets AssetTransfer, clock Clock, sink EventSink, logger log.Logger) (*Pool, error) {
	if !tokensSorted(key.TokenX, key.TokenY) {
		return nil, ErrTokensNotSorted
	}
	if key.FeeBps > FeeMax {
		return nil, ErrInvalidFee
	}
	switch key.Variant {
	case ConstantProduct, StableSwap:
		if key.BinStep != 0 {
			return nil, ErrInvalidBinStep
		}
	case LiquidityBook:
		if key.BinStep == 0 {
			return nil, ErrInvalidBinStep
		}
	default:
		return nil, ErrInvalidBinStep
	}
	if cfg.DecimalsX == 0 {
		cfg.DecimalsX = 18
	}
	if cfg.DecimalsY == 0 {
		cfg.DecimalsY = 18
	}
	if cfg.OracleCapacity == 0 {
		cfg.OracleCapacity = oracle.DefaultCapacity
	}
	if cfg.FeeSplit == 0 {
		// Default: half to the LP fee pool, half to the treasury.
		cfg.FeeSplit, _ = NewFeeSplit(8, 8)
	}
	ring, err := oracle.NewRing(cfg.OracleCapacity, cfg.OraclePeriod)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = NopSink{}
	}

	id := key.ID()
	p := &Pool{
		key:       key,
		id:        id,
		addr:      common.BytesToAddress(id[12:]),
		cfg:       cfg,
		precX:     pow10(cfg.DecimalsX),
		precY:     pow10(cfg.DecimalsY),
		bins:      make(map[int32]*Bin),
		shares:    make(map[int32]map[common.Address]*uint256.Int),
		tallies:   make(map[int32]map[common.Address]*feeTally),
		totalX:    uint256.NewInt(0),
		totalY:    uint256.NewInt(0),
		lpFeeX:    uint256.NewInt(0),
		lpFeeY:    uint256.NewInt(0),
		protoFeeX: uint256.NewInt(0),
		protoFeeY: uint256.NewInt(0),
		ring:      ring,
		assets:    assets,
		clock:     clock,
		sink:      sink,
		log:       logger,
	}
	if key.Variant != LiquidityBook {
		p.bins[0] = NewBin()
		p.levels = []int32{0}
	}
	return p, nil
}

func tokensSorted(a, b common.Address) bool {
	return a.Cmp(b) < 0
}

func pow10(d uint8) *uint256.Int {
	v := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint8(0); i < d; i++ {
		v.Mul(v, ten)
	}
	return v
}

// =========================================================================
// Lock / pause
// =========================================================================

func (p *Pool) lock() error {
	p.mu.Lock()
	if p.locked {
		p.mu.Unlock()
		return ErrReentrant
	}
	if p.paused {
		p.mu.Unlock()
		return ErrPaused
	}
	p.locked = true
	p.mu.Unlock()
	return nil
}

func (p *Pool) unlock() {
	p.mu.Lock()
	p.locked = false
	p.mu.Unlock()
}

// SetPaused toggles the administrative pause. Paused pools refuse every
// state-mutating entry point until unpaused.
func (p *Pool) SetPaused(paused bool) {
	p.mu.Lock()
	p.paused = paused
	p.mu.Unlock()
}

// =========================================================================
// Views
// =========================================================================

func (p *Pool) ID() [32]byte            { return p.id }
func (p *Pool) Key() PoolKey            { return p.key }
func (p *Pool) Address() common.Address { return p.addr }
func (p *Pool) FeeBps() uint16          { return p.key.FeeBps }

// ActiveLevel returns the price level currently being traded against.
func (p *Pool) ActiveLevel() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Reserves returns the aggregate reserves across all bins.
func (p *Pool) Reserves() (*uint256.Int, *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalX.Clone(), p.totalY.Clone()
}

// BinAt returns a copy of the bin at the given level.
func (p *Pool) BinAt(level int32) (Bin, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.bins[level]
	if !ok {
		return Bin{}, false
	}
	return Bin{
		ReserveX:      b.ReserveX.Clone(),
		ReserveY:      b.ReserveY.Clone(),
		TotalShares:   b.TotalShares.Clone(),
		FeeGrowthX128: b.FeeGrowthX128.Clone(),
		FeeGrowthY128: b.FeeGrowthY128.Clone(),
	}, true
}

// SharesOf returns an account's share balance at a level.
func (p *Pool) SharesOf(level int32, account common.Address) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	ledger, ok := p.shares[level]
	if !ok {
		return uint256.NewInt(0)
	}
	s, ok := ledger[account]
	if !ok {
		return uint256.NewInt(0)
	}
	return s.Clone()
}

// PriceOf returns the wad-scaled price of a level for book pools.
func (p *Pool) PriceOf(level int32) (*uint256.Int, error) {
	if p.key.Variant != LiquidityBook {
		return nil, ErrWrongVariant
	}
	return fixedpoint.PriceOfLevel(level, p.key.BinStep)
}

// Sample answers a TWAP query over the pool's observation ring.
func (p *Pool) Sample(points, granularity int) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ring.Sample(points, granularity, p.clock.Now())
}

// ProtocolFees returns the accrued treasury fees.
func (p *Pool) ProtocolFees() (*uint256.Int, *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.protoFeeX.Clone(), p.protoFeeY.Clone()
}

// LPFees returns the accrued long-term fee pool.
func (p *Pool) LPFees() (*uint256.Int, *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lpFeeX.Clone(), p.lpFeeY.Clone()
}

// =========================================================================
// Quoting
// =========================================================================

// GetAmountOut quotes the output for an exact input at current state.
func (p *Pool) GetAmountOut(amountIn *uint256.Int, xForY bool) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if amountIn.IsZero() {
		return nil, ErrZeroAmount
	}
	fee, err := fixedpoint.MulDiv(amountIn, uint256.NewInt(uint64(p.key.FeeBps)), uint256.NewInt(FeeDenominator), fixedpoint.RoundUp)
	if err != nil {
		return nil, err
	}
	inAfterFee := new(uint256.Int).Sub(amountIn, fee)

	switch p.key.Variant {
	case ConstantProduct:
		b := p.bins[p.active]
		rIn, rOut := b.ReserveX, b.ReserveY
		if !xForY {
			rIn, rOut = b.ReserveY, b.ReserveX
		}
		return cpAmountOut(inAfterFee, rIn, rOut)
	case StableSwap:
		b := p.bins[p.active]
		if xForY {
			return stableAmountOut(inAfterFee, b.ReserveX, b.ReserveY, p.precX, p.precY)
		}
		return stableAmountOut(inAfterFee, b.ReserveY, b.ReserveX, p.precY, p.precX)
	default:
		return p.bookAmountOut(inAfterFee, xForY)
	}
}

// bookAmountOut walks bins in trade direction quoting at each level price.
func (p *Pool) bookAmountOut(inAfterFee *uint256.Int, xForY bool) (*uint256.Int, error) {
	remaining := inAfterFee.Clone()
	out := uint256.NewInt(0)
	level := p.active
	for !remaining.IsZero() {
		b, ok := p.binWithOut(level, xForY)
		if !ok {
			break
		}
		price, err := fixedpoint.PriceOfLevel(b.level, p.key.BinStep)
		if err != nil {
			return nil, err
		}
		binOut, err := levelAmountOut(remaining, price, xForY)
		if err != nil {
			return nil, err
		}
		avail := b.bin.ReserveY
		if !xForY {
			avail = b.bin.ReserveX
		}
		if binOut.Gt(avail) {
			binOut = avail.Clone()
			used, err := levelAmountIn(binOut, price, xForY)
			if err != nil {
				return nil, err
			}
			if used.Gt(remaining) {
				used = remaining.Clone()
			}
			remaining.Sub(remaining, used)
		} else {
			remaining.Clear()
		}
		out.Add(out, binOut)
		level = b.level
		if xForY {
			level--
		} else {
			level++
		}
	}
	return out, nil
}

// =========================================================================
// Swap
// =========================================================================

// SwapResult reports the realized amounts of a swap.
type SwapResult struct {
	AmountIn    *uint256.Int // gross input detected, fee included
	AmountOut   *uint256.Int
	Fee         *uint256.Int
	ActiveLevel int32
}

// Swap sends amountOut of the requested asset to the recipient, invokes
// the optional flash callback, then verifies that enough input landed and
// that the pool invariant did not decrease. Input is detected from actual
// balance deltas, never from transfer return values. All internal state
// mutates only after every check passes.
func (p *Pool) Swap(amountOut *uint256.Int, xForY bool, to common.Address, data []byte, cb FlashCallback) (*SwapResult, error) {
	if err := p.lock(); err != nil {
		return nil, err
	}
	defer p.unlock()

	if amountOut.IsZero() {
		return nil, ErrInsufficientOutput
	}
	if to == p.key.TokenX || to == p.key.TokenY {
		return nil, ErrInvalidRecipient
	}

	if p.key.Variant == LiquidityBook {
		return p.swapBook(amountOut, xForY, to, data, cb)
	}
	return p.swapPair(amountOut, xForY, to, data, cb)
}

func (p *Pool) swapPair(amountOut *uint256.Int, xForY bool, to common.Address, data []byte, cb FlashCallback) (*SwapResult, error) {
	bin := p.bins[p.active]
	oldRX, oldRY := bin.ReserveX.Clone(), bin.ReserveY.Clone()

	tokenOut := p.key.TokenY
	rOut := oldRY
	if !xForY {
		tokenOut = p.key.TokenX
		rOut = oldRX
	}
	if !amountOut.Lt(rOut) {
		return nil, ErrInsufficientLiquidity
	}

	// Optimistic transfer, then the flash hook. The instance lock stays
	// held: the callback may read but not mutate.
	if err := safeTransfer(p.assets, p.addr, tokenOut, to, amountOut); err != nil {
		return nil, err
	}
	if cb != nil {
		feeX, feeY := p.flashFees(amountOut, xForY)
		if err := cb.FlashCall(feeX, feeY, data); err != nil {
			return nil, fmt.Errorf("flash callback: %w", err)
		}
	}

	balX, balY, err := p.tradableBalances()
	if err != nil {
		return nil, err
	}

	outX, outY := uint256.NewInt(0), amountOut
	if !xForY {
		outX, outY = amountOut, uint256.NewInt(0)
	}
	amountXIn := netIn(balX, oldRX, outX)
	amountYIn := netIn(balY, oldRY, outY)
	grossIn := new(uint256.Int).Add(amountXIn, amountYIn)
	if grossIn.IsZero() {
		return nil, ErrInsufficientInput
	}

	feeX, err := p.feeOn(amountXIn)
	if err != nil {
		return nil, err
	}
	feeY, err := p.feeOn(amountYIn)
	if err != nil {
		return nil, err
	}
	adjX := new(uint256.Int).Sub(balX, feeX)
	adjY := new(uint256.Int).Sub(balY, feeY)

	if err := p.checkInvariant(adjX, adjY, oldRX, oldRY); err != nil {
		return nil, err
	}

	// Commit. Oracle accumulates with the reserves in effect before this
	// trade, then the new reserves replace them.
	p.ring.Update(p.totalX, p.totalY, p.clock.Now())
	p.accrueFees(feeX, feeY)
	p.setBinReserves(p.active, adjX, adjY)

	res := &SwapResult{
		AmountIn:    grossIn,
		AmountOut:   amountOut.Clone(),
		Fee:         new(uint256.Int).Add(feeX, feeY),
		ActiveLevel: p.active,
	}
	p.sink.Emit(SwapEvent{Pool: p.id, Recipient: to, XForY: xForY, AmountIn: res.AmountIn, AmountOut: res.AmountOut, ActiveLevel: p.active})
	p.sink.Emit(SyncEvent{Pool: p.id, ReserveX: p.totalX.Clone(), ReserveY: p.totalY.Clone()})
	p.log.Debug("swap", "pool", p.addr, "xForY", xForY, "in", res.AmountIn.Dec(), "out", res.AmountOut.Dec())
	return res, nil
}

// binStep is one leg of a book swap plan.
type binStepPlan struct {
	level int32
	in    *uint256.Int // in-asset credited to the bin, fee excluded
	out   *uint256.Int
}

func (p *Pool) swapBook(amountOut *uint256.Int, xForY bool, to common.Address, data []byte, cb FlashCallback) (*SwapResult, error) {
	oldTX, oldTY := p.totalX.Clone(), p.totalY.Clone()

	plan, requiredIn, err := p.planBookSwap(amountOut, xForY)
	if err != nil {
		return nil, err
	}

	tokenOut := p.key.TokenY
	if !xForY {
		tokenOut = p.key.TokenX
	}
	if err := safeTransfer(p.assets, p.addr, tokenOut, to, amountOut); err != nil {
		return nil, err
	}
	if cb != nil {
		feeX, feeY := p.flashFees(amountOut, xForY)
		if err := cb.FlashCall(feeX, feeY, data); err != nil {
			return nil, fmt.Errorf("flash callback: %w", err)
		}
	}

	balX, balY, err := p.tradableBalances()
	if err != nil {
		return nil, err
	}
	balIn, totalIn := balY, p.totalY
	if xForY {
		balIn, totalIn = balX, p.totalX
	}
	grossIn := netIn(balIn, totalIn, uint256.NewInt(0))

	// Fee is charged on top of the required in-amount so that the bins
	// receive exactly their planned credit.
	fee, err := p.feeOnTop(requiredIn)
	if err != nil {
		return nil, err
	}
	needed := new(uint256.Int).Add(requiredIn, fee)
	if grossIn.Lt(needed) {
		return nil, ErrInsufficientInput
	}

	// Commit.
	p.ring.Update(oldTX, oldTY, p.clock.Now())
	finalLevel := p.commitBookPlan(plan, xForY, grossIn, fee)
	if xForY {
		p.accrueFees(fee, uint256.NewInt(0))
	} else {
		p.accrueFees(uint256.NewInt(0), fee)
	}

	res := &SwapResult{
		AmountIn:    grossIn,
		AmountOut:   amountOut.Clone(),
		Fee:         fee,
		ActiveLevel: finalLevel,
	}
	p.sink.Emit(SwapEvent{Pool: p.id, Recipient: to, XForY: xForY, AmountIn: res.AmountIn, AmountOut: res.AmountOut, ActiveLevel: finalLevel})
	p.sink.Emit(SyncEvent{Pool: p.id, ReserveX: p.totalX.Clone(), ReserveY: p.totalY.Clone()})
	p.log.Debug("swap", "pool", p.addr, "xForY", xForY, "in", res.AmountIn.Dec(), "out", res.AmountOut.Dec(), "level", finalLevel)
	return res, nil
}

// planBookSwap walks bins in trade direction until the requested output is
// covered, returning the per-bin legs and the total in-amount owed.
func (p *Pool) planBookSwap(amountOut *uint256.Int, xForY bool) ([]binStepPlan, *uint256.Int, error) {
	remaining := amountOut.Clone()
	requiredIn := uint256.NewInt(0)
	var plan []binStepPlan

	level := p.active
	for !remaining.IsZero() {
		b, ok := p.binWithOut(level, xForY)
		if !ok {
			return nil, nil, ErrInsufficientLiquidity
		}
		price, err := fixedpoint.PriceOfLevel(b.level, p.key.BinStep)
		if err != nil {
			return nil, nil, err
		}
		avail := b.bin.ReserveY
		if !xForY {
			avail = b.bin.ReserveX
		}
		take := remaining.Clone()
		if take.Gt(avail) {
			take = avail.Clone()
		}
		in, err := levelAmountIn(take, price, xForY)
		if err != nil {
			return nil, nil, err
		}
		plan = append(plan, binStepPlan{level: b.level, in: in, out: take})
		requiredIn.Add(requiredIn, in)
		remaining.Sub(remaining, take)

		level = b.level
		if xForY {
			level--
		} else {
			level++
		}
	}
	return plan, requiredIn, nil
}

// commitBookPlan applies the plan and moves the active level to the last
// bin traded against. Input beyond the planned credits, net of fee, is
// donated to that bin.
func (p *Pool) commitBookPlan(plan []binStepPlan, xForY bool, grossIn, fee *uint256.Int) int32 {
	planned := uint256.NewInt(0)
	final := p.active
	for _, leg := range plan {
		b := p.bins[leg.level]
		if xForY {
			b.ReserveX.Add(b.ReserveX, leg.in)
			b.ReserveY.Sub(b.ReserveY, leg.out)
			p.totalX.Add(p.totalX, leg.in)
			p.totalY.Sub(p.totalY, leg.out)
		} else {
			b.ReserveY.Add(b.ReserveY, leg.in)
			b.ReserveX.Sub(b.ReserveX, leg.out)
			p.totalY.Add(p.totalY, leg.in)
			p.totalX.Sub(p.totalX, leg.out)
		}
		planned.Add(planned, leg.in)
		final = leg.level
	}

	excess := new(uint256.Int).Sub(grossIn, fee)
	if excess.Gt(planned) {
		excess.Sub(excess, planned)
		b := p.bins[final]
		if xForY {
			b.ReserveX.Add(b.ReserveX, excess)
			p.totalX.Add(p.totalX, excess)
		} else {
			b.ReserveY.Add(b.ReserveY, excess)
			p.totalY.Add(p.totalY, excess)
		}
	}
	p.active = final
	return final
}

// levelBin pairs a bin with its level for walk results.
type levelBin struct {
	level int32
	bin   *Bin
}

// binWithOut finds the nearest bin at or beyond level, in trade direction,
// holding the out asset.
func (p *Pool) binWithOut(level int32, xForY bool) (levelBin, bool) {
	if len(p.levels) == 0 {
		return levelBin{}, false
	}
	if xForY {
		// Taking Y, walking down.
		idx := sort.Search(len(p.levels), func(i int) bool { return p.levels[i] > level })
		for i := idx - 1; i >= 0; i-- {
			lv := p.levels[i]
			if b := p.bins[lv]; !b.ReserveY.IsZero() {
				return levelBin{level: lv, bin: b}, true
			}
		}
		return levelBin{}, false
	}
	// Taking X, walking up.
	idx := sort.Search(len(p.levels), func(i int) bool { return p.levels[i] >= level })
	for i := idx; i < len(p.levels); i++ {
		lv := p.levels[i]
		if b := p.bins[lv]; !b.ReserveX.IsZero() {
			return levelBin{level: lv, bin: b}, true
		}
	}
	return levelBin{}, false
}

// =========================================================================
// Liquidity
// =========================================================================

// Mint credits liquidity shares for assets already transferred to the
// pool account, measured as the balance delta over recorded reserves.
// For book pools the deposit lands in the active bin.
func (p *Pool) Mint(to common.Address) (*uint256.Int, error) {
	if err := p.lock(); err != nil {
		return nil, err
	}
	defer p.unlock()

	balX, balY, err := p.tradableBalances()
	if err != nil {
		return nil, err
	}
	amountX := netIn(balX, p.totalX, uint256.NewInt(0))
	amountY := netIn(balY, p.totalY, uint256.NewInt(0))
	if amountX.IsZero() && amountY.IsZero() {
		return nil, ErrZeroAmount
	}
	return p.mintAt(p.active, to, amountX, amountY)
}

// MintAt credits shares for a deposit at a specific level of a book pool.
// The assets must already sit at the pool account; the balance re-check
// rejects unfunded mints.
func (p *Pool) MintAt(level int32, to common.Address, amountX, amountY *uint256.Int) (*uint256.Int, error) {
	if p.key.Variant != LiquidityBook {
		return nil, ErrWrongVariant
	}
	if err := p.lock(); err != nil {
		return nil, err
	}
	defer p.unlock()

	if amountX.IsZero() && amountY.IsZero() {
		return nil, ErrZeroAmount
	}
	balX, balY, err := p.tradableBalances()
	if err != nil {
		return nil, err
	}
	wantX := new(uint256.Int).Add(p.totalX, amountX)
	wantY := new(uint256.Int).Add(p.totalY, amountY)
	if balX.Lt(wantX) || balY.Lt(wantY) {
		return nil, ErrInsufficientInput
	}
	return p.mintAt(level, to, amountX, amountY)
}

// mintAt performs the share issue. Caller holds the instance lock.
func (p *Pool) mintAt(level int32, to common.Address, amountX, amountY *uint256.Int) (*uint256.Int, error) {
	bin, ok := p.bins[level]
	if !ok {
		bin = NewBin()
		p.bins[level] = bin
		p.insertLevel(level)
	}

	var minted, locked *uint256.Int
	switch p.key.Variant {
	case LiquidityBook:
		price, err := fixedpoint.PriceOfLevel(level, p.key.BinStep)
		if err != nil {
			return nil, err
		}
		minted, err = bookMintShares(bin, amountX, amountY, price)
		if err != nil {
			return nil, err
		}
		locked = uint256.NewInt(0)
	default:
		var err error
		minted, locked, err = pairMintShares(bin, amountX, amountY)
		if err != nil {
			return nil, err
		}
		if p.key.Variant == StableSwap && bin.IsEmpty() {
			newX := new(uint256.Int).Add(bin.ReserveX, amountX)
			newY := new(uint256.Int).Add(bin.ReserveY, amountY)
			k := stableInvariantRaw(newX, newY, p.precX, p.precY)
			if k.Cmp(MinimumK.ToBig()) < 0 {
				return nil, ErrBelowMinimumK
			}
		}
	}

	// Checkpoint fee growth before the share balances change.
	if _, err := p.settleFees(level, to); err != nil {
		return nil, err
	}
	if !locked.IsZero() {
		if _, err := p.settleFees(level, DeadAddress); err != nil {
			return nil, err
		}
		p.creditShares(level, DeadAddress, locked)
		bin.TotalShares.Add(bin.TotalShares, locked)
	}

	p.ring.Update(p.totalX, p.totalY, p.clock.Now())

	bin.ReserveX.Add(bin.ReserveX, amountX)
	bin.ReserveY.Add(bin.ReserveY, amountY)
	bin.TotalShares.Add(bin.TotalShares, minted)
	p.totalX.Add(p.totalX, amountX)
	p.totalY.Add(p.totalY, amountY)
	p.creditShares(level, to, minted)

	p.sink.Emit(MintEvent{Pool: p.id, To: to, Level: level, AmountX: amountX.Clone(), AmountY: amountY.Clone(), Shares: minted.Clone()})
	p.log.Debug("mint", "pool", p.addr, "level", level, "shares", minted.Dec())
	return minted.Clone(), nil
}

// Burn destroys shares at the active level and pays out pro-rata against
// actual balances.
func (p *Pool) Burn(from common.Address, sharesIn *uint256.Int, to common.Address) (*uint256.Int, *uint256.Int, error) {
	return p.BurnAt(p.ActiveLevel(), from, sharesIn, to, uint256.NewInt(0), uint256.NewInt(0))
}

// BurnAt destroys shares at a level, enforcing the caller's minimum
// received amounts before any state change or transfer.
func (p *Pool) BurnAt(level int32, from common.Address, sharesIn *uint256.Int, to common.Address, minX, minY *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if err := p.lock(); err != nil {
		return nil, nil, err
	}
	defer p.unlock()

	bin, ok := p.bins[level]
	if !ok {
		return nil, nil, ErrNoSuchLevel
	}
	held := p.sharesOfLocked(level, from)
	if sharesIn.Gt(held) {
		return nil, nil, ErrInsufficientShares
	}
	amountX, amountY, err := burnAmounts(bin, sharesIn)
	if err != nil {
		return nil, nil, err
	}
	if amountX.Lt(minX) || amountY.Lt(minY) {
		return nil, nil, fmt.Errorf("%w: got %s/%s", ErrSlippage, amountX.Dec(), amountY.Dec())
	}
	if _, err := p.settleFees(level, from); err != nil {
		return nil, nil, err
	}

	// Transfers run before the bookkeeping commit: a failed transfer
	// leaves reserves and share balances untouched.
	if err := safeTransfer(p.assets, p.addr, p.key.TokenX, to, amountX); err != nil {
		return nil, nil, err
	}
	if err := safeTransfer(p.assets, p.addr, p.key.TokenY, to, amountY); err != nil {
		return nil, nil, err
	}

	p.ring.Update(p.totalX, p.totalY, p.clock.Now())

	bin.ReserveX.Sub(bin.ReserveX, amountX)
	bin.ReserveY.Sub(bin.ReserveY, amountY)
	bin.TotalShares.Sub(bin.TotalShares, sharesIn)
	p.totalX.Sub(p.totalX, amountX)
	p.totalY.Sub(p.totalY, amountY)
	p.debitShares(level, from, sharesIn)

	// A fully drained book bin is removed; the slot is reusable by a
	// later deposit.
	if p.key.Variant == LiquidityBook && bin.TotalShares.IsZero() && bin.IsEmpty() {
		delete(p.bins, level)
		p.removeLevel(level)
	}

	p.sink.Emit(BurnEvent{Pool: p.id, From: from, To: to, Level: level, AmountX: amountX.Clone(), AmountY: amountY.Clone(), Shares: sharesIn.Clone()})
	p.log.Debug("burn", "pool", p.addr, "level", level, "shares", sharesIn.Dec())
	return amountX, amountY, nil
}

// =========================================================================
// Reconciliation
// =========================================================================

// Skim transfers any balance in excess of the recorded reserves and fee
// ledgers to the recipient.
func (p *Pool) Skim(to common.Address) error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.unlock()

	balX, balY, err := p.tradableBalances()
	if err != nil {
		return err
	}
	excessX := netIn(balX, p.totalX, uint256.NewInt(0))
	excessY := netIn(balY, p.totalY, uint256.NewInt(0))
	if err := safeTransfer(p.assets, p.addr, p.key.TokenX, to, excessX); err != nil {
		return err
	}
	return safeTransfer(p.assets, p.addr, p.key.TokenY, to, excessY)
}

// Sync forces the recorded reserves to match actual balances, attributing
// the difference to the active bin.
func (p *Pool) Sync() error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.unlock()

	balX, balY, err := p.tradableBalances()
	if err != nil {
		return err
	}
	bin, ok := p.bins[p.active]
	if !ok {
		return ErrNoSuchLevel
	}

	othersX := new(uint256.Int).Sub(p.totalX, bin.ReserveX)
	othersY := new(uint256.Int).Sub(p.totalY, bin.ReserveY)
	if balX.Lt(othersX) || balY.Lt(othersY) {
		return ErrInsufficientLiquidity
	}

	p.ring.Update(p.totalX, p.totalY, p.clock.Now())

	bin.ReserveX = new(uint256.Int).Sub(balX, othersX)
	bin.ReserveY = new(uint256.Int).Sub(balY, othersY)
	p.totalX = balX.Clone()
	p.totalY = balY.Clone()

	p.sink.Emit(SyncEvent{Pool: p.id, ReserveX: p.totalX.Clone(), ReserveY: p.totalY.Clone()})
	return nil
}

// CollectProtocolFees pays the accrued treasury fees out to the
// configured treasury account.
func (p *Pool) CollectProtocolFees() (*uint256.Int, *uint256.Int, error) {
	if err := p.lock(); err != nil {
		return nil, nil, err
	}
	defer p.unlock()

	fx, fy := p.protoFeeX.Clone(), p.protoFeeY.Clone()
	if err := safeTransfer(p.assets, p.addr, p.key.TokenX, p.cfg.Treasury, fx); err != nil {
		return nil, nil, err
	}
	if err := safeTransfer(p.assets, p.addr, p.key.TokenY, p.cfg.Treasury, fy); err != nil {
		return nil, nil, err
	}
	p.protoFeeX.Clear()
	p.protoFeeY.Clear()
	return fx, fy, nil
}

// ClaimFees pays an account the fees its shares in a bin have earned
// since its last checkpoint. The amount owed is fixed by the growth
// checkpoint, so repeated claims pay nothing extra.
func (p *Pool) ClaimFees(level int32, account, to common.Address) (*uint256.Int, *uint256.Int, error) {
	if err := p.lock(); err != nil {
		return nil, nil, err
	}
	defer p.unlock()

	tally, err := p.settleFees(level, account)
	if err != nil {
		return nil, nil, err
	}
	if tally.owedX.IsZero() && tally.owedY.IsZero() {
		return nil, nil, ErrInsufficientShares
	}
	cx, cy := tally.owedX.Clone(), tally.owedY.Clone()

	if err := safeTransfer(p.assets, p.addr, p.key.TokenX, to, cx); err != nil {
		return nil, nil, err
	}
	if err := safeTransfer(p.assets, p.addr, p.key.TokenY, to, cy); err != nil {
		return nil, nil, err
	}

	tally.owedX.Clear()
	tally.owedY.Clear()
	p.lpFeeX.Sub(p.lpFeeX, cx)
	p.lpFeeY.Sub(p.lpFeeY, cy)
	p.retireTally(level, account)
	return cx, cy, nil
}

// =========================================================================
// Internal helpers
// =========================================================================

// tradableBalances returns the pool account balances net of the fee
// ledgers, which share the account but are not reserves.
func (p *Pool) tradableBalances() (*uint256.Int, *uint256.Int, error) {
	balX, err := p.assets.BalanceOf(p.key.TokenX, p.addr)
	if err != nil {
		return nil, nil, err
	}
	balY, err := p.assets.BalanceOf(p.key.TokenY, p.addr)
	if err != nil {
		return nil, nil, err
	}
	feesX := new(uint256.Int).Add(p.lpFeeX, p.protoFeeX)
	feesY := new(uint256.Int).Add(p.lpFeeY, p.protoFeeY)
	if balX.Lt(feesX) || balY.Lt(feesY) {
		return nil, nil, ErrInsufficientLiquidity
	}
	return balX.Sub(balX, feesX), balY.Sub(balY, feesY), nil
}

// netIn computes max(0, bal - (reserve - out)).
func netIn(bal, reserve, out *uint256.Int) *uint256.Int {
	base := new(uint256.Int).Sub(reserve, out)
	if bal.Gt(base) {
		return new(uint256.Int).Sub(bal, base)
	}
	return uint256.NewInt(0)
}

// feeOn computes the fee taken from an input amount, rounded up.
func (p *Pool) feeOn(amount *uint256.Int) (*uint256.Int, error) {
	return fixedpoint.MulDiv(amount, uint256.NewInt(uint64(p.key.FeeBps)), uint256.NewInt(FeeDenominator), fixedpoint.RoundUp)
}

// feeOnTop computes the fee owed on top of a net amount so that the net
// amount survives a feeOn deduction: fee = net*bps/(den-bps), rounded up.
func (p *Pool) feeOnTop(net *uint256.Int) (*uint256.Int, error) {
	bps := uint64(p.key.FeeBps)
	return fixedpoint.MulDiv(net, uint256.NewInt(bps), uint256.NewInt(FeeDenominator-bps), fixedpoint.RoundUp)
}

// flashFees reports the fee owed on borrowed output, per asset.
func (p *Pool) flashFees(amountOut *uint256.Int, xForY bool) (*uint256.Int, *uint256.Int) {
	fee, err := p.feeOn(amountOut)
	if err != nil {
		fee = uint256.NewInt(0)
	}
	if xForY {
		return uint256.NewInt(0), fee
	}
	return fee, uint256.NewInt(0)
}

// checkInvariant verifies the pool curve did not decrease.
func (p *Pool) checkInvariant(newX, newY, oldX, oldY *uint256.Int) error {
	switch p.key.Variant {
	case StableSwap:
		before := stableInvariantRaw(oldX, oldY, p.precX, p.precY)
		after := stableInvariantRaw(newX, newY, p.precX, p.precY)
		if after.Cmp(before) < 0 {
			return ErrInvariant
		}
	default:
		before := new(big.Int).Mul(oldX.ToBig(), oldY.ToBig())
		after := new(big.Int).Mul(newX.ToBig(), newY.ToBig())
		if after.Cmp(before) < 0 {
			return ErrInvariant
		}
	}
	return nil
}

// feeGrowthShift is the Q128 scale of the per-share fee growth
// accumulators.
const feeGrowthShift = 128

// feeTally checkpoints an account's view of a bin's fee growth together
// with the fees already earned against earlier checkpoints.
type feeTally struct {
	growthX *uint256.Int
	growthY *uint256.Int
	owedX   *uint256.Int
	owedY   *uint256.Int
}

func newFeeTally() *feeTally {
	return &feeTally{
		growthX: uint256.NewInt(0),
		growthY: uint256.NewInt(0),
		owedX:   uint256.NewInt(0),
		owedY:   uint256.NewInt(0),
	}
}

// accrueFees splits a fee pair between the LP fee pool and the treasury
// ledger. The LP portion is spread over the active bin's shares as Q128
// growth per share; with nobody holding the bin it falls through to the
// treasury.
func (p *Pool) accrueFees(feeX, feeY *uint256.Int) {
	if feeX.IsZero() && feeY.IsZero() {
		return
	}
	lpX, trX := p.cfg.FeeSplit.Split(feeX)
	lpY, trY := p.cfg.FeeSplit.Split(feeY)

	credited := false
	if bin, ok := p.bins[p.active]; ok && !bin.TotalShares.IsZero() {
		gx, errX := fixedpoint.ShlDiv(lpX, bin.TotalShares, feeGrowthShift, fixedpoint.RoundDown)
		gy, errY := fixedpoint.ShlDiv(lpY, bin.TotalShares, feeGrowthShift, fixedpoint.RoundDown)
		if errX == nil && errY == nil {
			bin.FeeGrowthX128.Add(bin.FeeGrowthX128, gx)
			bin.FeeGrowthY128.Add(bin.FeeGrowthY128, gy)
			credited = true
		}
	}
	if credited {
		p.lpFeeX.Add(p.lpFeeX, lpX)
		p.lpFeeY.Add(p.lpFeeY, lpY)
	} else {
		trX = new(uint256.Int).Add(trX, lpX)
		trY = new(uint256.Int).Add(trY, lpY)
		lpX, lpY = uint256.NewInt(0), uint256.NewInt(0)
	}
	p.protoFeeX.Add(p.protoFeeX, trX)
	p.protoFeeY.Add(p.protoFeeY, trY)
	p.sink.Emit(FeesEvent{Pool: p.id, LPX: lpX, LPY: lpY, TreasuryX: trX, TreasuryY: trY})
}

// settleFees rolls a bin's fee growth since an account's last checkpoint
// into the fees it is owed, then re-checkpoints. A tally is created on
// first contact at the bin's current growth so the account only earns
// from that point on.
func (p *Pool) settleFees(level int32, account common.Address) (*feeTally, error) {
	ledger, ok := p.tallies[level]
	if !ok {
		ledger = make(map[common.Address]*feeTally)
		p.tallies[level] = ledger
	}
	bin, hasBin := p.bins[level]
	t, ok := ledger[account]
	if !ok {
		t = newFeeTally()
		if hasBin {
			t.growthX.Set(bin.FeeGrowthX128)
			t.growthY.Set(bin.FeeGrowthY128)
		}
		ledger[account] = t
		return t, nil
	}
	if !hasBin {
		return t, nil
	}
	held := p.sharesOfLocked(level, account)
	if !held.IsZero() {
		// A drained and recreated bin restarts growth at zero; the
		// stale checkpoint is simply replaced below.
		if bin.FeeGrowthX128.Gt(t.growthX) {
			delta := new(uint256.Int).Sub(bin.FeeGrowthX128, t.growthX)
			earned, err := fixedpoint.MulShr(held, delta, feeGrowthShift, fixedpoint.RoundDown)
			if err != nil {
				return nil, err
			}
			t.owedX.Add(t.owedX, earned)
		}
		if bin.FeeGrowthY128.Gt(t.growthY) {
			delta := new(uint256.Int).Sub(bin.FeeGrowthY128, t.growthY)
			earned, err := fixedpoint.MulShr(held, delta, feeGrowthShift, fixedpoint.RoundDown)
			if err != nil {
				return nil, err
			}
			t.owedY.Add(t.owedY, earned)
		}
	}
	t.growthX.Set(bin.FeeGrowthX128)
	t.growthY.Set(bin.FeeGrowthY128)
	return t, nil
}

// retireTally drops an account's tally once it holds neither shares nor
// unclaimed fees at a level.
func (p *Pool) retireTally(level int32, account common.Address) {
	if !p.sharesOfLocked(level, account).IsZero() {
		return
	}
	if ledger, ok := p.tallies[level]; ok {
		if t, ok := ledger[account]; ok && t.owedX.IsZero() && t.owedY.IsZero() {
			delete(ledger, account)
			if len(ledger) == 0 {
				delete(p.tallies, level)
			}
		}
	}
}

func (p *Pool) setBinReserves(level int32, x, y *uint256.Int) {
	bin := p.bins[level]
	p.totalX.Sub(p.totalX, bin.ReserveX)
	p.totalY.Sub(p.totalY, bin.ReserveY)
	bin.ReserveX = x.Clone()
	bin.ReserveY = y.Clone()
	p.totalX.Add(p.totalX, bin.ReserveX)
	p.totalY.Add(p.totalY, bin.ReserveY)
}

func (p *Pool) creditShares(level int32, account common.Address, amount *uint256.Int) {
	ledger, ok := p.shares[level]
	if !ok {
		ledger = make(map[common.Address]*uint256.Int)
		p.shares[level] = ledger
	}
	cur, ok := ledger[account]
	if !ok {
		cur = uint256.NewInt(0)
		ledger[account] = cur
	}
	cur.Add(cur, amount)
}

func (p *Pool) debitShares(level int32, account common.Address, amount *uint256.Int) {
	if ledger, ok := p.shares[level]; ok {
		if cur, ok := ledger[account]; ok {
			cur.Sub(cur, amount)
			if cur.IsZero() {
				delete(ledger, account)
			}
		}
	}
}

func (p *Pool) sharesOfLocked(level int32, account common.Address) *uint256.Int {
	if ledger, ok := p.shares[level]; ok {
		if cur, ok := ledger[account]; ok {
			return cur
		}
	}
	return uint256.NewInt(0)
}

func (p *Pool) insertLevel(level int32) {
	idx := sort.Search(len(p.levels), func(i int) bool { return p.levels[i] >= level })
	if idx < len(p.levels) && p.levels[idx] == level {
		return
	}
	p.levels = append(p.levels, 0)
	copy(p.levels[idx+1:], p.levels[idx:])
	p.levels[idx] = level
}

func (p *Pool) removeLevel(level int32) {
	idx := sort.Search(len(p.levels), func(i int) bool { return p.levels[i] >= level })
	if idx < len(p.levels) && p.levels[idx] == level {
		p.levels = append(p.levels[:idx], p.levels[idx+1:]...)
	}
}
