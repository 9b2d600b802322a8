// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package book

import (
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/amm/fixedpoint"
	"github.com/luxfi/amm/pair"
)

// Manager tracks limit orders across registered liquidity-book pools.
// Pool shares backing open orders are held under the manager's account;
// positions and orders record who owns what. A single lock serializes
// all state-mutating entry points, with the same reentrancy rule as
// pools.
type Manager struct {
	mu     sync.Mutex
	locked bool

	addr                common.Address
	executorFeeShareBps uint16

	pools     map[[32]byte]*pair.Pool
	positions map[OrderKey]map[uint64]*Position
	current   map[OrderKey]uint64
	orders    map[OrderKey]map[common.Address]*Order

	assets  pair.AssetTransfer
	wrapper pair.NativeWrapper
	sink    EventSink
	log     log.Logger
}

// NewManager wires an order manager to its account and asset backend.
// wrapper may be nil when native-asset batches are not needed.
func NewManager(addr common.Address, executorFeeShareBps uint16, assets pair.AssetTransfer, wrapper pair.NativeWrapper, sink EventSink, logger log.Logger) *Manager {
	if sink == nil {
		sink = NopSink{}
	}
	return &Manager{
		addr:                addr,
		executorFeeShareBps: executorFeeShareBps,
		pools:               make(map[[32]byte]*pair.Pool),
		positions:           make(map[OrderKey]map[uint64]*Position),
		current:             make(map[OrderKey]uint64),
		orders:              make(map[OrderKey]map[common.Address]*Order),
		assets:              assets,
		wrapper:             wrapper,
		sink:                sink,
		log:                 logger,
	}
}

// Bind attaches the asset backend and optional native wrapper. Must run
// before the first order; nil leaves the existing wiring in place.
func (m *Manager) Bind(assets pair.AssetTransfer, wrapper pair.NativeWrapper, sink EventSink, logger log.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if assets != nil {
		m.assets = assets
	}
	if wrapper != nil {
		m.wrapper = wrapper
	}
	if sink != nil {
		m.sink = sink
	}
	if logger != nil {
		m.log = logger
	}
}

// SetExecutorFeeShare updates the executor's cut of the pool fee, in
// basis points of basis points.
func (m *Manager) SetExecutorFeeShare(bps uint16) {
	m.mu.Lock()
	m.executorFeeShareBps = bps
	m.mu.Unlock()
}

func (m *Manager) feeShareBps() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executorFeeShareBps
}

// RegisterPool makes a pool's levels available for orders. Only
// liquidity-book pools have discrete levels to park orders at.
func (m *Manager) RegisterPool(p *pair.Pool) error {
	if p.Key().Variant != pair.LiquidityBook {
		return pair.ErrWrongVariant
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[p.ID()] = p
	return nil
}

func (m *Manager) lock() error {
	m.mu.Lock()
	if m.locked {
		m.mu.Unlock()
		return ErrReentrant
	}
	m.locked = true
	m.mu.Unlock()
	return nil
}

func (m *Manager) unlock() {
	m.mu.Lock()
	m.locked = false
	m.mu.Unlock()
}

// =========================================================================
// Views
// =========================================================================

// Address returns the manager's account, under which order-backing pool
// shares and pending payouts are held.
func (m *Manager) Address() common.Address { return m.addr }

// PositionAt returns a copy of the open or latest position at a slot.
func (m *Manager) PositionAt(key OrderKey, id uint64) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[key][id]
	if !ok {
		return Position{}, false
	}
	return Position{
		ID:              pos.ID,
		Liquidity:       pos.Liquidity.Clone(),
		WithdrawnAmount: pos.WithdrawnAmount.Clone(),
		IsWithdrawn:     pos.IsWithdrawn,
	}, true
}

// OrderOf returns a copy of an account's order at a slot.
func (m *Manager) OrderOf(key OrderKey, owner common.Address) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[key][owner]
	if !ok {
		return Order{}, false
	}
	return Order{PositionID: o.PositionID, Liquidity: o.Liquidity.Clone()}, true
}

// =========================================================================
// Single operations
// =========================================================================

// PlaceOrder deposits amount at a level strictly beyond the pool's
// active level on the order's side. Returns false, without error, when
// the level is not placeable; an in-range order joins the slot's open
// position (allocating a fresh one if the previous was executed). A
// stale executed claim by the same owner at the slot is settled first.
func (m *Manager) PlaceOrder(owner common.Address, poolID [32]byte, side Side, level int32, amount *uint256.Int) (bool, uint64, error) {
	if err := m.lock(); err != nil {
		return false, 0, err
	}
	defer m.unlock()
	return m.placeOrder(owner, poolID, side, level, amount, false)
}

// CancelOrder withdraws an open order's liquidity from the pool back to
// the owner at current bin composition, subject to minimum-received
// guards.
func (m *Manager) CancelOrder(owner common.Address, poolID [32]byte, side Side, level int32, minX, minY *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if err := m.lock(); err != nil {
		return nil, nil, err
	}
	defer m.unlock()
	return m.cancelOrder(owner, poolID, side, level, minX, minY, false)
}

// ExecuteOrders withdraws the entire open position at a crossed level
// and pays the executor incentive to the caller. Returns false, without
// error, when the level has not been crossed or the position was already
// executed, so speculative callers never revert.
func (m *Manager) ExecuteOrders(executor common.Address, poolID [32]byte, side Side, level int32) (bool, uint64, error) {
	if err := m.lock(); err != nil {
		return false, 0, err
	}
	defer m.unlock()
	return m.executeOrders(executor, poolID, side, level)
}

// ClaimOrder pays the owner their pro-rata share of an executed
// position's withdrawn amount. If the position is executable but not yet
// executed, it is executed first, with the claimer as executor.
func (m *Manager) ClaimOrder(owner common.Address, poolID [32]byte, side Side, level int32) (*uint256.Int, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.unlock()
	return m.claimOrder(owner, poolID, side, level, false)
}

// =========================================================================
// Batch operations
// =========================================================================

// PlaceParams describes one item of a batch placement.
type PlaceParams struct {
	Pool      [32]byte
	Side      Side
	Level     int32
	Amount    *uint256.Int
	UseNative bool
}

// PlaceResult reports one batch item's outcome.
type PlaceResult struct {
	Placed     bool
	PositionID uint64
	Err        error
}

// PlaceOrderBatch places a list of orders. Native amounts are wrapped up
// front in one aggregate deposit. Each item's outcome is independent; a
// zero-length batch is rejected outright.
func (m *Manager) PlaceOrderBatch(owner common.Address, items []PlaceParams) ([]PlaceResult, error) {
	if len(items) == 0 {
		return nil, ErrEmptyBatch
	}
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.unlock()

	native := uint256.NewInt(0)
	for _, it := range items {
		if it.UseNative && it.Amount != nil {
			native.Add(native, it.Amount)
		}
	}
	if !native.IsZero() {
		if m.wrapper == nil {
			return nil, ErrTransferFailed
		}
		if err := m.wrapper.Deposit(owner, native); err != nil {
			return nil, err
		}
	}

	out := make([]PlaceResult, len(items))
	for i, it := range items {
		placed, pid, err := m.placeOrder(owner, it.Pool, it.Side, it.Level, it.Amount, it.UseNative)
		out[i] = PlaceResult{Placed: placed, PositionID: pid, Err: err}
	}
	return out, nil
}

// CancelParams describes one item of a batch cancel.
type CancelParams struct {
	Pool      [32]byte
	Side      Side
	Level     int32
	MinX      *uint256.Int
	MinY      *uint256.Int
	UseNative bool
}

// CancelResult reports one batch item's outcome.
type CancelResult struct {
	AmountX *uint256.Int
	AmountY *uint256.Int
	Err     error
}

// CancelOrderBatch cancels a list of orders independently.
func (m *Manager) CancelOrderBatch(owner common.Address, items []CancelParams) ([]CancelResult, error) {
	if len(items) == 0 {
		return nil, ErrEmptyBatch
	}
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.unlock()

	out := make([]CancelResult, len(items))
	for i, it := range items {
		x, y, err := m.cancelOrder(owner, it.Pool, it.Side, it.Level, it.MinX, it.MinY, it.UseNative)
		out[i] = CancelResult{AmountX: x, AmountY: y, Err: err}
	}
	return out, nil
}

// ExecParams describes one item of a batch execution.
type ExecParams struct {
	Pool  [32]byte
	Side  Side
	Level int32
}

// ExecResult reports one batch item's outcome.
type ExecResult struct {
	Executed   bool
	PositionID uint64
	Err        error
}

// ExecuteOrderBatch executes a list of slots speculatively; uncrossed or
// already-executed slots report false without aborting the rest.
func (m *Manager) ExecuteOrderBatch(executor common.Address, items []ExecParams) ([]ExecResult, error) {
	if len(items) == 0 {
		return nil, ErrEmptyBatch
	}
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.unlock()

	out := make([]ExecResult, len(items))
	for i, it := range items {
		executed, pid, err := m.executeOrders(executor, it.Pool, it.Side, it.Level)
		out[i] = ExecResult{Executed: executed, PositionID: pid, Err: err}
	}
	return out, nil
}

// ClaimParams describes one item of a batch claim.
type ClaimParams struct {
	Pool      [32]byte
	Side      Side
	Level     int32
	UseNative bool
}

// ClaimResult reports one batch item's outcome.
type ClaimResult struct {
	Amount *uint256.Int
	Err    error
}

// ClaimOrderBatch claims a list of orders independently. Native payouts
// are accumulated and unwrapped in one aggregate withdrawal at the end.
func (m *Manager) ClaimOrderBatch(owner common.Address, items []ClaimParams) ([]ClaimResult, error) {
	if len(items) == 0 {
		return nil, ErrEmptyBatch
	}
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.unlock()

	native := uint256.NewInt(0)
	out := make([]ClaimResult, len(items))
	for i, it := range items {
		amount, err := m.claimOrder(owner, it.Pool, it.Side, it.Level, it.UseNative)
		out[i] = ClaimResult{Amount: amount, Err: err}
		if err != nil || !it.UseNative || m.wrapper == nil {
			continue
		}
		// Only payouts actually left wrapped count toward the aggregate.
		if pool, ok := m.pools[it.Pool]; ok && m.payoutToken(pool, it.Side) == m.wrapper.Token() {
			native.Add(native, amount)
		}
	}
	if !native.IsZero() && m.wrapper != nil {
		// Wrapped payouts were left under the manager account; hand the
		// aggregate over and unwrap it in one call.
		if err := m.pay(m.wrapper.Token(), owner, native); err != nil {
			return out, err
		}
		if err := m.wrapper.Withdraw(owner, native); err != nil {
			return out, err
		}
	}
	return out, nil
}

// =========================================================================
// Internals (manager lock held)
// =========================================================================

func (m *Manager) placeOrder(owner common.Address, poolID [32]byte, side Side, level int32, amount *uint256.Int, useNative bool) (bool, uint64, error) {
	pool, ok := m.pools[poolID]
	if !ok {
		return false, 0, ErrUnknownPool
	}
	if amount == nil || amount.IsZero() {
		return false, 0, ErrZeroAmount
	}
	if useNative && (m.wrapper == nil || m.wrapper.Token() != m.depositToken(pool, side)) {
		return false, 0, ErrTransferFailed
	}

	// Strictly beyond active on the order's side; inside is rejected so
	// instantly-fillable orders cannot bypass swap fees.
	active := pool.ActiveLevel()
	if (side == Bid && level >= active) || (side == Ask && level <= active) {
		return false, 0, nil
	}

	key := OrderKey{Pool: poolID, Side: side, Level: level}

	// A leftover order against an executed position is settled before
	// the new liquidity is recorded, so nothing is silently lost.
	if prev, ok := m.orders[key][owner]; ok {
		if pos := m.positions[key][prev.PositionID]; pos != nil && pos.IsWithdrawn {
			if _, err := m.settleClaim(owner, pool, key, prev, pos, useNative); err != nil {
				return false, 0, err
			}
		}
	}

	token := m.depositToken(pool, side)
	if err := m.pull(token, owner, pool.Address(), amount); err != nil {
		return false, 0, err
	}
	amountX, amountY := uint256.NewInt(0), amount
	if side == Ask {
		amountX, amountY = amount, uint256.NewInt(0)
	}
	shares, err := pool.MintAt(level, m.addr, amountX, amountY)
	if err != nil {
		return false, 0, err
	}

	pos := m.openPosition(key)
	pos.Liquidity.Add(pos.Liquidity, shares)

	ledger, ok := m.orders[key]
	if !ok {
		ledger = make(map[common.Address]*Order)
		m.orders[key] = ledger
	}
	order, ok := ledger[owner]
	if !ok {
		order = &Order{PositionID: pos.ID, Liquidity: uint256.NewInt(0)}
		ledger[owner] = order
	}
	order.PositionID = pos.ID
	order.Liquidity.Add(order.Liquidity, shares)

	m.sink.Emit(OrderPlacedEvent{Key: key, Owner: owner, PositionID: pos.ID, Amount: amount.Clone(), Liquidity: shares.Clone()})
	m.log.Debug("order placed", "side", side, "level", level, "position", pos.ID, "amount", amount.Dec())
	return true, pos.ID, nil
}

func (m *Manager) cancelOrder(owner common.Address, poolID [32]byte, side Side, level int32, minX, minY *uint256.Int, useNative bool) (*uint256.Int, *uint256.Int, error) {
	pool, ok := m.pools[poolID]
	if !ok {
		return nil, nil, ErrUnknownPool
	}
	key := OrderKey{Pool: poolID, Side: side, Level: level}
	order, ok := m.orders[key][owner]
	if !ok {
		return nil, nil, ErrNoOrder
	}
	pos := m.positions[key][order.PositionID]
	if pos == nil || pos.IsWithdrawn {
		return nil, nil, ErrOrderAlreadyExecuted
	}
	if minX == nil {
		minX = uint256.NewInt(0)
	}
	if minY == nil {
		minY = uint256.NewInt(0)
	}

	to := owner
	if useNative && m.wrapper != nil {
		to = m.addr
	}
	x, y, err := pool.BurnAt(level, m.addr, order.Liquidity, to, minX, minY)
	if err != nil {
		return nil, nil, err
	}
	if useNative && m.wrapper != nil {
		if err := m.unwrapPayout(pool, owner, x, y); err != nil {
			return nil, nil, err
		}
	}

	pos.Liquidity.Sub(pos.Liquidity, order.Liquidity)
	delete(m.orders[key], owner)
	if pos.Liquidity.IsZero() {
		delete(m.positions[key], pos.ID)
	}

	m.sink.Emit(OrderCancelledEvent{Key: key, Owner: owner, AmountX: x.Clone(), AmountY: y.Clone()})
	return x, y, nil
}

func (m *Manager) executeOrders(executor common.Address, poolID [32]byte, side Side, level int32) (bool, uint64, error) {
	pool, ok := m.pools[poolID]
	if !ok {
		return false, 0, ErrUnknownPool
	}
	key := OrderKey{Pool: poolID, Side: side, Level: level}
	pos := m.positions[key][m.current[key]]
	if pos == nil || pos.IsWithdrawn || pos.Liquidity.IsZero() {
		return false, 0, nil
	}
	if !crossed(pool.ActiveLevel(), side, level) {
		return false, 0, nil
	}
	if err := m.executePosition(executor, pool, key, pos); err != nil {
		return false, 0, err
	}
	return true, pos.ID, nil
}

func (m *Manager) claimOrder(owner common.Address, poolID [32]byte, side Side, level int32, useNative bool) (*uint256.Int, error) {
	pool, ok := m.pools[poolID]
	if !ok {
		return nil, ErrUnknownPool
	}
	key := OrderKey{Pool: poolID, Side: side, Level: level}
	order, ok := m.orders[key][owner]
	if !ok {
		return nil, ErrNoOrder
	}
	pos := m.positions[key][order.PositionID]
	if pos == nil {
		return nil, ErrNotClaimable
	}
	if !pos.IsWithdrawn {
		if !crossed(pool.ActiveLevel(), side, level) {
			return nil, ErrNotClaimable
		}
		if err := m.executePosition(owner, pool, key, pos); err != nil {
			return nil, err
		}
	}
	return m.settleClaim(owner, pool, key, order, pos, useNative)
}

// executePosition burns the whole position out of the pool, pays the
// executor incentive and freezes the payout for claims.
func (m *Manager) executePosition(executor common.Address, pool *pair.Pool, key OrderKey, pos *Position) error {
	zero := uint256.NewInt(0)
	x, y, err := pool.BurnAt(key.Level, m.addr, pos.Liquidity, m.addr, zero, zero)
	if err != nil {
		return err
	}
	// A crossed bid bin normally holds only X and a crossed ask bin only
	// Y; any residue of the other asset (deposited into the bin after the
	// cross) is returned to the pool account, where Skim or Sync can
	// reconcile it.
	withdrawn, residue := x, y
	residueToken := pool.Key().TokenY
	if key.Side == Ask {
		withdrawn, residue = y, x
		residueToken = pool.Key().TokenX
	}
	if !residue.IsZero() {
		if err := m.pay(residueToken, pool.Address(), residue); err != nil {
			return err
		}
	}

	fee, err := m.executorFee(pool, withdrawn)
	if err != nil {
		return err
	}
	if !fee.IsZero() {
		if err := m.pay(m.payoutToken(pool, key.Side), executor, fee); err != nil {
			return err
		}
		m.sink.Emit(ExecutionFeePaidEvent{Key: key, Executor: executor, Amount: fee.Clone()})
	}

	pos.WithdrawnAmount = new(uint256.Int).Sub(withdrawn, fee)
	pos.IsWithdrawn = true

	m.sink.Emit(OrderExecutedEvent{Key: key, PositionID: pos.ID, Withdrawn: pos.WithdrawnAmount.Clone()})
	m.log.Debug("position executed", "side", key.Side, "level", key.Level, "position", pos.ID, "withdrawn", pos.WithdrawnAmount.Dec())
	return nil
}

// settleClaim pays the owner their pro-rata slice and retires the order.
// Decrementing both the remaining amount and liquidity keeps the sum of
// floor-rounded claims within the withdrawn total.
func (m *Manager) settleClaim(owner common.Address, pool *pair.Pool, key OrderKey, order *Order, pos *Position, useNative bool) (*uint256.Int, error) {
	payout, err := fixedpoint.MulDiv(order.Liquidity, pos.WithdrawnAmount, pos.Liquidity, fixedpoint.RoundDown)
	if err != nil {
		return nil, err
	}

	// Pay first; a failed transfer leaves the order and position intact
	// so the claim can be retried.
	token := m.payoutToken(pool, key.Side)
	if useNative && m.wrapper != nil && m.wrapper.Token() == token {
		// Left wrapped under the manager account; the batch caller
		// unwraps the aggregate.
	} else if err := m.pay(token, owner, payout); err != nil {
		return nil, err
	}

	pos.WithdrawnAmount.Sub(pos.WithdrawnAmount, payout)
	pos.Liquidity.Sub(pos.Liquidity, order.Liquidity)
	positionID := order.PositionID
	delete(m.orders[key], owner)
	if pos.Liquidity.IsZero() {
		delete(m.positions[key], pos.ID)
	}

	m.sink.Emit(OrderClaimedEvent{Key: key, Owner: owner, PositionID: positionID, Amount: payout.Clone()})
	return payout, nil
}

// openPosition returns the slot's open position, allocating the next ID
// when the slot is empty or its last position was executed.
func (m *Manager) openPosition(key OrderKey) *Position {
	slot, ok := m.positions[key]
	if !ok {
		slot = make(map[uint64]*Position)
		m.positions[key] = slot
	}
	pos := slot[m.current[key]]
	if pos == nil || pos.IsWithdrawn {
		m.current[key]++
		pos = &Position{
			ID:              m.current[key],
			Liquidity:       uint256.NewInt(0),
			WithdrawnAmount: uint256.NewInt(0),
		}
		slot[pos.ID] = pos
	}
	return pos
}

// crossed reports whether the active level has moved strictly through
// the order's level in its execution direction.
func crossed(active int32, side Side, level int32) bool {
	if side == Bid {
		return active < level
	}
	return active > level
}

// depositToken is the asset an order parks: Y for bids, X for asks.
func (m *Manager) depositToken(pool *pair.Pool, side Side) common.Address {
	if side == Bid {
		return pool.Key().TokenY
	}
	return pool.Key().TokenX
}

// payoutToken is the asset an executed order yields: X for bids, Y for asks.
func (m *Manager) payoutToken(pool *pair.Pool, side Side) common.Address {
	if side == Bid {
		return pool.Key().TokenX
	}
	return pool.Key().TokenY
}

// executorFee scales the pool fee by the configured executor share:
// withdrawn * poolFeeBps * shareBps / 10^8, rounded down.
func (m *Manager) executorFee(pool *pair.Pool, withdrawn *uint256.Int) (*uint256.Int, error) {
	bps := uint64(pool.FeeBps()) * uint64(m.feeShareBps())
	if bps == 0 {
		return uint256.NewInt(0), nil
	}
	den := uint64(pair.FeeDenominator) * uint64(pair.FeeDenominator)
	return fixedpoint.MulDiv(withdrawn, uint256.NewInt(bps), uint256.NewInt(den), fixedpoint.RoundDown)
}

func (m *Manager) pull(token, from, to common.Address, amount *uint256.Int) error {
	ok, err := m.assets.TransferFrom(token, from, to, amount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTransferFailed
	}
	return nil
}

func (m *Manager) pay(token common.Address, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	ok, err := m.assets.TransferFrom(token, m.addr, to, amount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTransferFailed
	}
	return nil
}

// unwrapPayout unwraps the wrapped-native portion of a cancel payout.
func (m *Manager) unwrapPayout(pool *pair.Pool, owner common.Address, x, y *uint256.Int) error {
	key := pool.Key()
	wrapped := m.wrapper.Token()
	for _, leg := range []struct {
		token  common.Address
		amount *uint256.Int
	}{{key.TokenX, x}, {key.TokenY, y}} {
		if leg.amount.IsZero() {
			continue
		}
		if err := m.pay(leg.token, owner, leg.amount); err != nil {
			return err
		}
		if leg.token == wrapped {
			if err := m.wrapper.Withdraw(owner, leg.amount); err != nil {
				return err
			}
		}
	}
	return nil
}
