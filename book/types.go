// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package book implements a limit-order layer over liquidity-book pools.
// An order parks single-sided liquidity in a bin strictly beyond the
// active level; once swaps move the active level through that bin the
// deposit has been converted to the opposite asset, and the position can
// be executed and claimed.
package book

import (
	"encoding/binary"
	"errors"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// Side of an order relative to the active level.
type Side uint8

const (
	// Bid deposits Y below the active level and buys X as the price
	// falls through it.
	Bid Side = iota
	// Ask deposits X above the active level and buys Y as the price
	// rises through it.
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// OrderKey addresses one order slot: a pool, a side and a price level.
type OrderKey struct {
	Pool  [32]byte
	Side  Side
	Level int32
}

// Hash packs the key into a fixed-width digest for O(1) lookup and
// event indexing.
func (k OrderKey) Hash() [32]byte {
	var buf [37]byte
	copy(buf[:32], k.Pool[:])
	buf[32] = byte(k.Side)
	binary.BigEndian.PutUint32(buf[33:], uint32(k.Level))
	return blake3.Sum256(buf[:])
}

// Position is a batch of orders at one slot sharing an execution fate.
// It accumulates liquidity while open; execution converts it in one shot
// and from then on it only pays out claims.
type Position struct {
	ID uint64

	// Liquidity is the pool shares still attributable to unclaimed
	// orders. Claims and cancels decrement it; the position is fully
	// claimed when it reaches zero.
	Liquidity *uint256.Int

	// WithdrawnAmount is the unclaimed remainder of the single-asset
	// payout, set at execution net of the executor fee.
	WithdrawnAmount *uint256.Int

	IsWithdrawn bool
}

// Order is one user's stake in a position.
type Order struct {
	PositionID uint64
	Liquidity  *uint256.Int
}

// Errors - input validation
var (
	ErrZeroAmount  = errors.New("book: zero amount")
	ErrEmptyBatch  = errors.New("book: empty batch")
	ErrUnknownPool = errors.New("book: unknown pool")
	ErrWrongSide   = errors.New("book: level not beyond active on order side")
)

// Errors - state conflicts
var (
	ErrReentrant            = errors.New("book: reentrancy detected")
	ErrNoOrder              = errors.New("book: no order at slot")
	ErrOrderAlreadyExecuted = errors.New("book: position already executed")
	ErrNotClaimable         = errors.New("book: position not claimable")
	ErrTransferFailed       = errors.New("book: token transfer failed")
)

// Event is implemented by all order-book events.
type Event interface {
	EventName() string
}

// EventSink receives order-book events.
type EventSink interface {
	Emit(ev Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// OrderPlacedEvent is emitted when liquidity joins a position.
type OrderPlacedEvent struct {
	Key        OrderKey
	Owner      common.Address
	PositionID uint64
	Amount     *uint256.Int
	Liquidity  *uint256.Int
}

func (OrderPlacedEvent) EventName() string { return "OrderPlaced" }

// OrderCancelledEvent is emitted when an open order is withdrawn.
type OrderCancelledEvent struct {
	Key     OrderKey
	Owner   common.Address
	AmountX *uint256.Int
	AmountY *uint256.Int
}

func (OrderCancelledEvent) EventName() string { return "OrderCancelled" }

// OrderExecutedEvent is emitted when a crossed position is withdrawn
// from the pool.
type OrderExecutedEvent struct {
	Key        OrderKey
	PositionID uint64
	Withdrawn  *uint256.Int
}

func (OrderExecutedEvent) EventName() string { return "OrderExecuted" }

// OrderClaimedEvent is emitted when an order's pro-rata payout settles.
type OrderClaimedEvent struct {
	Key        OrderKey
	Owner      common.Address
	PositionID uint64
	Amount     *uint256.Int
}

func (OrderClaimedEvent) EventName() string { return "OrderClaimed" }

// ExecutionFeePaidEvent is emitted when the executor incentive is paid.
type ExecutionFeePaidEvent struct {
	Key      OrderKey
	Executor common.Address
	Amount   *uint256.Int
}

func (ExecutionFeePaidEvent) EventName() string { return "ExecutionFeePaid" }
