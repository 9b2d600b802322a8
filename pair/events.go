// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pair

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// Event is implemented by all pool events. Events exist for observability
// and indexing; correctness never depends on a sink observing them.
type Event interface {
	EventName() string
}

// EventSink receives pool events. Called with the pool's instance lock
// held, so sinks must not call back into state-mutating entry points.
type EventSink interface {
	Emit(ev Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// MintEvent is emitted when liquidity shares are created.
type MintEvent struct {
	Pool    [32]byte
	To      common.Address
	Level   int32
	AmountX *uint256.Int
	AmountY *uint256.Int
	Shares  *uint256.Int
}

func (MintEvent) EventName() string { return "Mint" }

// BurnEvent is emitted when liquidity shares are destroyed.
type BurnEvent struct {
	Pool    [32]byte
	From    common.Address
	To      common.Address
	Level   int32
	AmountX *uint256.Int
	AmountY *uint256.Int
	Shares  *uint256.Int
}

func (BurnEvent) EventName() string { return "Burn" }

// SwapEvent is emitted after a completed swap.
type SwapEvent struct {
	Pool        [32]byte
	Recipient   common.Address
	XForY       bool
	AmountIn    *uint256.Int
	AmountOut   *uint256.Int
	ActiveLevel int32
}

func (SwapEvent) EventName() string { return "Swap" }

// SyncEvent is emitted whenever reserve bookkeeping is reconciled.
type SyncEvent struct {
	Pool     [32]byte
	ReserveX *uint256.Int
	ReserveY *uint256.Int
}

func (SyncEvent) EventName() string { return "Sync" }

// FeesEvent is emitted when swap fees are accrued and routed.
type FeesEvent struct {
	Pool      [32]byte
	LPX       *uint256.Int
	LPY       *uint256.Int
	TreasuryX *uint256.Int
	TreasuryY *uint256.Int
}

func (FeesEvent) EventName() string { return "Fees" }
