// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pair

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// AssetTransfer is the fungible-token boundary. Implementations wrap the
// host environment's token contracts. They must report ok=false only when
// a token explicitly signalled failure; tokens returning no success flag
// are treated as successful. Critical accounting never trusts the flag
// alone: the pool re-checks actual balance deltas.
//
// TransferFrom calls made by module code on a module-owned account are
// host-trusted and bypass allowances, the same way state-native balance
// moves work; Approve covers external flows.
type AssetTransfer interface {
	Transfer(token, to common.Address, amount *uint256.Int) (bool, error)
	TransferFrom(token, from, to common.Address, amount *uint256.Int) (bool, error)
	BalanceOf(token, account common.Address) (*uint256.Int, error)
	Approve(token, spender common.Address, amount *uint256.Int) (bool, error)
}

// NativeWrapper lets one pool implementation serve both the chain's
// native asset and its wrapped token form. Deposit wraps native held by
// the calling account; Withdraw unwraps back to native.
type NativeWrapper interface {
	Token() common.Address
	Deposit(account common.Address, amount *uint256.Int) error
	Withdraw(account common.Address, amount *uint256.Int) error
}

// FlashCallback is implemented by swap callers that borrow output
// optimistically. The callback runs after the output transfer and before
// the invariant re-check, with the pool's instance lock held; it must
// leave the pool's balances whole (principal plus fee) before returning.
// Re-entering state-mutating pool entry points from the callback fails
// with ErrReentrant; read-only queries are permitted.
type FlashCallback interface {
	FlashCall(feeX, feeY *uint256.Int, data []byte) error
}

// Clock supplies the current time in seconds. All time-dependent logic
// (oracle bucketing) is computed lazily from this at call time; the core
// runs no timers.
type Clock interface {
	Now() uint64
}

// safeTransfer moves tokens out of a module account and surfaces
// explicit failures. Balance-delta verification is the caller's job
// where the amount matters for accounting.
func safeTransfer(assets AssetTransfer, from, token, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	ok, err := assets.TransferFrom(token, from, to, amount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTransferFailed
	}
	return nil
}
