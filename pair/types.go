// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pair implements the AMM pool: discrete liquidity bins, swap
// execution with fee accrual, liquidity share accounting, and maintenance
// of the TWAP observation ring. A pool is either a two-reserve pair
// (constant-product or stable-curve invariant) or a liquidity book whose
// reserves are spread across discrete price levels.
package pair

import (
	"encoding/binary"
	"errors"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// Component addresses, LP-9010 series (markets range).
const (
	LXPoolAddress   = "0x0000000000000000000000000000000000009010" // LP-9010 LXPool (pool hub)
	LXOracleAddress = "0x0000000000000000000000000000000000009011" // LP-9011 LXOracle (TWAP queries)
)

// DeadAddress receives permanently locked pool shares.
var DeadAddress = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

// Variant selects the invariant a pool trades against.
type Variant uint8

const (
	// ConstantProduct is the xy=k two-reserve pair.
	ConstantProduct Variant = iota
	// StableSwap is the correlated-asset curve xy(x²+y²)=k.
	StableSwap
	// LiquidityBook spreads reserves across discrete price levels.
	LiquidityBook
)

// Fee parameters, basis points.
const (
	FeeDenominator uint64 = 10_000
	FeeMax         uint16 = 1_000 // 10%
)

// MinimumLiquidity is the share amount locked forever on a pair pool's
// first mint, preventing share-price manipulation at zero supply.
var MinimumLiquidity = uint256.NewInt(1000)

// MinimumK is the invariant floor a stable pool must clear on first mint.
// Degenerate low-liquidity stable pools make the Newton solver pricing
// meaningless, so they are rejected outright.
var MinimumK = uint256.NewInt(10_000_000_000)

// PoolKey uniquely identifies a pool. TokenX must sort below TokenY.
type PoolKey struct {
	TokenX  common.Address
	TokenY  common.Address
	FeeBps  uint16
	Variant Variant
	BinStep uint16 // basis points between adjacent levels; book pools only
}

// ID computes the unique pool identifier.
func (pk PoolKey) ID() [32]byte {
	h := blake3.New()
	h.Write(pk.TokenX.Bytes())
	h.Write(pk.TokenY.Bytes())

	var buf [5]byte
	binary.BigEndian.PutUint16(buf[0:2], pk.FeeBps)
	buf[2] = byte(pk.Variant)
	binary.BigEndian.PutUint16(buf[3:5], pk.BinStep)
	h.Write(buf[:])

	var id [32]byte
	h.Digest().Read(id[:])
	return id
}

// FeeSplit packs the two 4-bit fee-routing weights into one byte. The high
// nibble weights the long-term LP fee pool, the low nibble the protocol
// treasury; each accrued fee is divided by weight over the nibble sum.
type FeeSplit byte

// NewFeeSplit packs the two weights. Both must fit in 4 bits and at least
// one must be nonzero.
func NewFeeSplit(lpWeight, treasuryWeight uint8) (FeeSplit, error) {
	if lpWeight > 0xf || treasuryWeight > 0xf {
		return 0, ErrInvalidFeeSplit
	}
	if lpWeight == 0 && treasuryWeight == 0 {
		return 0, ErrInvalidFeeSplit
	}
	return FeeSplit(lpWeight<<4 | treasuryWeight), nil
}

// LPWeight returns the long-term fee pool weight.
func (fs FeeSplit) LPWeight() uint64 { return uint64(fs >> 4) }

// TreasuryWeight returns the protocol treasury weight.
func (fs FeeSplit) TreasuryWeight() uint64 { return uint64(fs & 0xf) }

// Split divides a fee amount between the LP fee pool and the treasury,
// rounding the LP portion down so the treasury absorbs the remainder.
func (fs FeeSplit) Split(fee *uint256.Int) (lp, treasury *uint256.Int) {
	total := fs.LPWeight() + fs.TreasuryWeight()
	lp = new(uint256.Int).Mul(fee, uint256.NewInt(fs.LPWeight()))
	lp.Div(lp, uint256.NewInt(total))
	treasury = new(uint256.Int).Sub(fee, lp)
	return lp, treasury
}

// Bin is one discrete price level: a reserve pair plus the total liquidity
// shares issued against it.
type Bin struct {
	ReserveX    *uint256.Int
	ReserveY    *uint256.Int
	TotalShares *uint256.Int

	// FeeGrowthX128 / FeeGrowthY128 accumulate the LP fee pool per share
	// at Q128 scale. Accounts checkpoint these on every share change, so
	// each share earns exactly the growth that occurred while it existed.
	FeeGrowthX128 *uint256.Int
	FeeGrowthY128 *uint256.Int
}

// NewBin creates an empty bin.
func NewBin() *Bin {
	return &Bin{
		ReserveX:      uint256.NewInt(0),
		ReserveY:      uint256.NewInt(0),
		TotalShares:   uint256.NewInt(0),
		FeeGrowthX128: uint256.NewInt(0),
		FeeGrowthY128: uint256.NewInt(0),
	}
}

// IsEmpty reports whether the bin holds no reserves.
func (b *Bin) IsEmpty() bool {
	return b.ReserveX.IsZero() && b.ReserveY.IsZero()
}

// PoolConfig carries per-pool construction parameters.
type PoolConfig struct {
	FeeSplit       FeeSplit       `json:"feeSplit"`
	Treasury       common.Address `json:"treasury"`
	DecimalsX      uint8          `json:"decimalsX"`
	DecimalsY      uint8          `json:"decimalsY"`
	OracleCapacity int            `json:"oracleCapacity"`
	OraclePeriod   uint64         `json:"oraclePeriod"` // seconds
}

// Errors - input validation
var (
	ErrZeroAmount         = errors.New("pair: zero amount")
	ErrTokensNotSorted    = errors.New("pair: tokens not sorted")
	ErrInvalidFee         = errors.New("pair: invalid fee")
	ErrInvalidFeeSplit    = errors.New("pair: invalid fee split")
	ErrInvalidBinStep     = errors.New("pair: invalid bin step for variant")
	ErrInvalidRecipient   = errors.New("pair: recipient is a pool token")
	ErrWrongVariant       = errors.New("pair: operation not valid for pool variant")
	ErrInsufficientOutput = errors.New("pair: insufficient output amount")
	ErrInsufficientInput  = errors.New("pair: insufficient input amount")
)

// Errors - liquidity and invariants
var (
	ErrInvariant                   = errors.New("pair: K")
	ErrInsufficientLiquidity       = errors.New("pair: insufficient liquidity")
	ErrInsufficientLiquidityMinted = errors.New("pair: insufficient liquidity minted")
	ErrInsufficientLiquidityBurned = errors.New("pair: insufficient liquidity burned")
	ErrInsufficientShares          = errors.New("pair: share balance too low")
	ErrBelowMinimumK               = errors.New("pair: stable invariant below minimum")
	ErrSlippage                    = errors.New("pair: minimum amount not met")
)

// Errors - state conflicts
var (
	ErrReentrant      = errors.New("pair: reentrancy detected")
	ErrPaused         = errors.New("pair: pool is paused")
	ErrPoolExists     = errors.New("pair: pool already exists")
	ErrPoolNotFound   = errors.New("pair: pool not found")
	ErrNoSuchLevel    = errors.New("pair: no bin at level")
	ErrTransferFailed = errors.New("pair: token transfer failed")
	ErrNewtonDiverged = errors.New("pair: stable solver did not converge")
)
