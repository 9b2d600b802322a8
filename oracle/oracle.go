// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package oracle implements a fixed-capacity ring buffer of cumulative
// reserve observations and time-weighted average price queries over it.
//
// Accumulators advance on every reserve change, weighted by the reserves
// that were in effect since the previous update. Observations are recorded
// at most once per period, so storage stays bounded while queries over
// arbitrary historical windows remain answerable from the retained ring.
package oracle

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/luxfi/amm/fixedpoint"
)

// DefaultPeriodSeconds is the minimum spacing between recorded observations.
const DefaultPeriodSeconds = 1800

// DefaultCapacity holds roughly one day of half-hour observations.
const DefaultCapacity = 48

var (
	ErrInsufficientHistory = errors.New("oracle: not enough observations for window")
	ErrZeroCapacity        = errors.New("oracle: capacity must be positive")
	ErrZeroGranularity     = errors.New("oracle: granularity must be positive")
	ErrStaleWindow         = errors.New("oracle: zero elapsed time in window")
)

// Observation is one recorded point of the cumulative accumulators.
type Observation struct {
	Timestamp   uint64 // seconds
	CumulativeX *uint256.Int
	CumulativeY *uint256.Int
}

// Ring is the append-only circular observation log plus the running
// accumulators. It is not safe for concurrent use; the owning pool holds
// its instance lock across every call.
type Ring struct {
	period   uint64
	capacity int

	obs  []Observation
	head int // index of the most recent observation
	size int

	cumulativeX *uint256.Int
	cumulativeY *uint256.Int
	lastUpdate  uint64 // timestamp of the last accumulator advance
}

// NewRing creates a ring with the given observation capacity and recording
// period in seconds.
func NewRing(capacity int, periodSeconds uint64) (*Ring, error) {
	if capacity <= 0 {
		return nil, ErrZeroCapacity
	}
	if periodSeconds == 0 {
		periodSeconds = DefaultPeriodSeconds
	}
	return &Ring{
		period:      periodSeconds,
		capacity:    capacity,
		obs:         make([]Observation, 0, capacity),
		cumulativeX: uint256.NewInt(0),
		cumulativeY: uint256.NewInt(0),
	}, nil
}

// Size returns the number of retained observations.
func (r *Ring) Size() int { return r.size }

// LastUpdate returns the timestamp of the most recent accumulator advance.
func (r *Ring) LastUpdate() uint64 { return r.lastUpdate }

// Cumulatives returns copies of the running accumulators.
func (r *Ring) Cumulatives() (*uint256.Int, *uint256.Int) {
	return r.cumulativeX.Clone(), r.cumulativeY.Clone()
}

// Update advances the accumulators using the reserves in effect since the
// last update, then records an observation when at least one period has
// elapsed since the previous record. It must be called with the reserves
// as they were *before* the state change being applied.
func (r *Ring) Update(reserveX, reserveY *uint256.Int, now uint64) {
	if r.lastUpdate == 0 {
		// First touch: establish the epoch and seed the ring so queries
		// have an anchor point.
		r.lastUpdate = now
		r.record(now)
		return
	}
	if now > r.lastUpdate {
		elapsed := uint256.NewInt(now - r.lastUpdate)
		r.cumulativeX.Add(r.cumulativeX, new(uint256.Int).Mul(reserveX, elapsed))
		r.cumulativeY.Add(r.cumulativeY, new(uint256.Int).Mul(reserveY, elapsed))
		r.lastUpdate = now
	}
	if r.size == 0 || now-r.newest().Timestamp >= r.period {
		r.record(now)
	}
}

func (r *Ring) record(now uint64) {
	o := Observation{
		Timestamp:   now,
		CumulativeX: r.cumulativeX.Clone(),
		CumulativeY: r.cumulativeY.Clone(),
	}
	if r.size < r.capacity {
		r.obs = append(r.obs, o)
		r.head = r.size
		r.size++
		return
	}
	r.head = (r.head + 1) % r.capacity
	r.obs[r.head] = o
}

// newest returns the most recent observation. Callers check size first.
func (r *Ring) newest() Observation {
	return r.obs[r.head]
}

// at returns the observation i steps back from the newest (0 = newest).
func (r *Ring) at(back int) Observation {
	idx := (r.head - back + r.capacity) % r.capacity
	return r.obs[idx]
}

// Sample computes the time-weighted average price of X in terms of Y,
// wad-scaled, averaged over [points] intervals each spanning [granularity]
// observations. now is used only to reject a newest observation recorded
// in the current second, which would otherwise produce a zero-duration
// interval against the running accumulators.
func (r *Ring) Sample(points, granularity int, now uint64) (*uint256.Int, error) {
	if granularity <= 0 {
		return nil, ErrZeroGranularity
	}
	if points <= 0 {
		return nil, fmt.Errorf("%w: %d points requested", ErrInsufficientHistory, points)
	}

	// Skip a same-second newest observation.
	offset := 0
	if r.size > 0 && r.newest().Timestamp == now {
		offset = 1
	}

	needed := points*granularity + 1 + offset
	if r.size < needed {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientHistory, r.size, needed)
	}

	sum := uint256.NewInt(0)
	for p := 0; p < points; p++ {
		newer := r.at(offset + p*granularity)
		older := r.at(offset + (p+1)*granularity)
		price, err := intervalPrice(older, newer)
		if err != nil {
			return nil, err
		}
		sum.Add(sum, price)
	}
	return sum.Div(sum, uint256.NewInt(uint64(points))), nil
}

// intervalPrice derives the average price over one interval from the
// accumulator deltas: (ΔcumY/Δt) / (ΔcumX/Δt) = ΔcumY/ΔcumX, wad-scaled.
func intervalPrice(older, newer Observation) (*uint256.Int, error) {
	if newer.Timestamp <= older.Timestamp {
		return nil, ErrStaleWindow
	}
	dx := new(uint256.Int).Sub(newer.CumulativeX, older.CumulativeX)
	dy := new(uint256.Int).Sub(newer.CumulativeY, older.CumulativeY)
	if dx.IsZero() {
		return nil, ErrStaleWindow
	}
	return fixedpoint.MulDiv(dy, fixedpoint.Wad, dx, fixedpoint.RoundDown)
}

// TimeWeightedReserves returns the average reserves over the most recent
// window spanning [granularity] observations.
func (r *Ring) TimeWeightedReserves(granularity int, now uint64) (*uint256.Int, *uint256.Int, error) {
	if granularity <= 0 {
		return nil, nil, ErrZeroGranularity
	}
	offset := 0
	if r.size > 0 && r.newest().Timestamp == now {
		offset = 1
	}
	if r.size < granularity+1+offset {
		return nil, nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientHistory, r.size, granularity+1+offset)
	}
	newer := r.at(offset)
	older := r.at(offset + granularity)
	if newer.Timestamp <= older.Timestamp {
		return nil, nil, ErrStaleWindow
	}
	dt := uint256.NewInt(newer.Timestamp - older.Timestamp)
	avgX := new(uint256.Int).Sub(newer.CumulativeX, older.CumulativeX)
	avgX.Div(avgX, dt)
	avgY := new(uint256.Int).Sub(newer.CumulativeY, older.CumulativeY)
	avgY.Div(avgY, dt)
	return avgX, avgY, nil
}
