// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pair

import (
	"sync"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
)

// Hub creates and tracks pools. One hub serves all pairs; each pool
// carries its own lock, so operations on distinct pools never contend.
type Hub struct {
	mu       sync.RWMutex
	pools    map[[32]byte]*Pool
	defaults PoolConfig

	assets AssetTransfer
	clock  Clock
	sink   EventSink
	log    log.Logger
}

// NewHub wires a hub to its asset backend and clock.
func NewHub(assets AssetTransfer, clock Clock, sink EventSink, logger log.Logger) *Hub {
	if sink == nil {
		sink = NopSink{}
	}
	return &Hub{
		pools:  make(map[[32]byte]*Pool),
		assets: assets,
		clock:  clock,
		sink:   sink,
		log:    logger,
	}
}

// Bind attaches the asset backend and clock. Must run before the first
// CreatePool; nil leaves the existing wiring in place.
func (h *Hub) Bind(assets AssetTransfer, clock Clock, sink EventSink, logger log.Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if assets != nil {
		h.assets = assets
	}
	if clock != nil {
		h.clock = clock
	}
	if sink != nil {
		h.sink = sink
	}
	if logger != nil {
		h.log = logger
	}
}

// SetDefaults stores fallback construction parameters applied to pools
// whose own config leaves the corresponding field empty.
func (h *Hub) SetDefaults(cfg PoolConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.defaults = cfg
}

// CreatePool registers a new pool for the key. Each distinct key maps to
// at most one pool.
func (h *Hub) CreatePool(key PoolKey, cfg PoolConfig) (*Pool, error) {
	h.mu.RLock()
	if cfg.Treasury == (common.Address{}) {
		cfg.Treasury = h.defaults.Treasury
	}
	if cfg.FeeSplit == 0 {
		cfg.FeeSplit = h.defaults.FeeSplit
	}
	if cfg.OraclePeriod == 0 {
		cfg.OraclePeriod = h.defaults.OraclePeriod
	}
	h.mu.RUnlock()

	pool, err := NewPool(key, cfg, h.assets, h.clock, h.sink, h.log)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.pools[pool.ID()]; exists {
		return nil, ErrPoolExists
	}
	h.pools[pool.ID()] = pool
	h.log.Info("pool created",
		"id", common.Hash(pool.ID()).Hex(),
		"tokenX", key.TokenX,
		"tokenY", key.TokenY,
		"feeBps", key.FeeBps,
		"variant", key.Variant,
	)
	return pool, nil
}

// GetPool looks a pool up by ID.
func (h *Hub) GetPool(id [32]byte) (*Pool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	pool, ok := h.pools[id]
	if !ok {
		return nil, ErrPoolNotFound
	}
	return pool, nil
}

// GetPoolByKey looks a pool up by its key.
func (h *Hub) GetPoolByKey(key PoolKey) (*Pool, error) {
	return h.GetPool(key.ID())
}

// Pools returns a snapshot of all registered pools.
func (h *Hub) Pools() []*Pool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Pool, 0, len(h.pools))
	for _, p := range h.pools {
		out = append(out, p)
	}
	return out
}

// PoolCount reports the number of registered pools.
func (h *Hub) PoolCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.pools)
}
