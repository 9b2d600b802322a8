// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package modules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/luxfi/geth/common"
)

// Config is implemented by each market module's JSON configuration.
type Config interface {
	Key() string
	IsDisabled() bool
}

// Configurator builds and applies a module's configuration.
type Configurator interface {
	MakeConfig() Config
	Configure(raw json.RawMessage) error
}

// Module binds a market singleton to its reserved address and config key.
type Module struct {
	ConfigKey    string
	Address      common.Address
	Configurator Configurator
}

// AddressRange represents a continuous range of addresses
type AddressRange struct {
	Start common.Address
	End   common.Address
}

// Contains returns true iff [addr] is contained within the (inclusive)
// range of addresses defined by [a].
func (a *AddressRange) Contains(addr common.Address) bool {
	addrBytes := addr.Bytes()
	return bytes.Compare(addrBytes, a.Start[:]) >= 0 && bytes.Compare(addrBytes, a.End[:]) <= 0
}

// BlackholeAddr is the address where assets are burned
var BlackholeAddr = common.Address{
	1, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

var (
	// registeredModules is a list of Module to preserve order
	// for deterministic iteration
	registeredModules = make([]Module, 0)

	// Reserved address ranges for market modules
	//
	// LP-ALIGNED RANGES (Low-byte format: 0x0000...LPNUM)
	// Address = LP number directly, e.g., LP-9010 = 0x...9010
	// LP-90xx: DEX/Markets (pools at 0x9010-0x901F, books at 0x9020-0x902F)
	reservedRanges = []AddressRange{
		// LP-9xxx: DEX/Markets (0x0..9000 - 0x0..9FFF)
		{
			Start: common.HexToAddress("0x0000000000000000000000000000000000009000"),
			End:   common.HexToAddress("0x0000000000000000000000000000000000009fff"),
		},
		// 0x0000...0000 - Zero address
		{
			Start: common.HexToAddress("0x0000000000000000000000000000000000000000"),
			End:   common.HexToAddress("0x0000000000000000000000000000000000000000"),
		},
		// 0x0000...dEaD - Common dead address
		{
			Start: common.HexToAddress("0x000000000000000000000000000000000000dEaD"),
			End:   common.HexToAddress("0x000000000000000000000000000000000000dEaD"),
		},
	}
)

// ReservedAddress returns true if [addr] is in a reserved range for market modules
func ReservedAddress(addr common.Address) bool {
	for _, reservedRange := range reservedRanges {
		if reservedRange.Contains(addr) {
			return true
		}
	}

	return false
}

// RegisterModule registers a market module
func RegisterModule(stm Module) error {
	address := stm.Address
	key := stm.ConfigKey

	if address == BlackholeAddr {
		return fmt.Errorf("address %s overlaps with blackhole address", address)
	}
	if !ReservedAddress(address) {
		return fmt.Errorf("address %s not in a reserved range", address)
	}

	for _, registeredModule := range registeredModules {
		if registeredModule.ConfigKey == key {
			return fmt.Errorf("name %s already used by a market module", key)
		}
		if registeredModule.Address == address {
			return fmt.Errorf("address %s already used by a market module", address)
		}
	}
	// sort by address to ensure deterministic iteration
	registeredModules = insertSortedByAddress(registeredModules, stm)
	return nil
}

func GetModuleByAddress(address common.Address) (Module, bool) {
	for _, stm := range registeredModules {
		if stm.Address == address {
			return stm, true
		}
	}
	return Module{}, false
}

func GetModule(key string) (Module, bool) {
	for _, stm := range registeredModules {
		if stm.ConfigKey == key {
			return stm, true
		}
	}
	return Module{}, false
}

func RegisteredModules() []Module {
	return registeredModules
}

func insertSortedByAddress(data []Module, stm Module) []Module {
	data = append(data, stm)
	sort.Slice(data, func(i, j int) bool {
		return bytes.Compare(data[i].Address[:], data[j].Address[:]) < 0
	})
	return data
}
