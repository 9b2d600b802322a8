// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package book

import (
	"encoding/json"
	"fmt"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/amm/modules"
	"github.com/luxfi/amm/pair"
)

var _ modules.Configurator = (*configurator)(nil)

// ConfigKey is the key used in json config files to specify this module's config.
const ConfigKey = "bookConfig"

// LXBookAddress is the order manager's reserved market address (LP-9020).
const LXBookAddress = "0x0000000000000000000000000000000000009020"

// DefaultExecutorFeeShareBps routes half the pool fee rate to executors.
const DefaultExecutorFeeShareBps uint16 = 5000

// Manager singleton, wired to a backend via Configure at startup.
var BookManager = NewManager(common.HexToAddress(LXBookAddress), DefaultExecutorFeeShareBps, nil, nil, NopSink{}, log.NewTestLogger(log.InfoLevel))

// Module is the market module (order manager at LP-9020)
var Module = modules.Module{
	ConfigKey:    ConfigKey,
	Address:      common.HexToAddress(LXBookAddress),
	Configurator: &configurator{},
}

type configurator struct{}

func init() {
	if err := modules.RegisterModule(Module); err != nil {
		panic(err)
	}
}

// Config implements the modules.Config interface
type Config struct {
	Disable             bool   `json:"disable,omitempty"`
	ExecutorFeeShareBps uint16 `json:"executorFeeShareBps,omitempty"`
}

func (c *Config) Key() string { return ConfigKey }

func (c *Config) IsDisabled() bool { return c.Disable }

func (*configurator) MakeConfig() modules.Config {
	return new(Config)
}

func (*configurator) Configure(raw json.RawMessage) error {
	config := new(Config)
	if err := json.Unmarshal(raw, config); err != nil {
		return fmt.Errorf("unmarshal %s: %w", ConfigKey, err)
	}
	if uint64(config.ExecutorFeeShareBps) > pair.FeeDenominator {
		return fmt.Errorf("executor fee share %d exceeds %d bps", config.ExecutorFeeShareBps, pair.FeeDenominator)
	}
	if config.ExecutorFeeShareBps != 0 {
		BookManager.SetExecutorFeeShare(config.ExecutorFeeShareBps)
	}
	return nil
}
