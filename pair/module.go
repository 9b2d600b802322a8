// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pair

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/amm/modules"
)

var (
	_ modules.Configurator = (*configurator)(nil)
	_ modules.Configurator = (*oracleConfigurator)(nil)
)

// ConfigKey is the key used in json config files to specify this module's config.
const ConfigKey = "pairConfig"

// Hub singleton, wired to a backend via Configure at startup.
var PairHub = NewHub(nil, systemClock{}, NopSink{}, log.NewTestLogger(log.InfoLevel))

// Module is the market module (pool hub at LP-9010, oracle view at LP-9011)
var Module = modules.Module{
	ConfigKey:    ConfigKey,
	Address:      common.HexToAddress(LXPoolAddress),
	Configurator: &configurator{},
}

// OracleConfigKey is the config key for the TWAP query surface.
const OracleConfigKey = "oracleConfig"

// OracleModule exposes pool TWAP queries at their own reserved address.
// It shares the hub's state; the separate address only routes reads.
var OracleModule = modules.Module{
	ConfigKey:    OracleConfigKey,
	Address:      common.HexToAddress(LXOracleAddress),
	Configurator: &oracleConfigurator{},
}

type configurator struct{}

func init() {
	if err := modules.RegisterModule(Module); err != nil {
		panic(err)
	}
	if err := modules.RegisterModule(OracleModule); err != nil {
		panic(err)
	}
}

// systemClock reads wall time. Tests substitute a manual clock.
type systemClock struct{}

func (systemClock) Now() uint64 { return uint64(time.Now().Unix()) }

// Config implements the modules.Config interface
type Config struct {
	Disable      bool           `json:"disable,omitempty"`
	Treasury     common.Address `json:"treasury,omitempty"`
	DefaultSplit uint8          `json:"defaultFeeSplit,omitempty"`
	OraclePeriod uint64         `json:"oraclePeriodSeconds,omitempty"`
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
	var split FeeSplit
	if config.DefaultSplit != 0 {
		var err error
		split, err = NewFeeSplit(config.DefaultSplit>>4, config.DefaultSplit&0x0f)
		if err != nil {
			return err
		}
	}
	PairHub.SetDefaults(PoolConfig{
		Treasury:     config.Treasury,
		FeeSplit:     split,
		OraclePeriod: config.OraclePeriod,
	})
	return nil
}

// OracleConfig implements the modules.Config interface for the TWAP
// query surface.
type OracleConfig struct {
	Disable bool `json:"disable,omitempty"`
}

func (c *OracleConfig) Key() string { return OracleConfigKey }

func (c *OracleConfig) IsDisabled() bool { return c.Disable }

type oracleConfigurator struct{}

func (*oracleConfigurator) MakeConfig() modules.Config {
	return new(OracleConfig)
}

func (*oracleConfigurator) Configure(raw json.RawMessage) error {
	config := new(OracleConfig)
	if err := json.Unmarshal(raw, config); err != nil {
		return fmt.Errorf("unmarshal %s: %w", OracleConfigKey, err)
	}
	return nil
}
