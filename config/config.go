package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the file configuration for the options-token settlement core.
type Config struct {
	Gateway GatewayConfig `toml:"gateway"`
	Oracle  OracleConfig  `toml:"oracle"`
	Fees    FeesConfig    `toml:"fees"`
	Modules ModulesConfig `toml:"modules"`
}

// GatewayConfig names the privileged roles.
type GatewayConfig struct {
	Owner  string `toml:"owner"`
	Minter string `toml:"minter"`
}

// OracleConfig controls the TWAP source.
type OracleConfig struct {
	WindowSeconds int64  `toml:"window_seconds"`
	MinPriceWei   string `toml:"min_price_wei"`
	// PaymentIsToken0 records the pair orientation relative to the pool's
	// internal token order.
	PaymentIsToken0 bool `toml:"payment_is_token0"`
}

// FeesConfig is the basis-point fee schedule applied to every payment.
type FeesConfig struct {
	Recipients []string `toml:"recipients"`
	WeightsBps []uint64 `toml:"weights_bps"`
}

// ModulesConfig groups per-module parameters.
type ModulesConfig struct {
	Immediate ImmediateConfig `toml:"immediate"`
	Fixed     FixedConfig     `toml:"fixed"`
	Locked    LockedConfig    `toml:"locked"`
	Vested    VestedConfig    `toml:"vested"`
}

// ImmediateConfig parameterises the immediate-discount module.
type ImmediateConfig struct {
	MinMultiplierBps uint64 `toml:"min_multiplier_bps"`
	MaxMultiplierBps uint64 `toml:"max_multiplier_bps"`
	MultiplierBps    uint64 `toml:"multiplier_bps"`
}

// FixedConfig parameterises the fixed-window module.
type FixedConfig struct {
	MinPriceWei string `toml:"min_price_wei"`
	MaxPriceWei string `toml:"max_price_wei"`
	PriceWei    string `toml:"price_wei"`
}

// LockedConfig parameterises the locked-liquidity module.
type LockedConfig struct {
	MinMultiplierBps uint64 `toml:"min_multiplier_bps"`
	MaxMultiplierBps uint64 `toml:"max_multiplier_bps"`
	MinLockSeconds   int64  `toml:"min_lock_seconds"`
	MaxLockSeconds   int64  `toml:"max_lock_seconds"`
}

// VestedConfig parameterises the vested-release module. When the segment
// arrays are populated the module streams over the custom curve instead of
// the linear cliff/total shape.
type VestedConfig struct {
	MinMultiplierBps uint64   `toml:"min_multiplier_bps"`
	MaxMultiplierBps uint64   `toml:"max_multiplier_bps"`
	CliffSeconds     int64    `toml:"cliff_seconds"`
	TotalSeconds     int64    `toml:"total_seconds"`
	SegmentExponents []uint32 `toml:"segment_exponents"`
	SegmentDurations []int64  `toml:"segment_durations"`
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseAddress decodes a 0x-prefixed 20-byte hex address.
func ParseAddress(s string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("config: invalid address %q: %w", s, err)
	}
	if len(raw) != 20 {
		return out, fmt.Errorf("config: invalid address %q: want 20 bytes", s)
	}
	copy(out[:], raw)
	return out, nil
}

// ParseWei decodes a decimal wei amount. Empty strings decode to zero.
func ParseWei(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("config: invalid wei amount %q", s)
	}
	return v, nil
}
