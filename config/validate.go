package config

import "fmt"

// Validate checks the configuration for internally consistent settlement
// parameters. It does not touch the chain state.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	if _, err := ParseAddress(cfg.Gateway.Owner); err != nil {
		return fmt.Errorf("gateway: owner: %w", err)
	}
	if _, err := ParseAddress(cfg.Gateway.Minter); err != nil {
		return fmt.Errorf("gateway: minter: %w", err)
	}

	if cfg.Oracle.WindowSeconds <= 0 {
		return fmt.Errorf("oracle: window_seconds must be positive")
	}
	if _, err := ParseWei(cfg.Oracle.MinPriceWei); err != nil {
		return fmt.Errorf("oracle: min_price_wei: %w", err)
	}

	if len(cfg.Fees.Recipients) != len(cfg.Fees.WeightsBps) {
		return fmt.Errorf("fees: recipients and weights_bps length mismatch")
	}
	for i, r := range cfg.Fees.Recipients {
		if _, err := ParseAddress(r); err != nil {
			return fmt.Errorf("fees: recipients[%d]: %w", i, err)
		}
	}
	var totalBps uint64
	for i, w := range cfg.Fees.WeightsBps {
		if w == 0 {
			return fmt.Errorf("fees: weights_bps[%d] must be positive", i)
		}
		totalBps += w
	}
	if totalBps > 10_000 {
		return fmt.Errorf("fees: weights_bps sum %d exceeds 10000", totalBps)
	}

	if err := validateModules(&cfg.Modules); err != nil {
		return err
	}
	return nil
}

func validateModules(m *ModulesConfig) error {
	if err := validateMultiplierBounds("immediate", m.Immediate.MinMultiplierBps, m.Immediate.MaxMultiplierBps); err != nil {
		return err
	}
	if mult := m.Immediate.MultiplierBps; mult != 0 {
		if mult < m.Immediate.MinMultiplierBps || mult > m.Immediate.MaxMultiplierBps {
			return fmt.Errorf("immediate: multiplier_bps %d outside [%d, %d]", mult, m.Immediate.MinMultiplierBps, m.Immediate.MaxMultiplierBps)
		}
	}

	minPrice, err := ParseWei(m.Fixed.MinPriceWei)
	if err != nil {
		return fmt.Errorf("fixed: min_price_wei: %w", err)
	}
	maxPrice, err := ParseWei(m.Fixed.MaxPriceWei)
	if err != nil {
		return fmt.Errorf("fixed: max_price_wei: %w", err)
	}
	if minPrice.Cmp(maxPrice) > 0 {
		return fmt.Errorf("fixed: min_price_wei > max_price_wei")
	}
	price, err := ParseWei(m.Fixed.PriceWei)
	if err != nil {
		return fmt.Errorf("fixed: price_wei: %w", err)
	}
	if price.Sign() > 0 && (price.Cmp(minPrice) < 0 || price.Cmp(maxPrice) > 0) {
		return fmt.Errorf("fixed: price_wei outside configured range")
	}

	if err := validateMultiplierBounds("locked", m.Locked.MinMultiplierBps, m.Locked.MaxMultiplierBps); err != nil {
		return err
	}
	if m.Locked.MinLockSeconds < 0 || m.Locked.MaxLockSeconds < 0 {
		return fmt.Errorf("locked: lock durations must be non-negative")
	}
	if m.Locked.MinLockSeconds > m.Locked.MaxLockSeconds {
		return fmt.Errorf("locked: min_lock_seconds > max_lock_seconds")
	}

	if err := validateMultiplierBounds("vested", m.Vested.MinMultiplierBps, m.Vested.MaxMultiplierBps); err != nil {
		return err
	}
	if len(m.Vested.SegmentExponents) != len(m.Vested.SegmentDurations) {
		return fmt.Errorf("vested: segment_exponents and segment_durations length mismatch")
	}
	for i, d := range m.Vested.SegmentDurations {
		if d <= 0 {
			return fmt.Errorf("vested: segment_durations[%d] must be positive", i)
		}
	}
	if len(m.Vested.SegmentDurations) == 0 {
		if m.Vested.TotalSeconds <= 0 {
			return fmt.Errorf("vested: total_seconds must be positive")
		}
		if m.Vested.CliffSeconds < 0 || m.Vested.CliffSeconds > m.Vested.TotalSeconds {
			return fmt.Errorf("vested: cliff_seconds outside [0, total_seconds]")
		}
	}
	return nil
}

func validateMultiplierBounds(section string, min, max uint64) error {
	if min == 0 {
		return fmt.Errorf("%s: min_multiplier_bps must be positive", section)
	}
	if min > max {
		return fmt.Errorf("%s: min_multiplier_bps > max_multiplier_bps", section)
	}
	if max > 10_000 {
		return fmt.Errorf("%s: max_multiplier_bps exceeds 10000", section)
	}
	return nil
}
