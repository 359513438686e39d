package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"

	"optionstoken/native/amm"
	"optionstoken/native/common"
	"optionstoken/native/fpmath"
)

var (
	ErrBelowMinPrice          = errors.New("oracle: price below configured floor")
	ErrOverflow               = errors.New("oracle: reserve exceeds safe width")
	ErrStablePairsUnsupported = errors.New("oracle: stable pairs unsupported")
	ErrTokenNotInPair         = errors.New("oracle: token not in pair")
	ErrInsufficientHistory    = errors.New("oracle: insufficient observation history")
	ErrInvalidWindow          = errors.New("oracle: window must be positive")
	ErrEmptyReserves          = errors.New("oracle: empty reserves")
)

// maxSafeReserveBits bounds the width of an average reserve before the price
// ratio is computed. Reserves wider than this cannot have come from a healthy
// pair and are treated as corrupt accumulator state.
const maxSafeReserveBits = 112

// PriceOracle resolves the price of one whole underlying token denominated in
// payment-token wei.
type PriceOracle interface {
	Price() (*big.Int, error)
	Tokens() (payment, underlying [20]byte)
}

// PairSource is the subset of the liquidity pair surface the oracles read.
type PairSource interface {
	Tokens() ([20]byte, [20]byte)
	Stable() bool
	Reserves() (*big.Int, *big.Int)
	CurrentCumulatives() (*big.Int, *big.Int, int64)
	ObservationAt(back int) (amm.Observation, error)
}

// TWAPOracle derives a time-weighted average price from a pair's cumulative
// reserve accumulators. The window dampens single-block manipulation; the
// price floor rejects flash-crashed readings outright.
type TWAPOracle struct {
	mu sync.RWMutex

	source     PairSource
	owner      [20]byte
	payment    [20]byte
	underlying [20]byte
	// paymentIsToken0 records the pair orientation; it is fixed at
	// construction together with the token identities.
	paymentIsToken0 bool

	windowSeconds int64
	minPrice      *big.Int
}

// NewTWAPOracle validates the pair against the requested orientation and
// window. Stable-curve pairs violate the constant-product assumptions behind
// averaged-reserve pricing and are rejected.
func NewTWAPOracle(owner [20]byte, source PairSource, payment, underlying [20]byte, windowSeconds int64, minPrice *big.Int) (*TWAPOracle, error) {
	if source == nil {
		return nil, fmt.Errorf("oracle: pair source required")
	}
	if source.Stable() {
		return nil, ErrStablePairsUnsupported
	}
	if windowSeconds <= 0 {
		return nil, ErrInvalidWindow
	}
	t0, t1 := source.Tokens()
	var paymentIsToken0 bool
	switch {
	case payment == t0 && underlying == t1:
		paymentIsToken0 = true
	case payment == t1 && underlying == t0:
		paymentIsToken0 = false
	default:
		return nil, ErrTokenNotInPair
	}
	return &TWAPOracle{
		source:          source,
		owner:           owner,
		payment:         payment,
		underlying:      underlying,
		paymentIsToken0: paymentIsToken0,
		windowSeconds:   windowSeconds,
		minPrice:        fpmath.Clone(minPrice),
	}, nil
}

// Tokens returns the payment and underlying token addresses the oracle prices.
func (o *TWAPOracle) Tokens() ([20]byte, [20]byte) {
	return o.payment, o.underlying
}

// SetWindow updates the averaging window. Owner only.
func (o *TWAPOracle) SetWindow(caller [20]byte, windowSeconds int64) error {
	if err := common.GuardOwner(o.owner, caller); err != nil {
		return err
	}
	if windowSeconds <= 0 {
		return ErrInvalidWindow
	}
	o.mu.Lock()
	o.windowSeconds = windowSeconds
	o.mu.Unlock()
	return nil
}

// SetMinPrice updates the manipulation floor. Owner only.
func (o *TWAPOracle) SetMinPrice(caller [20]byte, minPrice *big.Int) error {
	if err := common.GuardOwner(o.owner, caller); err != nil {
		return err
	}
	o.mu.Lock()
	o.minPrice = fpmath.Clone(minPrice)
	o.mu.Unlock()
	return nil
}

// Window returns the configured averaging window in seconds.
func (o *TWAPOracle) Window() int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.windowSeconds
}

// Price computes the TWAP over at least the configured window. When the most
// recent observation is younger than the window the read falls back to the
// observation before it, widening the interval rather than shortening it.
func (o *TWAPOracle) Price() (*big.Int, error) {
	o.mu.RLock()
	window := o.windowSeconds
	floor := fpmath.Clone(o.minPrice)
	o.mu.RUnlock()

	c0Now, c1Now, now := o.source.CurrentCumulatives()
	obs, err := o.source.ObservationAt(0)
	if err != nil {
		return nil, ErrInsufficientHistory
	}
	if now-obs.Timestamp < window {
		prev, err := o.source.ObservationAt(1)
		if err != nil {
			return nil, ErrInsufficientHistory
		}
		obs = prev
	}
	elapsed := now - obs.Timestamp
	if elapsed <= 0 {
		return nil, ErrInsufficientHistory
	}

	seconds := big.NewInt(elapsed)
	avg0 := new(big.Int).Quo(new(big.Int).Sub(c0Now, obs.Reserve0Cumulative), seconds)
	avg1 := new(big.Int).Quo(new(big.Int).Sub(c1Now, obs.Reserve1Cumulative), seconds)
	if err := checkReserveWidth(avg0); err != nil {
		return nil, err
	}
	if err := checkReserveWidth(avg1); err != nil {
		return nil, err
	}

	paymentReserve, underlyingReserve := avg0, avg1
	if !o.paymentIsToken0 {
		paymentReserve, underlyingReserve = avg1, avg0
	}
	return ratioPrice(paymentReserve, underlyingReserve, floor)
}

// ReserveRatioOracle prices straight off the pair's spot reserves. It offers
// no manipulation dampening beyond the floor and is intended for pairs whose
// depth makes single-transaction manipulation uneconomical.
type ReserveRatioOracle struct {
	mu sync.RWMutex

	source          PairSource
	owner           [20]byte
	payment         [20]byte
	underlying      [20]byte
	paymentIsToken0 bool
	minPrice        *big.Int
}

// NewReserveRatioOracle validates the pair orientation exactly as the TWAP
// variant does.
func NewReserveRatioOracle(owner [20]byte, source PairSource, payment, underlying [20]byte, minPrice *big.Int) (*ReserveRatioOracle, error) {
	if source == nil {
		return nil, fmt.Errorf("oracle: pair source required")
	}
	t0, t1 := source.Tokens()
	var paymentIsToken0 bool
	switch {
	case payment == t0 && underlying == t1:
		paymentIsToken0 = true
	case payment == t1 && underlying == t0:
		paymentIsToken0 = false
	default:
		return nil, ErrTokenNotInPair
	}
	return &ReserveRatioOracle{
		source:          source,
		owner:           owner,
		payment:         payment,
		underlying:      underlying,
		paymentIsToken0: paymentIsToken0,
		minPrice:        fpmath.Clone(minPrice),
	}, nil
}

// Tokens returns the payment and underlying token addresses the oracle prices.
func (o *ReserveRatioOracle) Tokens() ([20]byte, [20]byte) {
	return o.payment, o.underlying
}

// SetMinPrice updates the manipulation floor. Owner only.
func (o *ReserveRatioOracle) SetMinPrice(caller [20]byte, minPrice *big.Int) error {
	if err := common.GuardOwner(o.owner, caller); err != nil {
		return err
	}
	o.mu.Lock()
	o.minPrice = fpmath.Clone(minPrice)
	o.mu.Unlock()
	return nil
}

// Price returns the oriented spot reserve ratio, floor-checked.
func (o *ReserveRatioOracle) Price() (*big.Int, error) {
	o.mu.RLock()
	floor := fpmath.Clone(o.minPrice)
	o.mu.RUnlock()

	r0, r1 := o.source.Reserves()
	if err := checkReserveWidth(r0); err != nil {
		return nil, err
	}
	if err := checkReserveWidth(r1); err != nil {
		return nil, err
	}
	paymentReserve, underlyingReserve := r0, r1
	if !o.paymentIsToken0 {
		paymentReserve, underlyingReserve = r1, r0
	}
	return ratioPrice(paymentReserve, underlyingReserve, floor)
}

// FixedOracle serves an owner-set price. Used for manual overrides during
// incident response and as a deterministic price source in tests.
type FixedOracle struct {
	mu sync.RWMutex

	owner      [20]byte
	payment    [20]byte
	underlying [20]byte
	price      *big.Int
}

// NewFixedOracle constructs the oracle with an initial price.
func NewFixedOracle(owner, payment, underlying [20]byte, price *big.Int) *FixedOracle {
	return &FixedOracle{owner: owner, payment: payment, underlying: underlying, price: fpmath.Clone(price)}
}

// Tokens returns the payment and underlying token addresses the oracle prices.
func (o *FixedOracle) Tokens() ([20]byte, [20]byte) {
	return o.payment, o.underlying
}

// SetPrice replaces the served price. Owner only.
func (o *FixedOracle) SetPrice(caller [20]byte, price *big.Int) error {
	if err := common.GuardOwner(o.owner, caller); err != nil {
		return err
	}
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("oracle: price must be positive")
	}
	o.mu.Lock()
	o.price = new(big.Int).Set(price)
	o.mu.Unlock()
	return nil
}

// Price returns the stored price.
func (o *FixedOracle) Price() (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.price == nil || o.price.Sign() <= 0 {
		return nil, fmt.Errorf("oracle: price not set")
	}
	return new(big.Int).Set(o.price), nil
}

func checkReserveWidth(reserve *big.Int) error {
	if reserve == nil || reserve.Sign() < 0 {
		return ErrOverflow
	}
	v, overflow := uint256.FromBig(reserve)
	if overflow || v.BitLen() > maxSafeReserveBits {
		return ErrOverflow
	}
	return nil
}

// ratioPrice divides the payment-token reserve by the underlying-token
// reserve at WAD scale, rounding down (informational ratio), then applies the
// floor.
func ratioPrice(paymentReserve, underlyingReserve, floor *big.Int) (*big.Int, error) {
	if underlyingReserve == nil || underlyingReserve.Sign() == 0 {
		return nil, ErrEmptyReserves
	}
	price := fpmath.MulDivDown(paymentReserve, fpmath.Wad, underlyingReserve)
	if floor != nil && floor.Sign() > 0 && price.Cmp(floor) < 0 {
		return nil, ErrBelowMinPrice
	}
	if price.Sign() <= 0 {
		return nil, ErrEmptyReserves
	}
	return price, nil
}
