package exercise

import (
	"math/big"
	"strconv"

	"optionstoken/core/types"
	"optionstoken/native/common"
	"optionstoken/native/fees"
	"optionstoken/native/fpmath"
	"optionstoken/native/oracle"
	"optionstoken/native/token"
)

// LockDurationForMultiplier interpolates the lock duration for a multiplier
// on the line through (minMultiplier, maxLock) and (maxMultiplier, minLock):
// the cheaper the exercise, the longer the resulting lock. The slope
// (minLock−maxLock)/(maxMultiplier−minMultiplier) and its intercept are
// folded into a single big.Int expression so both boundary values are exact.
func LockDurationForMultiplier(bounds MultiplierRange, minLock, maxLock int64, multiplier uint64) int64 {
	if bounds.Max == bounds.Min {
		return maxLock
	}
	span := new(big.Int).SetUint64(bounds.Max - bounds.Min)
	rise := big.NewInt(maxLock - minLock)
	offset := new(big.Int).SetUint64(bounds.Max - multiplier)
	extra := new(big.Int).Quo(new(big.Int).Mul(rise, offset), span)
	duration := new(big.Int).Add(big.NewInt(minLock), extra)
	duration.Abs(duration)
	return duration.Int64()
}

// LockedLiquidity sells the underlying at a caller-chosen discount, pairs it
// with a matching payment leg, mints an LP position and time-locks that
// position for a duration inversely proportional to the discount.
type LockedLiquidity struct {
	base

	oracle   oracle.PriceOracle
	bounds   MultiplierRange
	minLock  int64
	maxLock  int64
	router   LiquidityRouter
	streamer Streamer
}

// NewLockedLiquidity wires the module.
func NewLockedLiquidity(addr, owner, gateway [20]byte, paymentTok, underlyingTok [20]byte, payment, underlying token.Ledger, dist *fees.Distributor, priceOracle oracle.PriceOracle, bounds MultiplierRange, minLock, maxLock int64, router LiquidityRouter, streamer Streamer) (*LockedLiquidity, error) {
	if !bounds.valid() {
		return nil, ErrMultiplierOutOfRange
	}
	if minLock <= 0 || maxLock < minLock {
		return nil, ErrInvalidWindow
	}
	if router == nil || streamer == nil {
		return nil, ErrInvalidOracle
	}
	m := &LockedLiquidity{
		base:     newBase(addr, owner, gateway, paymentTok, underlyingTok, payment, underlying, dist),
		bounds:   bounds,
		minLock:  minLock,
		maxLock:  maxLock,
		router:   router,
		streamer: streamer,
	}
	if err := m.base.validateOracle(priceOracle); err != nil {
		return nil, err
	}
	m.oracle = priceOracle
	return m, nil
}

// SetOracle swaps the price source. Owner only.
func (m *LockedLiquidity) SetOracle(caller [20]byte, o oracle.PriceOracle) error {
	if err := common.GuardOwner(m.owner, caller); err != nil {
		return err
	}
	if err := m.validateOracle(o); err != nil {
		return err
	}
	m.mu.Lock()
	m.oracle = o
	m.mu.Unlock()
	m.emit(&types.Event{Type: EventTypeOracleSet, Attributes: map[string]string{
		"module": types.HexAddress(m.addr),
	}})
	return nil
}

// SetMultiplierBounds updates the allowed discount range. Owner only.
func (m *LockedLiquidity) SetMultiplierBounds(caller [20]byte, bounds MultiplierRange) error {
	if err := common.GuardOwner(m.owner, caller); err != nil {
		return err
	}
	if !bounds.valid() {
		return ErrMultiplierOutOfRange
	}
	m.mu.Lock()
	m.bounds = bounds
	m.mu.Unlock()
	m.emit(&types.Event{Type: EventTypeMultiplierSet, Attributes: map[string]string{
		"module": types.HexAddress(m.addr),
		"minBps": strconv.FormatUint(bounds.Min, 10),
		"maxBps": strconv.FormatUint(bounds.Max, 10),
	}})
	return nil
}

// Bounds returns the allowed multiplier range.
func (m *LockedLiquidity) Bounds() MultiplierRange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bounds
}

// LockDurations returns the configured (min, max) lock durations in seconds.
func (m *LockedLiquidity) LockDurations() (int64, int64) {
	return m.minLock, m.maxLock
}

// Exercise settles a locked-liquidity purchase: the discount the caller picks
// maps to how long the minted LP position stays locked.
func (m *LockedLiquidity) Exercise(caller, holder [20]byte, amount *big.Int, recipient [20]byte, params Params) (*Receipt, error) {
	if err := m.guardEntry(caller, amount, params); err != nil {
		return nil, err
	}
	m.mu.RLock()
	src := m.oracle
	bounds := m.bounds
	m.mu.RUnlock()

	if !bounds.Contains(params.Multiplier) {
		return nil, ErrInvalidMultiplier
	}
	price, err := src.Price()
	if err != nil {
		return nil, err
	}
	payment, err := paymentDue(amount, price, params.Multiplier, params.MaxPayment)
	if err != nil {
		return nil, err
	}
	if err := m.dist.DistributeFrom(payment, m.payment, holder); err != nil {
		return nil, err
	}

	// Pair the underlying 1:1 by value using the pool's current reserves.
	paymentReserve, underlyingReserve, err := m.router.Reserves(m.paymentTok, m.underlyingTok, false)
	if err != nil {
		return nil, err
	}
	if underlyingReserve.Sign() == 0 {
		return nil, oracle.ErrEmptyReserves
	}
	paymentToAdd := fpmath.MulDivDown(amount, paymentReserve, underlyingReserve)
	if paymentToAdd.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := m.payment.TransferFrom(m.addr, holder, m.addr, paymentToAdd); err != nil {
		return nil, err
	}
	_, addedUnderlying, liquidity, err := m.router.AddLiquidity(
		m.addr, m.paymentTok, m.underlyingTok, false,
		paymentToAdd, amount, nil, nil, m.addr, params.Deadline)
	if err != nil {
		return nil, err
	}

	lockDuration := LockDurationForMultiplier(bounds, m.minLock, m.maxLock, params.Multiplier)
	lpLedger, err := m.router.LPLedger(m.paymentTok, m.underlyingTok, false)
	if err != nil {
		return nil, err
	}
	// Cliff at the full lock, total a second beyond it: the position is
	// untouchable until the lock elapses and fully withdrawable right
	// after.
	streamID, err := m.streamer.CreateLinearStream(m.addr, lockDuration, lockDuration+1, liquidity, lpLedger, recipient)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{
		PaymentAmount: payment,
		DeliveredNow:  addedUnderlying,
		Liquidity:     liquidity,
		LockDuration:  lockDuration,
		StreamID:      streamID,
	}
	m.emit(settledEvent(m.addr, holder, recipient, amount, receipt))
	return receipt, nil
}
