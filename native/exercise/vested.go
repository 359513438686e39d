package exercise

import (
	"math/big"
	"strconv"

	"github.com/google/uuid"

	"optionstoken/core/types"
	"optionstoken/native/common"
	"optionstoken/native/fees"
	"optionstoken/native/oracle"
	"optionstoken/native/stream"
	"optionstoken/native/token"
)

// VestedRelease sells the underlying at a caller-chosen discount and delivers
// it as a time-released stream: linear with an owner-configured cliff and
// total duration, or piecewise-exponential when the owner has configured a
// segment schedule.
type VestedRelease struct {
	base

	oracle   oracle.PriceOracle
	bounds   MultiplierRange
	cliff    int64
	total    int64
	segments []stream.Segment
	streamer Streamer
	credits  *creditBook
}

// NewVestedRelease wires the module with the linear release shape. A segment
// schedule set later switches delivery to the custom curve.
func NewVestedRelease(addr, owner, gateway [20]byte, paymentTok, underlyingTok [20]byte, payment, underlying token.Ledger, dist *fees.Distributor, priceOracle oracle.PriceOracle, bounds MultiplierRange, cliffSeconds, totalSeconds int64, streamer Streamer) (*VestedRelease, error) {
	if !bounds.valid() {
		return nil, ErrMultiplierOutOfRange
	}
	if totalSeconds <= 0 || cliffSeconds < 0 || cliffSeconds > totalSeconds {
		return nil, ErrInvalidWindow
	}
	if streamer == nil {
		return nil, ErrSegmentsNotConfigured
	}
	m := &VestedRelease{
		base:     newBase(addr, owner, gateway, paymentTok, underlyingTok, payment, underlying, dist),
		bounds:   bounds,
		cliff:    cliffSeconds,
		total:    totalSeconds,
		streamer: streamer,
		credits:  newCreditBook(),
	}
	if err := m.base.validateOracle(priceOracle); err != nil {
		return nil, err
	}
	m.oracle = priceOracle
	return m, nil
}

// SetOracle swaps the price source. Owner only.
func (m *VestedRelease) SetOracle(caller [20]byte, o oracle.PriceOracle) error {
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
func (m *VestedRelease) SetMultiplierBounds(caller [20]byte, bounds MultiplierRange) error {
	if err := common.GuardOwner(m.owner, caller); err != nil {
		return err
	}
	if !bounds.valid() {
		return ErrMultiplierOutOfRange
	}
	m.mu.Lock()
	m.bounds = bounds
	m.mu.Unlock()
	return nil
}

// SetSegments configures the custom release curve from parallel exponent and
// duration arrays. Equal lengths are required; an empty pair of arrays
// clears the schedule and returns the module to linear release. Owner only.
func (m *VestedRelease) SetSegments(caller [20]byte, exponents []uint32, durations []int64) error {
	if err := common.GuardOwner(m.owner, caller); err != nil {
		return err
	}
	if len(exponents) != len(durations) {
		return ErrInvalidSegments
	}
	segments := make([]stream.Segment, len(exponents))
	for i := range exponents {
		if durations[i] <= 0 {
			return ErrInvalidSegments
		}
		segments[i] = stream.Segment{Exponent: exponents[i], Duration: durations[i]}
	}
	m.mu.Lock()
	m.segments = segments
	m.mu.Unlock()
	m.emit(&types.Event{Type: EventTypeSegmentsSet, Attributes: map[string]string{
		"module":   types.HexAddress(m.addr),
		"segments": strconv.Itoa(len(segments)),
	}})
	return nil
}

// Segments returns a copy of the configured schedule.
func (m *VestedRelease) Segments() []stream.Segment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]stream.Segment{}, m.segments...)
}

// CreditOf reports the undelivered balance owed to a recipient.
func (m *VestedRelease) CreditOf(recipient [20]byte) *big.Int {
	return m.credits.outstanding(recipient)
}

// Claim drains the caller's credit entry.
func (m *VestedRelease) Claim(caller [20]byte) (*big.Int, error) {
	return m.claimCredit(m.credits, caller)
}

// Exercise settles a vested purchase. The streamed amount is capped by the
// module inventory; any shortfall is credited for a later claim.
func (m *VestedRelease) Exercise(caller, holder [20]byte, amount *big.Int, recipient [20]byte, params Params) (*Receipt, error) {
	if err := m.guardEntry(caller, amount, params); err != nil {
		return nil, err
	}
	m.mu.RLock()
	src := m.oracle
	bounds := m.bounds
	cliff, total := m.cliff, m.total
	segments := append([]stream.Segment{}, m.segments...)
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

	// Stream what the inventory covers; credit the rest.
	balance := m.underlying.BalanceOf(m.addr)
	streamable := new(big.Int).Set(amount)
	credited := big.NewInt(0)
	if balance.Cmp(amount) < 0 {
		streamable = balance
		credited = new(big.Int).Sub(amount, balance)
		m.credits.record(recipient, credited)
		if reg := m.metricsRef(); reg != nil {
			reg.SetCreditOutstanding(types.HexAddress(m.addr), m.credits.total())
		}
	}
	var streamID uuid.UUID
	if streamable.Sign() > 0 {
		if len(segments) > 0 {
			streamID, err = m.streamer.CreateSegmentedStream(m.addr, segments, streamable, m.underlying, recipient)
		} else {
			streamID, err = m.streamer.CreateLinearStream(m.addr, cliff, total, streamable, m.underlying, recipient)
		}
		if err != nil {
			if credited.Sign() > 0 {
				if full, ok := m.credits.take(recipient); ok {
					m.credits.restore(recipient, new(big.Int).Sub(full, credited))
				}
			}
			return nil, err
		}
	}

	receipt := &Receipt{
		PaymentAmount: payment,
		DeliveredNow:  streamable,
		Credited:      credited,
		StreamID:      streamID,
	}
	m.emit(settledEvent(m.addr, holder, recipient, amount, receipt))
	return receipt, nil
}
