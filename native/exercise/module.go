package exercise

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"optionstoken/core/events"
	"optionstoken/core/types"
	"optionstoken/native/common"
	"optionstoken/native/fees"
	"optionstoken/native/fpmath"
	"optionstoken/native/oracle"
	"optionstoken/native/stream"
	"optionstoken/native/token"
	"optionstoken/observability"
)

var (
	ErrNotGateway            = errors.New("exercise: caller is not the gateway")
	ErrPastDeadline          = errors.New("exercise: past deadline")
	ErrWindowNotOpen         = errors.New("exercise: window not open")
	ErrWindowClosed          = errors.New("exercise: window closed")
	ErrInvalidMultiplier     = errors.New("exercise: multiplier outside allowed range")
	ErrSlippage              = errors.New("exercise: payment exceeds authorised maximum")
	ErrMultiplierOutOfRange  = errors.New("exercise: configured multiplier out of range")
	ErrPriceOutOfRange       = errors.New("exercise: configured price out of range")
	ErrInvalidOracle         = errors.New("exercise: oracle token pair mismatch")
	ErrInvalidWindow         = errors.New("exercise: invalid window")
	ErrInvalidSegments       = errors.New("exercise: invalid segment schedule")
	ErrSegmentsNotConfigured = errors.New("exercise: segments not configured")
	ErrInvalidAmount         = errors.New("exercise: amount must be positive")
	ErrNoCredit              = errors.New("exercise: no credit recorded")
)

// Event types emitted by the exercise modules.
const (
	EventTypeExercised     = "exercise.settled"
	EventTypeCreditClaimed = "exercise.credit_claimed"
	EventTypeOracleSet     = "exercise.oracle_set"
	EventTypeMultiplierSet = "exercise.multiplier_set"
	EventTypePriceSet      = "exercise.price_set"
	EventTypeWindowSet     = "exercise.window_set"
	EventTypeSegmentsSet   = "exercise.segments_set"
)

// Params carries the caller-supplied constraints for a single exercise.
// MaxPayment is the slippage bound: the only protection the holder has
// against price movement between signing and execution.
type Params struct {
	MaxPayment *big.Int
	Deadline   int64
	// Multiplier is caller-chosen on the locked-liquidity and vested
	// modules and ignored elsewhere.
	Multiplier uint64
}

// Receipt is the settlement result a module hands back through the gateway.
// Fields beyond PaymentAmount are populated per module kind.
type Receipt struct {
	PaymentAmount *big.Int
	DeliveredNow  *big.Int
	Credited      *big.Int
	Liquidity     *big.Int
	LockDuration  int64
	StreamID      uuid.UUID
}

// Module is the capability the gateway dispatches an exercise to. The gateway
// holds module handles plus an allow-list and never looks inside.
type Module interface {
	Address() [20]byte
	Exercise(caller, holder [20]byte, amount *big.Int, recipient [20]byte, params Params) (*Receipt, error)
}

// LiquidityRouter is the external AMM surface the locked-liquidity module
// consumes.
type LiquidityRouter interface {
	Reserves(tokenA, tokenB [20]byte, stable bool) (*big.Int, *big.Int, error)
	AddLiquidity(from [20]byte, tokenA, tokenB [20]byte, stable bool, amountADesired, amountBDesired, amountAMin, amountBMin *big.Int, to [20]byte, deadline int64) (*big.Int, *big.Int, *big.Int, error)
	LPLedger(tokenA, tokenB [20]byte, stable bool) (token.Ledger, error)
}

// Streamer is the external scheduled-payout surface the locked-liquidity and
// vested modules hand value to.
type Streamer interface {
	CreateLinearStream(sender [20]byte, cliffSeconds, totalSeconds int64, amount *big.Int, ledger token.Ledger, recipient [20]byte) (uuid.UUID, error)
	CreateSegmentedStream(sender [20]byte, schedule []stream.Segment, amount *big.Int, ledger token.Ledger, recipient [20]byte) (uuid.UUID, error)
}

// MultiplierRange bounds a basis-point multiplier. Both ends are inclusive.
type MultiplierRange struct {
	Min uint64
	Max uint64
}

// Contains reports whether the multiplier lies within the range, inclusive on
// both ends.
func (r MultiplierRange) Contains(multiplier uint64) bool {
	return multiplier >= r.Min && multiplier <= r.Max
}

func (r MultiplierRange) valid() bool {
	return r.Min > 0 && r.Min <= r.Max && r.Max <= 10_000
}

// base carries the wiring every exercise module shares: identity, gateway
// binding, token ledgers, fee distribution, events and a deterministic time
// source.
type base struct {
	mu sync.RWMutex

	addr    [20]byte
	owner   [20]byte
	gateway [20]byte

	paymentTok    [20]byte
	underlyingTok [20]byte
	payment       token.Ledger
	underlying    token.Ledger

	dist    *fees.Distributor
	emitter events.Emitter
	metrics *observability.SettlementMetrics
	nowFn   func() int64
}

func newBase(addr, owner, gateway [20]byte, paymentTok, underlyingTok [20]byte, payment, underlying token.Ledger, dist *fees.Distributor) base {
	return base{
		addr:          addr,
		owner:         owner,
		gateway:       gateway,
		paymentTok:    paymentTok,
		underlyingTok: underlyingTok,
		payment:       payment,
		underlying:    underlying,
		dist:          dist,
		emitter:       events.NoopEmitter{},
		nowFn:         func() int64 { return time.Now().Unix() },
	}
}

// Address returns the module's ledger address.
func (b *base) Address() [20]byte { return b.addr }

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (b *base) SetNowFunc(now func() int64) {
	if now == nil {
		return
	}
	b.mu.Lock()
	b.nowFn = now
	b.mu.Unlock()
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (b *base) SetEmitter(emitter events.Emitter) {
	b.mu.Lock()
	if emitter == nil {
		b.emitter = events.NoopEmitter{}
	} else {
		b.emitter = emitter
	}
	b.mu.Unlock()
}

// SetMetrics attaches the settlement metrics registry.
func (b *base) SetMetrics(m *observability.SettlementMetrics) {
	b.mu.Lock()
	b.metrics = m
	b.mu.Unlock()
}

func (b *base) metricsRef() *observability.SettlementMetrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metrics
}

// SetFees replaces the fee schedule. Owner only.
func (b *base) SetFees(caller [20]byte, schedule fees.Schedule) error {
	if err := common.GuardOwner(b.owner, caller); err != nil {
		return err
	}
	return b.dist.SetSchedule(schedule)
}

func (b *base) now() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nowFn()
}

type moduleEvent struct {
	evt *types.Event
}

func (e moduleEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (b *base) emit(evt *types.Event) {
	b.mu.RLock()
	emitter := b.emitter
	b.mu.RUnlock()
	if emitter != nil && evt != nil {
		emitter.Emit(moduleEvent{evt: evt})
	}
}

// guardEntry runs the checks every module performs before touching prices:
// caller identity first, then the caller-supplied deadline.
func (b *base) guardEntry(caller [20]byte, amount *big.Int, params Params) error {
	if caller != b.gateway {
		return ErrNotGateway
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if params.Deadline > 0 && b.now() > params.Deadline {
		return ErrPastDeadline
	}
	return nil
}

// paymentDue prices the exercise: amount × (price × multiplier / 10000) with
// each step rounded up, then enforces the caller's slippage bound. The bound
// is checked strictly after pricing and before any transfer.
func paymentDue(amount, price *big.Int, multiplier uint64, maxPayment *big.Int) (*big.Int, error) {
	strike := fpmath.MulBpsUp(price, multiplier)
	payment := fpmath.MulWadUp(amount, strike)
	if maxPayment == nil || payment.Cmp(maxPayment) > 0 {
		return nil, ErrSlippage
	}
	return payment, nil
}

// validateOracle checks a candidate oracle prices exactly the module's token
// pair.
func (b *base) validateOracle(o oracle.PriceOracle) error {
	if o == nil {
		return ErrInvalidOracle
	}
	payment, underlying := o.Tokens()
	if payment != b.paymentTok || underlying != b.underlyingTok {
		return ErrInvalidOracle
	}
	return nil
}

func settledEvent(module [20]byte, holder, recipient [20]byte, amount *big.Int, r *Receipt) *types.Event {
	attrs := map[string]string{
		"module":    types.HexAddress(module),
		"holder":    types.HexAddress(holder),
		"recipient": types.HexAddress(recipient),
		"amount":    types.BigIntString(amount),
		"payment":   types.BigIntString(r.PaymentAmount),
	}
	if r.DeliveredNow != nil {
		attrs["delivered"] = r.DeliveredNow.String()
	}
	if r.Credited != nil && r.Credited.Sign() > 0 {
		attrs["credited"] = r.Credited.String()
	}
	if r.Liquidity != nil {
		attrs["liquidity"] = r.Liquidity.String()
	}
	if r.LockDuration > 0 {
		attrs["lockSeconds"] = fmt.Sprintf("%d", r.LockDuration)
	}
	if r.StreamID != uuid.Nil {
		attrs["stream"] = r.StreamID.String()
	}
	return &types.Event{Type: EventTypeExercised, Attributes: attrs}
}
