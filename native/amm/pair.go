package amm

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"optionstoken/native/fpmath"
	"optionstoken/native/token"
)

var (
	ErrPastDeadline          = errors.New("amm: past deadline")
	ErrInsufficientAmount    = errors.New("amm: insufficient amount")
	ErrInsufficientLiquidity = errors.New("amm: insufficient liquidity")
	ErrUnknownToken          = errors.New("amm: token not in pair")
)

// Observation is a snapshot of the cumulative reserve accumulators taken at a
// point in time. Oracles compute time-weighted average reserves from the
// difference between two observations.
type Observation struct {
	Timestamp          int64
	Reserve0Cumulative *big.Int
	Reserve1Cumulative *big.Int
}

func (o Observation) clone() Observation {
	return Observation{
		Timestamp:          o.Timestamp,
		Reserve0Cumulative: fpmath.Clone(o.Reserve0Cumulative),
		Reserve1Cumulative: fpmath.Clone(o.Reserve1Cumulative),
	}
}

// Pair is a constant-product liquidity pair that maintains the cumulative
// reserve accumulators and periodic observations the TWAP oracle consumes.
// It charges no swap fee; it exists to source reserves and mint LP positions,
// not to earn.
type Pair struct {
	mu sync.RWMutex

	token0, token1   [20]byte
	ledger0, ledger1 token.Ledger
	stable           bool
	addr             [20]byte

	reserve0, reserve1 *big.Int
	reserve0Cumulative *big.Int
	reserve1Cumulative *big.Int
	lastUpdate         int64

	observations      []Observation
	observationPeriod int64

	lp    *token.Book
	nowFn func() int64
}

// NewPair wires a pair over two token ledgers. observationPeriod controls how
// often a cumulative snapshot is recorded; the TWAP window of any oracle
// reading this pair should be at least one period.
func NewPair(token0, token1 [20]byte, ledger0, ledger1 token.Ledger, stable bool, observationPeriod time.Duration) *Pair {
	period := int64(observationPeriod / time.Second)
	if period <= 0 {
		period = 1800
	}
	p := &Pair{
		token0:             token0,
		token1:             token1,
		ledger0:            ledger0,
		ledger1:            ledger1,
		stable:             stable,
		reserve0:           big.NewInt(0),
		reserve1:           big.NewInt(0),
		reserve0Cumulative: big.NewInt(0),
		reserve1Cumulative: big.NewInt(0),
		observationPeriod:  period,
		lp:                 token.NewBook("LP"),
		nowFn:              func() int64 { return time.Now().Unix() },
	}
	copy(p.addr[:], ethcrypto.Keccak256(token0[:], token1[:])[:20])
	now := p.nowFn()
	p.lastUpdate = now
	p.observations = []Observation{{Timestamp: now, Reserve0Cumulative: big.NewInt(0), Reserve1Cumulative: big.NewInt(0)}}
	return p
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (p *Pair) SetNowFunc(now func() int64) {
	if now == nil {
		return
	}
	p.mu.Lock()
	p.nowFn = now
	p.mu.Unlock()
}

// Address returns the pair's ledger address.
func (p *Pair) Address() [20]byte { return p.addr }

// Stable reports whether the pair uses the stable-swap curve. Stable pairs are
// rejected by the TWAP oracle at construction.
func (p *Pair) Stable() bool { return p.stable }

// Tokens returns the pair's token addresses in pair order.
func (p *Pair) Tokens() ([20]byte, [20]byte) { return p.token0, p.token1 }

// LPToken exposes the LP position ledger minted by AddLiquidity.
func (p *Pair) LPToken() *token.Book { return p.lp }

// update advances the cumulative accumulators to now and records an
// observation once per period. Must be called with the write lock held.
func (p *Pair) update(now int64) {
	elapsed := now - p.lastUpdate
	if elapsed > 0 {
		p.reserve0Cumulative = new(big.Int).Add(p.reserve0Cumulative,
			new(big.Int).Mul(p.reserve0, big.NewInt(elapsed)))
		p.reserve1Cumulative = new(big.Int).Add(p.reserve1Cumulative,
			new(big.Int).Mul(p.reserve1, big.NewInt(elapsed)))
		p.lastUpdate = now
	}
	last := p.observations[len(p.observations)-1]
	if now-last.Timestamp >= p.observationPeriod {
		p.observations = append(p.observations, Observation{
			Timestamp:          now,
			Reserve0Cumulative: new(big.Int).Set(p.reserve0Cumulative),
			Reserve1Cumulative: new(big.Int).Set(p.reserve1Cumulative),
		})
	}
}

// Sync advances the accumulators without changing reserves.
func (p *Pair) Sync() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.update(p.nowFn())
}

// Reserves returns the current reserves in pair order.
func (p *Pair) Reserves() (*big.Int, *big.Int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.reserve0), new(big.Int).Set(p.reserve1)
}

// CurrentCumulatives returns the accumulators extrapolated to now together
// with the current timestamp.
func (p *Pair) CurrentCumulatives() (*big.Int, *big.Int, int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	now := p.nowFn()
	c0 := new(big.Int).Set(p.reserve0Cumulative)
	c1 := new(big.Int).Set(p.reserve1Cumulative)
	if elapsed := now - p.lastUpdate; elapsed > 0 {
		c0.Add(c0, new(big.Int).Mul(p.reserve0, big.NewInt(elapsed)))
		c1.Add(c1, new(big.Int).Mul(p.reserve1, big.NewInt(elapsed)))
	}
	return c0, c1, now
}

// ObservationCount reports how many cumulative snapshots have been recorded.
func (p *Pair) ObservationCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.observations)
}

// ObservationAt returns the i-th observation counted backwards from the most
// recent (0 = latest, 1 = second latest).
func (p *Pair) ObservationAt(back int) (Observation, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	idx := len(p.observations) - 1 - back
	if back < 0 || idx < 0 {
		return Observation{}, fmt.Errorf("amm: observation %d not recorded", back)
	}
	return p.observations[idx].clone(), nil
}

func (p *Pair) ledgerFor(tok [20]byte) (token.Ledger, error) {
	switch tok {
	case p.token0:
		return p.ledger0, nil
	case p.token1:
		return p.ledger1, nil
	default:
		return nil, ErrUnknownToken
	}
}

// Swap trades amountIn of tokenIn against the pair using the constant-product
// curve and sends the output leg to `to`.
func (p *Pair) Swap(from [20]byte, tokenIn [20]byte, amountIn *big.Int, to [20]byte) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInsufficientAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.update(p.nowFn())

	inLedger, err := p.ledgerFor(tokenIn)
	if err != nil {
		return nil, err
	}
	var reserveIn, reserveOut *big.Int
	var outLedger token.Ledger
	if tokenIn == p.token0 {
		reserveIn, reserveOut, outLedger = p.reserve0, p.reserve1, p.ledger1
	} else {
		reserveIn, reserveOut, outLedger = p.reserve1, p.reserve0, p.ledger0
	}
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, ErrInsufficientLiquidity
	}
	// out = reserveOut*in/(reserveIn+in), rounded down so the invariant can
	// only grow.
	amountOut := fpmath.MulDivDown(reserveOut, amountIn, new(big.Int).Add(reserveIn, amountIn))
	if amountOut.Sign() <= 0 {
		return nil, ErrInsufficientAmount
	}
	if err := inLedger.TransferFrom(p.addr, from, p.addr, amountIn); err != nil {
		return nil, err
	}
	if err := outLedger.Transfer(p.addr, to, amountOut); err != nil {
		return nil, err
	}
	if tokenIn == p.token0 {
		p.reserve0 = new(big.Int).Add(p.reserve0, amountIn)
		p.reserve1 = new(big.Int).Sub(p.reserve1, amountOut)
	} else {
		p.reserve1 = new(big.Int).Add(p.reserve1, amountIn)
		p.reserve0 = new(big.Int).Sub(p.reserve0, amountOut)
	}
	return amountOut, nil
}

// AddLiquidity pulls a proportional pair of legs from `from`, credits them to
// the pair reserves and mints LP tokens to `to`. Desired amounts above the
// proportional optimum are reduced; amounts below the caller minimums fail.
func (p *Pair) AddLiquidity(from [20]byte, amount0Desired, amount1Desired, amount0Min, amount1Min *big.Int, to [20]byte, deadline int64) (*big.Int, *big.Int, *big.Int, error) {
	if amount0Desired == nil || amount1Desired == nil || amount0Desired.Sign() <= 0 || amount1Desired.Sign() <= 0 {
		return nil, nil, nil, ErrInsufficientAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.nowFn()
	if deadline > 0 && now > deadline {
		return nil, nil, nil, ErrPastDeadline
	}
	p.update(now)

	amount0 := new(big.Int).Set(amount0Desired)
	amount1 := new(big.Int).Set(amount1Desired)
	if p.reserve0.Sign() > 0 && p.reserve1.Sign() > 0 {
		optimal1 := fpmath.MulDivDown(amount0Desired, p.reserve1, p.reserve0)
		if optimal1.Cmp(amount1Desired) <= 0 {
			amount1 = optimal1
		} else {
			amount0 = fpmath.MulDivDown(amount1Desired, p.reserve0, p.reserve1)
		}
	}
	if amount0Min != nil && amount0.Cmp(amount0Min) < 0 {
		return nil, nil, nil, ErrInsufficientAmount
	}
	if amount1Min != nil && amount1.Cmp(amount1Min) < 0 {
		return nil, nil, nil, ErrInsufficientAmount
	}

	var liquidity *big.Int
	supply := p.lp.TotalSupply()
	if supply.Sign() == 0 {
		liquidity = new(big.Int).Sqrt(new(big.Int).Mul(amount0, amount1))
	} else {
		share0 := fpmath.MulDivDown(amount0, supply, p.reserve0)
		share1 := fpmath.MulDivDown(amount1, supply, p.reserve1)
		liquidity = share0
		if share1.Cmp(share0) < 0 {
			liquidity = share1
		}
	}
	if liquidity.Sign() <= 0 {
		return nil, nil, nil, ErrInsufficientLiquidity
	}

	if err := p.ledger0.TransferFrom(p.addr, from, p.addr, amount0); err != nil {
		return nil, nil, nil, err
	}
	if err := p.ledger1.TransferFrom(p.addr, from, p.addr, amount1); err != nil {
		return nil, nil, nil, err
	}
	if err := p.lp.Mint(to, liquidity); err != nil {
		return nil, nil, nil, err
	}
	p.reserve0 = new(big.Int).Add(p.reserve0, amount0)
	p.reserve1 = new(big.Int).Add(p.reserve1, amount1)
	return amount0, amount1, liquidity, nil
}
