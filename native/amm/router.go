package amm

import (
	"errors"
	"math/big"
	"sync"

	"optionstoken/native/token"
)

var ErrPairNotFound = errors.New("amm: pair not found")

// Router resolves token pairs to their liquidity pools and exposes the
// reserve/liquidity surface the exercise modules consume.
type Router struct {
	mu    sync.RWMutex
	pairs map[pairKey]*Pair
}

type pairKey struct {
	token0, token1 [20]byte
	stable         bool
}

func orderKey(tokenA, tokenB [20]byte, stable bool) pairKey {
	for i := 0; i < 20; i++ {
		if tokenA[i] < tokenB[i] {
			return pairKey{token0: tokenA, token1: tokenB, stable: stable}
		}
		if tokenA[i] > tokenB[i] {
			return pairKey{token0: tokenB, token1: tokenA, stable: stable}
		}
	}
	return pairKey{token0: tokenA, token1: tokenB, stable: stable}
}

// NewRouter constructs an empty router.
func NewRouter() *Router {
	return &Router{pairs: make(map[pairKey]*Pair)}
}

// RegisterPair makes a pool reachable through the router.
func (r *Router) RegisterPair(p *Pair) {
	if r == nil || p == nil {
		return
	}
	t0, t1 := p.Tokens()
	r.mu.Lock()
	r.pairs[orderKey(t0, t1, p.Stable())] = p
	r.mu.Unlock()
}

// Pair resolves the pool backing the requested token pair.
func (r *Router) Pair(tokenA, tokenB [20]byte, stable bool) (*Pair, error) {
	if r == nil {
		return nil, ErrPairNotFound
	}
	r.mu.RLock()
	p, ok := r.pairs[orderKey(tokenA, tokenB, stable)]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrPairNotFound
	}
	return p, nil
}

// Reserves returns the pool reserves oriented to the (tokenA, tokenB) order of
// the call rather than the pool's internal ordering.
func (r *Router) Reserves(tokenA, tokenB [20]byte, stable bool) (*big.Int, *big.Int, error) {
	p, err := r.Pair(tokenA, tokenB, stable)
	if err != nil {
		return nil, nil, err
	}
	r0, r1 := p.Reserves()
	t0, _ := p.Tokens()
	if tokenA == t0 {
		return r0, r1, nil
	}
	return r1, r0, nil
}

// LPLedger exposes the LP position ledger of the pool backing the token pair.
func (r *Router) LPLedger(tokenA, tokenB [20]byte, stable bool) (token.Ledger, error) {
	p, err := r.Pair(tokenA, tokenB, stable)
	if err != nil {
		return nil, err
	}
	return p.LPToken(), nil
}

// AddLiquidity routes a two-leg deposit to the backing pool, translating the
// caller's (tokenA, tokenB) orientation into the pool's ordering.
func (r *Router) AddLiquidity(from [20]byte, tokenA, tokenB [20]byte, stable bool, amountADesired, amountBDesired, amountAMin, amountBMin *big.Int, to [20]byte, deadline int64) (*big.Int, *big.Int, *big.Int, error) {
	p, err := r.Pair(tokenA, tokenB, stable)
	if err != nil {
		return nil, nil, nil, err
	}
	t0, _ := p.Tokens()
	if tokenA == t0 {
		return p.AddLiquidity(from, amountADesired, amountBDesired, amountAMin, amountBMin, to, deadline)
	}
	a1, a0, liq, err := p.AddLiquidity(from, amountBDesired, amountADesired, amountBMin, amountAMin, to, deadline)
	if err != nil {
		return nil, nil, nil, err
	}
	return a0, a1, liq, nil
}
