package oracle

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"optionstoken/native/amm"
	"optionstoken/native/common"
	"optionstoken/native/token"
)

func addrOf(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

type fixture struct {
	pair     *amm.Pair
	pay      *token.Book
	under    *token.Book
	payTok   [20]byte
	underTok [20]byte
	owner    [20]byte
	now      int64
}

const window = int64(1800)

func newFixture(t *testing.T, payReserve, underReserve *big.Int) *fixture {
	t.Helper()
	f := &fixture{
		pay:      token.NewBook("PAY"),
		under:    token.NewBook("UND"),
		payTok:   addrOf(0x0A),
		underTok: addrOf(0x0B),
		owner:    addrOf(0xEE),
		now:      time.Now().Unix(),
	}
	f.pair = amm.NewPair(f.payTok, f.underTok, f.pay, f.under, false, time.Duration(window)*time.Second)
	f.pair.SetNowFunc(func() int64 { return f.now })

	lp := addrOf(0x01)
	if err := f.pay.Mint(lp, payReserve); err != nil {
		t.Fatalf("mint pay: %v", err)
	}
	if err := f.under.Mint(lp, underReserve); err != nil {
		t.Fatalf("mint under: %v", err)
	}
	if _, _, _, err := f.pair.AddLiquidity(lp, payReserve, underReserve, nil, nil, lp, 0); err != nil {
		t.Fatalf("seed liquidity: %v", err)
	}
	return f
}

// advance moves time forward and records the cumulative snapshot.
func (f *fixture) advance(seconds int64) {
	f.now += seconds
	f.pair.Sync()
}

func (f *fixture) twap(t *testing.T, floor *big.Int) *TWAPOracle {
	t.Helper()
	o, err := NewTWAPOracle(f.owner, f.pair, f.payTok, f.underTok, window, floor)
	if err != nil {
		t.Fatalf("new twap oracle: %v", err)
	}
	return o
}

func TestTWAPPriceOfSteadyReserves(t *testing.T) {
	f := newFixture(t, wad(1000), wad(100))
	f.advance(window)
	f.advance(window)

	o := f.twap(t, nil)
	price, err := o.Price()
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price.Cmp(wad(10)) != 0 {
		t.Fatalf("price = %v, want 10e18", price)
	}

	// Reciprocal orientation prices the other leg.
	rev, err := NewTWAPOracle(f.owner, f.pair, f.underTok, f.payTok, window, nil)
	if err != nil {
		t.Fatalf("new reversed oracle: %v", err)
	}
	revPrice, err := rev.Price()
	if err != nil {
		t.Fatalf("reversed price: %v", err)
	}
	expected := new(big.Int).Quo(new(big.Int).Mul(wad(100), big.NewInt(1e18)), wad(1000))
	if revPrice.Cmp(expected) != 0 {
		t.Fatalf("reversed price = %v, want %v", revPrice, expected)
	}
}

func TestTWAPUnmovedBySameBlockSwap(t *testing.T) {
	f := newFixture(t, wad(1000), wad(1000))
	f.advance(window)
	f.advance(window)

	o := f.twap(t, nil)
	before, err := o.Price()
	if err != nil {
		t.Fatalf("price before: %v", err)
	}

	trader := addrOf(0x03)
	if err := f.pay.Mint(trader, wad(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := f.pair.Swap(trader, f.payTok, wad(500), trader); err != nil {
		t.Fatalf("swap: %v", err)
	}

	after, err := o.Price()
	if err != nil {
		t.Fatalf("price after: %v", err)
	}
	if before.Cmp(after) != 0 {
		t.Fatalf("same-block swap moved TWAP: %v -> %v", before, after)
	}
}

func TestTWAPBoundedAfterSandwichAndWindow(t *testing.T) {
	f := newFixture(t, wad(100000), wad(100000))
	f.advance(window)
	f.advance(window)

	o := f.twap(t, nil)
	before, err := o.Price()
	if err != nil {
		t.Fatalf("price before: %v", err)
	}

	// Large swap and its counter-swap land in the same block, so the
	// distorted reserves carry zero time weight.
	attacker := addrOf(0x04)
	if err := f.pay.Mint(attacker, wad(50000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	out, err := f.pair.Swap(attacker, f.payTok, wad(50000), attacker)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if _, err := f.pair.Swap(attacker, f.underTok, out, attacker); err != nil {
		t.Fatalf("counter swap: %v", err)
	}

	f.advance(window)
	after, err := o.Price()
	if err != nil {
		t.Fatalf("price after: %v", err)
	}

	// Deviation must stay within 1% of the pre-manipulation price.
	diff := new(big.Int).Sub(after, before)
	diff.Abs(diff)
	bound := new(big.Int).Quo(before, big.NewInt(100))
	if diff.Cmp(bound) > 0 {
		t.Fatalf("post-window deviation %v exceeds 1%% of %v", diff, before)
	}
}

func TestTWAPWidensShortWindow(t *testing.T) {
	f := newFixture(t, wad(1000), wad(100))
	f.advance(window)
	f.advance(window)
	// A snapshot recorded moments ago must not shorten the averaging
	// interval; the read falls back to the previous observation.
	f.advance(1)

	o := f.twap(t, nil)
	price, err := o.Price()
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price.Cmp(wad(10)) != 0 {
		t.Fatalf("price = %v, want 10e18", price)
	}
}

func TestTWAPInsufficientHistory(t *testing.T) {
	f := newFixture(t, wad(1000), wad(100))
	// Only the construction snapshot exists and it is younger than the
	// window, so there is no second observation to fall back to.
	f.now += window / 2

	o := f.twap(t, nil)
	if _, err := o.Price(); !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
}

func TestPriceFloorRejectsLowPrice(t *testing.T) {
	f := newFixture(t, wad(1000), wad(100))
	f.advance(window)
	f.advance(window)

	o := f.twap(t, wad(11))
	if _, err := o.Price(); !errors.Is(err, ErrBelowMinPrice) {
		t.Fatalf("expected ErrBelowMinPrice, got %v", err)
	}

	// Floor at the actual price passes.
	if err := o.SetMinPrice(f.owner, wad(10)); err != nil {
		t.Fatalf("set floor: %v", err)
	}
	if _, err := o.Price(); err != nil {
		t.Fatalf("price at floor should pass: %v", err)
	}
}

func TestReserveWidthOverflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 120)
	f := newFixture(t, huge, huge)

	o, err := NewReserveRatioOracle(f.owner, f.pair, f.payTok, f.underTok, nil)
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}
	if _, err := o.Price(); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestStablePairRejectedAtConstruction(t *testing.T) {
	pay := token.NewBook("PAY")
	under := token.NewBook("UND")
	stable := amm.NewPair(addrOf(0x0A), addrOf(0x0B), pay, under, true, 30*time.Minute)
	_, err := NewTWAPOracle(addrOf(0xEE), stable, addrOf(0x0A), addrOf(0x0B), window, nil)
	if !errors.Is(err, ErrStablePairsUnsupported) {
		t.Fatalf("expected ErrStablePairsUnsupported, got %v", err)
	}
}

func TestTokenOrientationValidated(t *testing.T) {
	f := newFixture(t, wad(1), wad(1))
	_, err := NewTWAPOracle(f.owner, f.pair, addrOf(0x77), f.underTok, window, nil)
	if !errors.Is(err, ErrTokenNotInPair) {
		t.Fatalf("expected ErrTokenNotInPair, got %v", err)
	}
}

func TestOwnerGuards(t *testing.T) {
	f := newFixture(t, wad(1000), wad(100))
	o := f.twap(t, nil)
	if err := o.SetWindow(addrOf(0x99), 900); !errors.Is(err, common.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := o.SetWindow(f.owner, 900); err != nil {
		t.Fatalf("owner set window: %v", err)
	}
	if got := o.Window(); got != 900 {
		t.Fatalf("window = %d, want 900", got)
	}
	if err := o.SetWindow(f.owner, 0); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestReserveRatioSpotPrice(t *testing.T) {
	f := newFixture(t, wad(300), wad(100))
	o, err := NewReserveRatioOracle(f.owner, f.pair, f.payTok, f.underTok, nil)
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}
	price, err := o.Price()
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price.Cmp(wad(3)) != 0 {
		t.Fatalf("spot price = %v, want 3e18", price)
	}
}

func TestFixedOracle(t *testing.T) {
	owner := addrOf(0xEE)
	o := NewFixedOracle(owner, addrOf(0x0A), addrOf(0x0B), wad(5))
	price, err := o.Price()
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price.Cmp(wad(5)) != 0 {
		t.Fatalf("price = %v, want 5e18", price)
	}
	if err := o.SetPrice(addrOf(0x01), wad(6)); !errors.Is(err, common.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := o.SetPrice(owner, wad(6)); err != nil {
		t.Fatalf("owner set price: %v", err)
	}
	price, _ = o.Price()
	if price.Cmp(wad(6)) != 0 {
		t.Fatalf("price = %v, want 6e18", price)
	}
}
