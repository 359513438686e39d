package exercise

import (
	"errors"
	"math/big"
	"testing"

	"optionstoken/native/common"
)

func newFixed(t *testing.T, f *fixture, price *big.Int) *FixedWindow {
	t.Helper()
	bounds := PriceRange{Min: wad(1), Max: wad(100)}
	m, err := NewFixedWindow(f.moduleAddr, f.owner, f.gatewayAcc, f.paymentTok, f.underlyingTok, f.payment, f.underlying, f.dist, bounds, price)
	if err != nil {
		t.Fatalf("new fixed window: %v", err)
	}
	m.SetNowFunc(f.clock())
	return m
}

func TestFixedWindowStartsClosed(t *testing.T) {
	f := newFixture(t)
	m := newFixed(t, f, wad(2))
	f.fund(f.underlying, f.moduleAddr, wad(10))
	f.fund(f.payment, f.holder, wad(100))

	_, err := m.Exercise(f.gatewayAcc, f.holder, wad(10), f.recipient, Params{
		MaxPayment: wad(100),
		Deadline:   f.now + 60,
	})
	if !errors.Is(err, ErrWindowNotOpen) {
		t.Fatalf("err = %v, want ErrWindowNotOpen", err)
	}
}

func TestFixedWindowLifecycle(t *testing.T) {
	f := newFixture(t)
	m := newFixed(t, f, wad(2))
	f.fund(f.underlying, f.moduleAddr, wad(100))
	f.fund(f.payment, f.holder, wad(1000))

	if err := m.SetWindow(f.owner, f.now+10, f.now+100); err != nil {
		t.Fatalf("set window: %v", err)
	}
	params := Params{MaxPayment: wad(1000), Deadline: f.now + 1000}

	// Before the start.
	if _, err := m.Exercise(f.gatewayAcc, f.holder, wad(10), f.recipient, params); !errors.Is(err, ErrWindowNotOpen) {
		t.Fatalf("before start err = %v, want ErrWindowNotOpen", err)
	}

	// Inside the window the fixed price applies with no multiplier:
	// 10 × 2 = 20 payment units.
	f.now += 10
	receipt, err := m.Exercise(f.gatewayAcc, f.holder, wad(10), f.recipient, params)
	if err != nil {
		t.Fatalf("exercise: %v", err)
	}
	if receipt.PaymentAmount.Cmp(wad(20)) != 0 {
		t.Fatalf("payment = %s, want %s", receipt.PaymentAmount, wad(20))
	}
	f.requireBalance(f.payment, f.feeA, wad(2))
	f.requireBalance(f.payment, f.feeB, wad(18))
	f.requireBalance(f.underlying, f.recipient, wad(10))

	// After the end.
	f.now += 100
	if _, err := m.Exercise(f.gatewayAcc, f.holder, wad(10), f.recipient, params); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("after end err = %v, want ErrWindowClosed", err)
	}
}

func TestFixedWindowOwnerControls(t *testing.T) {
	f := newFixture(t)
	m := newFixed(t, f, wad(2))

	if err := m.SetWindow(f.holder, f.now+10, f.now+100); !errors.Is(err, common.ErrNotOwner) {
		t.Fatalf("non-owner err = %v, want ErrNotOwner", err)
	}
	if err := m.SetWindow(f.owner, f.now-10, f.now+100); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("past start err = %v, want ErrInvalidWindow", err)
	}
	if err := m.SetWindow(f.owner, f.now+100, f.now+100); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("empty window err = %v, want ErrInvalidWindow", err)
	}

	if err := m.SetPrice(f.owner, wad(101)); !errors.Is(err, ErrPriceOutOfRange) {
		t.Fatalf("price above max err = %v, want ErrPriceOutOfRange", err)
	}
	if err := m.SetPrice(f.owner, big.NewInt(0)); !errors.Is(err, ErrPriceOutOfRange) {
		t.Fatalf("zero price err = %v, want ErrPriceOutOfRange", err)
	}
	if err := m.SetPrice(f.owner, wad(1)); err != nil {
		t.Fatalf("set price at lower bound: %v", err)
	}
	if got := m.Price(); got.Cmp(wad(1)) != 0 {
		t.Fatalf("price = %s, want %s", got, wad(1))
	}
}

func TestFixedWindowRejectsPriceOutsideBoundsAtConstruction(t *testing.T) {
	f := newFixture(t)
	bounds := PriceRange{Min: wad(1), Max: wad(100)}
	if _, err := NewFixedWindow(f.moduleAddr, f.owner, f.gatewayAcc, f.paymentTok, f.underlyingTok, f.payment, f.underlying, f.dist, bounds, wad(101)); !errors.Is(err, ErrPriceOutOfRange) {
		t.Fatalf("err = %v, want ErrPriceOutOfRange", err)
	}
}
