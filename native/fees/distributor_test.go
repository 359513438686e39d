package fees

import (
	"errors"
	"math/big"
	"testing"

	"optionstoken/native/token"
)

func addrOf(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func mustSchedule(t *testing.T, recipients [][20]byte, weights []uint64) Schedule {
	t.Helper()
	s, err := NewSchedule(recipients, weights)
	if err != nil {
		t.Fatalf("new schedule: %v", err)
	}
	return s
}

func TestDistributeSplitsByBps(t *testing.T) {
	treasury := addrOf(0x10)
	staking := addrOf(0x20)
	payer := addrOf(0x01)

	book := token.NewBook("PAY")
	payment := new(big.Int).Mul(big.NewInt(75_000_000), big.NewInt(1e18))
	if err := book.Mint(payer, payment); err != nil {
		t.Fatalf("mint: %v", err)
	}

	d := NewDistributor(mustSchedule(t, [][20]byte{treasury, staking}, []uint64{1000, 9000}))
	if err := d.DistributeFrom(payment, book, payer); err != nil {
		t.Fatalf("distribute: %v", err)
	}

	tenth := new(big.Int).Quo(payment, big.NewInt(10))
	if got := book.BalanceOf(treasury); got.Cmp(tenth) != 0 {
		t.Fatalf("treasury = %v, want %v", got, tenth)
	}
	rest := new(big.Int).Sub(payment, tenth)
	if got := book.BalanceOf(staking); got.Cmp(rest) != 0 {
		t.Fatalf("staking = %v, want %v", got, rest)
	}
	// 10% + 90% must sum exactly to the payment.
	sum := new(big.Int).Add(book.BalanceOf(treasury), book.BalanceOf(staking))
	if sum.Cmp(payment) != 0 {
		t.Fatalf("shares sum %v, want %v", sum, payment)
	}
	if got := book.BalanceOf(payer); got.Sign() != 0 {
		t.Fatalf("payer balance = %v, want 0", got)
	}
}

func TestDistributeRoundsSharesDown(t *testing.T) {
	a := addrOf(0x10)
	b := addrOf(0x20)
	payer := addrOf(0x01)

	book := token.NewBook("PAY")
	if err := book.Mint(payer, big.NewInt(33)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	d := NewDistributor(mustSchedule(t, [][20]byte{a, b}, []uint64{3333, 6667}))
	if err := d.DistributeFrom(big.NewInt(33), book, payer); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	// 33*3333/10000 = 10.99 -> 10; 33*6667/10000 = 22.00 -> 22.
	if got := book.BalanceOf(a); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("a = %v, want 10", got)
	}
	if got := book.BalanceOf(b); got.Cmp(big.NewInt(22)) != 0 {
		t.Fatalf("b = %v, want 22", got)
	}
	// The truncation dust stays with the payer.
	if got := book.BalanceOf(payer); got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("payer = %v, want 1", got)
	}
}

func TestDistributeAbortsOnFailingTransfer(t *testing.T) {
	a := addrOf(0x10)
	payer := addrOf(0x01)

	book := token.NewBook("PAY")
	if err := book.Mint(payer, big.NewInt(5)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	d := NewDistributor(mustSchedule(t, [][20]byte{a}, []uint64{20000}))
	err := d.DistributeFrom(big.NewInt(5), book, payer)
	if !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestScheduleValidation(t *testing.T) {
	if _, err := NewSchedule([][20]byte{addrOf(1)}, []uint64{100, 200}); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
	if _, err := NewSchedule(nil, nil); !errors.Is(err, ErrEmptySchedule) {
		t.Fatalf("expected ErrEmptySchedule, got %v", err)
	}
	d := NewDistributor(mustSchedule(t, [][20]byte{addrOf(1)}, []uint64{100}))
	if err := d.SetSchedule(Schedule{Recipients: [][20]byte{addrOf(1)}, WeightsBps: []uint64{1, 2}}); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}
