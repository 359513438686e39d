package exercise

import (
	"math/big"
	"testing"
	"time"

	"optionstoken/native/fees"
	"optionstoken/native/token"
)

func addr(b byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = b
	}
	return out
}

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// fixture wires the collaborators every module test needs: two token books,
// a 10%/90% fee split and the participant addresses.
type fixture struct {
	t *testing.T

	owner      [20]byte
	gatewayAcc [20]byte
	holder     [20]byte
	recipient  [20]byte
	moduleAddr [20]byte
	feeA       [20]byte
	feeB       [20]byte

	paymentTok    [20]byte
	underlyingTok [20]byte
	payment       *token.Book
	underlying    *token.Book
	dist          *fees.Distributor

	now int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:             t,
		owner:         addr(0x01),
		gatewayAcc:    addr(0x02),
		holder:        addr(0x03),
		recipient:     addr(0x04),
		moduleAddr:    addr(0x05),
		feeA:          addr(0x06),
		feeB:          addr(0x07),
		paymentTok:    addr(0xA0),
		underlyingTok: addr(0xB0),
		payment:       token.NewBook("PAY"),
		underlying:    token.NewBook("UND"),
		now:           time.Now().Unix(),
	}
	schedule, err := fees.NewSchedule([][20]byte{f.feeA, f.feeB}, []uint64{1000, 9000})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	f.dist = fees.NewDistributor(schedule)
	return f
}

func (f *fixture) clock() func() int64 {
	return func() int64 { return f.now }
}

func (f *fixture) fund(ledger *token.Book, to [20]byte, amount *big.Int) {
	f.t.Helper()
	if err := ledger.Mint(to, amount); err != nil {
		f.t.Fatalf("mint: %v", err)
	}
}

func (f *fixture) requireBalance(ledger *token.Book, holder [20]byte, want *big.Int) {
	f.t.Helper()
	if got := ledger.BalanceOf(holder); got.Cmp(want) != 0 {
		f.t.Fatalf("balance = %s, want %s", got, want)
	}
}

func TestMultiplierRangeContainsInclusive(t *testing.T) {
	r := MultiplierRange{Min: 100, Max: 10_000}
	if !r.Contains(100) || !r.Contains(10_000) {
		t.Fatal("range must include both endpoints")
	}
	if r.Contains(99) || r.Contains(10_001) {
		t.Fatal("range must exclude values outside the bounds")
	}
}

func TestPaymentDueRoundsUpAndHoldsSlippageLine(t *testing.T) {
	// 3 units at price 1e18+1 and 50% multiplier: every step rounds up, so
	// the payment can never undercharge.
	amount := big.NewInt(3)
	price := new(big.Int).Add(wad(1), big.NewInt(1))
	payment, err := paymentDue(amount, price, 5000, wad(1))
	if err != nil {
		t.Fatalf("paymentDue: %v", err)
	}
	if payment.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("payment = %s, want 2", payment)
	}
	if _, err := paymentDue(amount, price, 5000, big.NewInt(1)); err != ErrSlippage {
		t.Fatalf("err = %v, want ErrSlippage", err)
	}
	if _, err := paymentDue(amount, price, 5000, nil); err != ErrSlippage {
		t.Fatalf("nil max payment: err = %v, want ErrSlippage", err)
	}
}
