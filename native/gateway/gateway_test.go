package gateway

import (
	"errors"
	"math/big"
	"testing"

	"optionstoken/native/common"
	"optionstoken/native/exercise"
)

func addr(b byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = b
	}
	return out
}

// stubModule records the delegated call and answers with a canned result.
type stubModule struct {
	addr [20]byte
	err  error

	calls  int
	caller [20]byte
	holder [20]byte
	amount *big.Int
}

func (s *stubModule) Address() [20]byte { return s.addr }

func (s *stubModule) Exercise(caller, holder [20]byte, amount *big.Int, recipient [20]byte, params exercise.Params) (*exercise.Receipt, error) {
	s.calls++
	s.caller = caller
	s.holder = holder
	s.amount = new(big.Int).Set(amount)
	if s.err != nil {
		return nil, s.err
	}
	return &exercise.Receipt{
		PaymentAmount: big.NewInt(42),
		DeliveredNow:  new(big.Int).Set(amount),
		Credited:      big.NewInt(0),
	}, nil
}

func TestMintRequiresMinter(t *testing.T) {
	owner, minter, holder := addr(0x01), addr(0x02), addr(0x03)
	g := New(addr(0x0A), owner, minter)

	if err := g.Mint(owner, holder, big.NewInt(100)); !errors.Is(err, ErrNotMinter) {
		t.Fatalf("owner mint err = %v, want ErrNotMinter", err)
	}
	if err := g.Mint(minter, holder, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero mint err = %v, want ErrInvalidAmount", err)
	}
	if err := g.Mint(minter, holder, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if got := g.BalanceOf(holder); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("balance = %s, want 100", got)
	}
	if got := g.TotalSupply(); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("supply = %s, want 100", got)
	}
}

func TestAllowListGatingAndRegistration(t *testing.T) {
	owner, minter, holder := addr(0x01), addr(0x02), addr(0x03)
	g := New(addr(0x0A), owner, minter)
	mod := &stubModule{addr: addr(0x0B)}

	if err := g.Mint(minter, holder, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	// Unregistered module.
	if _, err := g.Exercise(holder, big.NewInt(10), holder, mod.addr, exercise.Params{}); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("unregistered err = %v, want ErrUnknownModule", err)
	}

	// Non-owner cannot curate the allow-list.
	if err := g.SetExerciseContract(holder, mod, true); !errors.Is(err, common.ErrNotOwner) {
		t.Fatalf("non-owner err = %v, want ErrNotOwner", err)
	}

	// Registered but deactivated.
	if err := g.SetExerciseContract(owner, mod, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if g.IsActive(mod.addr) {
		t.Fatal("module should start inactive")
	}
	if _, err := g.Exercise(holder, big.NewInt(10), holder, mod.addr, exercise.Params{}); !errors.Is(err, ErrNotActiveModule) {
		t.Fatalf("inactive err = %v, want ErrNotActiveModule", err)
	}
	if mod.calls != 0 {
		t.Fatalf("module called %d times while inactive", mod.calls)
	}

	if err := g.SetExerciseContract(owner, mod, true); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !g.IsActive(mod.addr) {
		t.Fatal("module should be active")
	}
}

func TestExerciseBurnsRightsAndDelegates(t *testing.T) {
	owner, minter, holder, recipient := addr(0x01), addr(0x02), addr(0x03), addr(0x04)
	g := New(addr(0x0A), owner, minter)
	mod := &stubModule{addr: addr(0x0B)}

	if err := g.Mint(minter, holder, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := g.SetExerciseContract(owner, mod, true); err != nil {
		t.Fatalf("register: %v", err)
	}

	receipt, err := g.Exercise(holder, big.NewInt(30), recipient, mod.addr, exercise.Params{MaxPayment: big.NewInt(1000)})
	if err != nil {
		t.Fatalf("exercise: %v", err)
	}
	if receipt.PaymentAmount.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("payment = %s, want 42", receipt.PaymentAmount)
	}
	if mod.caller != g.Address() {
		t.Fatal("module must see the gateway as the caller")
	}
	if mod.holder != holder || mod.amount.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("delegated holder/amount = %x/%s", mod.holder, mod.amount)
	}
	if got := g.BalanceOf(holder); got.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("balance after burn = %s, want 70", got)
	}
	if got := g.TotalSupply(); got.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("supply after burn = %s, want 70", got)
	}
}

func TestExerciseRestoresBurnOnModuleFailure(t *testing.T) {
	owner, minter, holder := addr(0x01), addr(0x02), addr(0x03)
	g := New(addr(0x0A), owner, minter)
	boom := errors.New("module rejected")
	mod := &stubModule{addr: addr(0x0B), err: boom}

	if err := g.Mint(minter, holder, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := g.SetExerciseContract(owner, mod, true); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := g.Exercise(holder, big.NewInt(30), holder, mod.addr, exercise.Params{}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want module error", err)
	}
	if mod.calls != 1 {
		t.Fatalf("module calls = %d, want 1", mod.calls)
	}
	if got := g.BalanceOf(holder); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("balance after rollback = %s, want 100", got)
	}
	if got := g.TotalSupply(); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("supply after rollback = %s, want 100", got)
	}
}

func TestExerciseRejectsInsufficientRights(t *testing.T) {
	owner, minter, holder := addr(0x01), addr(0x02), addr(0x03)
	g := New(addr(0x0A), owner, minter)
	mod := &stubModule{addr: addr(0x0B)}

	if err := g.Mint(minter, holder, big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := g.SetExerciseContract(owner, mod, true); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := g.Exercise(holder, big.NewInt(11), holder, mod.addr, exercise.Params{}); !errors.Is(err, ErrInsufficientRights) {
		t.Fatalf("err = %v, want ErrInsufficientRights", err)
	}
	if mod.calls != 0 {
		t.Fatalf("module should not be called, got %d calls", mod.calls)
	}
	if got := g.BalanceOf(holder); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("balance = %s, want 10", got)
	}
}
