package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

var (
	ErrInvalidAmount       = errors.New("token: amount must be positive")
	ErrInsufficientBalance = errors.New("token: insufficient balance")
)

// Ledger is the capability surface a settlement component needs from a token.
// Balances live in an external ledger; the core only moves value through this
// interface and never inspects ledger internals. TransferFrom models a pull
// that the holder has previously authorised out of band.
type Ledger interface {
	Transfer(from, to [20]byte, amount *big.Int) error
	TransferFrom(spender, from, to [20]byte, amount *big.Int) error
	BalanceOf(addr [20]byte) *big.Int
	Mint(to [20]byte, amount *big.Int) error
	Burn(from [20]byte, amount *big.Int) error
}

// Book is an in-memory Ledger used by the reference collaborators and tests.
// All methods are safe for concurrent use.
type Book struct {
	mu       sync.RWMutex
	symbol   string
	balances map[[20]byte]*big.Int
	supply   *big.Int
}

// NewBook constructs an empty ledger for the given token symbol.
func NewBook(symbol string) *Book {
	return &Book{
		symbol:   symbol,
		balances: make(map[[20]byte]*big.Int),
		supply:   big.NewInt(0),
	}
}

// Symbol reports the token symbol the book was created with.
func (b *Book) Symbol() string {
	if b == nil {
		return ""
	}
	return b.symbol
}

func (b *Book) balance(addr [20]byte) *big.Int {
	if bal, ok := b.balances[addr]; ok {
		return bal
	}
	zero := big.NewInt(0)
	b.balances[addr] = zero
	return zero
}

// BalanceOf returns a defensive copy of the current balance.
func (b *Book) BalanceOf(addr [20]byte) *big.Int {
	if b == nil {
		return big.NewInt(0)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if bal, ok := b.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// TotalSupply returns a defensive copy of the minted supply.
func (b *Book) TotalSupply() *big.Int {
	if b == nil {
		return big.NewInt(0)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return new(big.Int).Set(b.supply)
}

func (b *Book) move(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	src := b.balance(from)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, b.symbol)
	}
	b.balances[from] = new(big.Int).Sub(src, amount)
	dst := b.balance(to)
	b.balances[to] = new(big.Int).Add(dst, amount)
	return nil
}

// Transfer moves amount from one holder to another.
func (b *Book) Transfer(from, to [20]byte, amount *big.Int) error {
	if b == nil {
		return fmt.Errorf("token: ledger not configured")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(from, to, amount)
}

// TransferFrom moves amount on behalf of a spender. The in-memory book does
// not track allowances; authorisation is assumed to have happened out of band.
func (b *Book) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	_ = spender
	return b.Transfer(from, to, amount)
}

// Mint credits new supply to the recipient.
func (b *Book) Mint(to [20]byte, amount *big.Int) error {
	if b == nil {
		return fmt.Errorf("token: ledger not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	dst := b.balance(to)
	b.balances[to] = new(big.Int).Add(dst, amount)
	b.supply = new(big.Int).Add(b.supply, amount)
	return nil
}

// Burn debits supply from the holder.
func (b *Book) Burn(from [20]byte, amount *big.Int) error {
	if b == nil {
		return fmt.Errorf("token: ledger not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	src := b.balance(from)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, b.symbol)
	}
	b.balances[from] = new(big.Int).Sub(src, amount)
	b.supply = new(big.Int).Sub(b.supply, amount)
	return nil
}
