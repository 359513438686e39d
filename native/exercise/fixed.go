package exercise

import (
	"math/big"
	"strconv"

	"optionstoken/core/types"
	"optionstoken/native/common"
	"optionstoken/native/fees"
	"optionstoken/native/fpmath"
	"optionstoken/native/token"
)

// PriceRange bounds the owner-settable fixed price. Both ends are inclusive.
type PriceRange struct {
	Min *big.Int
	Max *big.Int
}

// Contains reports whether the price lies within the range.
func (r PriceRange) Contains(price *big.Int) bool {
	if price == nil || price.Sign() <= 0 {
		return false
	}
	if r.Min != nil && price.Cmp(r.Min) < 0 {
		return false
	}
	if r.Max != nil && price.Cmp(r.Max) > 0 {
		return false
	}
	return true
}

// FixedWindow sells the underlying at an owner-fixed price during an
// owner-configured time window. Delivery and credit behave exactly like the
// immediate module.
type FixedWindow struct {
	base

	bounds  PriceRange
	price   *big.Int
	start   int64
	end     int64
	credits *creditBook
}

// NewFixedWindow wires the module. The window starts closed (zero bounds);
// the owner must open it with SetWindow before any exercise can pass.
func NewFixedWindow(addr, owner, gateway [20]byte, paymentTok, underlyingTok [20]byte, payment, underlying token.Ledger, dist *fees.Distributor, bounds PriceRange, price *big.Int) (*FixedWindow, error) {
	if !bounds.Contains(price) {
		return nil, ErrPriceOutOfRange
	}
	return &FixedWindow{
		base:    newBase(addr, owner, gateway, paymentTok, underlyingTok, payment, underlying, dist),
		bounds:  bounds,
		price:   new(big.Int).Set(price),
		credits: newCreditBook(),
	}, nil
}

// SetPrice replaces the fixed price within the configured bounds. Owner only.
func (m *FixedWindow) SetPrice(caller [20]byte, price *big.Int) error {
	if err := common.GuardOwner(m.owner, caller); err != nil {
		return err
	}
	if !m.bounds.Contains(price) {
		return ErrPriceOutOfRange
	}
	m.mu.Lock()
	m.price = new(big.Int).Set(price)
	m.mu.Unlock()
	m.emit(&types.Event{Type: EventTypePriceSet, Attributes: map[string]string{
		"module": types.HexAddress(m.addr),
		"price":  price.String(),
	}})
	return nil
}

// Price returns the active fixed price.
func (m *FixedWindow) Price() *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fpmath.Clone(m.price)
}

// SetWindow configures the exercise window. The start must not be in the
// past and the end must come after it. Owner only.
func (m *FixedWindow) SetWindow(caller [20]byte, start, end int64) error {
	if err := common.GuardOwner(m.owner, caller); err != nil {
		return err
	}
	if start < m.now() || end <= start {
		return ErrInvalidWindow
	}
	m.mu.Lock()
	m.start = start
	m.end = end
	m.mu.Unlock()
	m.emit(&types.Event{Type: EventTypeWindowSet, Attributes: map[string]string{
		"module": types.HexAddress(m.addr),
		"start":  strconv.FormatInt(start, 10),
		"end":    strconv.FormatInt(end, 10),
	}})
	return nil
}

// CreditOf reports the undelivered balance owed to a recipient.
func (m *FixedWindow) CreditOf(recipient [20]byte) *big.Int {
	return m.credits.outstanding(recipient)
}

// Claim drains the caller's credit entry.
func (m *FixedWindow) Claim(caller [20]byte) (*big.Int, error) {
	return m.claimCredit(m.credits, caller)
}

// Exercise settles a fixed-price purchase inside the window.
func (m *FixedWindow) Exercise(caller, holder [20]byte, amount *big.Int, recipient [20]byte, params Params) (*Receipt, error) {
	if err := m.guardEntry(caller, amount, params); err != nil {
		return nil, err
	}
	m.mu.RLock()
	price := fpmath.Clone(m.price)
	start, end := m.start, m.end
	m.mu.RUnlock()

	now := m.now()
	if now < start || start == 0 {
		return nil, ErrWindowNotOpen
	}
	if now > end {
		return nil, ErrWindowClosed
	}

	// The fixed price needs no multiplier: charge amount × price, rounded
	// up, then hold the caller's slippage line.
	payment := fpmath.MulWadUp(amount, price)
	if params.MaxPayment == nil || payment.Cmp(params.MaxPayment) > 0 {
		return nil, ErrSlippage
	}
	if err := m.dist.DistributeFrom(payment, m.payment, holder); err != nil {
		return nil, err
	}
	delivered, credited, err := m.deliverOrCredit(m.credits, recipient, amount)
	if err != nil {
		return nil, err
	}
	receipt := &Receipt{
		PaymentAmount: payment,
		DeliveredNow:  delivered,
		Credited:      credited,
	}
	m.emit(settledEvent(m.addr, holder, recipient, amount, receipt))
	return receipt, nil
}
