package exercise

import (
	"math/big"
	"strconv"

	"optionstoken/core/types"
	"optionstoken/native/common"
	"optionstoken/native/fees"
	"optionstoken/native/oracle"
	"optionstoken/native/token"
)

// ImmediateDiscount sells the underlying at an owner-configured discount to
// the oracle price and delivers it on the spot. When the module inventory
// cannot cover the full amount the shortfall becomes a credit the recipient
// claims later.
type ImmediateDiscount struct {
	base

	oracle     oracle.PriceOracle
	bounds     MultiplierRange
	multiplier uint64
	credits    *creditBook
}

// NewImmediateDiscount wires the module. The multiplier starts at the upper
// bound (no discount beyond the configured ceiling) until the owner lowers it.
func NewImmediateDiscount(addr, owner, gateway [20]byte, paymentTok, underlyingTok [20]byte, payment, underlying token.Ledger, dist *fees.Distributor, priceOracle oracle.PriceOracle, bounds MultiplierRange) (*ImmediateDiscount, error) {
	if !bounds.valid() {
		return nil, ErrMultiplierOutOfRange
	}
	m := &ImmediateDiscount{
		base:       newBase(addr, owner, gateway, paymentTok, underlyingTok, payment, underlying, dist),
		bounds:     bounds,
		multiplier: bounds.Max,
		credits:    newCreditBook(),
	}
	if err := m.base.validateOracle(priceOracle); err != nil {
		return nil, err
	}
	m.oracle = priceOracle
	return m, nil
}

// SetOracle swaps the price source. The new oracle must price exactly the
// module's token pair. Owner only.
func (m *ImmediateDiscount) SetOracle(caller [20]byte, o oracle.PriceOracle) error {
	if err := common.GuardOwner(m.owner, caller); err != nil {
		return err
	}
	if err := m.validateOracle(o); err != nil {
		return err
	}
	m.mu.Lock()
	m.oracle = o
	m.mu.Unlock()
	m.emit(&types.Event{Type: EventTypeOracleSet, Attributes: map[string]string{
		"module": types.HexAddress(m.addr),
	}})
	return nil
}

// SetMultiplier updates the discount within the configured bounds. Owner only.
func (m *ImmediateDiscount) SetMultiplier(caller [20]byte, multiplier uint64) error {
	if err := common.GuardOwner(m.owner, caller); err != nil {
		return err
	}
	if !m.bounds.Contains(multiplier) {
		return ErrMultiplierOutOfRange
	}
	m.mu.Lock()
	m.multiplier = multiplier
	m.mu.Unlock()
	m.emit(&types.Event{Type: EventTypeMultiplierSet, Attributes: map[string]string{
		"module":        types.HexAddress(m.addr),
		"multiplierBps": strconv.FormatUint(multiplier, 10),
	}})
	return nil
}

// Multiplier returns the active discount multiplier in basis points.
func (m *ImmediateDiscount) Multiplier() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.multiplier
}

// CreditOf reports the undelivered balance owed to a recipient.
func (m *ImmediateDiscount) CreditOf(recipient [20]byte) *big.Int {
	return m.credits.outstanding(recipient)
}

// Claim drains the caller's credit entry, transferring exactly the owed
// amount from the module inventory.
func (m *ImmediateDiscount) Claim(caller [20]byte) (*big.Int, error) {
	return m.claimCredit(m.credits, caller)
}

// Exercise settles an immediate discounted purchase.
func (m *ImmediateDiscount) Exercise(caller, holder [20]byte, amount *big.Int, recipient [20]byte, params Params) (*Receipt, error) {
	if err := m.guardEntry(caller, amount, params); err != nil {
		return nil, err
	}
	m.mu.RLock()
	src := m.oracle
	multiplier := m.multiplier
	m.mu.RUnlock()

	price, err := src.Price()
	if err != nil {
		return nil, err
	}
	payment, err := paymentDue(amount, price, multiplier, params.MaxPayment)
	if err != nil {
		return nil, err
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
