package exercise

import (
	"math/big"
	"sync"

	"optionstoken/core/types"
)

// creditBook records underlying value owed to recipients after a partial
// delivery. Entries are keyed per recipient so concurrent holders cannot
// interfere, and are drained only by an explicit claim.
type creditBook struct {
	mu      sync.RWMutex
	credits map[[20]byte]*big.Int
}

func newCreditBook() *creditBook {
	return &creditBook{credits: make(map[[20]byte]*big.Int)}
}

// record adds an owed amount for the recipient.
func (c *creditBook) record(recipient [20]byte, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.credits[recipient]; ok {
		c.credits[recipient] = new(big.Int).Add(existing, amount)
		return
	}
	c.credits[recipient] = new(big.Int).Set(amount)
}

// outstanding returns the recipient's undelivered balance.
func (c *creditBook) outstanding(recipient [20]byte) *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if owed, ok := c.credits[recipient]; ok {
		return new(big.Int).Set(owed)
	}
	return big.NewInt(0)
}

// take zeroes and returns the recipient's entry. The entry is removed before
// any transfer happens so a re-entering claim finds nothing to drain.
func (c *creditBook) take(recipient [20]byte) (*big.Int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owed, ok := c.credits[recipient]
	if !ok || owed.Sign() <= 0 {
		return nil, false
	}
	delete(c.credits, recipient)
	return owed, true
}

// restore re-records an entry after a failed payout transfer.
func (c *creditBook) restore(recipient [20]byte, amount *big.Int) {
	c.record(recipient, amount)
}

// total sums every outstanding entry.
func (c *creditBook) total() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sum := big.NewInt(0)
	for _, owed := range c.credits {
		sum.Add(sum, owed)
	}
	return sum
}

// claimCredit drains the caller's credit entry from the module's inventory.
// Shared by every module that can under-deliver.
func (b *base) claimCredit(credits *creditBook, caller [20]byte) (*big.Int, error) {
	owed, ok := credits.take(caller)
	if !ok {
		return nil, ErrNoCredit
	}
	if err := b.underlying.Transfer(b.addr, caller, owed); err != nil {
		credits.restore(caller, owed)
		return nil, err
	}
	b.emit(&types.Event{Type: EventTypeCreditClaimed, Attributes: map[string]string{
		"module":    types.HexAddress(b.addr),
		"recipient": types.HexAddress(caller),
		"amount":    owed.String(),
	}})
	if m := b.metricsRef(); m != nil {
		m.RecordClaim(types.HexAddress(b.addr))
		m.SetCreditOutstanding(types.HexAddress(b.addr), credits.total())
	}
	return owed, nil
}

// deliverOrCredit transfers what the module can cover now and records the
// rest as credit. The credit entry is written before the outbound transfer.
func (b *base) deliverOrCredit(credits *creditBook, recipient [20]byte, amount *big.Int) (delivered, credited *big.Int, err error) {
	balance := b.underlying.BalanceOf(b.addr)
	delivered = new(big.Int).Set(amount)
	credited = big.NewInt(0)
	if balance.Cmp(amount) < 0 {
		delivered = balance
		credited = new(big.Int).Sub(amount, balance)
		credits.record(recipient, credited)
	}
	if delivered.Sign() > 0 {
		if err := b.underlying.Transfer(b.addr, recipient, delivered); err != nil {
			if credited.Sign() > 0 {
				// The exercise aborts as a whole; unwind only the
				// entry this call added.
				if full, ok := credits.take(recipient); ok {
					credits.restore(recipient, new(big.Int).Sub(full, credited))
				}
			}
			return nil, nil, err
		}
	}
	if credited.Sign() > 0 {
		if m := b.metricsRef(); m != nil {
			m.SetCreditOutstanding(types.HexAddress(b.addr), credits.total())
		}
	}
	return delivered, credited, nil
}
