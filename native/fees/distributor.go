package fees

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"optionstoken/core/events"
	"optionstoken/core/types"
	"optionstoken/native/fpmath"
	"optionstoken/native/token"
)

var (
	ErrLengthMismatch = errors.New("fees: recipient and weight lengths differ")
	ErrEmptySchedule  = errors.New("fees: schedule is empty")
)

// EventTypeFeesDistributed is emitted once per successful distribution.
const EventTypeFeesDistributed = "fees.distributed"

// Schedule is an ordered list of basis-point fee splits. Weights are not
// required to sum to 10000: the distributor pays exactly what each entry
// names and nothing else, so an under-allocating schedule simply leaves the
// remainder with the payer.
type Schedule struct {
	Recipients [][20]byte
	WeightsBps []uint64
}

// NewSchedule validates the parallel slices and returns a defensive copy.
func NewSchedule(recipients [][20]byte, weightsBps []uint64) (Schedule, error) {
	if len(recipients) != len(weightsBps) {
		return Schedule{}, ErrLengthMismatch
	}
	if len(recipients) == 0 {
		return Schedule{}, ErrEmptySchedule
	}
	s := Schedule{
		Recipients: append([][20]byte{}, recipients...),
		WeightsBps: append([]uint64{}, weightsBps...),
	}
	return s, nil
}

// Clone returns a deep copy of the schedule.
func (s Schedule) Clone() Schedule {
	return Schedule{
		Recipients: append([][20]byte{}, s.Recipients...),
		WeightsBps: append([]uint64{}, s.WeightsBps...),
	}
}

// Distributor splits payments across the configured schedule, pulling each
// share directly from the payer. There is no escrow step: a failing transfer
// aborts the distribution and with it the caller's whole settlement.
type Distributor struct {
	mu       sync.RWMutex
	schedule Schedule
	emitter  events.Emitter
}

// NewDistributor constructs a distributor with a no-op emitter.
func NewDistributor(schedule Schedule) *Distributor {
	return &Distributor{schedule: schedule.Clone(), emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (d *Distributor) SetEmitter(emitter events.Emitter) {
	if d == nil {
		return
	}
	d.mu.Lock()
	if emitter == nil {
		d.emitter = events.NoopEmitter{}
	} else {
		d.emitter = emitter
	}
	d.mu.Unlock()
}

// SetSchedule replaces the fee schedule.
func (d *Distributor) SetSchedule(schedule Schedule) error {
	if d == nil {
		return fmt.Errorf("fees: distributor not configured")
	}
	if len(schedule.Recipients) != len(schedule.WeightsBps) {
		return ErrLengthMismatch
	}
	if len(schedule.Recipients) == 0 {
		return ErrEmptySchedule
	}
	d.mu.Lock()
	d.schedule = schedule.Clone()
	d.mu.Unlock()
	return nil
}

// Schedule returns a copy of the active schedule.
func (d *Distributor) Schedule() Schedule {
	if d == nil {
		return Schedule{}
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.schedule.Clone()
}

type feeEvent struct {
	evt *types.Event
}

func (e feeEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

// DistributeFrom pulls total*weight/10000 from the payer to each recipient in
// schedule order, rounding each share down. Partial failure aborts: the error
// is returned to the settlement caller which treats the whole exercise as
// failed.
func (d *Distributor) DistributeFrom(total *big.Int, ledger token.Ledger, payer [20]byte) error {
	if d == nil {
		return fmt.Errorf("fees: distributor not configured")
	}
	if ledger == nil {
		return fmt.Errorf("fees: ledger required")
	}
	if total == nil || total.Sign() <= 0 {
		return fmt.Errorf("fees: total must be positive")
	}
	d.mu.RLock()
	schedule := d.schedule.Clone()
	emitter := d.emitter
	d.mu.RUnlock()

	if len(schedule.Recipients) == 0 {
		return ErrEmptySchedule
	}
	attrs := map[string]string{
		"payer": types.HexAddress(payer),
		"total": types.BigIntString(total),
	}
	for i, recipient := range schedule.Recipients {
		share := fpmath.MulBpsDown(total, schedule.WeightsBps[i])
		if share.Sign() == 0 {
			continue
		}
		if err := ledger.TransferFrom(payer, payer, recipient, share); err != nil {
			return fmt.Errorf("fees: transfer to %s: %w", types.HexAddress(recipient), err)
		}
		idx := strconv.Itoa(i)
		attrs["recipient."+idx] = types.HexAddress(recipient)
		attrs["weightBps."+idx] = strconv.FormatUint(schedule.WeightsBps[i], 10)
		attrs["amount."+idx] = share.String()
	}
	emitter.Emit(feeEvent{evt: &types.Event{Type: EventTypeFeesDistributed, Attributes: attrs}})
	return nil
}
