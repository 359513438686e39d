package stream

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"optionstoken/core/events"
	"optionstoken/core/types"
	"optionstoken/native/fpmath"
	"optionstoken/native/token"
)

var (
	ErrNotFound        = errors.New("stream: not found")
	ErrNotRecipient    = errors.New("stream: caller is not the recipient")
	ErrNotSender       = errors.New("stream: caller is not the sender")
	ErrNothingDue      = errors.New("stream: nothing due")
	ErrCancelled       = errors.New("stream: cancelled")
	ErrInvalidDuration = errors.New("stream: invalid duration")
	ErrInvalidAmount   = errors.New("stream: amount must be positive")
	ErrNoSegments      = errors.New("stream: no segments")
)

const (
	EventTypeStreamCreated   = "stream.created"
	EventTypeStreamWithdrawn = "stream.withdrawn"
	EventTypeStreamCancelled = "stream.cancelled"
)

// Segment describes one leg of a piecewise release curve: the fraction of the
// segment's amount released after elapsed time e within a segment of duration
// d is (e/d)^exponent.
type Segment struct {
	Exponent uint32
	Duration int64
}

// SegmentAmount is a Segment with its synthesized amount attached.
type SegmentAmount struct {
	Segment
	Amount *big.Int
}

// ConstructSegments splits amount equally across the schedule, folding the
// integer remainder into the final segment so the amounts always sum to the
// full total.
func ConstructSegments(schedule []Segment, amount *big.Int) ([]SegmentAmount, error) {
	if len(schedule) == 0 {
		return nil, ErrNoSegments
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	count := big.NewInt(int64(len(schedule)))
	per, rem := new(big.Int).QuoRem(amount, count, new(big.Int))
	out := make([]SegmentAmount, len(schedule))
	for i, seg := range schedule {
		if seg.Duration <= 0 {
			return nil, ErrInvalidDuration
		}
		amt := new(big.Int).Set(per)
		if i == len(schedule)-1 {
			amt.Add(amt, rem)
		}
		out[i] = SegmentAmount{Segment: seg, Amount: amt}
	}
	return out, nil
}

type curveKind uint8

const (
	curveLinear curveKind = iota
	curveSegmented
)

// Stream is a time-released payout position held by the service on behalf of
// a recipient.
type Stream struct {
	ID        uuid.UUID
	Sender    [20]byte
	Recipient [20]byte
	Total     *big.Int
	Withdrawn *big.Int
	Start     int64
	Cliff     int64
	End       int64
	Segments  []SegmentAmount
	Cancelled bool

	kind   curveKind
	ledger token.Ledger
}

// Clone returns a deep copy safe to hand to callers.
func (s *Stream) Clone() *Stream {
	if s == nil {
		return nil
	}
	out := *s
	out.Total = fpmath.Clone(s.Total)
	out.Withdrawn = fpmath.Clone(s.Withdrawn)
	out.Segments = make([]SegmentAmount, len(s.Segments))
	for i, seg := range s.Segments {
		out.Segments[i] = SegmentAmount{Segment: seg.Segment, Amount: fpmath.Clone(seg.Amount)}
	}
	return &out
}

// releasedAt computes the released portion of the stream at time t.
func (s *Stream) releasedAt(t int64) *big.Int {
	if t < s.Cliff {
		return big.NewInt(0)
	}
	if t >= s.End {
		return new(big.Int).Set(s.Total)
	}
	switch s.kind {
	case curveLinear:
		return fpmath.MulDivDown(s.Total, big.NewInt(t-s.Start), big.NewInt(s.End-s.Start))
	case curveSegmented:
		released := big.NewInt(0)
		cursor := s.Start
		for _, seg := range s.Segments {
			segEnd := cursor + seg.Duration
			if t >= segEnd {
				released.Add(released, seg.Amount)
				cursor = segEnd
				continue
			}
			if t > cursor {
				frac := fpmath.MulDivDown(big.NewInt(t-cursor), fpmath.Wad, big.NewInt(seg.Duration))
				factor := wadPow(frac, seg.Exponent)
				released.Add(released, fpmath.MulWadDown(seg.Amount, factor))
			}
			break
		}
		return released
	default:
		return big.NewInt(0)
	}
}

// wadPow raises a WAD-scaled fraction to a small integer power, rounding down
// at each step. Exponent zero is treated as one so a misconfigured segment
// can never release faster than linear.
func wadPow(base *big.Int, exponent uint32) *big.Int {
	if exponent == 0 {
		exponent = 1
	}
	out := new(big.Int).Set(base)
	for i := uint32(1); i < exponent; i++ {
		out = fpmath.MulWadDown(out, base)
	}
	return out
}

type streamEvent struct {
	evt *types.Event
}

func (e streamEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

// Service is the in-process scheduled-payout collaborator. It takes custody
// of the streamed tokens at creation and releases them over the configured
// curve.
type Service struct {
	mu      sync.RWMutex
	addr    [20]byte
	streams map[uuid.UUID]*Stream
	emitter events.Emitter
	nowFn   func() int64
}

// NewService constructs the service with its custody address.
func NewService(addr [20]byte) *Service {
	return &Service{
		addr:    addr,
		streams: make(map[uuid.UUID]*Stream),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (s *Service) SetNowFunc(now func() int64) {
	if s == nil || now == nil {
		return
	}
	s.mu.Lock()
	s.nowFn = now
	s.mu.Unlock()
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (s *Service) SetEmitter(emitter events.Emitter) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if emitter == nil {
		s.emitter = events.NoopEmitter{}
	} else {
		s.emitter = emitter
	}
	s.mu.Unlock()
}

// Address returns the custody address streams are funded into.
func (s *Service) Address() [20]byte { return s.addr }

func (s *Service) emit(evt *types.Event) {
	if s.emitter != nil && evt != nil {
		s.emitter.Emit(streamEvent{evt: evt})
	}
}

// CreateLinearStream pulls amount from the sender and releases it linearly
// from start to start+totalSeconds, with nothing withdrawable before the
// cliff.
func (s *Service) CreateLinearStream(sender [20]byte, cliffSeconds, totalSeconds int64, amount *big.Int, ledger token.Ledger, recipient [20]byte) (uuid.UUID, error) {
	if s == nil {
		return uuid.Nil, fmt.Errorf("stream: service not configured")
	}
	if ledger == nil {
		return uuid.Nil, fmt.Errorf("stream: ledger required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return uuid.Nil, ErrInvalidAmount
	}
	if totalSeconds <= 0 || cliffSeconds < 0 || cliffSeconds > totalSeconds {
		return uuid.Nil, ErrInvalidDuration
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFn()
	if err := ledger.TransferFrom(s.addr, sender, s.addr, amount); err != nil {
		return uuid.Nil, err
	}
	st := &Stream{
		ID:        uuid.New(),
		Sender:    sender,
		Recipient: recipient,
		Total:     new(big.Int).Set(amount),
		Withdrawn: big.NewInt(0),
		Start:     now,
		Cliff:     now + cliffSeconds,
		End:       now + totalSeconds,
		kind:      curveLinear,
		ledger:    ledger,
	}
	s.streams[st.ID] = st
	s.emit(newStreamEvent(EventTypeStreamCreated, st))
	return st.ID, nil
}

// CreateSegmentedStream pulls amount from the sender and releases it over the
// piecewise-exponential curve synthesized from the schedule.
func (s *Service) CreateSegmentedStream(sender [20]byte, schedule []Segment, amount *big.Int, ledger token.Ledger, recipient [20]byte) (uuid.UUID, error) {
	if s == nil {
		return uuid.Nil, fmt.Errorf("stream: service not configured")
	}
	if ledger == nil {
		return uuid.Nil, fmt.Errorf("stream: ledger required")
	}
	segments, err := ConstructSegments(schedule, amount)
	if err != nil {
		return uuid.Nil, err
	}
	var total int64
	for _, seg := range segments {
		total += seg.Duration
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFn()
	if err := ledger.TransferFrom(s.addr, sender, s.addr, amount); err != nil {
		return uuid.Nil, err
	}
	st := &Stream{
		ID:        uuid.New(),
		Sender:    sender,
		Recipient: recipient,
		Total:     new(big.Int).Set(amount),
		Withdrawn: big.NewInt(0),
		Start:     now,
		Cliff:     now,
		End:       now + total,
		Segments:  segments,
		kind:      curveSegmented,
		ledger:    ledger,
	}
	s.streams[st.ID] = st
	s.emit(newStreamEvent(EventTypeStreamCreated, st))
	return st.ID, nil
}

// Get returns a copy of the stream.
func (s *Service) Get(id uuid.UUID) (*Stream, error) {
	if s == nil {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.streams[id]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

// Releasable reports what the recipient could withdraw right now.
func (s *Service) Releasable(id uuid.UUID) (*big.Int, error) {
	if s == nil {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.streams[id]
	if !ok {
		return nil, ErrNotFound
	}
	if st.Cancelled {
		return big.NewInt(0), nil
	}
	due := new(big.Int).Sub(st.releasedAt(s.nowFn()), st.Withdrawn)
	if due.Sign() < 0 {
		due = big.NewInt(0)
	}
	return due, nil
}

// Withdraw pays out everything released and not yet withdrawn. Recipient only.
func (s *Service) Withdraw(caller [20]byte, id uuid.UUID) (*big.Int, error) {
	if s == nil {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[id]
	if !ok {
		return nil, ErrNotFound
	}
	if caller != st.Recipient {
		return nil, ErrNotRecipient
	}
	if st.Cancelled {
		return nil, ErrCancelled
	}
	due := new(big.Int).Sub(st.releasedAt(s.nowFn()), st.Withdrawn)
	if due.Sign() <= 0 {
		return nil, ErrNothingDue
	}
	// Bookkeeping first so a re-entering transfer cannot double-withdraw.
	st.Withdrawn = new(big.Int).Add(st.Withdrawn, due)
	if err := st.ledger.Transfer(s.addr, st.Recipient, due); err != nil {
		st.Withdrawn = new(big.Int).Sub(st.Withdrawn, due)
		return nil, err
	}
	s.emit(newStreamEvent(EventTypeStreamWithdrawn, st))
	return due, nil
}

// Cancel stops the stream: the released-but-unwithdrawn part goes to the
// recipient, the rest returns to the sender. Sender only.
func (s *Service) Cancel(caller [20]byte, id uuid.UUID) error {
	if s == nil {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[id]
	if !ok {
		return ErrNotFound
	}
	if caller != st.Sender {
		return ErrNotSender
	}
	if st.Cancelled {
		return ErrCancelled
	}
	released := st.releasedAt(s.nowFn())
	dueRecipient := new(big.Int).Sub(released, st.Withdrawn)
	if dueRecipient.Sign() < 0 {
		dueRecipient = big.NewInt(0)
	}
	refund := new(big.Int).Sub(st.Total, released)
	st.Cancelled = true
	st.Withdrawn = new(big.Int).Set(released)
	if dueRecipient.Sign() > 0 {
		if err := st.ledger.Transfer(s.addr, st.Recipient, dueRecipient); err != nil {
			return err
		}
	}
	if refund.Sign() > 0 {
		if err := st.ledger.Transfer(s.addr, st.Sender, refund); err != nil {
			return err
		}
	}
	s.emit(newStreamEvent(EventTypeStreamCancelled, st))
	return nil
}

func newStreamEvent(eventType string, st *Stream) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"id":        st.ID.String(),
			"sender":    types.HexAddress(st.Sender),
			"recipient": types.HexAddress(st.Recipient),
			"total":     types.BigIntString(st.Total),
			"withdrawn": types.BigIntString(st.Withdrawn),
		},
	}
}
