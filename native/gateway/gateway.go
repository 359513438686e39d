package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"optionstoken/core/events"
	"optionstoken/core/types"
	"optionstoken/native/common"
	"optionstoken/native/exercise"
	"optionstoken/native/fpmath"
	"optionstoken/observability"
)

var (
	ErrNotMinter          = errors.New("gateway: caller is not the minter")
	ErrNotActiveModule    = errors.New("gateway: module not active")
	ErrUnknownModule      = errors.New("gateway: module not registered")
	ErrInsufficientRights = errors.New("gateway: insufficient right-token balance")
	ErrInvalidAmount      = errors.New("gateway: amount must be positive")
)

const (
	EventTypeMinted    = "gateway.minted"
	EventTypeExercised = "gateway.exercised"
	EventTypeModuleSet = "gateway.module_set"
)

// The gateway doubles as the allow-list view other components consult.
var _ common.AllowView = (*Gateway)(nil)

// Gateway owns the right-token bookkeeping and routes exercises to
// allow-listed modules. Supply only grows through the minter role and only
// shrinks through an exercise burn.
type Gateway struct {
	mu sync.Mutex

	addr   [20]byte
	owner  [20]byte
	minter [20]byte

	balances map[[20]byte]*big.Int
	supply   *big.Int

	modules map[[20]byte]exercise.Module
	active  map[[20]byte]bool

	emitter events.Emitter
	metrics *observability.SettlementMetrics
	logger  *slog.Logger
}

// New constructs a gateway. The minter role is distinct from the owner: the
// owner curates the module allow-list, the minter issues right-tokens.
func New(addr, owner, minter [20]byte) *Gateway {
	return &Gateway{
		addr:     addr,
		owner:    owner,
		minter:   minter,
		balances: make(map[[20]byte]*big.Int),
		supply:   big.NewInt(0),
		modules:  make(map[[20]byte]exercise.Module),
		active:   make(map[[20]byte]bool),
		emitter:  events.NoopEmitter{},
	}
}

// Address returns the gateway's own address; modules bind to it as the only
// caller allowed to invoke Exercise on them.
func (g *Gateway) Address() [20]byte { return g.addr }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (g *Gateway) SetEmitter(emitter events.Emitter) {
	g.mu.Lock()
	if emitter == nil {
		g.emitter = events.NoopEmitter{}
	} else {
		g.emitter = emitter
	}
	g.mu.Unlock()
}

// SetMetrics attaches the settlement metrics registry.
func (g *Gateway) SetMetrics(m *observability.SettlementMetrics) {
	g.mu.Lock()
	g.metrics = m
	g.mu.Unlock()
}

// SetLogger attaches a structured logger.
func (g *Gateway) SetLogger(logger *slog.Logger) {
	g.mu.Lock()
	g.logger = logger
	g.mu.Unlock()
}

type gatewayEvent struct {
	evt *types.Event
}

func (e gatewayEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (g *Gateway) emit(evt *types.Event) {
	if g.emitter != nil && evt != nil {
		g.emitter.Emit(gatewayEvent{evt: evt})
	}
}

func (g *Gateway) logInfo(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Info(msg, args...)
	}
}

func (g *Gateway) logWarn(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Warn(msg, args...)
	}
}

// Mint issues right-tokens. Minter only.
func (g *Gateway) Mint(caller, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if caller != g.minter {
		return ErrNotMinter
	}
	if existing, ok := g.balances[to]; ok {
		g.balances[to] = new(big.Int).Add(existing, amount)
	} else {
		g.balances[to] = new(big.Int).Set(amount)
	}
	g.supply = new(big.Int).Add(g.supply, amount)
	g.emit(&types.Event{Type: EventTypeMinted, Attributes: map[string]string{
		"to":     types.HexAddress(to),
		"amount": amount.String(),
	}})
	g.logInfo("right tokens minted", "to", types.HexAddress(to), "amount", amount.String())
	return nil
}

// BalanceOf returns the holder's right-token balance.
func (g *Gateway) BalanceOf(holder [20]byte) *big.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if bal, ok := g.balances[holder]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// TotalSupply returns the outstanding right-token supply.
func (g *Gateway) TotalSupply() *big.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return new(big.Int).Set(g.supply)
}

// SetExerciseContract toggles a module on the allow-list, registering it on
// first activation. Owner only.
func (g *Gateway) SetExerciseContract(caller [20]byte, module exercise.Module, active bool) error {
	if err := common.GuardOwner(g.owner, caller); err != nil {
		return err
	}
	if module == nil {
		return ErrUnknownModule
	}
	addr := module.Address()
	g.mu.Lock()
	g.modules[addr] = module
	g.active[addr] = active
	g.mu.Unlock()
	g.emit(&types.Event{Type: EventTypeModuleSet, Attributes: map[string]string{
		"module": types.HexAddress(addr),
		"active": fmt.Sprintf("%t", active),
	}})
	g.logInfo("exercise module toggled", "module", types.HexAddress(addr), "active", active)
	return nil
}

// IsActive reports whether a module is allow-listed. Implements
// common.AllowView.
func (g *Gateway) IsActive(module [20]byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active[module]
}

// Exercise burns the holder's right-tokens and delegates settlement to the
// chosen module. The call is transactional: a module failure restores the
// burned balance so no state change survives a failed exercise.
func (g *Gateway) Exercise(holder [20]byte, amount *big.Int, recipient [20]byte, moduleAddr [20]byte, params exercise.Params) (*exercise.Receipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	g.mu.Lock()
	module, registered := g.modules[moduleAddr]
	if !registered {
		g.mu.Unlock()
		return nil, ErrUnknownModule
	}
	if !g.active[moduleAddr] {
		g.mu.Unlock()
		return nil, ErrNotActiveModule
	}
	balance, ok := g.balances[holder]
	if !ok || balance.Cmp(amount) < 0 {
		g.mu.Unlock()
		return nil, ErrInsufficientRights
	}
	// Burn before delegating; restored below if the module rejects.
	g.balances[holder] = new(big.Int).Sub(balance, amount)
	g.supply = new(big.Int).Sub(g.supply, amount)
	metrics := g.metrics
	g.mu.Unlock()

	receipt, err := module.Exercise(g.addr, holder, amount, recipient, params)
	if err != nil {
		g.mu.Lock()
		g.balances[holder] = new(big.Int).Add(g.balances[holder], amount)
		g.supply = new(big.Int).Add(g.supply, amount)
		g.mu.Unlock()
		if metrics != nil {
			metrics.ObserveExercise(types.HexAddress(moduleAddr), err, nil)
		}
		g.logWarn("exercise rejected",
			"module", types.HexAddress(moduleAddr),
			"holder", types.HexAddress(holder),
			"amount", amount.String(),
			"err", err)
		return nil, err
	}

	if metrics != nil {
		metrics.ObserveExercise(types.HexAddress(moduleAddr), nil, receipt.PaymentAmount)
	}
	g.emit(&types.Event{Type: EventTypeExercised, Attributes: map[string]string{
		"module":    types.HexAddress(moduleAddr),
		"holder":    types.HexAddress(holder),
		"recipient": types.HexAddress(recipient),
		"amount":    amount.String(),
		"payment":   types.BigIntString(receipt.PaymentAmount),
	}})
	g.logInfo("exercise settled",
		"module", types.HexAddress(moduleAddr),
		"holder", types.HexAddress(holder),
		"amount", amount.String(),
		"payment", fpmath.Clone(receipt.PaymentAmount).String())
	return receipt, nil
}
