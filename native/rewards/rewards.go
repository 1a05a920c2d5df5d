package rewards

import (
	"errors"
	"math"
	"math/big"
	"sync"
	"time"

	"greenledger/core/events"
	"greenledger/core/state"
	nativecommon "greenledger/native/common"
)

const moduleName = "rewards"

// engineState describes the persistence the rewards module needs from the
// surrounding state implementation.
type engineState interface {
	KVPut(key []byte, value interface{}) error
	KVPutNew(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
}

// pointsLedger is the external token ledger collaborator. The engine only
// ever mints under the control-plane capability and burns under the
// participant's own identity.
type pointsLedger interface {
	Mint(authority []byte, symbol string, to []byte, amount *big.Int) error
	Burn(authority []byte, symbol string, from []byte, amount *big.Int) error
	MintAuthority(symbol string) ([]byte, error)
	SetMintAuthority(symbol string, authority []byte) error
	Balance(addr []byte, symbol string) (*big.Int, error)
}

// Engine implements the claim-verification-accounting state machine. Public
// operations serialize on an internal mutex so each executes as a single
// indivisible step against the records it touches; validations and arithmetic
// precede the first write, so a failed operation leaves no partial state.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	ledger  pointsLedger
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

// NewEngine creates a rewards engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(st engineState) { e.state = st }

// SetLedger configures the external token ledger collaborator.
func (e *Engine) SetLedger(l pointsLedger) { e.ledger = l }

// SetPauses configures the node-level module pause view. It is independent of
// the control plane's own Paused parameter.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

var errNilState = errors.New("rewards: state not configured")

func (e *Engine) guardModule() error {
	return nativecommon.Guard(e.pauses, moduleName)
}

// loadGlobal resolves the live control plane. The active pointer is written
// exactly once at initialization.
func (e *Engine) loadGlobal() (*GlobalState, [32]byte, error) {
	var addr [32]byte
	if e.state == nil {
		return nil, addr, errNilState
	}
	found, err := e.state.KVGet(activeGlobalKey, &addr)
	if err != nil {
		return nil, addr, err
	}
	if !found {
		return nil, addr, ErrNotInitialized
	}
	global := new(GlobalState)
	found, err = e.state.KVGet(addr[:], global)
	if err != nil {
		return nil, addr, err
	}
	if !found {
		return nil, addr, ErrNotInitialized
	}
	return global, addr, nil
}

func (e *Engine) requireAdmin(caller [20]byte) (*GlobalState, [32]byte, error) {
	global, addr, err := e.loadGlobal()
	if err != nil {
		return nil, addr, err
	}
	if global.Admin != caller {
		return nil, addr, ErrUnauthorizedAdmin
	}
	return global, addr, nil
}

func mapDuplicate(err error) error {
	if errors.Is(err, state.ErrKVExists) {
		return ErrDuplicateRecord
	}
	return err
}

// checkedMul multiplies two uint64 values, failing on overflow instead of
// wrapping.
func checkedMul(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxUint64/b {
		return 0, false
	}
	return a * b, true
}

// checkedAdd adds two uint64 values, failing on overflow instead of wrapping.
func checkedAdd(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return 0, false
	}
	return a + b, true
}
