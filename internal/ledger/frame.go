package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Aidin1998/relayex/pkg/errors"
)

// MaxCallDepth bounds nested calls within one unit of work.
const MaxCallDepth = 1024

var (
	ErrCallDepth   = errors.NewWithKind("CallDepthExceeded")
	ErrUnknownCode = errors.NewWithKind("UnknownCode")
)

// unit is the shared context of every frame of one unit of work.
type unit struct {
	ctx    context.Context
	ledger *Ledger
	st     *state
	origin Address
	now    time.Time
}

func (u *unit) balance(a Address) *big.Int {
	return new(big.Int).SetBytes(u.st.get(balanceKey(a)))
}

func (u *unit) setBalance(a Address, v *big.Int) {
	if v.Sign() == 0 {
		u.st.del(balanceKey(a))
		return
	}
	u.st.set(balanceKey(a), v.Bytes())
}

func (u *unit) transfer(from, to Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return errors.TransferFailed.Explain("negative amount %s", amount)
	}
	bal := u.balance(from)
	if bal.Cmp(amount) < 0 {
		return errors.TransferFailed.Explain("insufficient balance: %s holds %s, needs %s", from.Hex(), bal, amount)
	}
	u.setBalance(from, bal.Sub(bal, amount))
	u.setBalance(to, new(big.Int).Add(u.balance(to), amount))
	return nil
}

func (u *unit) contract(a Address) (Contract, string, error) {
	id := string(u.st.get(codeKey(a)))
	if id == "" {
		return nil, "", nil
	}
	c, ok := u.ledger.code(id)
	if !ok {
		return nil, id, ErrUnknownCode.Explain("%q at %s", id, a.Hex())
	}
	return c, id, nil
}

// Frame is one activation of contract code: who is executing (Self),
// who called (Caller) and the native value that came with the call.
type Frame struct {
	u      *unit
	self   Address
	caller Address
	value  *big.Int
	depth  int
	static bool
}

func (f *Frame) Self() Address              { return f.self }
func (f *Frame) Caller() Address            { return f.caller }
func (f *Frame) Origin() Address            { return f.u.origin }
func (f *Frame) Value() *big.Int            { return new(big.Int).Set(f.value) }
func (f *Frame) Now() time.Time             { return f.u.now }
func (f *Frame) Context() context.Context   { return f.u.ctx }
func (f *Frame) Static() bool               { return f.static }
func (f *Frame) Depth() int                 { return f.depth }
func (f *Frame) Store() Store               { return Store{st: f.u.st, addr: f.self} }
func (f *Frame) Balance(a Address) *big.Int { return f.u.balance(a) }

// CodeOf returns the code identifier installed at a, or "".
func (f *Frame) CodeOf(a Address) string {
	return string(f.u.st.get(codeKey(a)))
}

// Emit appends an event to the unit's log. It is dropped if this frame
// or any enclosing one reverts.
func (f *Frame) Emit(ev Event) {
	f.u.st.logs = append(f.u.st.logs, Log{Address: f.self, Name: ev.EventName(), Event: ev, Time: f.u.now})
}

// Transfer moves native value from Self to another account.
func (f *Frame) Transfer(to Address, amount *big.Int) error {
	return f.u.transfer(f.self, to, amount)
}

// enter runs fn in a child frame. Effects of the child are reverted if fn
// fails or the child is a static boundary.
func (f *Frame) enter(self, caller Address, value *big.Int, transfer, static bool, fn func(*Frame) error) error {
	if f.depth >= MaxCallDepth {
		return ErrCallDepth
	}
	if value == nil {
		value = new(big.Int)
	}
	st := f.u.st
	snap := st.snapshot()
	if transfer {
		if err := f.u.transfer(caller, self, value); err != nil {
			st.revert(snap)
			return err
		}
	}
	child := &Frame{u: f.u, self: self, caller: caller, value: value, depth: f.depth + 1, static: f.static || static}
	err := fn(child)
	if err != nil || static {
		st.revert(snap)
	}
	return err
}

// Invoke runs fn as the contract at `to`, called by Self with value.
// It is the typed counterpart of Call for Go entry points.
func (f *Frame) Invoke(to Address, value *big.Int, fn func(*Frame) error) error {
	return f.enter(to, f.self, value, true, false, fn)
}

// Call runs the code at `to` with input. A call to an address without code
// only moves value.
func (f *Frame) Call(to Address, value *big.Int, input []byte) ([]byte, error) {
	c, _, err := f.u.contract(to)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = f.enter(to, f.self, value, true, false, func(child *Frame) error {
		if c == nil {
			return nil
		}
		var err error
		out, err = c.Call(child, input)
		return err
	})
	return out, err
}

// DelegateCall runs the code at `to` against Self's storage, keeping the
// current caller and value.
func (f *Frame) DelegateCall(to Address, input []byte) ([]byte, error) {
	c, _, err := f.u.contract(to)
	if err != nil || c == nil {
		return nil, err
	}
	var out []byte
	err = f.enter(f.self, f.caller, f.value, false, false, func(child *Frame) error {
		var err error
		out, err = c.Call(child, input)
		return err
	})
	return out, err
}

// StaticCall runs the code at `to` and discards all of its effects.
func (f *Frame) StaticCall(to Address, input []byte) ([]byte, error) {
	c, _, err := f.u.contract(to)
	if err != nil || c == nil {
		return nil, err
	}
	var out []byte
	err = f.enter(to, f.self, nil, false, true, func(child *Frame) error {
		var err error
		out, err = c.Call(child, input)
		return err
	})
	return out, err
}

// Create deploys codeID at an address derived from Self and its nonce,
// funds it with value and runs init as the new contract.
func (f *Frame) Create(codeID string, value *big.Int, init func(*Frame) error) (Address, error) {
	if _, ok := f.u.ledger.code(codeID); !ok {
		return Address{}, ErrUnknownCode.Explain("%q", codeID)
	}
	st := f.u.st
	nonce := new(big.Int).SetBytes(st.get(nonceKey(f.self))).Uint64()
	st.set(nonceKey(f.self), new(big.Int).SetUint64(nonce+1).Bytes())

	addr := crypto.CreateAddress(f.self, nonce)
	if st.get(codeKey(addr)) != nil {
		return Address{}, errors.New("address collision").Explain("create at %s", addr.Hex())
	}
	err := f.enter(addr, f.self, value, true, false, func(child *Frame) error {
		st.set(codeKey(addr), []byte(codeID))
		if init != nil {
			return init(child)
		}
		return nil
	})
	if err != nil {
		return Address{}, err
	}
	return addr, nil
}
