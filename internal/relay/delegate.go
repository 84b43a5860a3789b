package relay

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/relayex/internal/ledger"
	"github.com/Aidin1998/relayex/pkg/errors"
)

// DelegateABI is the upgrade interface answered by the delegate proxy
// itself. Every other call is forwarded to the implementation.
var DelegateABI = ledger.MustParseABI(`[
	{"type":"function","name":"upgradeTo","inputs":[{"name":"implementation","type":"address"}],"outputs":[]},
	{"type":"function","name":"implementation","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"proxyOwner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"transferProxyOwnership","inputs":[{"name":"newOwner","type":"address"}],"outputs":[]}
]`)

const (
	keyProxyOwner     = "proxy.owner"
	keyImplementation = "proxy.implementation"
)

// Upgraded is emitted when the proxy switches implementation.
type Upgraded struct {
	Implementation common.Address `json:"implementation"`
}

func (Upgraded) EventName() string { return "Upgraded" }

// ProxyOwnershipTransferred is emitted when the upgrade right changes hands.
type ProxyOwnershipTransferred struct {
	PreviousOwner common.Address `json:"previous_owner"`
	NewOwner      common.Address `json:"new_owner"`
}

func (ProxyOwnershipTransferred) EventName() string { return "ProxyOwnershipTransferred" }

// DelegateProxy keeps a stable address and storage while the logic behind
// it can be swapped by its owner.
type DelegateProxy struct{}

func (DelegateProxy) Call(f *ledger.Frame, input []byte) ([]byte, error) {
	s := f.Store()
	if len(input) >= 4 {
		if m, err := DelegateABI.MethodById(input[:4]); err == nil {
			args, err := m.Inputs.Unpack(input[4:])
			if err != nil {
				return nil, ledger.ErrBadCall.Explain("%s: %v", m.Name, err)
			}
			switch m.Name {
			case "implementation":
				return m.Outputs.Pack(s.Address(keyImplementation))
			case "proxyOwner":
				return m.Outputs.Pack(s.Address(keyProxyOwner))
			case "upgradeTo":
				return nil, upgradeTo(f, args[0].(common.Address))
			case "transferProxyOwnership":
				return nil, transferProxyOwnership(f, args[0].(common.Address))
			}
		}
	}
	impl := s.Address(keyImplementation)
	if impl == (common.Address{}) {
		return nil, ledger.ErrBadCall.Explain("proxy %s has no implementation", f.Self().Hex())
	}
	return f.DelegateCall(impl, input)
}

func upgradeTo(f *ledger.Frame, impl common.Address) error {
	s := f.Store()
	if f.Caller() != s.Address(keyProxyOwner) {
		return errors.NotAuthorized.Explain("only the proxy owner may upgrade %s", f.Self().Hex())
	}
	if impl == s.Address(keyImplementation) {
		return ledger.ErrBadCall.Explain("proxy %s already uses %s", f.Self().Hex(), impl.Hex())
	}
	if f.CodeOf(impl) == "" {
		return ledger.ErrBadCall.Explain("implementation %s has no code", impl.Hex())
	}
	s.SetAddress(keyImplementation, impl)
	f.Emit(Upgraded{Implementation: impl})
	return nil
}

func transferProxyOwnership(f *ledger.Frame, newOwner common.Address) error {
	s := f.Store()
	prev := s.Address(keyProxyOwner)
	if f.Caller() != prev {
		return errors.NotAuthorized.Explain("only the proxy owner may transfer %s", f.Self().Hex())
	}
	if newOwner == (common.Address{}) {
		return errors.NotAuthorized.Explain("proxy owner cannot be the zero address")
	}
	s.SetAddress(keyProxyOwner, newOwner)
	f.Emit(ProxyOwnershipTransferred{PreviousOwner: prev, NewOwner: newOwner})
	return nil
}

// CreateProxy deploys user's delegate proxy from the registry frame f and
// initializes the relay logic behind it.
func CreateProxy(f *ledger.Frame, user, impl common.Address) (common.Address, error) {
	registry := f.Self()
	return f.Create(DelegateProxyCode, nil, func(p *ledger.Frame) error {
		s := p.Store()
		s.SetAddress(keyProxyOwner, user)
		s.SetAddress(keyImplementation, impl)
		input, err := AuthenticatedABI.Pack("initialize", user, registry)
		if err != nil {
			return err
		}
		_, err = p.DelegateCall(impl, input)
		return err
	})
}
