package registry

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/relayex/internal/ledger"
	"github.com/Aidin1998/relayex/internal/relay"
	"github.com/Aidin1998/relayex/pkg/errors"
)

// Code is the registry's code identifier.
const Code = "registry"

// DefaultGrantDelay is the time an operator stays pending before it can be
// authorized.
const DefaultGrantDelay = 14 * 24 * time.Hour

// ABI is the registry interface visible to other contracts.
var ABI = ledger.MustParseABI(`[
	{"type":"function","name":"contracts","stateMutability":"view","inputs":[{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"pending","stateMutability":"view","inputs":[{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"proxies","stateMutability":"view","inputs":[{"name":"principal","type":"address"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"delegateProxyImplementation","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"DELAY_PERIOD","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"registerProxy","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"startGrantAuthentication","inputs":[{"name":"operator","type":"address"}],"outputs":[]},
	{"type":"function","name":"endGrantAuthentication","inputs":[{"name":"operator","type":"address"}],"outputs":[]},
	{"type":"function","name":"revokeAuthentication","inputs":[{"name":"operator","type":"address"}],"outputs":[]},
	{"type":"function","name":"grantInitialAuthentication","inputs":[{"name":"operator","type":"address"}],"outputs":[]},
	{"type":"function","name":"transferOwnership","inputs":[{"name":"newOwner","type":"address"}],"outputs":[]}
]`)

// storage layout
const (
	keyOwner       = "owner"
	keyDelay       = "delay"
	keyInitialized = "initialized"
	keyImpl        = "impl"
	prefixOperator = "op/"
	prefixPending  = "pending/"
	prefixProxy    = "proxy/"
)

func operatorKey(a common.Address) string { return prefixOperator + a.Hex() }
func pendingKey(a common.Address) string  { return prefixPending + a.Hex() }
func proxyKey(a common.Address) string    { return prefixProxy + a.Hex() }

// Contract is the registry's executable code.
type Contract struct{}

func (Contract) Call(f *ledger.Frame, input []byte) ([]byte, error) {
	m, args, err := ledger.Decode(&ABI, input)
	if err != nil {
		return nil, err
	}
	s := f.Store()
	var arg common.Address
	if len(args) == 1 {
		arg = args[0].(common.Address)
	}
	switch m.Name {
	case "contracts":
		return m.Outputs.Pack(s.Bool(operatorKey(arg)))
	case "pending":
		return m.Outputs.Pack(new(big.Int).SetUint64(s.Uint64(pendingKey(arg))))
	case "proxies":
		return m.Outputs.Pack(s.Address(proxyKey(arg)))
	case "owner":
		return m.Outputs.Pack(s.Address(keyOwner))
	case "delegateProxyImplementation":
		return m.Outputs.Pack(s.Address(keyImpl))
	case "DELAY_PERIOD":
		return m.Outputs.Pack(new(big.Int).SetUint64(s.Uint64(keyDelay)))
	case "registerProxy":
		p, err := registerProxy(f)
		if err != nil {
			return nil, err
		}
		return m.Outputs.Pack(p)
	case "startGrantAuthentication":
		return nil, startGrant(f, arg)
	case "endGrantAuthentication":
		return nil, endGrant(f, arg)
	case "revokeAuthentication":
		return nil, revoke(f, arg)
	case "grantInitialAuthentication":
		return nil, grantInitial(f, arg)
	case "transferOwnership":
		return nil, transferOwnership(f, arg)
	}
	return nil, ledger.ErrBadCall.Explain("method %s", m.Name)
}

func onlyOwner(f *ledger.Frame) error {
	if owner := f.Store().Address(keyOwner); f.Caller() != owner {
		return errors.NotAuthorized.Explain("%s is not the registry owner", f.Caller().Hex())
	}
	return nil
}

func registerProxy(f *ledger.Frame) (common.Address, error) {
	s := f.Store()
	principal := f.Caller()
	if existing := s.Address(proxyKey(principal)); existing != (common.Address{}) {
		return existing, nil
	}
	p, err := relay.CreateProxy(f, principal, s.Address(keyImpl))
	if err != nil {
		return common.Address{}, fmt.Errorf("create proxy for %s: %w", principal.Hex(), err)
	}
	s.SetAddress(proxyKey(principal), p)
	f.Emit(ProxyRegistered{Principal: principal, Proxy: p})
	return p, nil
}

func startGrant(f *ledger.Frame, operator common.Address) error {
	if err := onlyOwner(f); err != nil {
		return err
	}
	s := f.Store()
	if s.Bool(operatorKey(operator)) {
		return nil
	}
	now := uint64(f.Now().Unix())
	s.SetUint64(pendingKey(operator), now)
	f.Emit(GrantStarted{Operator: operator, PendingSince: now, ReadyAt: now + s.Uint64(keyDelay)})
	return nil
}

func endGrant(f *ledger.Frame, operator common.Address) error {
	if err := onlyOwner(f); err != nil {
		return err
	}
	s := f.Store()
	pending := s.Uint64(pendingKey(operator))
	if pending == 0 {
		return errors.DelayNotElapsed.Explain("no grant pending for %s", operator.Hex())
	}
	ready := pending + s.Uint64(keyDelay)
	if now := uint64(f.Now().Unix()); now < ready {
		return errors.DelayNotElapsed.Explain("grant for %s matures in %ds", operator.Hex(), ready-now)
	}
	s.Delete(pendingKey(operator))
	s.SetBool(operatorKey(operator), true)
	f.Emit(OperatorAuthorized{Operator: operator})
	return nil
}

func revoke(f *ledger.Frame, operator common.Address) error {
	if err := onlyOwner(f); err != nil {
		return err
	}
	s := f.Store()
	s.Delete(pendingKey(operator))
	s.SetBool(operatorKey(operator), false)
	f.Emit(OperatorRevoked{Operator: operator})
	return nil
}

func grantInitial(f *ledger.Frame, operator common.Address) error {
	if err := onlyOwner(f); err != nil {
		return err
	}
	s := f.Store()
	if s.Bool(keyInitialized) {
		return errors.AlreadyInitialized.Explain("initial authentication already granted")
	}
	s.SetBool(keyInitialized, true)
	s.Delete(pendingKey(operator))
	s.SetBool(operatorKey(operator), true)
	f.Emit(OperatorAuthorized{Operator: operator, Initial: true})
	return nil
}

func transferOwnership(f *ledger.Frame, newOwner common.Address) error {
	if err := onlyOwner(f); err != nil {
		return err
	}
	if newOwner == (common.Address{}) {
		return errors.NotAuthorized.Explain("registry owner cannot be the zero address")
	}
	prev := f.Store().Address(keyOwner)
	f.Store().SetAddress(keyOwner, newOwner)
	f.Emit(OwnershipTransferred{PreviousOwner: prev, NewOwner: newOwner})
	return nil
}

// LookupProxy returns principal's relay proxy as recorded by the registry
// at reg, from within a unit of work. The zero address means none.
func LookupProxy(f *ledger.Frame, reg, principal common.Address) (common.Address, error) {
	input, err := ABI.Pack("proxies", principal)
	if err != nil {
		return common.Address{}, err
	}
	out, err := f.StaticCall(reg, input)
	if err != nil {
		return common.Address{}, err
	}
	vals, err := ABI.Unpack("proxies", out)
	if err != nil {
		return common.Address{}, ledger.ErrBadCall.Explain("registry %s: %v", reg.Hex(), err)
	}
	return vals[0].(common.Address), nil
}
