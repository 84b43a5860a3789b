// Package relay implements the per-principal relay proxies: the
// authenticated proxy logic, the upgradeable delegate proxy that gives each
// principal a stable relay address, and the token transfer proxy.
package relay

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/relayex/internal/ledger"
	"github.com/Aidin1998/relayex/internal/order"
	"github.com/Aidin1998/relayex/pkg/errors"
	"github.com/Aidin1998/relayex/pkg/metrics"
)

// Code identifiers
const (
	AuthenticatedProxyCode = "relay.authenticated-proxy"
	DelegateProxyCode      = "relay.delegate-proxy"
	TokenTransferProxyCode = "relay.token-transfer-proxy"
)

// Install registers the relay contracts with the ledger.
func Install(l *ledger.Ledger) {
	l.Install(AuthenticatedProxyCode, AuthenticatedProxy{})
	l.Install(DelegateProxyCode, DelegateProxy{})
	l.Install(TokenTransferProxyCode, TokenTransferProxy{})
}

// AuthenticatedABI is the interface of the relay logic.
var AuthenticatedABI = ledger.MustParseABI(`[
	{"type":"function","name":"initialize","inputs":[{"name":"user","type":"address"},{"name":"registry","type":"address"}],"outputs":[]},
	{"type":"function","name":"user","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"registry","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"revoked","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"setRevoke","inputs":[{"name":"revoke","type":"bool"}],"outputs":[]},
	{"type":"function","name":"proxy","inputs":[{"name":"dest","type":"address"},{"name":"howToCall","type":"uint8"},{"name":"data","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"proxyAssert","inputs":[{"name":"dest","type":"address"},{"name":"howToCall","type":"uint8"},{"name":"data","type":"bytes"}],"outputs":[]}
]`)

// authorityABI is the part of the registry a relay consults.
var authorityABI = ledger.MustParseABI(`[
	{"type":"function","name":"contracts","stateMutability":"view","inputs":[{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`)

const (
	keyUser        = "user"
	keyRegistry    = "registry"
	keyRevoked     = "revoked"
	keyInitialized = "initialized"
)

// Revoked is emitted when the user toggles the revocation flag.
type Revoked struct {
	Revoked bool `json:"revoked"`
}

func (Revoked) EventName() string { return "Revoked" }

// Relayed is emitted for every call a proxy performs.
type Relayed struct {
	Caller    common.Address  `json:"caller"`
	Dest      common.Address  `json:"dest"`
	HowToCall order.HowToCall `json:"how_to_call"`
	Success   bool            `json:"success"`
}

func (Relayed) EventName() string { return "Relayed" }

// AuthenticatedProxy is the relay logic. It executes against the storage of
// the delegate proxy that forwards to it.
type AuthenticatedProxy struct{}

func (AuthenticatedProxy) Call(f *ledger.Frame, input []byte) ([]byte, error) {
	m, args, err := ledger.Decode(&AuthenticatedABI, input)
	if err != nil {
		return nil, err
	}
	s := f.Store()
	switch m.Name {
	case "initialize":
		if s.Bool(keyInitialized) {
			return nil, errors.AlreadyInitialized.Explain("proxy %s already initialized", f.Self().Hex())
		}
		s.SetBool(keyInitialized, true)
		s.SetAddress(keyUser, args[0].(common.Address))
		s.SetAddress(keyRegistry, args[1].(common.Address))
		return nil, nil
	case "user":
		return m.Outputs.Pack(s.Address(keyUser))
	case "registry":
		return m.Outputs.Pack(s.Address(keyRegistry))
	case "revoked":
		return m.Outputs.Pack(s.Bool(keyRevoked))
	case "setRevoke":
		if f.Caller() != s.Address(keyUser) {
			return nil, errors.NotAuthorized.Explain("only the proxy user may set revoke")
		}
		revoke := args[0].(bool)
		s.SetBool(keyRevoked, revoke)
		f.Emit(Revoked{Revoked: revoke})
		return nil, nil
	case "proxy":
		ok, _, err := relay(f, args[0].(common.Address), order.HowToCall(args[1].(uint8)), args[2].([]byte))
		if err != nil {
			return nil, err
		}
		return m.Outputs.Pack(ok)
	case "proxyAssert":
		dest := args[0].(common.Address)
		ok, cause, err := relay(f, dest, order.HowToCall(args[1].(uint8)), args[2].([]byte))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.TransferFailed.Explain("relayed call to %s failed", dest.Hex()).Wrap(cause)
		}
		return nil, nil
	}
	return nil, ledger.ErrBadCall.Explain("method %s", m.Name)
}

// relay performs the call after checking the caller. A failing call is
// reported through ok and cause; err is reserved for refusing to relay.
func relay(f *ledger.Frame, dest common.Address, how order.HowToCall, data []byte) (ok bool, cause error, err error) {
	s := f.Store()
	caller := f.Caller()
	if s.Bool(keyRevoked) {
		metrics.RelayCalls.WithLabelValues("refused").Inc()
		return false, nil, errors.NotAuthorized.Explain("proxy %s is revoked", f.Self().Hex())
	}
	if caller != s.Address(keyUser) {
		authorized, err := operatorAuthorized(f, s.Address(keyRegistry), caller)
		if err != nil {
			return false, nil, err
		}
		if !authorized {
			metrics.RelayCalls.WithLabelValues("refused").Inc()
			return false, nil, errors.NotAuthorized.Explain("%s may not use proxy %s", caller.Hex(), f.Self().Hex())
		}
	}

	switch how {
	case order.Call:
		_, cause = f.Call(dest, nil, data)
	case order.DelegateCall:
		_, cause = f.DelegateCall(dest, data)
	default:
		return false, nil, ledger.ErrBadCall.Explain("howToCall %d", how)
	}
	ok = cause == nil
	f.Emit(Relayed{Caller: caller, Dest: dest, HowToCall: how, Success: ok})
	if ok {
		metrics.RelayCalls.WithLabelValues("ok").Inc()
	} else {
		metrics.RelayCalls.WithLabelValues("failed").Inc()
	}
	return ok, cause, nil
}

// operatorAuthorized asks the registry whether operator is authorized.
func operatorAuthorized(f *ledger.Frame, registry, operator common.Address) (bool, error) {
	if registry == (common.Address{}) {
		return false, nil
	}
	input, err := authorityABI.Pack("contracts", operator)
	if err != nil {
		return false, err
	}
	out, err := f.StaticCall(registry, input)
	if err != nil {
		return false, err
	}
	vals, err := authorityABI.Unpack("contracts", out)
	if err != nil || len(vals) != 1 {
		return false, ledger.ErrBadCall.Explain("registry %s answered %x", registry.Hex(), out)
	}
	return vals[0].(bool), nil
}

// DeployImplementation creates an inert copy of the relay logic to serve as
// the implementation behind delegate proxies. Its own storage is marked
// initialized and revoked so it cannot be used directly.
func DeployImplementation(f *ledger.Frame) (common.Address, error) {
	return f.Create(AuthenticatedProxyCode, nil, func(impl *ledger.Frame) error {
		s := impl.Store()
		s.SetBool(keyInitialized, true)
		s.SetBool(keyRevoked, true)
		return nil
	})
}

// ProxyAssert relays a call through proxy from within a unit of work and
// fails unless the relayed call succeeded.
func ProxyAssert(f *ledger.Frame, proxy, dest common.Address, how order.HowToCall, data []byte) error {
	input, err := AuthenticatedABI.Pack("proxyAssert", dest, uint8(how), data)
	if err != nil {
		return err
	}
	_, err = f.Call(proxy, nil, input)
	return err
}
