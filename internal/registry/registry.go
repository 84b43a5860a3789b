// Package registry is the authorization registry: it decides which
// operators may drive principals' relay proxies and creates those proxies.
// Granting an operator takes a delay; revoking is immediate.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Aidin1998/relayex/internal/ledger"
	"github.com/Aidin1998/relayex/internal/relay"
	"github.com/Aidin1998/relayex/pkg/errors"
	"github.com/Aidin1998/relayex/pkg/metrics"
)

// Service defines the registry operations exposed to the rest of the node
type Service interface {
	// RegisterProxy returns principal's relay proxy, creating it on first use
	RegisterProxy(ctx context.Context, principal common.Address) (common.Address, *ledger.Receipt, error)

	// ProxyOf returns principal's relay proxy or a NotFound error
	ProxyOf(ctx context.Context, principal common.Address) (common.Address, error)

	// StartGrant puts operator in the pending state
	StartGrant(ctx context.Context, caller, operator common.Address) (*ledger.Receipt, error)

	// EndGrant authorizes a pending operator once the grant delay elapsed
	EndGrant(ctx context.Context, caller, operator common.Address) (*ledger.Receipt, error)

	// Revoke deauthorizes operator immediately
	Revoke(ctx context.Context, caller, operator common.Address) (*ledger.Receipt, error)

	// GrantInitial authorizes one operator without delay, once
	GrantInitial(ctx context.Context, caller, operator common.Address) (*ledger.Receipt, error)

	// Status reports operator's authorization state
	Status(ctx context.Context, operator common.Address) (Status, error)
}

// State of an operator
type State string

const (
	Unauthorized State = "unauthorized"
	Pending      State = "pending"
	Authorized   State = "authorized"
)

// Status describes one operator.
type Status struct {
	Operator     common.Address `json:"operator"`
	State        State          `json:"state"`
	PendingSince time.Time      `json:"pending_since,omitempty"`
	ReadyAt      time.Time      `json:"ready_at,omitempty"`
}

// Registry is a handle on a deployed registry contract.
type Registry struct {
	ledger *ledger.Ledger
	addr   common.Address
	logger *zap.Logger
}

var _ Service = (*Registry)(nil)

// Deploy creates a registry owned by owner, together with the relay logic
// implementation its proxies will use.
func Deploy(ctx context.Context, l *ledger.Ledger, owner common.Address, delay time.Duration, logger *zap.Logger) (*Registry, error) {
	if delay < 0 {
		return nil, fmt.Errorf("grant delay %s is negative", delay)
	}
	addr, _, err := l.Deploy(ctx, owner, Code, nil, func(f *ledger.Frame) error {
		s := f.Store()
		s.SetAddress(keyOwner, owner)
		s.SetUint64(keyDelay, uint64(delay/time.Second))
		impl, err := relay.DeployImplementation(f)
		if err != nil {
			return fmt.Errorf("deploy proxy implementation: %w", err)
		}
		s.SetAddress(keyImpl, impl)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return New(l, addr, logger), nil
}

// New attaches to the registry deployed at addr.
func New(l *ledger.Ledger, addr common.Address, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{ledger: l, addr: addr, logger: logger.Named("registry")}
}

func (r *Registry) Address() common.Address { return r.addr }

func (r *Registry) RegisterProxy(ctx context.Context, principal common.Address) (common.Address, *ledger.Receipt, error) {
	var proxy common.Address
	rec, err := r.ledger.Execute(ctx, principal, func(f *ledger.Frame) error {
		return f.Invoke(r.addr, nil, func(rf *ledger.Frame) error {
			var err error
			proxy, err = registerProxy(rf)
			return err
		})
	})
	r.observe("register_proxy", err, zap.Stringer("principal", principal), zap.Stringer("proxy", proxy))
	if err != nil {
		return common.Address{}, nil, err
	}
	return proxy, rec, nil
}

func (r *Registry) ProxyOf(ctx context.Context, principal common.Address) (common.Address, error) {
	var proxy common.Address
	err := r.view(ctx, func(f *ledger.Frame) error {
		proxy = f.Store().Address(proxyKey(principal))
		return nil
	})
	if err != nil {
		return common.Address{}, err
	}
	if proxy == (common.Address{}) {
		return common.Address{}, errors.NotFound.Explain("no proxy registered for %s", principal.Hex())
	}
	return proxy, nil
}

func (r *Registry) StartGrant(ctx context.Context, caller, operator common.Address) (*ledger.Receipt, error) {
	return r.transition(ctx, "start_grant", caller, operator, startGrant)
}

func (r *Registry) EndGrant(ctx context.Context, caller, operator common.Address) (*ledger.Receipt, error) {
	return r.transition(ctx, "end_grant", caller, operator, endGrant)
}

func (r *Registry) Revoke(ctx context.Context, caller, operator common.Address) (*ledger.Receipt, error) {
	return r.transition(ctx, "revoke", caller, operator, revoke)
}

func (r *Registry) GrantInitial(ctx context.Context, caller, operator common.Address) (*ledger.Receipt, error) {
	return r.transition(ctx, "grant_initial", caller, operator, grantInitial)
}

func (r *Registry) TransferOwnership(ctx context.Context, caller, newOwner common.Address) (*ledger.Receipt, error) {
	return r.transition(ctx, "transfer_ownership", caller, newOwner, transferOwnership)
}

func (r *Registry) Status(ctx context.Context, operator common.Address) (Status, error) {
	st := Status{Operator: operator, State: Unauthorized}
	err := r.view(ctx, func(f *ledger.Frame) error {
		s := f.Store()
		switch pending := s.Uint64(pendingKey(operator)); {
		case s.Bool(operatorKey(operator)):
			st.State = Authorized
		case pending != 0:
			st.State = Pending
			st.PendingSince = time.Unix(int64(pending), 0).UTC()
			st.ReadyAt = st.PendingSince.Add(time.Duration(s.Uint64(keyDelay)) * time.Second)
		}
		return nil
	})
	return st, err
}

func (r *Registry) Owner(ctx context.Context) (common.Address, error) {
	var owner common.Address
	err := r.view(ctx, func(f *ledger.Frame) error {
		owner = f.Store().Address(keyOwner)
		return nil
	})
	return owner, err
}

// Implementation is the relay logic new proxies start with.
func (r *Registry) Implementation(ctx context.Context) (common.Address, error) {
	var impl common.Address
	err := r.view(ctx, func(f *ledger.Frame) error {
		impl = f.Store().Address(keyImpl)
		return nil
	})
	return impl, err
}

func (r *Registry) GrantDelay(ctx context.Context) (time.Duration, error) {
	var d time.Duration
	err := r.view(ctx, func(f *ledger.Frame) error {
		d = time.Duration(f.Store().Uint64(keyDelay)) * time.Second
		return nil
	})
	return d, err
}

func (r *Registry) transition(ctx context.Context, op string, caller, operator common.Address, fn func(*ledger.Frame, common.Address) error) (*ledger.Receipt, error) {
	rec, err := r.ledger.Execute(ctx, caller, func(f *ledger.Frame) error {
		return f.Invoke(r.addr, nil, func(rf *ledger.Frame) error {
			return fn(rf, operator)
		})
	})
	r.observe(op, err, zap.Stringer("caller", caller), zap.Stringer("operator", operator))
	return rec, err
}

func (r *Registry) observe(op string, err error, fields ...zap.Field) {
	metrics.RegistryTransitions.WithLabelValues(op, metrics.Result(err)).Inc()
	if err != nil {
		r.logger.Warn("registry operation rejected", append(fields, zap.String("op", op), zap.Error(err))...)
		return
	}
	r.logger.Info("registry operation applied", append(fields, zap.String("op", op))...)
}

func (r *Registry) view(ctx context.Context, fn func(*ledger.Frame) error) error {
	return r.ledger.View(ctx, func(f *ledger.Frame) error {
		return f.Invoke(r.addr, nil, fn)
	})
}

// Install registers the registry and relay code with the ledger.
func Install(l *ledger.Ledger) {
	l.Install(Code, Contract{})
	relay.Install(l)
}
