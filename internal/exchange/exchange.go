// Package exchange matches and settles pairs of orders. A settlement
// authenticates and validates both orders, finalizes their hashes, relays
// the agreed call through the principals' relay proxies and distributes the
// payment, all as one unit of work.
package exchange

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Aidin1998/relayex/internal/ledger"
	"github.com/Aidin1998/relayex/internal/order"
	"github.com/Aidin1998/relayex/internal/relay"
	"github.com/Aidin1998/relayex/pkg/errors"
	"github.com/Aidin1998/relayex/pkg/metrics"
)

// Service defines the exchange operations exposed to the rest of the node
type Service interface {
	// AtomicMatch settles a buy against a sell, caller sending value
	AtomicMatch(ctx context.Context, caller common.Address, value *big.Int, m Match) (*Settlement, error)

	// CancelOrder finalizes an open order as cancelled
	CancelOrder(ctx context.Context, caller common.Address, o *order.Order, auth order.Authenticator) (*ledger.Receipt, error)

	// ApproveOrder records the maker's on-ledger approval of an order
	ApproveOrder(ctx context.Context, caller common.Address, o *order.Order) (*ledger.Receipt, error)

	// Status reports the finalization and approval of an order hash
	Status(ctx context.Context, hash common.Hash) (Status, error)
}

// Config is the exchange's deployment configuration.
type Config struct {
	Registry             common.Address
	ProtocolFeeBps       uint64
	ProtocolFeeRecipient common.Address
}

// Status of an order hash.
type Status struct {
	Hash         common.Hash  `json:"hash"`
	Finalization Finalization `json:"-"`
	State        string       `json:"state"`
	Approved     bool         `json:"approved"`
}

// Info describes a deployed exchange.
type Info struct {
	Address              common.Address `json:"address"`
	Name                 string         `json:"name"`
	Version              string         `json:"version"`
	Owner                common.Address `json:"owner"`
	Registry             common.Address `json:"registry"`
	TokenTransferProxy   common.Address `json:"token_transfer_proxy"`
	ProtocolFeeBps       uint64         `json:"protocol_fee_bps"`
	ProtocolFeeRecipient common.Address `json:"protocol_fee_recipient"`
}

var tracer = otel.Tracer("github.com/Aidin1998/relayex/internal/exchange")

// Exchange is a handle on a deployed exchange contract.
type Exchange struct {
	ledger *ledger.Ledger
	addr   common.Address
	logger *zap.Logger
}

var _ Service = (*Exchange)(nil)

// Deploy creates an exchange owned by owner together with its token
// transfer proxy.
func Deploy(ctx context.Context, l *ledger.Ledger, owner common.Address, cfg Config, logger *zap.Logger) (*Exchange, error) {
	if cfg.ProtocolFeeBps > maxBps {
		return nil, fmt.Errorf("protocol fee %d exceeds %d bps", cfg.ProtocolFeeBps, maxBps)
	}
	if cfg.Registry == (common.Address{}) {
		return nil, fmt.Errorf("exchange needs a registry")
	}
	addr, _, err := l.Deploy(ctx, owner, Code, nil, func(f *ledger.Frame) error {
		s := f.Store()
		s.SetAddress(keyOwner, owner)
		s.SetAddress(keyRegistry, cfg.Registry)
		s.SetUint64(keyFeeBps, cfg.ProtocolFeeBps)
		s.SetAddress(keyFeeRecipient, cfg.ProtocolFeeRecipient)
		ttp, err := relay.DeployTokenTransferProxy(f, cfg.Registry)
		if err != nil {
			return fmt.Errorf("deploy token transfer proxy: %w", err)
		}
		s.SetAddress(keyTokenProxy, ttp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return New(l, addr, logger), nil
}

// New attaches to the exchange deployed at addr.
func New(l *ledger.Ledger, addr common.Address, logger *zap.Logger) *Exchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exchange{ledger: l, addr: addr, logger: logger.Named("exchange")}
}

func (e *Exchange) Address() common.Address { return e.addr }

func (e *Exchange) AtomicMatch(ctx context.Context, caller common.Address, value *big.Int, m Match) (*Settlement, error) {
	ctx, span := tracer.Start(ctx, "exchange.AtomicMatch", trace.WithAttributes(
		attribute.String("caller", caller.Hex()),
		attribute.String("value", order.Int(value).String()),
	))
	defer span.End()

	start := time.Now()
	var st *Settlement
	rec, err := e.ledger.Execute(ctx, caller, func(f *ledger.Frame) error {
		var err error
		st, err = AtomicMatchIn(f, e.addr, value, m)
		return err
	})
	metrics.Settlements.WithLabelValues(metrics.Result(err)).Inc()
	metrics.SettlementLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errors.KindOf(err))
		e.logger.Warn("settlement rejected",
			zap.Stringer("caller", caller),
			zap.Error(err))
		return nil, err
	}
	st.Receipt = rec
	span.SetAttributes(
		attribute.String("settlement", st.ID.String()),
		attribute.String("buy", st.BuyHash.Hex()),
		attribute.String("sell", st.SellHash.Hex()),
		attribute.Int64("seq", int64(rec.Seq)),
	)
	e.logger.Info("orders matched",
		zap.Stringer("settlement", st.ID),
		zap.Stringer("buy", st.BuyHash),
		zap.Stringer("sell", st.SellHash),
		zap.Stringer("price", st.Fees.Price),
		zap.Uint64("seq", rec.Seq))
	return st, nil
}

func (e *Exchange) CancelOrder(ctx context.Context, caller common.Address, o *order.Order, auth order.Authenticator) (*ledger.Receipt, error) {
	if o == nil {
		return nil, errors.InvalidOrder.Explain("an order is required")
	}
	ctx, span := tracer.Start(ctx, "exchange.CancelOrder", trace.WithAttributes(
		attribute.String("caller", caller.Hex()),
		attribute.String("hash", o.Hash().Hex()),
	))
	defer span.End()

	rec, err := e.ledger.Execute(ctx, caller, func(f *ledger.Frame) error {
		return CancelOrderIn(f, e.addr, o, auth)
	})
	metrics.Cancellations.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errors.KindOf(err))
		e.logger.Warn("cancellation rejected", zap.Stringer("caller", caller), zap.Error(err))
		return nil, err
	}
	e.logger.Info("order cancelled", zap.Stringer("hash", o.Hash()))
	return rec, nil
}

func (e *Exchange) ApproveOrder(ctx context.Context, caller common.Address, o *order.Order) (*ledger.Receipt, error) {
	rec, err := e.ledger.Execute(ctx, caller, func(f *ledger.Frame) error {
		return ApproveOrderIn(f, e.addr, o)
	})
	metrics.Approvals.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		e.logger.Warn("approval rejected", zap.Stringer("caller", caller), zap.Error(err))
		return nil, err
	}
	return rec, nil
}

func (e *Exchange) Status(ctx context.Context, hash common.Hash) (Status, error) {
	st := Status{Hash: hash}
	err := e.view(ctx, func(f *ledger.Frame) error {
		s := f.Store()
		st.Finalization = finalization(s, hash)
		st.Approved = s.Bool(approvedKey(hash))
		return nil
	})
	st.State = st.Finalization.String()
	return st, err
}

// ValidateOrder checks that o is well formed, authenticated and still open.
func (e *Exchange) ValidateOrder(ctx context.Context, o *order.Order, auth order.Authenticator) error {
	return e.view(ctx, func(f *ledger.Frame) error {
		if err := ValidateOrderParameters(o, e.addr); err != nil {
			return err
		}
		s := f.Store()
		if err := authenticate(s, o, auth); err != nil {
			return err
		}
		if st := finalization(s, o.Hash()); st != Open {
			return errors.AlreadyFinalized.Explain("order %s is %s", o.Hash().Hex(), st)
		}
		return nil
	})
}

// CanMatch evaluates OrdersCanMatch at the ledger's current time.
func (e *Exchange) CanMatch(buy, sell *order.Order) error {
	return OrdersCanMatch(buy, sell, e.ledger.Now())
}

// CurrentPrice evaluates o's price at the ledger's current time.
func (e *Exchange) CurrentPrice(o *order.Order) *big.Int {
	return CurrentPrice(o, e.ledger.Now())
}

func (e *Exchange) Info(ctx context.Context) (Info, error) {
	info := Info{Address: e.addr, Name: Name, Version: Version}
	err := e.view(ctx, func(f *ledger.Frame) error {
		s := f.Store()
		info.Owner = s.Address(keyOwner)
		info.Registry = s.Address(keyRegistry)
		info.TokenTransferProxy = s.Address(keyTokenProxy)
		info.ProtocolFeeBps = s.Uint64(keyFeeBps)
		info.ProtocolFeeRecipient = s.Address(keyFeeRecipient)
		return nil
	})
	return info, err
}

// ChangeProtocolFee sets the rate charged under the ProtocolFee method.
// Only the owner may.
func (e *Exchange) ChangeProtocolFee(ctx context.Context, caller common.Address, bps uint64) (*ledger.Receipt, error) {
	return e.send(ctx, caller, "changeProtocolFee", new(big.Int).SetUint64(bps))
}

func (e *Exchange) ChangeProtocolFeeRecipient(ctx context.Context, caller, recipient common.Address) (*ledger.Receipt, error) {
	return e.send(ctx, caller, "changeProtocolFeeRecipient", recipient)
}

func (e *Exchange) TransferOwnership(ctx context.Context, caller, newOwner common.Address) (*ledger.Receipt, error) {
	return e.send(ctx, caller, "transferOwnership", newOwner)
}

func (e *Exchange) send(ctx context.Context, caller common.Address, method string, args ...any) (*ledger.Receipt, error) {
	input, err := ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	_, rec, err := e.ledger.Call(ctx, caller, e.addr, nil, input)
	if err != nil {
		e.logger.Warn("exchange admin call rejected", zap.String("method", method), zap.Error(err))
		return nil, err
	}
	e.logger.Info("exchange admin call applied", zap.String("method", method), zap.Stringer("caller", caller))
	return rec, nil
}

func (e *Exchange) view(ctx context.Context, fn func(*ledger.Frame) error) error {
	return e.ledger.View(ctx, func(f *ledger.Frame) error {
		return f.Invoke(e.addr, nil, fn)
	})
}

// Install registers the exchange code with the ledger.
func Install(l *ledger.Ledger) {
	l.Install(Code, Contract{})
}
