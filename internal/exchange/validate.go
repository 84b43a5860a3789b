package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/relayex/internal/order"
	"github.com/Aidin1998/relayex/pkg/errors"
	"github.com/Aidin1998/relayex/pkg/units"
)

const maxBps = units.BasisPoints

var (
	feeFields     = []string{"makerRelayerFee", "takerRelayerFee", "makerProtocolFee", "takerProtocolFee"}
	numericFields = append(append([]string(nil), feeFields...), "basePrice", "extra", "salt")
)

// ValidateOrderParameters checks the structure of o for the exchange at
// addr. Every violation is reported as a field of one InvalidOrder error.
func ValidateOrderParameters(o *order.Order, addr common.Address) error {
	err := errors.InvalidOrder.Explain("order %s is malformed", o.Hash().Hex())
	bad := false
	field := func(name, format string, args ...any) {
		err = err.WithField(errors.KindInvalidOrder, name, fmt.Sprintf(format, args...))
		bad = true
	}

	if o.Exchange != addr {
		field("exchange", "order is for exchange %s, not %s", o.Exchange.Hex(), addr.Hex())
	}
	if o.Maker == (common.Address{}) {
		field("maker", "maker is required")
	}

	numerics := o.Numerics()
	for _, name := range numericFields {
		v := order.Int(numerics[name])
		if v.Sign() < 0 {
			field(name, "%s is negative", v)
		} else if v.BitLen() > 256 {
			field(name, "%s exceeds 256 bits", v)
		}
	}
	for _, name := range feeFields {
		if v := order.Int(numerics[name]); v.Sign() >= 0 && v.Cmp(bigBps) > 0 {
			field(name, "%s bps exceeds %d", v, maxBps)
		}
	}

	if o.Side > order.Sell {
		field("side", "unknown side %d", o.Side)
	}
	if o.FeeMethod > order.SplitFee {
		field("feeMethod", "unknown fee method %d", o.FeeMethod)
	}
	if o.HowToCall > order.DelegateCall {
		field("howToCall", "unknown call kind %d", o.HowToCall)
	}
	switch o.SaleKind {
	case order.FixedPrice:
	case order.DutchAuction:
		if o.ExpirationTime == 0 {
			field("expirationTime", "a dutch auction needs an expiration time")
		}
		if o.Side == order.Sell && order.Int(o.Extra).Cmp(order.Int(o.BasePrice)) > 0 {
			field("extra", "a dutch sell cannot decay below zero")
		}
	default:
		field("saleKind", "unknown sale kind %d", o.SaleKind)
	}
	if o.ExpirationTime != 0 && o.ExpirationTime <= o.ListingTime {
		field("expirationTime", "expires at %d, not after listing at %d", o.ExpirationTime, o.ListingTime)
	}
	if len(o.ReplacementPattern) > 0 && len(o.ReplacementPattern) != len(o.Data) {
		field("replacementPattern", "pattern has %d bytes, data %d", len(o.ReplacementPattern), len(o.Data))
	}

	if bad {
		return err
	}
	return nil
}
