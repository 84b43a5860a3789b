package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/relayex/internal/order"
	"github.com/Aidin1998/relayex/pkg/errors"
	"github.com/Aidin1998/relayex/pkg/units"
)

var bigBps = big.NewInt(maxBps)

// FeePlan splits a settlement price between the relayer, the protocol and
// the seller.
type FeePlan struct {
	Price                *big.Int       `json:"price"`
	RelayerFee           *big.Int       `json:"relayer_fee"`
	RelayerRecipient     common.Address `json:"relayer_recipient"`
	ProtocolFee          *big.Int       `json:"protocol_fee"`
	ProtocolFeeRecipient common.Address `json:"protocol_fee_recipient"`
	SellerProceeds       *big.Int       `json:"seller_proceeds"`
}

// PlanFees charges the fee side (the order naming a fee recipient) on price.
// protocolBps is the exchange's rate, used under the ProtocolFee method.
func PlanFees(buy, sell *order.Order, price *big.Int, protocolBps uint64, protocolRecipient common.Address) (*FeePlan, error) {
	feeSide, counter := sell, buy
	if sell.FeeRecipient == (common.Address{}) {
		feeSide, counter = buy, sell
	}

	if order.Int(counter.TakerRelayerFee).Cmp(order.Int(feeSide.TakerRelayerFee)) < 0 {
		return nil, errors.OrdersIncompatible.Explain("taker relayer fee %s exceeds the %s the counterpart accepts",
			order.Int(feeSide.TakerRelayerFee), order.Int(counter.TakerRelayerFee))
	}

	relayerBps := new(big.Int).Add(order.Int(feeSide.MakerRelayerFee), order.Int(feeSide.TakerRelayerFee))
	var protocolRate *big.Int
	switch feeSide.FeeMethod {
	case order.SplitFee:
		if order.Int(counter.TakerProtocolFee).Cmp(order.Int(feeSide.TakerProtocolFee)) < 0 {
			return nil, errors.OrdersIncompatible.Explain("taker protocol fee %s exceeds the %s the counterpart accepts",
				order.Int(feeSide.TakerProtocolFee), order.Int(counter.TakerProtocolFee))
		}
		protocolRate = new(big.Int).Add(order.Int(feeSide.MakerProtocolFee), order.Int(feeSide.TakerProtocolFee))
	default:
		protocolRate = new(big.Int).SetUint64(protocolBps)
	}

	plan := &FeePlan{
		Price:                new(big.Int).Set(price),
		RelayerFee:           units.Bps(price, relayerBps),
		RelayerRecipient:     feeSide.FeeRecipient,
		ProtocolFee:          units.Bps(price, protocolRate),
		ProtocolFeeRecipient: protocolRecipient,
	}
	if plan.ProtocolFee.Sign() > 0 && protocolRecipient == (common.Address{}) {
		plan.ProtocolFee = new(big.Int)
	}
	plan.SellerProceeds = new(big.Int).Sub(price, plan.RelayerFee)
	plan.SellerProceeds.Sub(plan.SellerProceeds, plan.ProtocolFee)
	if plan.SellerProceeds.Sign() < 0 {
		return nil, errors.OrdersIncompatible.Explain("fees %s and %s exceed price %s", plan.RelayerFee, plan.ProtocolFee, price)
	}
	return plan, nil
}
