package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OrdersMatched is the settlement record of one atomic match.
type OrdersMatched struct {
	SettlementID string         `json:"settlement_id"`
	BuyHash      common.Hash    `json:"buy_hash"`
	SellHash     common.Hash    `json:"sell_hash"`
	Buyer        common.Address `json:"buyer"`
	Seller       common.Address `json:"seller"`
	Price        *big.Int       `json:"price"`
	RelayerFee   *big.Int       `json:"relayer_fee"`
	ProtocolFee  *big.Int       `json:"protocol_fee"`
}

func (OrdersMatched) EventName() string { return "OrdersMatched" }

type OrderCancelled struct {
	Hash  common.Hash    `json:"hash"`
	Maker common.Address `json:"maker"`
}

func (OrderCancelled) EventName() string { return "OrderCancelled" }

type OrderApproved struct {
	Hash  common.Hash    `json:"hash"`
	Maker common.Address `json:"maker"`
}

func (OrderApproved) EventName() string { return "OrderApproved" }

type ProtocolFeeChanged struct {
	Bps uint64 `json:"bps"`
}

func (ProtocolFeeChanged) EventName() string { return "ProtocolFeeChanged" }

type ProtocolFeeRecipientChanged struct {
	Recipient common.Address `json:"recipient"`
}

func (ProtocolFeeRecipientChanged) EventName() string { return "ProtocolFeeRecipientChanged" }
