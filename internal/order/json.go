package order

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
)

// orderJSON is the wire form of an Order. Integers accept decimal or 0x
// hex and are written as hex; byte strings are 0x hex.
type orderJSON struct {
	Exchange           common.Address        `json:"exchange"`
	Maker              common.Address        `json:"maker"`
	Taker              common.Address        `json:"taker"`
	MakerRelayerFee    *math.HexOrDecimal256 `json:"makerRelayerFee"`
	TakerRelayerFee    *math.HexOrDecimal256 `json:"takerRelayerFee"`
	MakerProtocolFee   *math.HexOrDecimal256 `json:"makerProtocolFee"`
	TakerProtocolFee   *math.HexOrDecimal256 `json:"takerProtocolFee"`
	FeeRecipient       common.Address        `json:"feeRecipient"`
	FeeMethod          FeeMethod             `json:"feeMethod"`
	Side               Side                  `json:"side"`
	SaleKind           SaleKind              `json:"saleKind"`
	Target             common.Address        `json:"target"`
	HowToCall          HowToCall             `json:"howToCall"`
	Data               hexutil.Bytes         `json:"calldata"`
	ReplacementPattern hexutil.Bytes         `json:"replacementPattern"`
	StaticTarget       common.Address        `json:"staticTarget"`
	StaticExtradata    hexutil.Bytes         `json:"staticExtradata"`
	PaymentToken       common.Address        `json:"paymentToken"`
	BasePrice          *math.HexOrDecimal256 `json:"basePrice"`
	Extra              *math.HexOrDecimal256 `json:"extra"`
	ListingTime        math.HexOrDecimal64   `json:"listingTime"`
	ExpirationTime     math.HexOrDecimal64   `json:"expirationTime"`
	Salt               *math.HexOrDecimal256 `json:"salt"`
}

func (o Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderJSON{
		Exchange:           o.Exchange,
		Maker:              o.Maker,
		Taker:              o.Taker,
		MakerRelayerFee:    wire(o.MakerRelayerFee),
		TakerRelayerFee:    wire(o.TakerRelayerFee),
		MakerProtocolFee:   wire(o.MakerProtocolFee),
		TakerProtocolFee:   wire(o.TakerProtocolFee),
		FeeRecipient:       o.FeeRecipient,
		FeeMethod:          o.FeeMethod,
		Side:               o.Side,
		SaleKind:           o.SaleKind,
		Target:             o.Target,
		HowToCall:          o.HowToCall,
		Data:               o.Data,
		ReplacementPattern: o.ReplacementPattern,
		StaticTarget:       o.StaticTarget,
		StaticExtradata:    o.StaticExtradata,
		PaymentToken:       o.PaymentToken,
		BasePrice:          wire(o.BasePrice),
		Extra:              wire(o.Extra),
		ListingTime:        math.HexOrDecimal64(o.ListingTime),
		ExpirationTime:     math.HexOrDecimal64(o.ExpirationTime),
		Salt:               wire(o.Salt),
	})
}

func (o *Order) UnmarshalJSON(input []byte) error {
	var dec orderJSON
	if err := json.Unmarshal(input, &dec); err != nil {
		return err
	}
	*o = Order{
		Exchange:           dec.Exchange,
		Maker:              dec.Maker,
		Taker:              dec.Taker,
		FeeRecipient:       dec.FeeRecipient,
		Target:             dec.Target,
		StaticTarget:       dec.StaticTarget,
		PaymentToken:       dec.PaymentToken,
		MakerRelayerFee:    native(dec.MakerRelayerFee),
		TakerRelayerFee:    native(dec.TakerRelayerFee),
		MakerProtocolFee:   native(dec.MakerProtocolFee),
		TakerProtocolFee:   native(dec.TakerProtocolFee),
		BasePrice:          native(dec.BasePrice),
		Extra:              native(dec.Extra),
		ListingTime:        uint64(dec.ListingTime),
		ExpirationTime:     uint64(dec.ExpirationTime),
		Salt:               native(dec.Salt),
		FeeMethod:          dec.FeeMethod,
		Side:               dec.Side,
		SaleKind:           dec.SaleKind,
		HowToCall:          dec.HowToCall,
		Data:               dec.Data,
		ReplacementPattern: dec.ReplacementPattern,
		StaticExtradata:    dec.StaticExtradata,
	}
	return nil
}

func wire(v *big.Int) *math.HexOrDecimal256 {
	return (*math.HexOrDecimal256)(Int(v))
}

func native(v *math.HexOrDecimal256) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return (*big.Int)(v)
}
