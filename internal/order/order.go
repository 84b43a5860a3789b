// Package order defines exchange orders, their canonical digest and the
// ways a maker can authenticate one.
package order

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// Side of an order
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return fmt.Sprintf("side(%d)", uint8(s))
}

// SaleKind selects how the price evolves between listing and expiration.
type SaleKind uint8

const (
	FixedPrice SaleKind = iota
	DutchAuction
)

func (k SaleKind) String() string {
	switch k {
	case FixedPrice:
		return "fixed"
	case DutchAuction:
		return "dutch"
	}
	return fmt.Sprintf("salekind(%d)", uint8(k))
}

// FeeMethod selects how the protocol fee is charged.
type FeeMethod uint8

const (
	// ProtocolFee charges the exchange's configured protocol fee rate.
	ProtocolFee FeeMethod = iota
	// SplitFee charges the protocol fee rates carried by the fee side's order.
	SplitFee
)

func (m FeeMethod) String() string {
	switch m {
	case ProtocolFee:
		return "protocol"
	case SplitFee:
		return "split"
	}
	return fmt.Sprintf("feemethod(%d)", uint8(m))
}

// HowToCall is the way a relay proxy invokes the order's target.
type HowToCall uint8

const (
	Call HowToCall = iota
	DelegateCall
)

func (h HowToCall) String() string {
	switch h {
	case Call:
		return "call"
	case DelegateCall:
		return "delegatecall"
	}
	return fmt.Sprintf("howtocall(%d)", uint8(h))
}

// Order is a maker's signed or approved intent to trade. The zero address
// means "anyone" for Taker and "none" for FeeRecipient, StaticTarget and
// PaymentToken (native currency).
type Order struct {
	Exchange     common.Address
	Maker        common.Address
	Taker        common.Address
	FeeRecipient common.Address
	Target       common.Address
	StaticTarget common.Address
	PaymentToken common.Address

	// fees in basis points
	MakerRelayerFee  *big.Int
	TakerRelayerFee  *big.Int
	MakerProtocolFee *big.Int
	TakerProtocolFee *big.Int

	BasePrice *big.Int
	// Extra is the total price change of a Dutch auction over its window.
	Extra          *big.Int
	ListingTime    uint64
	ExpirationTime uint64 // 0 never expires
	Salt           *big.Int

	FeeMethod FeeMethod
	Side      Side
	SaleKind  SaleKind
	HowToCall HowToCall

	Data               []byte
	ReplacementPattern []byte
	StaticExtradata    []byte
}

var hashArgs = func() abi.Arguments {
	address, _ := abi.NewType("address", "", nil)
	uint256, _ := abi.NewType("uint256", "", nil)
	uint8t, _ := abi.NewType("uint8", "", nil)
	bytesT, _ := abi.NewType("bytes", "", nil)

	args := abi.Arguments{}
	for i := 0; i < 7; i++ {
		args = append(args, abi.Argument{Type: address})
	}
	for i := 0; i < 9; i++ {
		args = append(args, abi.Argument{Type: uint256})
	}
	for i := 0; i < 4; i++ {
		args = append(args, abi.Argument{Type: uint8t})
	}
	for i := 0; i < 3; i++ {
		args = append(args, abi.Argument{Type: bytesT})
	}
	return args
}()

// Encode returns the canonical ABI encoding of the order's fields. Numeric
// fields are taken modulo 2^256; orders outside that range never validate.
func (o *Order) Encode() []byte {
	encoded, err := hashArgs.Pack(
		o.Exchange, o.Maker, o.Taker, o.FeeRecipient, o.Target, o.StaticTarget, o.PaymentToken,
		u256(o.MakerRelayerFee), u256(o.TakerRelayerFee), u256(o.MakerProtocolFee), u256(o.TakerProtocolFee),
		u256(o.BasePrice), u256(o.Extra),
		new(big.Int).SetUint64(o.ListingTime), new(big.Int).SetUint64(o.ExpirationTime),
		u256(o.Salt),
		uint8(o.FeeMethod), uint8(o.Side), uint8(o.SaleKind), uint8(o.HowToCall),
		nonNil(o.Data), nonNil(o.ReplacementPattern), nonNil(o.StaticExtradata),
	)
	if err != nil {
		// argument types are fixed above
		panic(fmt.Sprintf("order: encode: %v", err))
	}
	return encoded
}

// Hash is the order's identity: keccak256 over Encode.
func (o *Order) Hash() common.Hash {
	return crypto.Keccak256Hash(o.Encode())
}

// HashToSign is the digest makers sign off-line: the order hash under the
// personal-message prefix, so a signature over it cannot be mistaken for
// anything but an intentionally signed message.
func (o *Order) HashToSign() common.Hash {
	return common.BytesToHash(accounts.TextHash(o.Hash().Bytes()))
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	c := *o
	c.MakerRelayerFee = cloneBig(o.MakerRelayerFee)
	c.TakerRelayerFee = cloneBig(o.TakerRelayerFee)
	c.MakerProtocolFee = cloneBig(o.MakerProtocolFee)
	c.TakerProtocolFee = cloneBig(o.TakerProtocolFee)
	c.BasePrice = cloneBig(o.BasePrice)
	c.Extra = cloneBig(o.Extra)
	c.Salt = cloneBig(o.Salt)
	c.Data = append([]byte(nil), o.Data...)
	c.ReplacementPattern = append([]byte(nil), o.ReplacementPattern...)
	c.StaticExtradata = append([]byte(nil), o.StaticExtradata...)
	return &c
}

// Numerics returns the order's big integer fields by name, for validation.
func (o *Order) Numerics() map[string]*big.Int {
	return map[string]*big.Int{
		"makerRelayerFee":  o.MakerRelayerFee,
		"takerRelayerFee":  o.TakerRelayerFee,
		"makerProtocolFee": o.MakerProtocolFee,
		"takerProtocolFee": o.TakerProtocolFee,
		"basePrice":        o.BasePrice,
		"extra":            o.Extra,
		"salt":             o.Salt,
	}
}

func u256(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return math.U256(new(big.Int).Set(v))
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// Int returns v or zero for nil.
func Int(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
