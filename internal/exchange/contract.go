package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/relayex/internal/ledger"
	"github.com/Aidin1998/relayex/pkg/errors"
)

// Code is the exchange's code identifier.
const Code = "exchange"

const (
	Name    = "relayex"
	Version = "1.0"
)

// ABI is the exchange interface visible to other contracts. Settlement,
// cancellation and approval take whole orders and are entered through the
// Go API (AtomicMatchIn and friends) instead.
var ABI = ledger.MustParseABI(`[
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"version","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"registry","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"tokenTransferProxy","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"protocolFee","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"protocolFeeRecipient","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"cancelledOrFinalized","stateMutability":"view","inputs":[{"name":"hash","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"approvedOrders","stateMutability":"view","inputs":[{"name":"hash","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"changeProtocolFee","inputs":[{"name":"bps","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"changeProtocolFeeRecipient","inputs":[{"name":"recipient","type":"address"}],"outputs":[]},
	{"type":"function","name":"transferOwnership","inputs":[{"name":"newOwner","type":"address"}],"outputs":[]}
]`)

// storage layout
const (
	keyOwner        = "owner"
	keyRegistry     = "registry"
	keyTokenProxy   = "token-transfer-proxy"
	keyFeeBps       = "protocol-fee"
	keyFeeRecipient = "protocol-fee-recipient"
	prefixFinal     = "final/"
	prefixApproved  = "approved/"
)

func finalKey(h common.Hash) string    { return prefixFinal + h.Hex() }
func approvedKey(h common.Hash) string { return prefixApproved + h.Hex() }

// Finalization of an order hash. Once set it never changes.
type Finalization uint8

const (
	Open Finalization = iota
	Cancelled
	Settled
)

func (s Finalization) String() string {
	switch s {
	case Open:
		return "open"
	case Cancelled:
		return "cancelled"
	case Settled:
		return "settled"
	}
	return "unknown"
}

func finalization(s ledger.Store, h common.Hash) Finalization {
	return Finalization(s.Uint64(finalKey(h)))
}

func finalize(s ledger.Store, h common.Hash, to Finalization) {
	s.SetUint64(finalKey(h), uint64(to))
}

// Contract is the exchange's executable code.
type Contract struct{}

func (Contract) Call(f *ledger.Frame, input []byte) ([]byte, error) {
	m, args, err := ledger.Decode(&ABI, input)
	if err != nil {
		return nil, err
	}
	s := f.Store()
	switch m.Name {
	case "name":
		return m.Outputs.Pack(Name)
	case "version":
		return m.Outputs.Pack(Version)
	case "owner":
		return m.Outputs.Pack(s.Address(keyOwner))
	case "registry":
		return m.Outputs.Pack(s.Address(keyRegistry))
	case "tokenTransferProxy":
		return m.Outputs.Pack(s.Address(keyTokenProxy))
	case "protocolFee":
		return m.Outputs.Pack(new(big.Int).SetUint64(s.Uint64(keyFeeBps)))
	case "protocolFeeRecipient":
		return m.Outputs.Pack(s.Address(keyFeeRecipient))
	case "cancelledOrFinalized":
		return m.Outputs.Pack(finalization(s, common.Hash(args[0].([32]byte))) != Open)
	case "approvedOrders":
		return m.Outputs.Pack(s.Bool(approvedKey(common.Hash(args[0].([32]byte)))))
	case "changeProtocolFee":
		bps := args[0].(*big.Int)
		if err := onlyOwner(f); err != nil {
			return nil, err
		}
		if !bps.IsUint64() || bps.Uint64() > maxBps {
			return nil, errors.InvalidOrder.Explain("protocol fee %s exceeds %d bps", bps, maxBps)
		}
		s.SetUint64(keyFeeBps, bps.Uint64())
		f.Emit(ProtocolFeeChanged{Bps: bps.Uint64()})
		return nil, nil
	case "changeProtocolFeeRecipient":
		if err := onlyOwner(f); err != nil {
			return nil, err
		}
		s.SetAddress(keyFeeRecipient, args[0].(common.Address))
		f.Emit(ProtocolFeeRecipientChanged{Recipient: args[0].(common.Address)})
		return nil, nil
	case "transferOwnership":
		if err := onlyOwner(f); err != nil {
			return nil, err
		}
		newOwner := args[0].(common.Address)
		if newOwner == (common.Address{}) {
			return nil, errors.NotAuthorized.Explain("exchange owner cannot be the zero address")
		}
		s.SetAddress(keyOwner, newOwner)
		return nil, nil
	}
	return nil, ledger.ErrBadCall.Explain("method %s", m.Name)
}

func onlyOwner(f *ledger.Frame) error {
	if f.Caller() != f.Store().Address(keyOwner) {
		return errors.NotAuthorized.Explain("%s is not the exchange owner", f.Caller().Hex())
	}
	return nil
}
