// Package assets holds reference asset contracts: a fungible token used as
// a payment token and a collectible whose items are traded. The exchange
// treats both as opaque call targets.
package assets

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/relayex/internal/ledger"
	"github.com/Aidin1998/relayex/pkg/errors"
)

// Code identifiers
const (
	FungibleCode    = "assets.fungible"
	CollectibleCode = "assets.collectible"
)

// Install registers the asset contracts with the ledger.
func Install(l *ledger.Ledger) {
	l.Install(FungibleCode, Fungible{})
	l.Install(CollectibleCode, Collectible{})
}

// FungibleABI is an ERC-20 subset plus minting.
var FungibleABI = ledger.MustParseABI(`[
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"mint","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`)

const (
	keyMinter   = "minter"
	keySymbol   = "symbol"
	keyDecimals = "decimals"
	keySupply   = "supply"
)

func balanceKey(a common.Address) string { return "bal/" + a.Hex() }

func allowanceKey(owner, spender common.Address) string {
	return "allow/" + owner.Hex() + "/" + spender.Hex()
}

// Transfer is emitted for token movements. For collectibles Value is the
// token id.
type Transfer struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *big.Int       `json:"value"`
}

func (Transfer) EventName() string { return "Transfer" }

type Approval struct {
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Value   *big.Int       `json:"value"`
}

func (Approval) EventName() string { return "Approval" }

// Fungible is a minimal ERC-20 token.
type Fungible struct{}

func (Fungible) Call(f *ledger.Frame, input []byte) ([]byte, error) {
	m, args, err := ledger.Decode(&FungibleABI, input)
	if err != nil {
		return nil, err
	}
	s := f.Store()
	switch m.Name {
	case "symbol":
		return m.Outputs.Pack(string(s.Get(keySymbol)))
	case "decimals":
		return m.Outputs.Pack(uint8(s.Uint64(keyDecimals)))
	case "totalSupply":
		return m.Outputs.Pack(s.Big(keySupply))
	case "balanceOf":
		return m.Outputs.Pack(s.Big(balanceKey(args[0].(common.Address))))
	case "allowance":
		return m.Outputs.Pack(s.Big(allowanceKey(args[0].(common.Address), args[1].(common.Address))))
	case "approve":
		spender, amount := args[0].(common.Address), args[1].(*big.Int)
		s.SetBig(allowanceKey(f.Caller(), spender), amount)
		f.Emit(Approval{Owner: f.Caller(), Spender: spender, Value: amount})
		return m.Outputs.Pack(true)
	case "transfer":
		if err := moveTokens(f, f.Caller(), args[0].(common.Address), args[1].(*big.Int)); err != nil {
			return nil, err
		}
		return m.Outputs.Pack(true)
	case "transferFrom":
		from, to, amount := args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
		key := allowanceKey(from, f.Caller())
		allowed := s.Big(key)
		if allowed.Cmp(amount) < 0 {
			return nil, errors.TransferFailed.Explain("allowance %s of %s below %s", allowed, f.Caller().Hex(), amount)
		}
		s.SetBig(key, allowed.Sub(allowed, amount))
		if err := moveTokens(f, from, to, amount); err != nil {
			return nil, err
		}
		return m.Outputs.Pack(true)
	case "mint":
		if f.Caller() != s.Address(keyMinter) {
			return nil, errors.NotAuthorized.Explain("only the minter may mint")
		}
		to, amount := args[0].(common.Address), args[1].(*big.Int)
		s.SetBig(keySupply, new(big.Int).Add(s.Big(keySupply), amount))
		s.SetBig(balanceKey(to), new(big.Int).Add(s.Big(balanceKey(to)), amount))
		f.Emit(Transfer{To: to, Value: amount})
		return nil, nil
	}
	return nil, ledger.ErrBadCall.Explain("method %s", m.Name)
}

func moveTokens(f *ledger.Frame, from, to common.Address, amount *big.Int) error {
	s := f.Store()
	bal := s.Big(balanceKey(from))
	if bal.Cmp(amount) < 0 {
		return errors.TransferFailed.Explain("%s holds %s, needs %s", from.Hex(), bal, amount)
	}
	s.SetBig(balanceKey(from), bal.Sub(bal, amount))
	s.SetBig(balanceKey(to), new(big.Int).Add(s.Big(balanceKey(to)), amount))
	f.Emit(Transfer{From: from, To: to, Value: amount})
	return nil
}
