package assets

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/relayex/internal/ledger"
	"github.com/Aidin1998/relayex/pkg/errors"
)

// CollectibleABI is an ERC-721 subset plus minting.
var CollectibleABI = ledger.MustParseABI(`[
	{"type":"function","name":"ownerOf","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getApproved","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"isApprovedForAll","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"approve","inputs":[{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"setApprovalForAll","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]},
	{"type":"function","name":"transferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"mint","inputs":[{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]}
]`)

func ownerKey(id *big.Int) string    { return "owner/" + id.String() }
func approvedKey(id *big.Int) string { return "approved/" + id.String() }
func operatorKey(owner, operator common.Address) string {
	return "operator/" + owner.Hex() + "/" + operator.Hex()
}

type ApprovalForAll struct {
	Owner    common.Address `json:"owner"`
	Operator common.Address `json:"operator"`
	Approved bool           `json:"approved"`
}

func (ApprovalForAll) EventName() string { return "ApprovalForAll" }

// Collectible is a minimal ERC-721 token.
type Collectible struct{}

func (Collectible) Call(f *ledger.Frame, input []byte) ([]byte, error) {
	m, args, err := ledger.Decode(&CollectibleABI, input)
	if err != nil {
		return nil, err
	}
	s := f.Store()
	switch m.Name {
	case "ownerOf":
		owner := s.Address(ownerKey(args[0].(*big.Int)))
		if owner == (common.Address{}) {
			return nil, errors.NotFound.Explain("token %s does not exist", args[0].(*big.Int))
		}
		return m.Outputs.Pack(owner)
	case "balanceOf":
		return m.Outputs.Pack(s.Big(balanceKey(args[0].(common.Address))))
	case "getApproved":
		return m.Outputs.Pack(s.Address(approvedKey(args[0].(*big.Int))))
	case "isApprovedForAll":
		return m.Outputs.Pack(s.Bool(operatorKey(args[0].(common.Address), args[1].(common.Address))))
	case "approve":
		to, id := args[0].(common.Address), args[1].(*big.Int)
		owner := s.Address(ownerKey(id))
		if f.Caller() != owner && !s.Bool(operatorKey(owner, f.Caller())) {
			return nil, errors.NotAuthorized.Explain("%s may not approve token %s", f.Caller().Hex(), id)
		}
		s.SetAddress(approvedKey(id), to)
		f.Emit(Approval{Owner: owner, Spender: to, Value: id})
		return nil, nil
	case "setApprovalForAll":
		operator, approved := args[0].(common.Address), args[1].(bool)
		s.SetBool(operatorKey(f.Caller(), operator), approved)
		f.Emit(ApprovalForAll{Owner: f.Caller(), Operator: operator, Approved: approved})
		return nil, nil
	case "transferFrom":
		from, to, id := args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
		owner := s.Address(ownerKey(id))
		if owner != from || owner == (common.Address{}) {
			return nil, errors.TransferFailed.Explain("token %s is not owned by %s", id, from.Hex())
		}
		if to == (common.Address{}) {
			return nil, errors.TransferFailed.Explain("transfer of token %s to the zero address", id)
		}
		spender := f.Caller()
		if spender != owner && s.Address(approvedKey(id)) != spender && !s.Bool(operatorKey(owner, spender)) {
			return nil, errors.TransferFailed.Explain("%s is not approved for token %s", spender.Hex(), id)
		}
		s.Delete(approvedKey(id))
		s.SetAddress(ownerKey(id), to)
		s.SetBig(balanceKey(from), new(big.Int).Sub(s.Big(balanceKey(from)), big.NewInt(1)))
		s.SetBig(balanceKey(to), new(big.Int).Add(s.Big(balanceKey(to)), big.NewInt(1)))
		f.Emit(Transfer{From: from, To: to, Value: id})
		return nil, nil
	case "mint":
		to, id := args[0].(common.Address), args[1].(*big.Int)
		if f.Caller() != s.Address(keyMinter) {
			return nil, errors.NotAuthorized.Explain("only the minter may mint")
		}
		if s.Address(ownerKey(id)) != (common.Address{}) {
			return nil, errors.AlreadyInitialized.Explain("token %s already minted", id)
		}
		s.SetAddress(ownerKey(id), to)
		s.SetBig(balanceKey(to), new(big.Int).Add(s.Big(balanceKey(to)), big.NewInt(1)))
		f.Emit(Transfer{To: to, Value: id})
		return nil, nil
	}
	return nil, ledger.ErrBadCall.Explain("method %s", m.Name)
}
