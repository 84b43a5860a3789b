package relay

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/relayex/internal/ledger"
	"github.com/Aidin1998/relayex/pkg/errors"
)

// TokenTransferProxyABI moves fungible tokens principals approved it for.
var TokenTransferProxyABI = ledger.MustParseABI(`[
	{"type":"function","name":"transferFrom","inputs":[{"name":"token","type":"address"},{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"registry","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`)

var erc20TransferFrom = ledger.MustParseABI(`[
	{"type":"function","name":"transferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`)

// TokenTransferProxy pulls payment tokens on behalf of operators the
// registry has authorized. Principals approve it once per token.
type TokenTransferProxy struct{}

func (TokenTransferProxy) Call(f *ledger.Frame, input []byte) ([]byte, error) {
	m, args, err := ledger.Decode(&TokenTransferProxyABI, input)
	if err != nil {
		return nil, err
	}
	registry := f.Store().Address(keyRegistry)
	switch m.Name {
	case "registry":
		return m.Outputs.Pack(registry)
	case "transferFrom":
		ok, err := operatorAuthorized(f, registry, f.Caller())
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.NotAuthorized.Explain("%s may not pull tokens", f.Caller().Hex())
		}
		token, from, to, amount := args[0].(common.Address), args[1].(common.Address), args[2].(common.Address), args[3].(*big.Int)
		call, err := erc20TransferFrom.Pack("transferFrom", from, to, amount)
		if err != nil {
			return nil, err
		}
		out, err := f.Call(token, nil, call)
		if err != nil {
			return nil, errors.TransferFailed.Explain("token %s transferFrom %s", token.Hex(), from.Hex()).Wrap(err)
		}
		// tokens that return nothing are treated as successful
		if len(out) > 0 {
			vals, err := erc20TransferFrom.Unpack("transferFrom", out)
			if err != nil || !vals[0].(bool) {
				return nil, errors.TransferFailed.Explain("token %s refused transferFrom %s", token.Hex(), from.Hex())
			}
		}
		return m.Outputs.Pack(true)
	}
	return nil, ledger.ErrBadCall.Explain("method %s", m.Name)
}

// DeployTokenTransferProxy creates the token transfer proxy bound to registry.
func DeployTokenTransferProxy(f *ledger.Frame, registry common.Address) (common.Address, error) {
	return f.Create(TokenTransferProxyCode, nil, func(p *ledger.Frame) error {
		p.Store().SetAddress(keyRegistry, registry)
		return nil
	})
}

// TransferFrom pulls amount of token from `from` to `to` through the token
// transfer proxy, from within a unit of work.
func TransferFrom(f *ledger.Frame, proxy, token, from, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	input, err := TokenTransferProxyABI.Pack("transferFrom", token, from, to, amount)
	if err != nil {
		return err
	}
	_, err = f.Call(proxy, nil, input)
	return err
}
