package assets

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/relayex/internal/ledger"
)

// Token is a handle on a deployed fungible token.
type Token struct {
	ledger *ledger.Ledger
	addr   common.Address
}

// DeployToken creates a fungible token whose minter is deployer.
func DeployToken(ctx context.Context, l *ledger.Ledger, deployer common.Address, symbol string, decimals uint8) (*Token, error) {
	addr, _, err := l.Deploy(ctx, deployer, FungibleCode, nil, func(f *ledger.Frame) error {
		s := f.Store()
		s.SetAddress(keyMinter, deployer)
		s.Set(keySymbol, []byte(symbol))
		s.SetUint64(keyDecimals, uint64(decimals))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Token{ledger: l, addr: addr}, nil
}

func (t *Token) Address() common.Address { return t.addr }

func (t *Token) Mint(ctx context.Context, minter, to common.Address, amount *big.Int) error {
	return send(ctx, t.ledger, minter, t.addr, &FungibleABI, "mint", to, amount)
}

func (t *Token) Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error {
	return send(ctx, t.ledger, owner, t.addr, &FungibleABI, "approve", spender, amount)
}

func (t *Token) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	return send(ctx, t.ledger, from, t.addr, &FungibleABI, "transfer", to, amount)
}

func (t *Token) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	vals, err := view(ctx, t.ledger, t.addr, &FungibleABI, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

// Collection is a handle on a deployed collectible contract.
type Collection struct {
	ledger *ledger.Ledger
	addr   common.Address
}

// DeployCollection creates a collectible contract whose minter is deployer.
func DeployCollection(ctx context.Context, l *ledger.Ledger, deployer common.Address) (*Collection, error) {
	addr, _, err := l.Deploy(ctx, deployer, CollectibleCode, nil, func(f *ledger.Frame) error {
		f.Store().SetAddress(keyMinter, deployer)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Collection{ledger: l, addr: addr}, nil
}

func (c *Collection) Address() common.Address { return c.addr }

func (c *Collection) Mint(ctx context.Context, minter, to common.Address, id *big.Int) error {
	return send(ctx, c.ledger, minter, c.addr, &CollectibleABI, "mint", to, id)
}

func (c *Collection) SetApprovalForAll(ctx context.Context, owner, operator common.Address, approved bool) error {
	return send(ctx, c.ledger, owner, c.addr, &CollectibleABI, "setApprovalForAll", operator, approved)
}

func (c *Collection) OwnerOf(ctx context.Context, id *big.Int) (common.Address, error) {
	vals, err := view(ctx, c.ledger, c.addr, &CollectibleABI, "ownerOf", id)
	if err != nil {
		return common.Address{}, err
	}
	return vals[0].(common.Address), nil
}

// TransferFromCalldata encodes transferFrom(from, to, tokenId).
func TransferFromCalldata(from, to common.Address, id *big.Int) []byte {
	data, err := CollectibleABI.Pack("transferFrom", from, to, id)
	if err != nil {
		panic(fmt.Sprintf("assets: pack transferFrom: %v", err))
	}
	return data
}

// TransferFromPattern is the replacement pattern leaving the from (argument
// 0) or to (argument 1) word of transferFrom to be filled by the counterpart.
func TransferFromPattern(arg int) []byte {
	pattern := make([]byte, 4+3*32)
	start := 4 + arg*32
	for i := start; i < start+32; i++ {
		pattern[i] = 0xff
	}
	return pattern
}

func send(ctx context.Context, l *ledger.Ledger, from, to common.Address, a *abi.ABI, method string, args ...any) error {
	input, err := a.Pack(method, args...)
	if err != nil {
		return err
	}
	_, _, err = l.Call(ctx, from, to, nil, input)
	return err
}

func view(ctx context.Context, l *ledger.Ledger, at common.Address, a *abi.ABI, method string, args ...any) ([]any, error) {
	input, err := a.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := l.StaticCall(ctx, common.Address{}, at, input)
	if err != nil {
		return nil, err
	}
	return a.Unpack(method, out)
}
