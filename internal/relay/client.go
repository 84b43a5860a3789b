package relay

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/relayex/internal/ledger"
	"github.com/Aidin1998/relayex/internal/order"
)

// Client drives one principal's relay proxy from outside the ledger.
type Client struct {
	ledger *ledger.Ledger
	addr   common.Address
}

func NewClient(l *ledger.Ledger, proxy common.Address) *Client {
	return &Client{ledger: l, addr: proxy}
}

func (c *Client) Address() common.Address { return c.addr }

// Info is the observable state of a relay proxy.
type Info struct {
	Address        common.Address `json:"address"`
	User           common.Address `json:"user"`
	Registry       common.Address `json:"registry"`
	Revoked        bool           `json:"revoked"`
	Implementation common.Address `json:"implementation"`
	ProxyOwner     common.Address `json:"proxy_owner"`
}

// Info reads the proxy's user, registry, revocation flag and upgrade state.
func (c *Client) Info(ctx context.Context) (Info, error) {
	info := Info{Address: c.addr}
	var err error
	if info.User, err = c.address(ctx, &AuthenticatedABI, "user"); err != nil {
		return info, err
	}
	if info.Registry, err = c.address(ctx, &AuthenticatedABI, "registry"); err != nil {
		return info, err
	}
	if info.Revoked, err = c.Revoked(ctx); err != nil {
		return info, err
	}
	if info.Implementation, err = c.address(ctx, &DelegateABI, "implementation"); err != nil {
		return info, err
	}
	info.ProxyOwner, err = c.address(ctx, &DelegateABI, "proxyOwner")
	return info, err
}

func (c *Client) Revoked(ctx context.Context) (bool, error) {
	vals, err := c.view(ctx, &AuthenticatedABI, "revoked")
	if err != nil {
		return false, err
	}
	return vals[0].(bool), nil
}

// SetRevoke sets the proxy's revocation flag; only the user may.
func (c *Client) SetRevoke(ctx context.Context, caller common.Address, revoke bool) (*ledger.Receipt, error) {
	return c.send(ctx, caller, &AuthenticatedABI, "setRevoke", revoke)
}

// Proxy relays a call and reports whether it succeeded.
func (c *Client) Proxy(ctx context.Context, caller, dest common.Address, how order.HowToCall, data []byte) (bool, *ledger.Receipt, error) {
	input, err := AuthenticatedABI.Pack("proxy", dest, uint8(how), data)
	if err != nil {
		return false, nil, err
	}
	out, r, err := c.ledger.Call(ctx, caller, c.addr, nil, input)
	if err != nil {
		return false, nil, err
	}
	vals, err := AuthenticatedABI.Unpack("proxy", out)
	if err != nil {
		return false, r, fmt.Errorf("decode proxy result: %w", err)
	}
	return vals[0].(bool), r, nil
}

// ProxyAssert relays a call and fails the unit unless it succeeded.
func (c *Client) ProxyAssert(ctx context.Context, caller, dest common.Address, how order.HowToCall, data []byte) (*ledger.Receipt, error) {
	return c.send(ctx, caller, &AuthenticatedABI, "proxyAssert", dest, uint8(how), data)
}

// UpgradeTo points the proxy at new relay logic; only the proxy owner may.
func (c *Client) UpgradeTo(ctx context.Context, caller, impl common.Address) (*ledger.Receipt, error) {
	return c.send(ctx, caller, &DelegateABI, "upgradeTo", impl)
}

func (c *Client) TransferProxyOwnership(ctx context.Context, caller, newOwner common.Address) (*ledger.Receipt, error) {
	return c.send(ctx, caller, &DelegateABI, "transferProxyOwnership", newOwner)
}

func (c *Client) send(ctx context.Context, caller common.Address, a *abi.ABI, method string, args ...any) (*ledger.Receipt, error) {
	input, err := a.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	_, r, err := c.ledger.Call(ctx, caller, c.addr, nil, input)
	return r, err
}

func (c *Client) view(ctx context.Context, a *abi.ABI, method string, args ...any) ([]any, error) {
	input, err := a.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := c.ledger.StaticCall(ctx, common.Address{}, c.addr, input)
	if err != nil {
		return nil, err
	}
	vals, err := a.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	return vals, nil
}

func (c *Client) address(ctx context.Context, a *abi.ABI, method string) (common.Address, error) {
	vals, err := c.view(ctx, a, method)
	if err != nil {
		return common.Address{}, err
	}
	return vals[0].(common.Address), nil
}
