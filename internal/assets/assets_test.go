package assets

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/relayex/internal/ledger"
	"github.com/Aidin1998/relayex/internal/order"
	"github.com/Aidin1998/relayex/pkg/errors"
)

var (
	minter = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	holder = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	other  = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(ledger.Options{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	Install(l)
	return l
}

func TestTokenTransfers(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	tok, err := DeployToken(ctx, l, minter, "WETH", 18)
	require.NoError(t, err)

	require.NoError(t, tok.Mint(ctx, minter, holder, big.NewInt(100)))
	assert.True(t, errors.Is(tok.Mint(ctx, holder, holder, big.NewInt(1)), errors.NotAuthorized))

	require.NoError(t, tok.Transfer(ctx, holder, other, big.NewInt(30)))
	assert.True(t, errors.Is(tok.Transfer(ctx, holder, other, big.NewInt(71)), errors.TransferFailed))

	require.NoError(t, tok.Approve(ctx, holder, other, big.NewInt(50)))
	err = send(ctx, l, other, tok.Address(), &FungibleABI, "transferFrom", holder, other, big.NewInt(51))
	assert.True(t, errors.Is(err, errors.TransferFailed))
	require.NoError(t, send(ctx, l, other, tok.Address(), &FungibleABI, "transferFrom", holder, other, big.NewInt(50)))

	bal, err := tok.BalanceOf(ctx, holder)
	require.NoError(t, err)
	assert.EqualValues(t, 20, bal.Int64())
	bal, err = tok.BalanceOf(ctx, other)
	require.NoError(t, err)
	assert.EqualValues(t, 80, bal.Int64())
}

func TestCollectibleTransfers(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	col, err := DeployCollection(ctx, l, minter)
	require.NoError(t, err)
	id := big.NewInt(7)

	require.NoError(t, col.Mint(ctx, minter, holder, id))
	assert.True(t, errors.Is(col.Mint(ctx, minter, other, id), errors.AlreadyInitialized))

	err = send(ctx, l, other, col.Address(), &CollectibleABI, "transferFrom", holder, other, id)
	assert.True(t, errors.Is(err, errors.TransferFailed))

	require.NoError(t, col.SetApprovalForAll(ctx, holder, other, true))
	require.NoError(t, send(ctx, l, other, col.Address(), &CollectibleABI, "transferFrom", holder, other, id))

	owner, err := col.OwnerOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, other, owner)

	_, err = col.OwnerOf(ctx, big.NewInt(8))
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestTransferFromPatternCompletesTemplates(t *testing.T) {
	id := big.NewInt(42)
	sellSide := TransferFromCalldata(holder, common.Address{}, id)
	buySide := TransferFromCalldata(common.Address{}, other, id)

	sellMerged, err := order.Merge(sellSide, buySide, TransferFromPattern(1))
	require.NoError(t, err)
	buyMerged, err := order.Merge(buySide, sellSide, TransferFromPattern(0))
	require.NoError(t, err)

	assert.Equal(t, TransferFromCalldata(holder, other, id), sellMerged)
	assert.Equal(t, sellMerged, buyMerged)
}
