package registry

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/relayex/internal/ledger"
	"github.com/Aidin1998/relayex/pkg/errors"
)

var (
	owner     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	operator  = common.HexToAddress("0x0000000000000000000000000000000000000e0e")
	principal = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	stranger  = common.HexToAddress("0x000000000000000000000000000000000000bad0")
)

const delay = time.Hour

func setup(t *testing.T) (*Registry, *ledger.ManualClock) {
	t.Helper()
	clock := ledger.NewManualClock(time.Unix(1_700_000_000, 0))
	l, err := ledger.Open(ledger.Options{Clock: clock}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	Install(l)
	r, err := Deploy(context.Background(), l, owner, delay, zap.NewNop())
	require.NoError(t, err)
	return r, clock
}

func TestDeploy(t *testing.T) {
	ctx := context.Background()
	r, _ := setup(t)

	got, err := r.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, owner, got)

	d, err := r.GrantDelay(ctx)
	require.NoError(t, err)
	assert.Equal(t, delay, d)

	impl, err := r.Implementation(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, common.Address{}, impl)

	_, err = Deploy(ctx, r.ledger, owner, -time.Second, nil)
	assert.Error(t, err)
}

func TestGrantWaitsForDelay(t *testing.T) {
	ctx := context.Background()
	r, clock := setup(t)

	rec, err := r.StartGrant(ctx, owner, operator)
	require.NoError(t, err)
	lg, ok := rec.Find("GrantStarted")
	require.True(t, ok)
	assert.Equal(t, uint64(1_700_000_000+3600), lg.Event.(GrantStarted).ReadyAt)

	st, err := r.Status(ctx, operator)
	require.NoError(t, err)
	assert.Equal(t, Pending, st.State)
	assert.Equal(t, time.Unix(1_700_003_600, 0).UTC(), st.ReadyAt)

	_, err = r.EndGrant(ctx, owner, operator)
	assert.True(t, errors.Is(err, errors.DelayNotElapsed))

	clock.Advance(delay - time.Second)
	_, err = r.EndGrant(ctx, owner, operator)
	assert.True(t, errors.Is(err, errors.DelayNotElapsed))

	clock.Advance(time.Second)
	_, err = r.EndGrant(ctx, owner, operator)
	require.NoError(t, err)

	st, err = r.Status(ctx, operator)
	require.NoError(t, err)
	assert.Equal(t, Authorized, st.State)
	assert.True(t, st.ReadyAt.IsZero())
}

func TestStartGrantAgainRestartsTimer(t *testing.T) {
	ctx := context.Background()
	r, clock := setup(t)

	_, err := r.StartGrant(ctx, owner, operator)
	require.NoError(t, err)
	clock.Advance(delay / 2)
	_, err = r.StartGrant(ctx, owner, operator)
	require.NoError(t, err)

	clock.Advance(delay / 2)
	_, err = r.EndGrant(ctx, owner, operator)
	assert.True(t, errors.Is(err, errors.DelayNotElapsed))

	clock.Advance(delay / 2)
	_, err = r.EndGrant(ctx, owner, operator)
	assert.NoError(t, err)
}

func TestEndGrantWithoutPending(t *testing.T) {
	r, _ := setup(t)
	_, err := r.EndGrant(context.Background(), owner, operator)
	assert.True(t, errors.Is(err, errors.DelayNotElapsed))
}

func TestRevokeIsImmediate(t *testing.T) {
	ctx := context.Background()
	r, clock := setup(t)

	_, err := r.GrantInitial(ctx, owner, operator)
	require.NoError(t, err)
	_, err = r.Revoke(ctx, owner, operator)
	require.NoError(t, err)
	st, err := r.Status(ctx, operator)
	require.NoError(t, err)
	assert.Equal(t, Unauthorized, st.State)

	// revoking a pending grant cancels it
	_, err = r.StartGrant(ctx, owner, operator)
	require.NoError(t, err)
	_, err = r.Revoke(ctx, owner, operator)
	require.NoError(t, err)
	clock.Advance(delay)
	_, err = r.EndGrant(ctx, owner, operator)
	assert.True(t, errors.Is(err, errors.DelayNotElapsed))
}

func TestGrantInitialOnlyOnce(t *testing.T) {
	ctx := context.Background()
	r, _ := setup(t)

	rec, err := r.GrantInitial(ctx, owner, operator)
	require.NoError(t, err)
	lg, ok := rec.Find("OperatorAuthorized")
	require.True(t, ok)
	assert.True(t, lg.Event.(OperatorAuthorized).Initial)

	_, err = r.GrantInitial(ctx, owner, stranger)
	assert.True(t, errors.Is(err, errors.AlreadyInitialized))
	st, err := r.Status(ctx, stranger)
	require.NoError(t, err)
	assert.Equal(t, Unauthorized, st.State)
}

func TestOwnerOnlyTransitions(t *testing.T) {
	ctx := context.Background()
	r, _ := setup(t)

	for name, op := range map[string]func(context.Context, common.Address, common.Address) (*ledger.Receipt, error){
		"start":    r.StartGrant,
		"end":      r.EndGrant,
		"revoke":   r.Revoke,
		"initial":  r.GrantInitial,
		"transfer": r.TransferOwnership,
	} {
		_, err := op(ctx, stranger, operator)
		assert.True(t, errors.Is(err, errors.NotAuthorized), name)
	}

	_, err := r.TransferOwnership(ctx, owner, stranger)
	require.NoError(t, err)
	_, err = r.StartGrant(ctx, stranger, operator)
	assert.NoError(t, err)
	_, err = r.StartGrant(ctx, owner, operator)
	assert.True(t, errors.Is(err, errors.NotAuthorized))
}

func TestRegisterProxyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r, _ := setup(t)

	_, err := r.ProxyOf(ctx, principal)
	assert.True(t, errors.Is(err, errors.NotFound))

	first, rec, err := r.RegisterProxy(ctx, principal)
	require.NoError(t, err)
	_, ok := rec.Find("ProxyRegistered")
	assert.True(t, ok)

	second, rec, err := r.RegisterProxy(ctx, principal)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	_, ok = rec.Find("ProxyRegistered")
	assert.False(t, ok)

	got, err := r.ProxyOf(ctx, principal)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	other, _, err := r.RegisterProxy(ctx, stranger)
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}
