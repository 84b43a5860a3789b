package ledger

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/relayex/pkg/errors"
)

// counter increments "n" on every call. Input 0xff makes it fail after writing.
type counter struct{}

type bumped struct{ N uint64 }

func (bumped) EventName() string { return "Bumped" }

func (counter) Call(f *Frame, input []byte) ([]byte, error) {
	n := f.Store().Uint64("n") + 1
	f.Store().SetUint64("n", n)
	f.Emit(bumped{N: n})
	if len(input) > 0 && input[0] == 0xff {
		return nil, errors.New("counter refused")
	}
	return new(big.Int).SetUint64(n).Bytes(), nil
}

type recordingSink struct {
	mu       sync.Mutex
	receipts []*Receipt
}

func (s *recordingSink) Publish(_ context.Context, r *Receipt) error {
	s.mu.Lock()
	s.receipts = append(s.receipts, r)
	s.mu.Unlock()
	return nil
}

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func newTestLedger(t *testing.T, opts Options) *Ledger {
	t.Helper()
	l, err := Open(opts, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	l.Install("counter", counter{})
	return l
}

func readCounter(t *testing.T, l *Ledger, at Address) uint64 {
	t.Helper()
	var n uint64
	require.NoError(t, l.View(context.Background(), func(f *Frame) error {
		return f.Invoke(at, nil, func(cf *Frame) error {
			n = cf.Store().Uint64("n")
			return nil
		})
	}))
	return n
}

func TestDeployAddressFollowsNonce(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, Options{})

	first, _, err := l.Deploy(ctx, alice, "counter", nil, nil)
	require.NoError(t, err)
	second, _, err := l.Deploy(ctx, alice, "counter", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, crypto.CreateAddress(alice, 0), first)
	assert.Equal(t, crypto.CreateAddress(alice, 1), second)

	id, err := l.CodeAt(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "counter", id)

	_, _, err = l.Deploy(ctx, alice, "missing", nil, nil)
	assert.True(t, errors.Is(err, ErrUnknownCode))
}

func TestFailedUnitLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	l := newTestLedger(t, Options{Sink: sink})
	c, _, err := l.Deploy(ctx, alice, "counter", nil, nil)
	require.NoError(t, err)

	_, _, err = l.Call(ctx, bob, c, nil, nil)
	require.NoError(t, err)
	_, _, err = l.Call(ctx, bob, c, nil, []byte{0xff})
	require.Error(t, err)

	assert.EqualValues(t, 1, readCounter(t, l, c))
	require.Len(t, sink.receipts, 1, "aborted units publish nothing")
	assert.Equal(t, "Bumped", sink.receipts[0].Logs[0].Name)
}

func TestNestedRevertIsPartial(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, Options{})
	c, _, err := l.Deploy(ctx, alice, "counter", nil, nil)
	require.NoError(t, err)

	r, err := l.Execute(ctx, bob, func(f *Frame) error {
		_, err := f.Call(c, nil, nil)
		require.NoError(t, err)
		_, err = f.Call(c, nil, []byte{0xff})
		assert.Error(t, err)
		return nil
	})
	require.NoError(t, err)

	assert.EqualValues(t, 1, readCounter(t, l, c))
	require.Len(t, r.Logs, 1)
	assert.Equal(t, bumped{N: 1}, r.Logs[0].Event)
	assert.Equal(t, c, r.Logs[0].Address)
}

func TestStaticCallDiscardsEffects(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, Options{})
	c, _, err := l.Deploy(ctx, alice, "counter", nil, nil)
	require.NoError(t, err)

	out, err := l.StaticCall(ctx, bob, c, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, out)

	_, err = l.Execute(ctx, bob, func(f *Frame) error {
		out, err := f.StaticCall(c, nil)
		assert.Equal(t, []byte{1}, out)
		return err
	})
	require.NoError(t, err)
	assert.Zero(t, readCounter(t, l, c))
}

func TestDelegateCallUsesCallerStorage(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, Options{})
	logic, _, err := l.Deploy(ctx, alice, "counter", nil, nil)
	require.NoError(t, err)
	holder, _, err := l.Deploy(ctx, alice, "counter", nil, nil)
	require.NoError(t, err)

	_, err = l.Execute(ctx, bob, func(f *Frame) error {
		return f.Invoke(holder, nil, func(hf *Frame) error {
			_, err := hf.DelegateCall(logic, nil)
			assert.Equal(t, bob, hf.Caller())
			return err
		})
	})
	require.NoError(t, err)

	assert.EqualValues(t, 1, readCounter(t, l, holder))
	assert.Zero(t, readCounter(t, l, logic))
}

func TestValueTransfers(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, Options{})
	require.NoError(t, l.Mint(ctx, alice, big.NewInt(100)))

	_, _, err := l.Call(ctx, alice, bob, big.NewInt(40), nil)
	require.NoError(t, err)

	_, _, err = l.Call(ctx, alice, bob, big.NewInt(61), nil)
	assert.True(t, errors.Is(err, errors.TransferFailed))

	a, err := l.BalanceOf(ctx, alice)
	require.NoError(t, err)
	b, err := l.BalanceOf(ctx, bob)
	require.NoError(t, err)
	assert.EqualValues(t, 60, a.Int64())
	assert.EqualValues(t, 40, b.Int64())
}

func TestCallDepthBounded(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, Options{})
	var recurse func(f *Frame) error
	recurse = func(f *Frame) error {
		return f.Invoke(bob, nil, recurse)
	}
	_, err := l.Execute(ctx, alice, recurse)
	assert.True(t, errors.Is(err, ErrCallDepth))
}

func TestReceiptsAreSequencedAndTimed(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC)
	clock := NewManualClock(start)
	l := newTestLedger(t, Options{Clock: clock})

	r1, err := l.Execute(ctx, alice, func(*Frame) error { return nil })
	require.NoError(t, err)
	clock.Advance(time.Hour)
	r2, err := l.Execute(ctx, alice, func(f *Frame) error {
		assert.Equal(t, start.Add(time.Hour).Truncate(time.Second), f.Now())
		return nil
	})
	require.NoError(t, err)

	assert.EqualValues(t, 1, r1.Seq)
	assert.EqualValues(t, 2, r2.Seq)
	assert.Equal(t, start.Truncate(time.Second), r1.Time)
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	l, err := Open(Options{Dir: dir}, zap.NewNop())
	require.NoError(t, err)
	l.Install("counter", counter{})
	c, _, err := l.Deploy(ctx, alice, "counter", nil, nil)
	require.NoError(t, err)
	_, _, err = l.Call(ctx, bob, c, nil, nil)
	require.NoError(t, err)
	require.NoError(t, l.SetMeta(ctx, "deployment", []byte("v1")))
	require.NoError(t, l.Close())

	l, err = Open(Options{Dir: dir}, zap.NewNop())
	require.NoError(t, err)
	defer l.Close()
	l.Install("counter", counter{})
	assert.EqualValues(t, 1, readCounter(t, l, c))

	meta, err := l.Meta(ctx, "deployment")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), meta)
	missing, err := l.Meta(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
