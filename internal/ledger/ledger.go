// Package ledger is the host ledger the exchange runs on: accounts with
// native balances, contract code addressed by identifier, per-contract
// storage, an event log and a clock. State-changing work runs as units that
// either commit entirely or leave no trace.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Aidin1998/relayex/pkg/metrics"
)

type Address = common.Address

// Contract is executable code. Implementations keep all state in
// f.Store(); the same value serves every address it is deployed at.
type Contract interface {
	Call(f *Frame, input []byte) ([]byte, error)
}

// Options configures Open.
type Options struct {
	// Dir is the badger directory; empty keeps everything in memory.
	Dir   string
	Clock Clock
	Sink  EventSink
}

// Ledger serializes units of work over a badger database.
type Ledger struct {
	db     *badger.DB
	clock  Clock
	sink   EventSink
	logger *zap.Logger

	mu sync.Mutex // one unit of work at a time

	codesMu sync.RWMutex
	codes   map[string]Contract
}

// Open opens or creates the ledger database.
func Open(opts Options, logger *zap.Logger) (*Ledger, error) {
	bopts := badger.DefaultOptions(opts.Dir)
	if opts.Dir == "" {
		bopts = bopts.WithInMemory(true)
	}
	bopts.Logger = nil // disable internal logging
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		db:     db,
		clock:  clock,
		sink:   opts.Sink,
		logger: logger.Named("ledger"),
		codes:  make(map[string]Contract),
	}, nil
}

// Close closes the underlying BadgerDB.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Install makes code available under id. Code is not persisted; every
// process installs the code it runs before executing units.
func (l *Ledger) Install(id string, c Contract) {
	l.codesMu.Lock()
	l.codes[id] = c
	l.codesMu.Unlock()
}

func (l *Ledger) code(id string) (Contract, bool) {
	l.codesMu.RLock()
	defer l.codesMu.RUnlock()
	c, ok := l.codes[id]
	return c, ok
}

// Now is the time the next unit of work will observe.
func (l *Ledger) Now() time.Time {
	return l.clock.Now().Truncate(time.Second)
}

// Execute runs fn as a unit of work sent by from. fn receives the frame of
// the sender account; it reaches contracts through Invoke and Call. The unit
// commits only if fn returns nil.
func (l *Ledger) Execute(ctx context.Context, from Address, fn func(*Frame) error) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	receipt, err := l.execute(ctx, from, fn)
	l.mu.Unlock()

	metrics.LedgerUnits.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		l.logger.Debug("unit aborted", zap.Stringer("from", from), zap.Error(err))
		return nil, err
	}
	l.logger.Debug("unit committed",
		zap.Uint64("seq", receipt.Seq),
		zap.Stringer("from", from),
		zap.Int("logs", len(receipt.Logs)))

	if l.sink != nil && len(receipt.Logs) > 0 {
		perr := l.sink.Publish(ctx, receipt)
		metrics.EventsPublished.WithLabelValues(metrics.Result(perr)).Inc()
		if perr != nil {
			l.logger.Warn("event publish failed", zap.Uint64("seq", receipt.Seq), zap.Error(perr))
		}
	}
	return receipt, nil
}

func (l *Ledger) execute(ctx context.Context, from Address, fn func(*Frame) error) (*Receipt, error) {
	txn := l.db.NewTransaction(true)
	defer txn.Discard()

	u := &unit{ctx: ctx, ledger: l, st: newState(txn), origin: from, now: l.Now()}
	root := &Frame{u: u, self: from, caller: from, value: new(big.Int)}
	if err := fn(root); err != nil {
		return nil, err
	}
	if u.st.err != nil {
		return nil, u.st.err
	}

	seq := new(big.Int).SetBytes(u.st.get(metaKey("seq"))).Uint64() + 1
	u.st.set(metaKey("seq"), new(big.Int).SetUint64(seq).Bytes())
	if err := u.st.flush(); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("commit unit %d: %w", seq, err)
	}
	return &Receipt{Seq: seq, From: from, Time: u.now, Logs: u.st.logs}, nil
}

// View runs fn against committed state. Anything fn writes is discarded.
func (l *Ledger) View(ctx context.Context, fn func(*Frame) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := l.db.NewTransaction(false)
	defer txn.Discard()

	u := &unit{ctx: ctx, ledger: l, st: newState(txn), now: l.Now()}
	root := &Frame{u: u, value: new(big.Int), static: true}
	if err := fn(root); err != nil {
		return err
	}
	return u.st.err
}

// Deploy creates a contract sent by deployer and returns its address.
func (l *Ledger) Deploy(ctx context.Context, deployer Address, codeID string, value *big.Int, init func(*Frame) error) (Address, *Receipt, error) {
	var addr Address
	r, err := l.Execute(ctx, deployer, func(f *Frame) error {
		var err error
		addr, err = f.Create(codeID, value, init)
		return err
	})
	if err != nil {
		return Address{}, nil, err
	}
	l.logger.Info("contract deployed", zap.String("code", codeID), zap.Stringer("address", addr))
	return addr, r, nil
}

// Call sends an encoded call from an account as its own unit of work.
func (l *Ledger) Call(ctx context.Context, from, to Address, value *big.Int, input []byte) ([]byte, *Receipt, error) {
	var out []byte
	r, err := l.Execute(ctx, from, func(f *Frame) error {
		var err error
		out, err = f.Call(to, value, input)
		return err
	})
	return out, r, err
}

// StaticCall evaluates an encoded call against committed state.
func (l *Ledger) StaticCall(ctx context.Context, from, to Address, input []byte) ([]byte, error) {
	var out []byte
	err := l.View(ctx, func(f *Frame) error {
		f.self = from
		var err error
		out, err = f.StaticCall(to, input)
		return err
	})
	return out, err
}

// Mint credits native value out of thin air. It is the genesis faucet for
// test networks and demo seeding.
func (l *Ledger) Mint(ctx context.Context, to Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("mint: negative amount %s", amount)
	}
	_, err := l.Execute(ctx, Address{}, func(f *Frame) error {
		f.u.setBalance(to, new(big.Int).Add(f.u.balance(to), amount))
		return nil
	})
	return err
}

// BalanceOf returns the committed native balance of a.
func (l *Ledger) BalanceOf(ctx context.Context, a Address) (*big.Int, error) {
	var bal *big.Int
	err := l.View(ctx, func(f *Frame) error {
		bal = f.Balance(a)
		return nil
	})
	return bal, err
}

// CodeAt returns the code identifier deployed at a, or "".
func (l *Ledger) CodeAt(ctx context.Context, a Address) (string, error) {
	var id string
	err := l.View(ctx, func(f *Frame) error {
		id = f.CodeOf(a)
		return nil
	})
	return id, err
}

// SetMeta stores process metadata such as deployment addresses.
func (l *Ledger) SetMeta(ctx context.Context, key string, value []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(metaKey(key)), value)
	})
}

// Meta returns metadata stored with SetMeta, or nil.
func (l *Ledger) Meta(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaKey(key)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		v, err = item.ValueCopy(nil)
		return err
	})
	return v, err
}

func outcome(err error) string {
	if err != nil {
		return "aborted"
	}
	return "committed"
}
