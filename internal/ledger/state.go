package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v3"
)

// slot is a pending write. A deleted slot hides the committed value.
type slot struct {
	value   []byte
	deleted bool
}

type change struct {
	key     string
	prev    slot
	existed bool
}

type snapshot struct {
	journal int
	logs    int
}

// state is the write set of one unit of work layered over a badger
// transaction. Nothing reaches badger until flush.
type state struct {
	txn     *badger.Txn
	dirty   map[string]slot
	journal []change
	logs    []Log
	// first storage read failure; the unit aborts with it
	err error
}

func newState(txn *badger.Txn) *state {
	return &state{txn: txn, dirty: make(map[string]slot)}
}

func (s *state) get(key string) []byte {
	if sl, ok := s.dirty[key]; ok {
		if sl.deleted {
			return nil
		}
		return sl.value
	}
	item, err := s.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		s.fail(err)
		return nil
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		s.fail(err)
		return nil
	}
	return v
}

func (s *state) set(key string, value []byte) {
	s.record(key)
	s.dirty[key] = slot{value: append([]byte(nil), value...)}
}

func (s *state) del(key string) {
	s.record(key)
	s.dirty[key] = slot{deleted: true}
}

func (s *state) record(key string) {
	prev, existed := s.dirty[key]
	s.journal = append(s.journal, change{key: key, prev: prev, existed: existed})
}

func (s *state) fail(err error) {
	if s.err == nil {
		s.err = fmt.Errorf("ledger storage: %w", err)
	}
}

func (s *state) snapshot() snapshot {
	return snapshot{journal: len(s.journal), logs: len(s.logs)}
}

func (s *state) revert(snap snapshot) {
	for i := len(s.journal) - 1; i >= snap.journal; i-- {
		c := s.journal[i]
		if c.existed {
			s.dirty[c.key] = c.prev
		} else {
			delete(s.dirty, c.key)
		}
	}
	s.journal = s.journal[:snap.journal]
	s.logs = s.logs[:snap.logs]
}

// flush writes the surviving write set into the badger transaction.
func (s *state) flush() error {
	keys := make([]string, 0, len(s.dirty))
	for k := range s.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sl := s.dirty[k]
		var err error
		if sl.deleted {
			err = s.txn.Delete([]byte(k))
		} else {
			err = s.txn.Set([]byte(k), sl.value)
		}
		if err != nil {
			return fmt.Errorf("flush %q: %w", k, err)
		}
	}
	return nil
}
