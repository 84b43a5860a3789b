package ledger

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Key spaces
const (
	prefixStorage = "s/"
	prefixBalance = "b/"
	prefixCode    = "c/"
	prefixNonce   = "n/"
	prefixMeta    = "m/"
)

func storageKey(a Address, key string) string { return prefixStorage + string(a.Bytes()) + "/" + key }
func balanceKey(a Address) string             { return prefixBalance + string(a.Bytes()) }
func codeKey(a Address) string                { return prefixCode + string(a.Bytes()) }
func nonceKey(a Address) string               { return prefixNonce + string(a.Bytes()) }
func metaKey(key string) string               { return prefixMeta + key }

// Store is the persistent storage of one contract address.
// Reads observe writes made earlier in the same unit of work.
type Store struct {
	st   *state
	addr Address
}

func (s Store) Get(key string) []byte {
	return s.st.get(storageKey(s.addr, key))
}

func (s Store) Has(key string) bool {
	return s.Get(key) != nil
}

func (s Store) Set(key string, value []byte) {
	if len(value) == 0 {
		s.Delete(key)
		return
	}
	s.st.set(storageKey(s.addr, key), value)
}

func (s Store) Delete(key string) {
	s.st.del(storageKey(s.addr, key))
}

func (s Store) Bool(key string) bool {
	v := s.Get(key)
	return len(v) == 1 && v[0] == 1
}

// SetBool stores true as a single byte and false as absence.
func (s Store) SetBool(key string, v bool) {
	if v {
		s.Set(key, []byte{1})
	} else {
		s.Delete(key)
	}
}

func (s Store) Address(key string) Address {
	return common.BytesToAddress(s.Get(key))
}

func (s Store) SetAddress(key string, a Address) {
	if a == (Address{}) {
		s.Delete(key)
		return
	}
	s.Set(key, a.Bytes())
}

func (s Store) Uint64(key string) uint64 {
	v := s.Get(key)
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func (s Store) SetUint64(key string, v uint64) {
	if v == 0 {
		s.Delete(key)
		return
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	s.Set(key, buf[:])
}

func (s Store) Big(key string) *big.Int {
	return new(big.Int).SetBytes(s.Get(key))
}

// SetBig stores a non-negative integer.
func (s Store) SetBig(key string, v *big.Int) {
	if v == nil || v.Sign() == 0 {
		s.Delete(key)
		return
	}
	s.Set(key, v.Bytes())
}
