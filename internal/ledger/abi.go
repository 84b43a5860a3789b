package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/Aidin1998/relayex/pkg/errors"
)

// ErrBadCall is returned for input that matches no method of a contract.
var ErrBadCall = errors.NewWithKind("BadCall")

// MustParseABI parses a JSON ABI definition and panics if it is malformed.
func MustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("ledger: bad abi: %v", err))
	}
	return parsed
}

// Decode resolves the method addressed by the selector of input and
// unpacks its arguments.
func Decode(a *abi.ABI, input []byte) (*abi.Method, []any, error) {
	if len(input) < 4 {
		return nil, nil, ErrBadCall.Explain("input of %d bytes has no selector", len(input))
	}
	m, err := a.MethodById(input[:4])
	if err != nil {
		return nil, nil, ErrBadCall.Explain("unknown selector %x", input[:4])
	}
	args, err := m.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, nil, ErrBadCall.Explain("%s: %v", m.Name, err)
	}
	return m, args, nil
}
