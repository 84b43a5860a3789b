package order

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Authenticator is the proof a maker offers for an order: either an
// off-line Signature over HashToSign or a reference to an on-ledger
// Approval recorded earlier by the maker.
type Authenticator interface {
	authenticator()
}

// Signature is a 65 byte [R || S || V] secp256k1 signature.
type Signature []byte

// Approval defers to the exchange's on-ledger approval flag for the order.
type Approval struct{}

func (Signature) authenticator() {}
func (Approval) authenticator()  {}

// Sign signs the order's HashToSign with key. V is 27 or 28, the
// convention wallets use for personal messages.
func Sign(o *Order, key *ecdsa.PrivateKey) (Signature, error) {
	sig, err := crypto.Sign(o.HashToSign().Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("sign order: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Recover returns the address that produced sig over o's HashToSign.
// Both 0/1 and 27/28 recovery ids are accepted.
func Recover(o *Order, sig Signature) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature length %d, want %d", len(sig), crypto.SignatureLength)
	}
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	if v := normalized[crypto.RecoveryIDOffset]; v >= 27 {
		normalized[crypto.RecoveryIDOffset] = v - 27
	}
	if normalized[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id %d", sig[crypto.RecoveryIDOffset])
	}
	pub, err := crypto.SigToPub(o.HashToSign().Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
