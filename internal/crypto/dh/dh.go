// Package dh implements the ephemeral Diffie-Hellman exchange used to
// establish a per-connection session key. Parameters are the 2048-bit
// MODP Group 14 from RFC 3526 with generator 2.
package dh

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"
)

const (
	// GroupByteSize is the fixed encoding width of public values and
	// shared secrets (the byte length of the group prime).
	GroupByteSize = 256

	// SessionKeySize is the length of the derived AES key.
	SessionKeySize = 16
)

// ErrInvalidPublicValue reports a peer public value outside the range
// 1 < y < p-1. Such a value must abort the handshake.
var ErrInvalidPublicValue = errors.New("invalid dh public value")

// RFC 3526 section 3, 2048-bit MODP Group 14.
const group14PrimeHex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
	"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
	"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
	"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
	"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
	"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
	"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
	"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
	"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
	"15728E5A8AACAA68FFFFFFFFFFFFFFFF"

var (
	prime, _   = new(big.Int).SetString(group14PrimeHex, 16)
	generator  = big.NewInt(2)
	primeMinus = new(big.Int).Sub(prime, big.NewInt(1))
)

// KeyPair holds an ephemeral DH key pair. Public is the fixed-width
// big-endian encoding of g^x mod p; the private exponent never leaves
// this struct.
type KeyPair struct {
	Public  []byte
	private *big.Int
}

// GenerateKeyPair produces a fresh ephemeral key pair using the provided
// source of randomness (crypto/rand when nil).
func GenerateKeyPair(r io.Reader) (*KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}
	// Private exponent in [2, p-2].
	limit := new(big.Int).Sub(prime, big.NewInt(3))
	x, err := rand.Int(r, limit)
	if err != nil {
		return nil, fmt.Errorf("generate dh exponent: %w", err)
	}
	x.Add(x, big.NewInt(2))

	y := new(big.Int).Exp(generator, x, prime)
	pub := make([]byte, GroupByteSize)
	y.FillBytes(pub)

	return &KeyPair{Public: pub, private: x}, nil
}

// ValidatePublicValue rejects any encoded peer value that does not satisfy
// 1 < y < p-1, guarding against small-subgroup and trivial-key attacks.
func ValidatePublicValue(encoded []byte) error {
	if len(encoded) == 0 || len(encoded) > GroupByteSize {
		return fmt.Errorf("public value must be 1..%d bytes (got %d): %w", GroupByteSize, len(encoded), ErrInvalidPublicValue)
	}
	y := new(big.Int).SetBytes(encoded)
	if y.Cmp(big.NewInt(1)) <= 0 || y.Cmp(primeMinus) >= 0 {
		return ErrInvalidPublicValue
	}
	return nil
}

// SharedSecret completes the agreement against a validated peer public
// value and returns the fixed-width shared secret encoding.
func (kp *KeyPair) SharedSecret(peerPublic []byte) ([]byte, error) {
	if err := ValidatePublicValue(peerPublic); err != nil {
		return nil, err
	}
	y := new(big.Int).SetBytes(peerPublic)
	secret := new(big.Int).Exp(y, kp.private, prime)

	// Leading zeros are preserved so both sides hash identical bytes.
	out := make([]byte, GroupByteSize)
	secret.FillBytes(out)
	return out, nil
}

// DeriveSessionKey hashes the shared secret with SHA-256 and truncates to
// the AES-128 key size. Deterministic for the same agreement; every
// connection runs a fresh exchange so keys are never reused.
func DeriveSessionKey(sharedSecret []byte) ([]byte, error) {
	if len(sharedSecret) != GroupByteSize {
		return nil, fmt.Errorf("shared secret must be %d bytes (got %d)", GroupByteSize, len(sharedSecret))
	}
	sum := sha256.Sum256(sharedSecret)
	return append([]byte(nil), sum[:SessionKeySize]...), nil
}
