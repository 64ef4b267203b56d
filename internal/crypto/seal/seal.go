// Package seal provides the authenticated encryption applied to every
// steady-state protocol line: AES-128-GCM with a fresh random nonce per
// message, transported as base64(nonce || ciphertext).
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
)

const nonceSize = 12

// ErrDecrypt reports a blob that failed authentication: tampering, a wrong
// key, or corruption. No plaintext is ever returned alongside it.
var ErrDecrypt = errors.New("decryption failed")

// Encrypt seals plaintext under the session key and returns the base64
// transport blob. Two calls with identical inputs produce different
// outputs because the nonce is random per call.
func Encrypt(key []byte, plaintext string) (string, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a transport blob produced by Encrypt. Any malformed or
// unauthenticated input fails with ErrDecrypt.
func Decrypt(key []byte, blob string) (string, error) {
	combined, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("decode blob: %w", ErrDecrypt)
	}
	if len(combined) <= nonceSize {
		return "", fmt.Errorf("blob too short: %w", ErrDecrypt)
	}

	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	plaintext, err := aead.Open(nil, combined[:nonceSize], combined[nonceSize:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}

// ConstantTimeEquals compares two strings without leaking the position of
// the first difference. Used for keyed-bind hash verification.
func ConstantTimeEquals(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return aead, nil
}
