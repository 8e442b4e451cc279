// Package security implements the cryptographic capability used by the
// encryption manager and the send pipeline: per-server key pairs,
// password wrapping of private keys, message body encryption, and the
// AES-256-GCM primitive the vault uses for at-rest protection.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// ErrWrongPassword is returned when a password-wrapped private key
// cannot be opened with the supplied password.
var ErrWrongPassword = errors.New("security: wrong password or corrupted key blob")

// ErrEncryptionFailed marks a failure to produce ciphertext for a send.
var ErrEncryptionFailed = errors.New("security: encryption failed")

// ErrDecryptionFailed marks a non-fatal per-item decrypt failure.
var ErrDecryptionFailed = errors.New("security: decryption failed")

// EncryptWithKey returns nonce|ciphertext using AES-256-GCM under the
// given 32-byte key.
func EncryptWithKey(key, plaintext []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, errors.New("encryption key must be 32 bytes (AES-256)")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	out := gcm.Seal(nil, nonce, plaintext, nil)
	// Prepend nonce for storage
	return append(nonce, out...), nil
}

// DecryptWithKey expects nonce|ciphertext produced by EncryptWithKey.
func DecryptWithKey(key, data []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, errors.New("encryption key must be 32 bytes (AES-256)")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	ns := gcm.NonceSize()
	if len(data) < ns {
		return nil, fmt.Errorf("ciphertext shorter than nonce (%d bytes)", len(data))
	}
	pt, err := gcm.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return pt, nil
}
