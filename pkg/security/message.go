package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// EncryptBody seals a message body to the server key pair's public key.
// The output is the base64 wire form carried in place of the plaintext
// body when a send requests encryption.
func EncryptBody(pubB64, plaintext string) (string, error) {
	pub, err := decodeKey32(pubB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	ct, err := box.SealAnonymous(nil, []byte(plaintext), pub, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptBody opens a sealed body with the full key pair. Failures are
// non-fatal per item; the sweep leaves the row pending for a later pass.
func DecryptBody(pubB64, privB64, cipherB64 string) (string, error) {
	pub, err := decodeKey32(pubB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	priv, err := decodeKey32(privB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	ct, err := base64.StdEncoding.DecodeString(cipherB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	pt, ok := box.OpenAnonymous(nil, ct, pub, priv)
	if !ok {
		return "", ErrDecryptionFailed
	}
	return string(pt), nil
}

func decodeKey32(b64 string) (*[32]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(raw))
	}
	var k [32]byte
	copy(k[:], raw)
	return &k, nil
}
