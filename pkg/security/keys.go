package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/pbkdf2"

	"chatsync/pkg/ids"
)

const (
	// pbkdf2Iterations balances KDF cost against mobile-class hardware.
	pbkdf2Iterations = 100_000
	saltSize         = 16
	recoveryPassLen  = 32
)

// KeyPair holds the serialized forms of a NaCl box key pair. Public is
// safe to store and upload in cleartext; Private is only persisted
// locally after the user has supplied or saved the protecting password.
type KeyPair struct {
	Public  string
	Private string
}

// GenerateKeyPair creates a new random key pair, base64-serialized.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		Public:  base64.StdEncoding.EncodeToString(pub[:]),
		Private: base64.StdEncoding.EncodeToString(priv[:]),
	}, nil
}

// NewRecoveryPassword returns a fresh random recovery password used to
// protect a just-generated private key until the user confirms it is
// saved elsewhere.
func NewRecoveryPassword() (string, error) {
	return ids.Random(recoveryPassLen)
}

// WrapPrivateKey encrypts a serialized private key under a key derived
// from the password and user id, producing the blob format stored on
// the server: base64(salt|nonce|ciphertext).
func WrapPrivateKey(privB64, password, userID string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	dk := deriveKey(password, userID, salt)
	ct, err := EncryptWithKey(dk, []byte(privB64))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(append(salt, ct...)), nil
}

// UnwrapPrivateKey decodes a server-held private key blob with the
// user-supplied password. A bad password surfaces as ErrWrongPassword;
// this path must stay loud so the user can retry.
func UnwrapPrivateKey(blob, password, userID string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrongPassword, err)
	}
	if len(raw) <= saltSize {
		return "", fmt.Errorf("%w: blob too short", ErrWrongPassword)
	}
	dk := deriveKey(password, userID, raw[:saltSize])
	pt, err := DecryptWithKey(dk, raw[saltSize:])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrongPassword, err)
	}
	return string(pt), nil
}

func deriveKey(password, userID string, salt []byte) []byte {
	// userID folded into the salt ties the blob to its owner.
	mixed := sha256.Sum256(append(append([]byte(nil), salt...), []byte(userID)...))
	return pbkdf2.Key([]byte(password), mixed[:], pbkdf2Iterations, 32, sha256.New)
}
