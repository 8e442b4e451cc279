// Package ids generates fixed-length collision-resistant message ids.
// Ids address local rows for later status updates, so a collision over
// the store's lifetime is treated as an invariant violation by callers.
package ids

import (
	"crypto/rand"
	"fmt"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Length is the standard id length used for message rows.
const Length = 17

// New returns a new random id of the standard length.
func New() string {
	id, err := Random(Length)
	if err != nil {
		// crypto/rand failure means the process has no usable entropy
		// source; there is no safe way to mint an id.
		panic(fmt.Sprintf("ids: entropy source unavailable: %v", err))
	}
	return id
}

// maxUnbiased is the largest multiple of len(alphabet) that fits in a
// byte; bytes at or above it are rejected so every character is
// equally likely.
const maxUnbiased = 256 - 256%len(alphabet)

// Random returns a uniformly random base62 token of n characters.
func Random(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("ids: invalid length %d", n)
	}
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= maxUnbiased {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
