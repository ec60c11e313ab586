// Package tokens seals small typed payloads into opaque, URL-safe strings.
//
// A token is XChaCha20-Poly1305 ciphertext of a JSON envelope holding the
// payload and its issue time. Each purpose gets its own subkey, so a token
// minted for one purpose never opens under another.
package tokens

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// MinSecretLength is the shortest secret NewKey accepts.
const MinSecretLength = 32

var ErrWeakSecret = errors.New("token secret must be at least 32 bytes")

// Key is the root secret every codec derives its subkey from. It is immutable
// after construction and safe for concurrent use.
type Key struct {
	secret []byte
}

// NewKey copies secret into a new Key.
func NewKey(secret []byte) (*Key, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	k := &Key{secret: make([]byte, len(secret))}
	copy(k.secret, secret)
	return k, nil
}

func (k *Key) derive(purpose string) ([]byte, error) {
	info := []byte("tessera/tokens/v1/" + purpose)
	sub := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, k.secret, nil, info), sub); err != nil {
		return nil, fmt.Errorf("derive subkey: %w", err)
	}
	return sub, nil
}
