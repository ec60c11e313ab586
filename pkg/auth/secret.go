package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	SessionSecretLength = 32 // 256 bits
	NonceLength         = 24 // 192 bits, 32 chars once encoded
)

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateSessionSecret returns a new bearer secret for a session cookie.
func GenerateSessionSecret() (string, error) {
	s, err := randomString(SessionSecretLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate session secret: %w", err)
	}
	return s, nil
}

// GenerateNonce returns a random value for the login state cookie.
func GenerateNonce() (string, error) {
	s, err := randomString(NonceLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s, nil
}

// HashSecret returns the lowercase hex SHA-256 digest stored in place of a secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// EqualSecrets compares two secrets in constant time. Empty values never match.
func EqualSecrets(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
