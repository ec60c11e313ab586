package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	pkgauth "github.com/BradenHooton/tessera/pkg/auth"
)

// ErrMalformedAPIKey is returned by Parse for strings that cannot be a key.
var ErrMalformedAPIKey = errors.New("malformed API key")

const (
	apiKeyPrefix      = "tsk_"
	apiKeySecretBytes = 32
	apiKeyHintLength  = 4
)

// APIKeyManager generates and parses API keys of the form
// tsk_<userID>_<64 hex chars>. Carrying the user ID lets a key be checked
// against that user's stored hashes the same way a session cookie is.
type APIKeyManager struct {
	prefix string
}

// NewAPIKeyManager creates a new APIKeyManager
func NewAPIKeyManager() *APIKeyManager {
	return &APIKeyManager{prefix: apiKeyPrefix}
}

// Generate returns a new plaintext key for userID (shown once), its SHA-256
// hash (stored) and a short hint for listing.
func (m *APIKeyManager) Generate(userID string) (plainKey, hash, hint string, err error) {
	if userID == "" || strings.Contains(userID, "_") {
		return "", "", "", fmt.Errorf("invalid user id for API key")
	}

	random := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(random); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	plainKey = m.prefix + userID + "_" + hex.EncodeToString(random)
	return plainKey, pkgauth.HashSecret(plainKey), plainKey[len(plainKey)-apiKeyHintLength:], nil
}

// Parse checks the shape of plainKey and returns the user it claims to
// belong to together with the hash to look for.
func (m *APIKeyManager) Parse(plainKey string) (userID, hash string, err error) {
	rest, ok := strings.CutPrefix(plainKey, m.prefix)
	if !ok {
		return "", "", fmt.Errorf("%w: missing prefix", ErrMalformedAPIKey)
	}

	userID, secret, ok := strings.Cut(rest, "_")
	if !ok || userID == "" {
		return "", "", fmt.Errorf("%w: missing user", ErrMalformedAPIKey)
	}
	if len(secret) != 2*apiKeySecretBytes {
		return "", "", fmt.Errorf("%w: expected %d secret chars, got %d", ErrMalformedAPIKey, 2*apiKeySecretBytes, len(secret))
	}
	if _, err := hex.DecodeString(secret); err != nil {
		return "", "", fmt.Errorf("%w: secret is not hex", ErrMalformedAPIKey)
	}

	return userID, pkgauth.HashSecret(plainKey), nil
}
