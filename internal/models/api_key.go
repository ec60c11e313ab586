package models

import (
	"slices"
	"time"
)

// MaxAPIKeysPerUser bounds how many keys one account may hold.
const MaxAPIKeysPerUser = 10

// APIKey is a long-lived credential a user mints for scripts. Only the
// SHA-256 hash of the key is stored.
type APIKey struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	KeyHash   string    `json:"-"`
	Hint      string    `json:"hint"` // last characters of the key, for display
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
}

// GeneratedAPIKey is returned once, when the key is created.
type GeneratedAPIKey struct {
	PlainKey string  `json:"key"`
	APIKey   *APIKey `json:"api_key"`
}

// HasScope reports whether the key grants scope.
func (k *APIKey) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}
