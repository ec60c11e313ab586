package models

import (
	"fmt"
	"slices"
)

// Scopes an API key can carry. Session cookies are not scoped.
const (
	ScopeAccountRead    = "account.read"
	ScopeKeysRead       = "keys.read"
	ScopeSessionsRevoke = "sessions.revoke"
)

// MaxScopes is every scope a key may request.
var MaxScopes = map[string]bool{
	ScopeAccountRead:    true,
	ScopeKeysRead:       true,
	ScopeSessionsRevoke: true,
}

// MinScopes are granted to every key.
var MinScopes = []string{ScopeAccountRead}

// IsValidScope checks a scope against MaxScopes.
func IsValidScope(scope string) bool {
	return MaxScopes[scope]
}

// NormalizeScopes validates requested and returns it merged with MinScopes,
// sorted and without duplicates.
func NormalizeScopes(requested []string) ([]string, error) {
	scopes := slices.Clone(MinScopes)
	for _, scope := range requested {
		if !IsValidScope(scope) {
			return nil, fmt.Errorf("%w: unknown scope %q", ErrBadRequest, scope)
		}
		scopes = append(scopes, scope)
	}
	slices.Sort(scopes)
	return slices.Compact(scopes), nil
}
