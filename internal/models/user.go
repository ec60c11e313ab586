package models

import (
	"time"
)

// User is the account record. SessionTokens holds SHA-256 hex hashes of the
// currently valid session secrets; raw secrets are never stored.
type User struct {
	ID                string    `json:"id"`
	MethodName        string    `json:"method_name"`
	MethodValue       string    `json:"method_value"`
	Name              string    `json:"name"`
	Email             string    `json:"email,omitempty"`
	Picture           string    `json:"picture,omitempty"`
	Username          string    `json:"username,omitempty"`
	Bio               string    `json:"bio,omitempty"`
	SessionTokens     []string  `json:"-"`
	PaymentCustomerID string    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IdentityKey returns the lookup key for the identity this user signed up with.
func (u *User) IdentityKey() string {
	return IdentityKey(u.MethodName, u.MethodValue)
}
