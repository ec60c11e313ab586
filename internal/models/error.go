package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Token errors
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Login flow errors
	ErrInvalidState    = errors.New("invalid login state")
	ErrStateMismatch   = errors.New("login state does not match")
	ErrInvalidCallback = errors.New("invalid provider callback")
	ErrLinkExpired     = errors.New("login link expired")
	ErrUnknownMethod   = errors.New("unknown login method")
	ErrIdentityInUse   = errors.New("identity belongs to another account")

	// Collaborator outages
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrMailUnavailable    = errors.New("mail delivery unavailable")
)
