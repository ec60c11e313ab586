package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/BradenHooton/tessera/internal/models"
)

// UserRepository defines the interface for user data access. Session set
// operations must be atomic in the backing store so concurrent logins and
// revocations commute.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByIdentity(ctx context.Context, methodName, methodValue string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	Delete(ctx context.Context, id string) error
	AddSessionToken(ctx context.Context, userID, hash string) error
	RemoveSessionToken(ctx context.Context, userID, hash string) error
	SetSessionTokens(ctx context.Context, userID string, hashes []string) error

	// LinkIdentity attaches another login identity to an existing user.
	// ErrConflict means the identity is already registered to some user.
	LinkIdentity(ctx context.Context, userID string, ident *models.Identity) error

	ListAPIKeys(ctx context.Context, userID string) ([]models.APIKey, error)
	AddAPIKey(ctx context.Context, userID string, key *models.APIKey) error
	// RemoveAPIKey returns ErrNotFound when the user has no key with keyID.
	RemoveAPIKey(ctx context.Context, userID, keyID string) error

	Ping(ctx context.Context) error
}

// storageError keeps ErrNotFound and ErrConflict visible to callers and files
// everything else under ErrStorageUnavailable.
func storageError(op string, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrConflict),
		errors.Is(err, models.ErrStorageUnavailable):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, models.ErrStorageUnavailable, err)
	}
}
