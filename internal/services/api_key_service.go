package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/tessera/internal/auth"
	"github.com/BradenHooton/tessera/internal/models"
	pkgauth "github.com/BradenHooton/tessera/pkg/auth"
	pkglogger "github.com/BradenHooton/tessera/pkg/logger"
)

// APIKeyService handles API key business logic
type APIKeyService struct {
	users      UserRepository
	keyManager *auth.APIKeyManager
	audit      *pkglogger.AuditLogger
	logger     *slog.Logger
	now        func() time.Time
}

// NewAPIKeyService creates a new APIKeyService
func NewAPIKeyService(users UserRepository, audit *pkglogger.AuditLogger, logger *slog.Logger) *APIKeyService {
	if logger == nil {
		logger = slog.Default()
	}
	if audit == nil {
		audit = pkglogger.NewAuditLogger(logger)
	}
	return &APIKeyService{
		users:      users,
		keyManager: auth.NewAPIKeyManager(),
		audit:      audit,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create mints a key for userID. The plaintext key is only ever returned
// here; the account keeps its hash.
func (s *APIKeyService) Create(ctx context.Context, userID, name, ipAddress string, scopes []string) (*models.GeneratedAPIKey, error) {
	name = strings.TrimSpace(name)
	if userID == "" || name == "" {
		return nil, models.ErrBadRequest
	}
	scopes, err := models.NormalizeScopes(scopes)
	if err != nil {
		return nil, err
	}

	existing, err := s.users.ListAPIKeys(ctx, userID)
	if err != nil {
		return nil, storageError("list api keys", err)
	}
	if len(existing) >= models.MaxAPIKeysPerUser {
		return nil, fmt.Errorf("%w: at most %d API keys per account", models.ErrBadRequest, models.MaxAPIKeysPerUser)
	}

	plainKey, keyHash, hint, err := s.keyManager.Generate(userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate api key", slog.Any("error", err))
		return nil, fmt.Errorf("%w: %w", models.ErrBadRequest, err)
	}

	key := &models.APIKey{
		ID:        uuid.NewString(),
		Name:      name,
		KeyHash:   keyHash,
		Hint:      hint,
		Scopes:    scopes,
		CreatedAt: s.now(),
	}
	if err := s.users.AddAPIKey(ctx, userID, key); err != nil {
		s.logger.ErrorContext(ctx, "failed to store api key", slog.String("user_id", userID), slog.Any("error", err))
		return nil, storageError("add api key", err)
	}

	s.audit.LogAccountAction(ctx, "api_key_created", userID, ipAddress, map[string]string{
		"key_id": key.ID,
		"scopes": strings.Join(scopes, " "),
	})

	return &models.GeneratedAPIKey{PlainKey: plainKey, APIKey: key}, nil
}

// List returns the account's keys, oldest first. Hashes never leave the
// service in JSON.
func (s *APIKeyService) List(ctx context.Context, userID string) ([]models.APIKey, error) {
	keys, err := s.users.ListAPIKeys(ctx, userID)
	if err != nil {
		return nil, storageError("list api keys", err)
	}
	if keys == nil {
		keys = []models.APIKey{}
	}
	return keys, nil
}

// Revoke deletes one of the account's keys. Keys of other accounts are
// simply not found.
func (s *APIKeyService) Revoke(ctx context.Context, userID, keyID, ipAddress string) error {
	if keyID == "" {
		return models.ErrBadRequest
	}
	if err := s.users.RemoveAPIKey(ctx, userID, keyID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.ErrorContext(ctx, "failed to revoke api key", slog.String("key_id", keyID), slog.Any("error", err))
		return storageError("remove api key", err)
	}

	s.audit.LogAccountAction(ctx, "api_key_revoked", userID, ipAddress, map[string]string{"key_id": keyID})
	return nil
}

// AuthenticateKey resolves a bearer key to its owner. Malformed, unknown and
// revoked keys are all ErrUnauthorized; storage failures stay distinct so
// the middleware can answer 503.
func (s *APIKeyService) AuthenticateKey(ctx context.Context, plainKey string) (*models.User, *models.APIKey, error) {
	userID, keyHash, err := s.keyManager.Parse(plainKey)
	if err != nil {
		return nil, nil, models.ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, models.ErrUnauthorized
		}
		return nil, nil, storageError("authenticate api key", err)
	}

	keys, err := s.users.ListAPIKeys(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, models.ErrUnauthorized
		}
		return nil, nil, storageError("authenticate api key", err)
	}

	var match *models.APIKey
	for i := range keys {
		if pkgauth.EqualSecrets(keys[i].KeyHash, keyHash) {
			match = &keys[i]
		}
	}
	if match == nil {
		return nil, nil, models.ErrUnauthorized
	}
	return user, match, nil
}
