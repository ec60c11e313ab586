package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"

	"github.com/BradenHooton/tessera/internal/metrics"
	"github.com/BradenHooton/tessera/internal/models"
	"github.com/BradenHooton/tessera/pkg/auth"
)

// SessionService issues and checks session secrets. Only the SHA-256 hash of
// a secret is ever written to storage.
type SessionService struct {
	repo    UserRepository
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewSessionService creates a new SessionService
func NewSessionService(repo UserRepository, recorder metrics.Recorder, logger *slog.Logger) *SessionService {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &SessionService{
		repo:    repo,
		metrics: recorder,
		logger:  logger,
	}
}

// Hash returns the stored form of a session secret.
func (s *SessionService) Hash(secret string) string {
	return auth.HashSecret(secret)
}

// Issue creates a new session secret for userID and adds its hash to the
// user's session set. The raw secret is returned for the cookie.
func (s *SessionService) Issue(ctx context.Context, userID string) (string, error) {
	secret, err := auth.GenerateSessionSecret()
	if err != nil {
		return "", err
	}

	if err := s.repo.AddSessionToken(ctx, userID, s.Hash(secret)); err != nil {
		s.logger.Error("failed to store session", slog.String("user_id", userID), slog.Any("error", err))
		return "", storageError("issue session", err)
	}

	s.metrics.RecordSessionIssued()
	return secret, nil
}

// Verify reports whether secret is a live session for userID. A missing user
// or empty secret is simply not valid.
func (s *SessionService) Verify(ctx context.Context, userID, secret string) (bool, error) {
	_, err := s.Authenticate(ctx, userID, secret)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, models.ErrUnauthorized):
		return false, nil
	default:
		return false, err
	}
}

// Authenticate returns the user owning the session, or ErrUnauthorized.
func (s *SessionService) Authenticate(ctx context.Context, userID, secret string) (*models.User, error) {
	if userID == "" || secret == "" {
		return nil, models.ErrUnauthorized
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Debug("session for unknown user", slog.String("user_id", userID))
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to load user for session", slog.String("user_id", userID), slog.Any("error", err))
		return nil, storageError("authenticate session", err)
	}

	want := []byte(s.Hash(secret))
	found := 0
	for _, h := range user.SessionTokens {
		found |= subtle.ConstantTimeCompare(want, []byte(h))
	}
	if found != 1 {
		s.logger.Debug("session secret not recognised", slog.String("user_id", userID))
		return nil, models.ErrUnauthorized
	}

	return user, nil
}

// Revoke removes one session. Revoking an unknown secret is a no-op.
func (s *SessionService) Revoke(ctx context.Context, userID, secret string) error {
	if secret == "" {
		return nil
	}
	if err := s.repo.RemoveSessionToken(ctx, userID, s.Hash(secret)); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		s.logger.Error("failed to revoke session", slog.String("user_id", userID), slog.Any("error", err))
		return storageError("revoke session", err)
	}

	s.metrics.RecordRevocation("single")
	return nil
}

// RevokeAll drops every session of userID. When keepSecret is non-empty its
// hash becomes the only remaining member of the set.
func (s *SessionService) RevokeAll(ctx context.Context, userID, keepSecret string) error {
	hashes := []string{}
	if keepSecret != "" {
		hashes = append(hashes, s.Hash(keepSecret))
	}

	if err := s.repo.SetSessionTokens(ctx, userID, hashes); err != nil {
		s.logger.Error("failed to revoke sessions", slog.String("user_id", userID), slog.Any("error", err))
		return storageError("revoke all sessions", err)
	}

	s.metrics.RecordRevocation("all")
	return nil
}
