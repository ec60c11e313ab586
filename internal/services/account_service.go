package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/tessera/internal/models"
	pkglogger "github.com/BradenHooton/tessera/pkg/logger"
)

// EmailLinker mails a link that attaches an email address to an account.
// LoginService implements it.
type EmailLinker interface {
	BeginLink(ctx context.Context, userID, email string) (*BeginResult, error)
}

// AccountService serves the signed-in user's own account.
type AccountService struct {
	users    UserRepository
	sessions *SessionService
	links    EmailLinker
	audit    *pkglogger.AuditLogger
	logger   *slog.Logger
}

// NewAccountService creates a new AccountService. links may be nil when
// email login is not configured.
func NewAccountService(users UserRepository, sessions *SessionService, links EmailLinker, audit *pkglogger.AuditLogger, logger *slog.Logger) *AccountService {
	return &AccountService{
		users:    users,
		sessions: sessions,
		links:    links,
		audit:    audit,
		logger:   logger,
	}
}

// Authenticate returns the user owning the session. It backs the session
// middleware and GET /account/me.
func (s *AccountService) Authenticate(ctx context.Context, userID, secret string) (*models.User, error) {
	return s.sessions.Authenticate(ctx, userID, secret)
}

// Logout revokes the current session only.
func (s *AccountService) Logout(ctx context.Context, userID, secret, ipAddress string) error {
	if err := s.sessions.Revoke(ctx, userID, secret); err != nil {
		return err
	}
	s.audit.LogSessionRevocation(ctx, userID, ipAddress, "logout", false)
	return nil
}

// LogoutOthers revokes every session except the current one.
func (s *AccountService) LogoutOthers(ctx context.Context, userID, secret, ipAddress string) error {
	if err := s.sessions.RevokeAll(ctx, userID, secret); err != nil {
		return err
	}
	s.audit.LogSessionRevocation(ctx, userID, ipAddress, "logout_others", true)
	return nil
}

// LinkEmail mails a link that adds email as a login for userID. It returns
// the state cookie value the requesting browser must hold when the link is
// opened.
func (s *AccountService) LinkEmail(ctx context.Context, userID, email, ipAddress string) (string, error) {
	if s.links == nil {
		return "", fmt.Errorf("%w: %q", models.ErrUnknownMethod, models.MethodEmail)
	}

	result, err := s.links.BeginLink(ctx, userID, email)
	if err != nil {
		return "", err
	}

	s.audit.LogAccountAction(ctx, "email_link_requested", userID, ipAddress, nil)
	return result.StateCookie, nil
}

// Delete removes the account together with its sessions and identity index.
func (s *AccountService) Delete(ctx context.Context, userID, ipAddress string) error {
	if err := s.users.Delete(ctx, userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to delete user", slog.String("user_id", userID), slog.Any("error", err))
		return storageError("delete user", err)
	}

	s.audit.LogAccountAction(ctx, "account_deleted", userID, ipAddress, nil)
	return nil
}

// HealthCheck reports whether storage is reachable.
func (s *AccountService) HealthCheck(ctx context.Context) error {
	if err := s.users.Ping(ctx); err != nil {
		return storageError("health check", err)
	}
	return nil
}
