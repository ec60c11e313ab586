package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/BradenHooton/tessera/internal/models"
	pkglogger "github.com/BradenHooton/tessera/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccountFixture(t *testing.T) (*AccountService, *SessionService, *MemoryUserRepository, *bytes.Buffer) {
	t.Helper()
	repo := NewMemoryUserRepository()
	_, err := repo.Create(context.Background(), &models.User{
		ID:          "user-1",
		MethodName:  models.MethodGitHub,
		MethodValue: "4242",
		Name:        "Dave",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	sessions := NewSessionService(repo, nil, logger)
	return NewAccountService(repo, sessions, nil, pkglogger.NewAuditLogger(logger), logger), sessions, repo, &buf
}

func TestAccountService_Authenticate(t *testing.T) {
	ctx := context.Background()
	svc, sessions, _, _ := newAccountFixture(t)
	secret, err := sessions.Issue(ctx, "user-1")
	require.NoError(t, err)

	user, err := svc.Authenticate(ctx, "user-1", secret)
	require.NoError(t, err)
	assert.Equal(t, "Dave", user.Name)

	_, err = svc.Authenticate(ctx, "user-1", "forged")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestAccountService_Logout(t *testing.T) {
	ctx := context.Background()
	svc, sessions, _, buf := newAccountFixture(t)
	a, err := sessions.Issue(ctx, "user-1")
	require.NoError(t, err)
	b, err := sessions.Issue(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, "user-1", a, "10.0.0.1"))

	ok, _ := sessions.Verify(ctx, "user-1", a)
	assert.False(t, ok)
	ok, _ = sessions.Verify(ctx, "user-1", b)
	assert.True(t, ok)
	assert.Contains(t, buf.String(), `"reason":"logout"`)
	assert.NotContains(t, buf.String(), a)
}

func TestAccountService_LogoutOthers(t *testing.T) {
	ctx := context.Background()
	svc, sessions, _, _ := newAccountFixture(t)
	old, err := sessions.Issue(ctx, "user-1")
	require.NoError(t, err)
	current, err := sessions.Issue(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.LogoutOthers(ctx, "user-1", current, ""))

	ok, _ := sessions.Verify(ctx, "user-1", current)
	assert.True(t, ok)
	ok, _ = sessions.Verify(ctx, "user-1", old)
	assert.False(t, ok)
}

func TestAccountService_Delete(t *testing.T) {
	ctx := context.Background()
	svc, sessions, repo, _ := newAccountFixture(t)
	secret, err := sessions.Issue(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "user-1", ""))

	ok, err := sessions.Verify(ctx, "user-1", secret)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = repo.GetByIdentity(ctx, models.MethodGitHub, "4242")
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.ErrorIs(t, svc.Delete(ctx, "user-1", ""), models.ErrNotFound)
}

func TestAccountService_HealthCheck(t *testing.T) {
	repo := &MockUserRepository{
		PingFunc: func(ctx context.Context) error { return errors.New("no route to host") },
	}
	svc := NewAccountService(repo, NewSessionService(repo, nil, slog.Default()), nil, pkglogger.NewAuditLogger(slog.Default()), slog.Default())

	assert.ErrorIs(t, svc.HealthCheck(context.Background()), models.ErrStorageUnavailable)
}

type mockEmailLinker struct {
	BeginLinkFunc func(ctx context.Context, userID, email string) (*BeginResult, error)
}

func (m *mockEmailLinker) BeginLink(ctx context.Context, userID, email string) (*BeginResult, error) {
	return m.BeginLinkFunc(ctx, userID, email)
}

func TestAccountService_LinkEmail(t *testing.T) {
	ctx := context.Background()
	svc, _, _, buf := newAccountFixture(t)

	var gotUser, gotEmail string
	svc.links = &mockEmailLinker{
		BeginLinkFunc: func(ctx context.Context, userID, email string) (*BeginResult, error) {
			gotUser, gotEmail = userID, email
			return &BeginResult{StateToken: "tok", StateCookie: "nonce-1"}, nil
		},
	}

	cookie, err := svc.LinkEmail(ctx, "user-1", "bob@example.com", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "nonce-1", cookie)
	assert.Equal(t, "user-1", gotUser)
	assert.Equal(t, "bob@example.com", gotEmail)
	assert.Contains(t, buf.String(), `"event_type":"email_link_requested"`)

	svc.links = &mockEmailLinker{
		BeginLinkFunc: func(ctx context.Context, userID, email string) (*BeginResult, error) {
			return nil, models.ErrMailUnavailable
		},
	}
	_, err = svc.LinkEmail(ctx, "user-1", "bob@example.com", "")
	assert.ErrorIs(t, err, models.ErrMailUnavailable)

	svc.links = nil
	_, err = svc.LinkEmail(ctx, "user-1", "bob@example.com", "")
	assert.ErrorIs(t, err, models.ErrUnknownMethod)
}
