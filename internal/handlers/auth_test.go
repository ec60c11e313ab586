package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/tessera/internal/auth"
	"github.com/BradenHooton/tessera/internal/models"
	"github.com/BradenHooton/tessera/internal/services"
)

var testCookies = auth.CookieConfig{
	Secure:        true,
	SessionMaxAge: 720 * time.Hour,
	StateMaxAge:   15 * time.Minute,
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAuthHandler(svc LoginServiceInterface) *AuthHandler {
	return NewAuthHandler(svc, testCookies, nil, discardLogger())
}

func TestBeginLogin_RedirectsWithStateCookie(t *testing.T) {
	svc := &MockLoginService{
		BeginFunc: func(_ context.Context, method string, rememberMe bool, referer string) (*services.BeginResult, error) {
			assert.Equal(t, "google", method)
			assert.True(t, rememberMe)
			assert.Equal(t, "/dashboard", referer)
			return &services.BeginResult{
				RedirectURL: "https://accounts.example.com/auth?state=tok",
				StateToken:  "tok",
				StateCookie: "nonce-123",
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/login/google?rememberMe=true&referer=/dashboard", nil)
	req = WithChiRouteContext(req, map[string]string{"method": "google"})
	w := httptest.NewRecorder()

	newAuthHandler(svc).BeginLogin(w, req)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "https://accounts.example.com/auth?state=tok", w.Header().Get("Location"))
	state := ResponseCookies(w)[auth.StateCookie]
	require.NotNil(t, state)
	assert.Equal(t, "nonce-123", state.Value)
	assert.True(t, state.HttpOnly)
}

func TestBeginLogin_UnknownMethod(t *testing.T) {
	svc := &MockLoginService{
		BeginFunc: func(context.Context, string, bool, string) (*services.BeginResult, error) {
			return nil, fmt.Errorf("%w: %q", models.ErrUnknownMethod, "myspace")
		},
	}

	req := WithChiRouteContext(httptest.NewRequest(http.MethodGet, "/auth/login/myspace", nil), map[string]string{"method": "myspace"})
	w := httptest.NewRecorder()

	newAuthHandler(svc).BeginLogin(w, req)

	AssertErrorResponse(t, w, http.StatusBadRequest, "unknown_method")
	assert.Empty(t, ResponseCookies(w))
}

func TestCallback_SetsSessionCookiesAndRedirects(t *testing.T) {
	svc := &MockLoginService{
		CompleteFunc: func(_ context.Context, req services.CompleteRequest) (*services.LoginResult, error) {
			assert.Equal(t, "tok", req.StateToken)
			assert.Equal(t, "nonce-123", req.StoredState)
			assert.Equal(t, "auth-code", req.Callback.Get("code"))
			assert.Equal(t, "test-agent", req.UserAgent)
			return &services.LoginResult{
				UserID:        "u-1",
				SessionSecret: "secret",
				RememberMe:    false,
				Referer:       "/dashboard",
				Method:        models.MethodGoogle,
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?state=tok&code=auth-code", nil)
	req.Header.Set("User-Agent", "test-agent")
	req.AddCookie(&http.Cookie{Name: auth.StateCookie, Value: "nonce-123"})
	w := httptest.NewRecorder()

	newAuthHandler(svc).Callback(w, req)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/dashboard", w.Header().Get("Location"))

	cookies := ResponseCookies(w)
	require.Contains(t, cookies, auth.UserIDCookie)
	require.Contains(t, cookies, auth.SessionCookie)
	require.Contains(t, cookies, auth.StateCookie)
	assert.Equal(t, "u-1", cookies[auth.UserIDCookie].Value)
	assert.Equal(t, "secret", cookies[auth.SessionCookie].Value)
	assert.Zero(t, cookies[auth.SessionCookie].MaxAge)
	assert.Negative(t, cookies[auth.StateCookie].MaxAge)
}

func TestCallback_Failures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "invalid state", err: fmt.Errorf("%w: %w", models.ErrInvalidState, models.ErrInvalidToken), wantStatus: http.StatusBadRequest, wantCode: "invalid_state"},
		{name: "expired state", err: fmt.Errorf("%w: %w", models.ErrInvalidState, models.ErrTokenExpired), wantStatus: http.StatusBadRequest, wantCode: "state_expired"},
		{name: "mismatch", err: models.ErrStateMismatch, wantStatus: http.StatusBadRequest, wantCode: "state_mismatch"},
		{name: "provider error", err: fmt.Errorf("%w: access_denied", models.ErrInvalidCallback), wantStatus: http.StatusBadRequest, wantCode: "invalid_callback"},
		{name: "link expired", err: models.ErrLinkExpired, wantStatus: http.StatusBadRequest, wantCode: "link_expired"},
		{name: "identity owned elsewhere", err: models.ErrIdentityInUse, wantStatus: http.StatusConflict, wantCode: "identity_in_use"},
		{name: "storage down", err: fmt.Errorf("create user: %w", models.ErrStorageUnavailable), wantStatus: http.StatusServiceUnavailable, wantCode: "service_unavailable"},
		{name: "unexpected", err: fmt.Errorf("boom"), wantStatus: http.StatusInternalServerError, wantCode: "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockLoginService{
				CompleteFunc: func(context.Context, services.CompleteRequest) (*services.LoginResult, error) {
					return nil, tt.err
				},
			}

			req := httptest.NewRequest(http.MethodGet, "/auth/callback?state=tok&code=c", nil)
			req.AddCookie(&http.Cookie{Name: auth.StateCookie, Value: "nonce"})
			w := httptest.NewRecorder()

			newAuthHandler(svc).Callback(w, req)

			AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode)

			cookies := ResponseCookies(w)
			assert.NotContains(t, cookies, auth.SessionCookie)
			require.Contains(t, cookies, auth.StateCookie)
			assert.Negative(t, cookies[auth.StateCookie].MaxAge)
		})
	}
}

func TestEmailForm(t *testing.T) {
	svc := &MockLoginService{
		InspectFunc: func(stateToken string) (*models.LoginState, error) {
			switch stateToken {
			case "email-tok":
				return &models.LoginState{State: "n", Method: models.MethodEmail, RememberMe: true, Referer: "/x"}, nil
			case "google-tok":
				return &models.LoginState{State: "n", Method: models.MethodGoogle, Referer: "/"}, nil
			}
			return nil, models.ErrInvalidState
		},
	}
	h := newAuthHandler(svc)

	t.Run("pending email login", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.EmailForm(w, httptest.NewRequest(http.MethodGet, "/auth/email?state=email-tok", nil))

		var resp PendingLoginResponse
		AssertJSONResponse(t, w, http.StatusOK, &resp)
		assert.Equal(t, "email-tok", resp.State)
		assert.True(t, resp.RememberMe)
		assert.Equal(t, "/x", resp.Referer)
	})

	t.Run("other method", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.EmailForm(w, httptest.NewRequest(http.MethodGet, "/auth/email?state=google-tok", nil))
		AssertErrorResponse(t, w, http.StatusBadRequest, "invalid_state")
	})

	t.Run("missing state", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.EmailForm(w, httptest.NewRequest(http.MethodGet, "/auth/email", nil))
		AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	})

	t.Run("forged state", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.EmailForm(w, httptest.NewRequest(http.MethodGet, "/auth/email?state=forged", nil))
		AssertErrorResponse(t, w, http.StatusBadRequest, "invalid_state")
	})
}

func TestSendEmailLink(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		svcErr     error
		wantStatus int
		wantCode   string
	}{
		{name: "accepted", body: SendEmailLinkRequest{Email: "ada@example.com", State: "tok"}, wantStatus: http.StatusAccepted},
		{name: "invalid email", body: SendEmailLinkRequest{Email: "nope", State: "tok"}, wantStatus: http.StatusBadRequest, wantCode: "bad_request"},
		{name: "malformed body", body: "not json object", wantStatus: http.StatusBadRequest, wantCode: "bad_request"},
		{name: "mail down", body: SendEmailLinkRequest{Email: "ada@example.com", State: "tok"}, svcErr: models.ErrMailUnavailable, wantStatus: http.StatusServiceUnavailable, wantCode: "service_unavailable"},
		{name: "bad state", body: SendEmailLinkRequest{Email: "ada@example.com", State: "tok"}, svcErr: models.ErrInvalidState, wantStatus: http.StatusBadRequest, wantCode: "invalid_state"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &MockLoginService{
				SendEmailLinkFunc: func(_ context.Context, email, stateToken string) error {
					called = true
					assert.Equal(t, "ada@example.com", email)
					assert.Equal(t, "tok", stateToken)
					return tt.svcErr
				},
			}
			w := httptest.NewRecorder()

			newAuthHandler(svc).SendEmailLink(w, NewTestRequest(t, http.MethodPost, "/auth/email", tt.body))

			if tt.wantCode == "" {
				var resp MessageResponse
				AssertJSONResponse(t, w, tt.wantStatus, &resp)
				assert.True(t, called)
				return
			}
			AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}
