package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/tessera/internal/auth"
	"github.com/BradenHooton/tessera/internal/models"
	"github.com/BradenHooton/tessera/internal/services"
	pkghttp "github.com/BradenHooton/tessera/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithSessionContext adds an authenticated user and session secret to the
// request context, as auth.RequireSession would
func WithSessionContext(req *http.Request, user *models.User, secret string) *http.Request {
	ctx := context.WithValue(req.Context(), auth.UserContextKey, user)
	ctx = context.WithValue(ctx, auth.SessionContextKey, secret)
	return req.WithContext(ctx)
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// ResponseCookies indexes the cookies set on a recorded response by name
func ResponseCookies(w *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range w.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

// MockLoginService implements LoginServiceInterface for testing
type MockLoginService struct {
	BeginFunc         func(ctx context.Context, method string, rememberMe bool, referer string) (*services.BeginResult, error)
	InspectFunc       func(stateToken string) (*models.LoginState, error)
	CompleteFunc      func(ctx context.Context, req services.CompleteRequest) (*services.LoginResult, error)
	SendEmailLinkFunc func(ctx context.Context, email, stateToken string) error
}

func (m *MockLoginService) Begin(ctx context.Context, method string, rememberMe bool, referer string) (*services.BeginResult, error) {
	if m.BeginFunc == nil {
		return nil, models.ErrUnknownMethod
	}
	return m.BeginFunc(ctx, method, rememberMe, referer)
}

func (m *MockLoginService) Inspect(stateToken string) (*models.LoginState, error) {
	if m.InspectFunc == nil {
		return nil, models.ErrInvalidState
	}
	return m.InspectFunc(stateToken)
}

func (m *MockLoginService) Complete(ctx context.Context, req services.CompleteRequest) (*services.LoginResult, error) {
	if m.CompleteFunc == nil {
		return nil, models.ErrInvalidState
	}
	return m.CompleteFunc(ctx, req)
}

func (m *MockLoginService) SendEmailLink(ctx context.Context, email, stateToken string) error {
	if m.SendEmailLinkFunc == nil {
		return nil
	}
	return m.SendEmailLinkFunc(ctx, email, stateToken)
}

// MockAccountService implements AccountServiceInterface for testing
type MockAccountService struct {
	LogoutFunc       func(ctx context.Context, userID, secret, ipAddress string) error
	LogoutOthersFunc func(ctx context.Context, userID, secret, ipAddress string) error
	DeleteFunc       func(ctx context.Context, userID, ipAddress string) error
	LinkEmailFunc    func(ctx context.Context, userID, email, ipAddress string) (string, error)
}

func (m *MockAccountService) Logout(ctx context.Context, userID, secret, ipAddress string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, userID, secret, ipAddress)
}

func (m *MockAccountService) LogoutOthers(ctx context.Context, userID, secret, ipAddress string) error {
	if m.LogoutOthersFunc == nil {
		return nil
	}
	return m.LogoutOthersFunc(ctx, userID, secret, ipAddress)
}

func (m *MockAccountService) Delete(ctx context.Context, userID, ipAddress string) error {
	if m.DeleteFunc == nil {
		return nil
	}
	return m.DeleteFunc(ctx, userID, ipAddress)
}

func (m *MockAccountService) LinkEmail(ctx context.Context, userID, email, ipAddress string) (string, error) {
	if m.LinkEmailFunc == nil {
		return "", models.ErrUnknownMethod
	}
	return m.LinkEmailFunc(ctx, userID, email, ipAddress)
}

// MockAPIKeyService implements APIKeyServiceInterface for testing
type MockAPIKeyService struct {
	CreateFunc func(ctx context.Context, userID, name, ipAddress string, scopes []string) (*models.GeneratedAPIKey, error)
	ListFunc   func(ctx context.Context, userID string) ([]models.APIKey, error)
	RevokeFunc func(ctx context.Context, userID, keyID, ipAddress string) error
}

func (m *MockAPIKeyService) Create(ctx context.Context, userID, name, ipAddress string, scopes []string) (*models.GeneratedAPIKey, error) {
	if m.CreateFunc == nil {
		return nil, models.ErrBadRequest
	}
	return m.CreateFunc(ctx, userID, name, ipAddress, scopes)
}

func (m *MockAPIKeyService) List(ctx context.Context, userID string) ([]models.APIKey, error) {
	if m.ListFunc == nil {
		return []models.APIKey{}, nil
	}
	return m.ListFunc(ctx, userID)
}

func (m *MockAPIKeyService) Revoke(ctx context.Context, userID, keyID, ipAddress string) error {
	if m.RevokeFunc == nil {
		return nil
	}
	return m.RevokeFunc(ctx, userID, keyID, ipAddress)
}

// MockHealthChecker implements HealthChecker for testing
type MockHealthChecker struct {
	HealthCheckFunc func(ctx context.Context) error
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	if m.HealthCheckFunc == nil {
		return nil
	}
	return m.HealthCheckFunc(ctx)
}
