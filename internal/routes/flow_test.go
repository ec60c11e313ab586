package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/tessera/internal/auth"
	"github.com/BradenHooton/tessera/internal/handlers"
	"github.com/BradenHooton/tessera/internal/identity"
	"github.com/BradenHooton/tessera/internal/middleware"
	"github.com/BradenHooton/tessera/internal/models"
	"github.com/BradenHooton/tessera/internal/services"
	"github.com/BradenHooton/tessera/internal/tokens"
	pkglogger "github.com/BradenHooton/tessera/pkg/logger"
)

// testServer runs the full router over real services and in-memory storage
type testServer struct {
	*httptest.Server
	client *http.Client
	users  *services.MemoryUserRepository

	mu    sync.Mutex
	links []string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{users: services.NewMemoryUserRepository()}
	var handler http.Handler
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	key, err := tokens.NewKey([]byte("flow-test-secret-0123456789abcdef"))
	require.NoError(t, err)
	stateCodec, err := tokens.NewCodec[models.LoginState](key, tokens.PurposeLoginState, tokens.WithMaxAge(time.Hour))
	require.NoError(t, err)
	codeCodec, err := tokens.NewCodec[models.EmailLoginCode](key, tokens.PurposeEmailCode, tokens.WithMaxAge(time.Hour))
	require.NoError(t, err)

	emailResolver := identity.NewEmailResolver(codeCodec, identity.EmailConfig{
		EntryURL:   ts.URL + "/auth/email",
		LinkMaxAge: 10 * time.Minute,
	})
	mailer := &services.MockMailer{
		SendLoginLinkFunc: func(_ context.Context, _, link string, _ time.Duration) error {
			ts.mu.Lock()
			defer ts.mu.Unlock()
			ts.links = append(ts.links, link)
			return nil
		},
	}

	audit := pkglogger.NewAuditLogger(logger)
	sessions := services.NewSessionService(ts.users, nil, logger)
	login := services.NewLoginService(services.LoginServiceConfig{
		Users:      ts.users,
		Sessions:   sessions,
		Resolvers:  identity.NewRegistry(emailResolver),
		StateCodec: stateCodec,
		Email:      emailResolver,
		Mailer:     mailer,
		Audit:      audit,
		BaseURL:    ts.URL,
		Logger:     logger,
	})
	account := services.NewAccountService(ts.users, sessions, login, audit, logger)
	apiKeys := services.NewAPIKeyService(ts.users, audit, logger)

	cookies := auth.CookieConfig{SessionMaxAge: 24 * time.Hour, StateMaxAge: 15 * time.Minute}
	router := chi.NewRouter()
	RegisterRoutes(router,
		handlers.NewAuthHandler(login, cookies, nil, logger),
		handlers.NewAccountHandler(account, cookies, nil, logger),
		handlers.NewAPIKeyHandler(apiKeys, nil, logger),
		handlers.Health(account),
		nil,
		Config{
			BaseURL:          ts.URL,
			LoginRateLimit:   middleware.RateLimitConfig{RequestsPerMinute: 100},
			AccountRateLimit: middleware.RateLimitConfig{RequestsPerMinute: 100},
			Sessions:         account,
			APIKeys:          apiKeys,
			Logger:           logger,
		},
	)
	handler = router

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	ts.client = &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return ts
}

func (ts *testServer) do(t *testing.T, method, target string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	if !isAbsolute(target) {
		target = ts.URL + target
	}
	req, err := http.NewRequest(method, target, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) lastLink(t *testing.T) string {
	t.Helper()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	require.NotEmpty(t, ts.links)
	return ts.links[len(ts.links)-1]
}

func isAbsolute(target string) bool {
	u, err := url.Parse(target)
	return err == nil && u.IsAbs()
}

// beginEmailLogin walks the redirect and form steps and returns the emailed link
func (ts *testServer) beginEmailLogin(t *testing.T, email, referer string) string {
	t.Helper()

	resp := ts.do(t, http.MethodGet, "/auth/login/email?rememberMe=true&referer="+url.QueryEscape(referer), nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	entry, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := entry.Query().Get("state")
	require.NotEmpty(t, state)

	resp = ts.do(t, http.MethodGet, entry.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/auth/email", handlers.SendEmailLinkRequest{Email: email, State: state})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	return ts.lastLink(t)
}

func TestEmailLoginFlow(t *testing.T) {
	ts := newTestServer(t)

	link := ts.beginEmailLogin(t, "Ada@Example.com", "/home")

	resp := ts.do(t, http.MethodGet, link, nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/home", resp.Header.Get("Location"))

	resp = ts.do(t, http.MethodGet, "/account/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me handlers.UserResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, "ada@example.com", me.Email)
	assert.Equal(t, models.MethodEmail, me.Method)

	// The state cookie was consumed, so the same link cannot be replayed
	resp = ts.do(t, http.MethodGet, link, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/account/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/account/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEmailLoginFlow_ReturningUserAndRevokeOthers(t *testing.T) {
	ts := newTestServer(t)

	// First browser
	resp := ts.do(t, http.MethodGet, ts.beginEmailLogin(t, "ada@example.com", "/"), nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	firstJar := ts.client.Jar

	// Second browser, same account
	secondJar, err := cookiejar.New(nil)
	require.NoError(t, err)
	ts.client.Jar = secondJar
	resp = ts.do(t, http.MethodGet, ts.beginEmailLogin(t, "ada@example.com", "/"), nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	u, err := ts.users.GetByIdentity(context.Background(), models.MethodEmail, "ada@example.com")
	require.NoError(t, err)
	assert.Len(t, u.SessionTokens, 2)

	// Second browser signs out everyone else
	resp = ts.do(t, http.MethodPost, "/account/revoke", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.do(t, http.MethodGet, "/account/me", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ts.client.Jar = firstJar
	resp = ts.do(t, http.MethodGet, "/account/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCallbackFromOtherBrowserIsRejected(t *testing.T) {
	ts := newTestServer(t)
	link := ts.beginEmailLogin(t, "ada@example.com", "/")

	otherJar, err := cookiejar.New(nil)
	require.NoError(t, err)
	ts.client.Jar = otherJar

	resp := ts.do(t, http.MethodGet, link, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "state_mismatch", body.Error)
}

func TestLinkEmailFlow(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, ts.beginEmailLogin(t, "ada@example.com", "/"), nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	owner, err := ts.users.GetByIdentity(context.Background(), models.MethodEmail, "ada@example.com")
	require.NoError(t, err)

	resp = ts.do(t, http.MethodPost, "/account/email", handlers.LinkEmailRequest{Email: "Ada.Work@Example.com"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, ts.lastLink(t), nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/account", resp.Header.Get("Location"))

	linked, err := ts.users.GetByIdentity(context.Background(), models.MethodEmail, "ada.work@example.com")
	require.NoError(t, err)
	assert.Equal(t, owner.ID, linked.ID)

	// Signing in with the linked address reaches the same account
	resp = ts.do(t, http.MethodPost, "/account/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.do(t, http.MethodGet, ts.beginEmailLogin(t, "ada.work@example.com", "/"), nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/account/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me handlers.UserResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, owner.ID, me.ID)
	assert.Equal(t, "ada@example.com", me.Email)
}

func TestLinkEmailFlow_AddressOwnedElsewhere(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, ts.beginEmailLogin(t, "bob@example.com", "/"), nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	ts.client.Jar = jar
	resp = ts.do(t, http.MethodGet, ts.beginEmailLogin(t, "ada@example.com", "/"), nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/account/email", handlers.LinkEmailRequest{Email: "bob@example.com"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp = ts.do(t, http.MethodGet, ts.lastLink(t), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// The existing session survives the refused link
	resp = ts.do(t, http.MethodGet, "/account/me", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// withKey sends a request carrying only an API key, no cookies
func (ts *testServer) withKey(t *testing.T, method, path, key string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+key)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAPIKeyFlow(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, ts.beginEmailLogin(t, "ada@example.com", "/"), nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/account/keys", handlers.CreateAPIKeyRequest{
		Name:   "reporting",
		Scopes: []string{models.ScopeKeysRead},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created handlers.CreateAPIKeyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.Key)

	// Read scopes work with the key alone
	resp = ts.withKey(t, http.MethodGet, "/account/me", created.Key)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me handlers.UserResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, "ada@example.com", me.Email)

	resp = ts.withKey(t, http.MethodGet, "/account/keys", created.Key)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed handlers.ListAPIKeysResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	require.Len(t, listed.Keys, 1)
	assert.Equal(t, created.APIKey.ID, listed.Keys[0].ID)

	// Missing scope and session-only routes are refused
	assert.Equal(t, http.StatusForbidden, ts.withKey(t, http.MethodPost, "/account/revoke", created.Key).StatusCode)
	assert.Equal(t, http.StatusForbidden, ts.withKey(t, http.MethodPost, "/account/keys", created.Key).StatusCode)
	assert.Equal(t, http.StatusForbidden, ts.withKey(t, http.MethodDelete, "/account", created.Key).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, ts.withKey(t, http.MethodGet, "/account/me", created.Key+"0").StatusCode)

	// The browser session revokes the key
	resp = ts.do(t, http.MethodDelete, "/account/keys/"+created.APIKey.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, http.StatusUnauthorized, ts.withKey(t, http.MethodGet, "/account/me", created.Key).StatusCode)
}
