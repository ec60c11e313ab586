package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/tessera/internal/models"
	pkghttp "github.com/BradenHooton/tessera/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key for storing the authenticated user in context
	UserContextKey contextKey = "user"
	// SessionContextKey holds the raw session secret so handlers can revoke it
	SessionContextKey contextKey = "session"
	// APIKeyContextKey holds the API key a request authenticated with
	APIKeyContextKey contextKey = "api_key"
)

// SessionAuthenticator checks a userID/secret pair against the session store
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, userID, secret string) (*models.User, error)
}

// APIKeyAuthenticator resolves a bearer API key to its user and key record
type APIKeyAuthenticator interface {
	AuthenticateKey(ctx context.Context, plainKey string) (*models.User, *models.APIKey, error)
}

// RequireSession authenticates the userID and sessionToken cookies and
// injects the user into context. Failures are padded by timing so an unknown
// user and a wrong secret look the same from outside.
func RequireSession(authenticator SessionAuthenticator, timing *TimingDelay) func(next http.Handler) http.Handler {
	return RequireAuth(authenticator, nil, timing)
}

// RequireAuth is RequireSession that also accepts "Authorization: Bearer"
// API keys when keys is non-nil. Key requests carry the key in context so
// RequireScope can check it.
func RequireAuth(sessions SessionAuthenticator, keys APIKeyAuthenticator, timing *TimingDelay) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			fail := func(err error, kind string) {
				if timing != nil {
					timing.WaitFrom(start, false)
				}
				if errors.Is(err, models.ErrUnauthorized) {
					pkghttp.WriteUnauthorized(w, "invalid "+kind)
					return
				}
				pkghttp.WriteServiceUnavailable(w, kind+" store unavailable")
			}

			if bearer, ok := bearerToken(r); ok {
				if keys == nil {
					pkghttp.WriteUnauthorized(w, "API keys are not accepted here")
					return
				}
				user, key, err := keys.AuthenticateKey(r.Context(), bearer)
				if err != nil {
					fail(err, "API key")
					return
				}
				ctx := context.WithValue(r.Context(), UserContextKey, user)
				ctx = context.WithValue(ctx, APIKeyContextKey, key)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			userID, secret := GetSessionCookies(r)
			if userID == "" || secret == "" {
				pkghttp.WriteUnauthorized(w, "missing session")
				return
			}

			user, err := sessions.Authenticate(r.Context(), userID, secret)
			if err != nil {
				fail(err, "session")
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, user)
			ctx = context.WithValue(ctx, SessionContextKey, secret)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(token), true
}

// GetUserFromContext extracts the authenticated user from request context
func GetUserFromContext(r *http.Request) *models.User {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

// GetAPIKeyFromContext returns the API key used for the request, or nil for
// cookie sessions
func GetAPIKeyFromContext(r *http.Request) *models.APIKey {
	key, _ := r.Context().Value(APIKeyContextKey).(*models.APIKey)
	return key
}

// GetSessionFromContext extracts the raw session secret from request context
func GetSessionFromContext(r *http.Request) string {
	secret, _ := r.Context().Value(SessionContextKey).(string)
	return secret
}
