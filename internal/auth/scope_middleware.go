package auth

import (
	"net/http"

	pkghttp "github.com/BradenHooton/tessera/pkg/http"
)

// RequireScope lets cookie sessions through and requires API keys to carry
// scope. It must run after RequireAuth.
func RequireScope(scope string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetUserFromContext(r) == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			key := GetAPIKeyFromContext(r)
			if key != nil && !key.HasScope(scope) {
				pkghttp.WriteForbidden(w, "insufficient scope")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SessionOnly rejects requests authenticated with an API key. Logging out,
// deleting the account and managing keys need a browser session.
func SessionOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetAPIKeyFromContext(r) != nil {
			pkghttp.WriteForbidden(w, "this action requires a signed-in session")
			return
		}
		next.ServeHTTP(w, r)
	})
}
