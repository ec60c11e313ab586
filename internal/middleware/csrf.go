package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	pkghttp "github.com/BradenHooton/tessera/pkg/http"
)

// SameOriginWrites rejects state-changing requests whose Origin (or, failing
// that, Referer) is not the service itself or an allowed origin. Requests
// carrying neither header come from non-browser clients and pass.
func SameOriginWrites(baseURL string, allowedOrigins []string, logger *slog.Logger) func(http.Handler) http.Handler {
	trusted := append([]string{originOf(baseURL)}, allowedOrigins...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isStateChangingMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				if ref := r.Header.Get("Referer"); ref != "" {
					if origin = originOf(ref); origin == "" {
						origin = "null"
					}
				}
			}

			if origin != "" && !slices.Contains(trusted, origin) {
				logger.WarnContext(r.Context(), "cross-origin write rejected",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("origin", origin))
				pkghttp.WriteForbidden(w, "Cross-origin request rejected")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// originOf reduces a URL to scheme://host, or "" if raw has neither
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// isStateChangingMethod checks if the HTTP method modifies state
func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}
