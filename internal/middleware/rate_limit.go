package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/BradenHooton/tessera/internal/auth"
	pkghttp "github.com/BradenHooton/tessera/pkg/http"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	IPConfig          *pkghttp.IPConfig
}

// DefaultLoginRateLimit returns the default limit for login routes (10 requests per minute)
func DefaultLoginRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 10}
}

func limitExceeded(w http.ResponseWriter, _ *http.Request) {
	pkghttp.WriteTooManyRequests(w, "Rate limit exceeded")
}

// RateLimitByIP limits requests per client IP. Forwarded headers are only
// honored from trusted proxies.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitBySession limits requests per userID cookie, falling back to the
// client IP for anonymous requests.
func RateLimitBySession(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if userID, _ := auth.GetSessionCookies(r); userID != "" {
				return "user:" + userID, nil
			}
			return "ip:" + pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}
