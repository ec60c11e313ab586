package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecurityHeaders(t *testing.T) {
	tests := []struct {
		name      string
		env       string
		forwarded string
		wantHSTS  bool
	}{
		{name: "production over https", env: "production", forwarded: "https", wantHSTS: true},
		{name: "production over http", env: "production"},
		{name: "development", env: "development", forwarded: "https"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/account/me", nil)
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-Proto", tt.forwarded)
			}
			w := httptest.NewRecorder()

			SecurityHeaders(SecurityHeadersConfig{Env: tt.env})(okHandler()).ServeHTTP(w, req)

			assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
			assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
			assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")

			if tt.wantHSTS {
				assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=31536000")
			} else {
				assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
			}
		})
	}
}
