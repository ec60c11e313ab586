package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	pkghttp "github.com/BradenHooton/tessera/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		code   string
	}{
		{"bad request", func(w http.ResponseWriter) { pkghttp.WriteBadRequest(w, "m") }, 400, "bad_request"},
		{"unauthorized", func(w http.ResponseWriter) { pkghttp.WriteUnauthorized(w, "m") }, 401, "unauthorized"},
		{"forbidden", func(w http.ResponseWriter) { pkghttp.WriteForbidden(w, "m") }, 403, "forbidden"},
		{"not found", func(w http.ResponseWriter) { pkghttp.WriteNotFound(w, "m") }, 404, "not_found"},
		{"rate limited", func(w http.ResponseWriter) { pkghttp.WriteTooManyRequests(w, "m") }, 429, "rate_limit_exceeded"},
		{"internal", func(w http.ResponseWriter) { pkghttp.WriteInternalError(w, "m") }, 500, "internal_error"},
		{"unavailable", func(w http.ResponseWriter) { pkghttp.WriteServiceUnavailable(w, "m") }, 503, "service_unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp pkghttp.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Error)
			assert.Equal(t, "m", resp.Message)
			assert.Empty(t, resp.Details)
		})
	}
}

func TestWriteErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteErrorWithDetails(w, 400, "invalid_state", "Login state is invalid", "token expired")

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "token expired", resp.Details)
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"status":"sent"}`, w.Body.String())
}
