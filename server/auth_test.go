package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func guarded(token string) http.Handler {
	s := &Server{
		config: Config{AuthToken: token},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestAuthMiddleware(t *testing.T) {
	const token = "ui-7f3a"

	tests := []struct {
		name   string
		method string
		target string
		header string
		want   int
	}{
		{"bearer accepted", http.MethodPost, "/messages", "Bearer ui-7f3a", http.StatusNoContent},
		{"wrong bearer", http.MethodPost, "/messages", "Bearer ui-0000", http.StatusUnauthorized},
		{"no header", http.MethodPost, "/messages", "", http.StatusUnauthorized},
		{"basic scheme", http.MethodGet, "/stats", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"empty bearer", http.MethodGet, "/stats", "Bearer ", http.StatusUnauthorized},
		{"health exempt", http.MethodGet, "/health", "", http.StatusNoContent},
		{"metrics exempt", http.MethodGet, "/metrics", "", http.StatusNoContent},
		{"stats guarded", http.MethodGet, "/stats", "", http.StatusUnauthorized},
		{"options query token", http.MethodGet, "/options?token=ui-7f3a", "", http.StatusNoContent},
		{"options wrong query token", http.MethodGet, "/options?token=nope", "", http.StatusUnauthorized},
		{"options empty query token", http.MethodGet, "/options?token=", "", http.StatusUnauthorized},
		{"query token only on options", http.MethodGet, "/stats?token=ui-7f3a", "", http.StatusUnauthorized},
		{"query token only on GET", http.MethodPost, "/messages?token=ui-7f3a", "", http.StatusUnauthorized},
		{"bad header beats good query", http.MethodGet, "/options?token=ui-7f3a", "Token ui-7f3a", http.StatusUnauthorized},
	}
	handler := guarded(token)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAuthMiddleware_UnauthorizedBody(t *testing.T) {
	rec := httptest.NewRecorder()
	guarded("ui-7f3a").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "unauthorized", body["error"])
}

func TestAuthMiddleware_DisabledWithoutToken(t *testing.T) {
	for _, path := range []string{"/messages", "/stats", "/options"} {
		rec := httptest.NewRecorder()
		guarded("").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNoContent, rec.Code, path)
	}
}
