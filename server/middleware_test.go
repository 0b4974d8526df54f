package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/boosty-companion/telemetry"
)

func logged(t *testing.T, level slog.Level, h http.HandlerFunc) (http.Handler, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	s := &Server{logger: slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level}))}
	return s.loggingMiddleware(h), &buf
}

func TestLoggingMiddleware_RequestID(t *testing.T) {
	h, _ := logged(t, slog.LevelInfo, func(w http.ResponseWriter, _ *http.Request) {})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set(requestIDHeader, "req-42")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Len(t, rec.Header().Get(requestIDHeader), 36, "generated IDs are UUIDs")
}

func TestLoggingMiddleware_LogLine(t *testing.T) {
	h, buf := logged(t, slog.LevelInfo, func(w http.ResponseWriter, r *http.Request) {
		telemetry.SetMessage(r, "background", "requestTheme")
		telemetry.SetResult(r, telemetry.DispatchHandled)
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/messages", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "http request", line["msg"])
	assert.Equal(t, "/messages", line["path"])
	assert.EqualValues(t, http.StatusTeapot, line["status"])
	assert.EqualValues(t, len("short and stout"), line["bytes_sent"])
	assert.Equal(t, "requestTheme", line["message_type"])
	assert.Equal(t, "background", line["target"])
	assert.Equal(t, string(telemetry.DispatchHandled), line["result"])
	assert.Equal(t, "HTTP/1.1", line["proto"])
}

func TestLoggingMiddleware_ProbesLogAtDebug(t *testing.T) {
	h, buf := logged(t, slog.LevelInfo, func(w http.ResponseWriter, _ *http.Request) {})

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Empty(t, buf.String())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.NotEmpty(t, buf.String())
}

func TestStatusRecorder_DefaultsToOK(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	_, err := rec.Write([]byte("ok"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.status)
	assert.EqualValues(t, 2, rec.written)
	assert.NotNil(t, http.NewResponseController(rec))
}
