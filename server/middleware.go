package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/wolfeidau/boosty-companion/telemetry"
)

const requestIDHeader = "X-Request-ID"

// loggingMiddleware tags each request with an ID, logs one line when it
// finishes and records its HTTP metrics. Probe and scrape traffic logs at
// debug so it does not drown out message traffic.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()

		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		r = telemetry.InjectTags(r)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(began)

		level := slog.LevelInfo
		if unauthenticatedPaths[r.URL.Path] {
			level = slog.LevelDebug
		}
		s.logger.LogAttrs(r.Context(), level, "http request", requestAttrs(r, id, rec, elapsed)...)

		telemetry.RecordHTTP(r.Context(), r, rec.status, rec.written, elapsed)
	})
}

func requestAttrs(r *http.Request, id string, rec *statusRecorder, elapsed time.Duration) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("request_id", id),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", rec.status),
		slog.Int64("bytes_sent", rec.written),
		slog.Duration("duration", elapsed),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("proto", "HTTP/"+strconv.Itoa(r.ProtoMajor)+"."+strconv.Itoa(r.ProtoMinor)),
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, slog.String("user_agent", ua))
	}
	if tags := telemetry.GetTags(r); tags != nil {
		if tags.MessageType != "" {
			attrs = append(attrs,
				slog.String("message_type", tags.MessageType),
				slog.String("target", tags.Target))
		}
		if tags.Result != "" {
			attrs = append(attrs, slog.String("result", string(tags.Result)))
		}
	}
	return attrs
}

// statusRecorder remembers the status and body size a handler produced.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.written += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}
