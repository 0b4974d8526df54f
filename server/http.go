// Package server exposes the coordinator to UI contexts over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/wolfeidau/boosty-companion/client"
	"github.com/wolfeidau/boosty-companion/coordinator"
	"github.com/wolfeidau/boosty-companion/governor"
	"github.com/wolfeidau/boosty-companion/message"
	"github.com/wolfeidau/boosty-companion/options"
	"github.com/wolfeidau/boosty-companion/store"
	"github.com/wolfeidau/boosty-companion/telemetry"
)

// maxMessageBytes caps a request body. Messages are small JSON envelopes.
const maxMessageBytes = 1 << 20

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., "127.0.0.1:8080")
	Address string

	// AuthToken, when set, is required as a Bearer token on every route
	// except /health and /metrics.
	AuthToken string

	// ResponseTimeout bounds how long a message waits for its handler.
	// Default is client.DefaultTimeout.
	ResponseTimeout time.Duration

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP front of the background coordinator.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger

	coord    *coordinator.Coordinator
	sender   *client.Local
	stores   store.Stores
	governor *governor.Governor
}

// New creates a server for coord. gov may be nil, in which case nothing
// sweeps expired entries while the server runs.
func New(cfg Config, coord *coordinator.Coordinator, stores store.Stores, gov *governor.Governor) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8080"
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = client.DefaultTimeout
	}

	s := &Server{
		config:   cfg,
		logger:   cfg.Logger,
		coord:    coord,
		sender:   client.NewLocal(coord, client.WithTimeout(cfg.ResponseTimeout), client.WithLogger(cfg.Logger)),
		stores:   stores,
		governor: gov,
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.ResponseTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed handler with logging and auth applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return s.loggingMiddleware(s.authMiddleware(mux))
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	mux.HandleFunc("POST /messages", s.handleMessage)
	mux.HandleFunc("GET /options", s.handleOptions)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleMessage runs one request through the coordinator.
//
//	200 reply body, 204 fire-and-forget, 400 malformed or unknown type,
//	421 not addressed to the background, 503 no response.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		telemetry.SetResult(r, telemetry.DispatchInvalid)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := message.Parse(raw)
	if err != nil {
		telemetry.SetResult(r, telemetry.DispatchInvalid)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgType := string(msg.Type)
	if !s.coord.Handles(msg.Type) {
		msgType = "unknown"
	}
	targets := lo.Map(msg.Target, func(t message.Target, _ int) string { return string(t) })
	telemetry.SetMessage(r, strings.Join(targets, ","), msgType)

	reply, err := s.sender.Send(r.Context(), msg)
	telemetry.SetResult(r, coordinator.Classify(err))

	switch {
	case err == nil && reply == nil:
		w.WriteHeader(http.StatusNoContent)
	case err == nil:
		writeJSON(w, http.StatusOK, reply)
	case errors.Is(err, coordinator.ErrNotAddressed):
		writeError(w, http.StatusMisdirectedRequest, "message not addressed to background")
	case errors.Is(err, coordinator.ErrBadRequest), errors.Is(err, coordinator.ErrUnknownType):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusServiceUnavailable, "no response")
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		return nil, fmt.Errorf("reading message: %w", err)
	}
	return raw, nil
}

type optionsPage struct {
	Options options.UserOptions `json:"options"`
	Theme   options.Theme       `json:"theme"`
}

// handleOptions serves the options surface opened by openOptionsPage.
func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	repo := s.coord.Options()

	opts, err := repo.Options(r.Context())
	if err != nil {
		s.logger.Error("reading options for page", "error", err)
		writeError(w, http.StatusServiceUnavailable, "no response")
		return
	}
	theme, err := repo.Theme(r.Context())
	if err != nil {
		s.logger.Error("reading theme for page", "error", err)
		writeError(w, http.StatusServiceUnavailable, "no response")
		return
	}

	writeJSON(w, http.StatusOK, optionsPage{Options: opts, Theme: theme})
}

type scopeStats struct {
	Scope   string `json:"scope"`
	Entries int    `json:"entries"`
	Timed   int    `json:"timed"`
	Expired int    `json:"expired"`
}

type sweepStats struct {
	StartedAt time.Time `json:"started_at"`
	Removed   int       `json:"removed"`
	Errors    int       `json:"errors"`
}

type statsResponse struct {
	Sync      bool         `json:"sync"`
	Scopes    []scopeStats `json:"scopes"`
	LastSweep *sweepStats  `json:"last_sweep,omitempty"`
}

// handleStats handles cache statistics requests.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Sync: s.coord.Options().State().Enabled()}

	for _, st := range []*store.Store{s.stores.Local, s.stores.Synced} {
		if st == nil {
			continue
		}
		entries, err := st.ReadAll(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		now := st.Now()
		stats := scopeStats{Scope: st.Scope().String(), Entries: len(entries)}
		for _, e := range entries {
			if _, ok := e.(store.Timed); ok {
				stats.Timed++
			}
			if store.Expired(e, now) {
				stats.Expired++
			}
		}
		resp.Scopes = append(resp.Scopes, stats)
	}

	if s.governor != nil {
		if last := s.governor.Last(); last != nil {
			resp.LastSweep = &sweepStats{StartedAt: last.StartedAt, Removed: last.Removed(), Errors: last.Errors()}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Start starts the governor, if any, and then serves until shutdown.
func (s *Server) Start(ctx context.Context) error {
	if s.governor != nil {
		if err := s.governor.Start(ctx); err != nil {
			return fmt.Errorf("starting governor: %w", err)
		}
	}

	s.logger.Info("starting server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if s.governor != nil {
		s.governor.Stop()
	}

	return s.httpServer.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}
