// Package client sends messages to the background coordinator and waits a
// bounded time for the reply.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wolfeidau/boosty-companion/coordinator"
	"github.com/wolfeidau/boosty-companion/message"
)

// DefaultTimeout bounds how long Send waits for a reply.
const DefaultTimeout = 30 * time.Second

var (
	// ErrNoResponse is returned when the coordinator did not reply in time
	// or failed while handling the request.
	ErrNoResponse = errors.New("client: no response")

	// ErrUnauthorized is returned when the server rejects the token.
	ErrUnauthorized = errors.New("client: unauthorized")
)

// Sender delivers a message and returns the reply. Fire-and-forget
// requests resolve with a nil reply and a nil error.
type Sender interface {
	Send(ctx context.Context, msg *message.Message) (*message.Message, error)
}

// Dispatcher is the in-process coordinator surface.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *message.Message) (*message.Message, error)
}

type config struct {
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a sender.
type Option func(*config)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger for the sender.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func newConfig(opts []Option) config {
	cfg := config{timeout: DefaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.logger = cfg.logger.With("component", "client")
	return cfg
}

// Local sends to a coordinator in the same process.
type Local struct {
	dispatcher Dispatcher
	cfg        config
}

// NewLocal creates a sender for d.
func NewLocal(d Dispatcher, opts ...Option) *Local {
	return &Local{dispatcher: d, cfg: newConfig(opts)}
}

type result struct {
	reply *message.Message
	err   error
}

// Send dispatches msg on its own goroutine and waits at most the timeout.
// A handler that outlives the wait keeps running; its reply is dropped.
func (l *Local) Send(ctx context.Context, msg *message.Message) (*message.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		reply, err := l.dispatcher.Dispatch(context.WithoutCancel(ctx), msg)
		done <- result{reply: reply, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, classify(msg, r.err)
		}
		return r.reply, nil
	case <-ctx.Done():
		l.cfg.logger.Warn("no reply before timeout", "type", msg.Type, "timeout", l.cfg.timeout)
		return nil, fmt.Errorf("%w: %s after %s", ErrNoResponse, msg.Type, l.cfg.timeout)
	}
}

// classify keeps caller mistakes visible and folds handler failures into
// ErrNoResponse, which is what a UI context observes.
func classify(msg *message.Message, err error) error {
	switch {
	case errors.Is(err, coordinator.ErrBadRequest),
		errors.Is(err, coordinator.ErrUnknownType),
		errors.Is(err, coordinator.ErrNotAddressed):
		return err
	default:
		return fmt.Errorf("%w: %s: %w", ErrNoResponse, msg.Type, err)
	}
}

// HTTP sends to a coordinator server.
type HTTP struct {
	endpoint string
	token    string
	client   *http.Client
	cfg      config
}

// HTTPOption configures an HTTP sender.
type HTTPOption func(*HTTP)

// WithToken sets the bearer token presented to the server.
func WithToken(token string) HTTPOption {
	return func(h *HTTP) {
		h.token = token
	}
}

// WithHTTPClient sets a custom HTTP client. Its own timeout still applies.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(h *HTTP) {
		h.client = client
	}
}

// NewHTTP creates a sender posting to baseURL/messages.
func NewHTTP(baseURL string, httpOpts []HTTPOption, opts ...Option) *HTTP {
	h := &HTTP{
		endpoint: strings.TrimSuffix(baseURL, "/") + "/messages",
		client:   http.DefaultClient,
		cfg:      newConfig(opts),
	}
	for _, opt := range httpOpts {
		opt(h)
	}
	return h
}

type errorBody struct {
	Error string `json:"error"`
}

// Send posts msg and decodes the reply.
func (h *HTTP) Send(ctx context.Context, msg *message.Message) (*message.Message, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s after %s", ErrNoResponse, msg.Type, h.cfg.timeout)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrNoResponse, msg.Type, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		var reply message.Message
		if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
			return nil, fmt.Errorf("%w: decoding reply: %w", ErrNoResponse, err)
		}
		return &reply, nil
	case http.StatusNoContent:
		return nil, nil
	case http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", coordinator.ErrBadRequest, readError(resp.Body))
	case http.StatusMisdirectedRequest:
		return nil, coordinator.ErrNotAddressed
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	default:
		return nil, fmt.Errorf("%w: %s: status %d: %s", ErrNoResponse, msg.Type, resp.StatusCode, readError(resp.Body))
	}
}

func readError(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
		return eb.Error
	}
	return strings.TrimSpace(string(raw))
}

var (
	_ Sender = (*Local)(nil)
	_ Sender = (*HTTP)(nil)
)
