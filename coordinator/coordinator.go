// Package coordinator is the background side of the message protocol. It
// routes each request addressed to the background context to exactly one
// handler, which works against the cache stores and replies.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wolfeidau/boosty-companion/contentapi"
	"github.com/wolfeidau/boosty-companion/message"
	"github.com/wolfeidau/boosty-companion/options"
	"github.com/wolfeidau/boosty-companion/release"
	"github.com/wolfeidau/boosty-companion/telemetry"
)

var (
	// ErrNotAddressed is returned for messages whose target does not
	// include the background context. They are ignored.
	ErrNotAddressed = errors.New("coordinator: message not addressed to background")

	// ErrUnknownType is returned for request types without a handler.
	ErrUnknownType = errors.New("coordinator: unknown message type")

	// ErrBadRequest is returned when a request payload is missing or invalid.
	ErrBadRequest = errors.New("coordinator: bad request")
)

// VideoSource resolves the videos of a post or dialog.
type VideoSource interface {
	Videos(ctx context.Context, md contentapi.Metadata, token string) ([]contentapi.VideoInfo, error)
}

// OptionsOpener shows the options surface to the user.
type OptionsOpener interface {
	OpenOptions(ctx context.Context) error
}

// ReleaseChecker detects installs and updates at startup.
type ReleaseChecker interface {
	Check(ctx context.Context) (release.Event, error)
}

// HandlerFunc handles one request type. A nil reply with a nil error means
// the request is fire-and-forget.
type HandlerFunc func(ctx context.Context, msg *message.Message) (*message.Message, error)

// Coordinator dispatches requests to handlers. Handlers share no state
// beyond the repository's sync flag, so concurrent dispatches interleave
// freely.
type Coordinator struct {
	repo     *options.Repository
	videos   VideoSource
	opener   OptionsOpener
	releases ReleaseChecker
	handlers map[message.Type]HandlerFunc
	logger   *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger for the coordinator.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithOpener sets how openOptionsPage is carried out.
func WithOpener(opener OptionsOpener) Option {
	return func(c *Coordinator) {
		c.opener = opener
	}
}

// WithReleaseChecker runs install and update detection in Start.
func WithReleaseChecker(checker ReleaseChecker) Option {
	return func(c *Coordinator) {
		c.releases = checker
	}
}

// New creates a coordinator over repo and videos.
func New(repo *options.Repository, videos VideoSource, opts ...Option) *Coordinator {
	c := &Coordinator{
		repo:   repo,
		videos: videos,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "coordinator")

	c.handlers = map[message.Type]HandlerFunc{
		message.OpenOptionsPage:     c.openOptionsPage,
		message.RequestTimestamp:    c.requestTimestamp,
		message.SaveTimestamp:       c.saveTimestamp,
		message.RequestContentData:  c.requestContentData,
		message.RequestPlaybackRate: c.requestPlaybackRate,
		message.SavePlaybackRate:    c.savePlaybackRate,
		message.RequestOptions:      c.requestOptions,
		message.SaveOptions:         c.saveOptions,
		message.SaveSyncOption:      c.saveSyncOption,
		message.RequestTheme:        c.requestTheme,
		message.ToggleTheme:         c.toggleTheme,
		message.SyncOptions:         c.syncOptions,
	}
	return c
}

// Start loads the persisted sync flag and runs release detection. It must
// complete before the first dispatch so handlers see the right scope.
func (c *Coordinator) Start(ctx context.Context) error {
	enabled, err := c.repo.LoadSync(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("coordinator started", "sync", enabled)

	if c.releases == nil {
		return nil
	}

	event, err := c.releases.Check(ctx)
	if err != nil {
		// release detection failures do not block startup
		c.logger.Warn("release check failed", "error", err)
		return nil
	}
	if event == release.Install {
		if _, err := c.openOptionsPage(ctx, nil); err != nil {
			c.logger.Warn("opening options after install failed", "error", err)
		}
	}
	return nil
}

// Options exposes the repository, for read-only surfaces like the options page.
func (c *Coordinator) Options() *options.Repository {
	return c.repo
}

// Handles reports whether t has a handler.
func (c *Coordinator) Handles(t message.Type) bool {
	_, ok := c.handlers[t]
	return ok
}

// Dispatch routes msg to its handler and returns the reply, nil for
// fire-and-forget requests. Handler failures return an error and no reply.
func (c *Coordinator) Dispatch(ctx context.Context, msg *message.Message) (*message.Message, error) {
	if !msg.Addressed(message.Background) {
		c.logger.Debug("ignoring message for other contexts", "type", msg.Type, "target", msg.Target)
		telemetry.RecordMessage(ctx, metricType(c, msg.Type), telemetry.DispatchIgnored, 0)
		return nil, ErrNotAddressed
	}

	handler, ok := c.handlers[msg.Type]
	if !ok {
		telemetry.RecordMessage(ctx, metricType(c, msg.Type), telemetry.DispatchInvalid, 0)
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}

	ctx = telemetry.WithMessageType(ctx, string(msg.Type))
	logger := c.logger.With("type", msg.Type)
	if msg.ID != "" {
		logger = logger.With("message_id", msg.ID)
	}

	start := time.Now()
	resp, err := handler(ctx, msg)
	duration := time.Since(start)

	result := Classify(err)
	telemetry.RecordMessage(ctx, string(msg.Type), result, duration)

	switch result {
	case telemetry.DispatchInvalid:
		logger.Debug("rejected request", "error", err)
		return nil, err
	case telemetry.DispatchFailed:
		logger.Error("handler failed, no reply sent", "error", err, "duration", duration)
		return nil, err
	}

	logger.Debug("handled request", "reply", resp != nil, "duration", duration)
	return resp, nil
}

// Classify maps a dispatch error to its metric outcome.
func Classify(err error) telemetry.DispatchResult {
	switch {
	case err == nil:
		return telemetry.DispatchHandled
	case errors.Is(err, ErrNotAddressed):
		return telemetry.DispatchIgnored
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrUnknownType):
		return telemetry.DispatchInvalid
	default:
		return telemetry.DispatchFailed
	}
}

// metricType keeps arbitrary client-supplied types out of metric labels.
func metricType(c *Coordinator, t message.Type) string {
	if c.Handles(t) {
		return string(t)
	}
	return "unknown"
}

func badRequest(err error) error {
	return fmt.Errorf("%w: %w", ErrBadRequest, err)
}

func decode[T any](msg *message.Message) (T, error) {
	v, err := message.Decode[T](msg)
	if err != nil {
		return v, badRequest(err)
	}
	return v, nil
}

func reply(req *message.Message, t message.Type, data any) (*message.Message, error) {
	return message.Reply(req, t, data, message.Targets(t)...)
}
