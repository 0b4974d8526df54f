// Command boosty-companion runs the background coordinator for the Boosty
// player companion: a timed key-value cache, the cache governor, and the
// message router that UI contexts talk to over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/wolfeidau/boosty-companion/client"
	"github.com/wolfeidau/boosty-companion/contentapi"
	"github.com/wolfeidau/boosty-companion/coordinator"
	"github.com/wolfeidau/boosty-companion/credentials"
	"github.com/wolfeidau/boosty-companion/credentials/opprovider"
	"github.com/wolfeidau/boosty-companion/governor"
	"github.com/wolfeidau/boosty-companion/message"
	"github.com/wolfeidau/boosty-companion/options"
	"github.com/wolfeidau/boosty-companion/release"
	"github.com/wolfeidau/boosty-companion/server"
	"github.com/wolfeidau/boosty-companion/telemetry"
)

// version is stamped at build time with -ldflags "-X main.version=…".
var version = "1.0.2"

// Globals are flags shared by every command.
type Globals struct {
	LogLevel  string           `help:"Log level (${enum})." enum:"debug,info,warn,error" default:"info" env:"COMPANION_LOG_LEVEL"`
	LogFormat string           `help:"Log format (${enum})." enum:"text,json" default:"text" env:"COMPANION_LOG_FORMAT"`
	Version   kong.VersionFlag `help:"Print the version and exit."`
}

// CLI is the command tree.
type CLI struct {
	Globals

	Serve ServeCmd `cmd:"" help:"Run the coordinator and its HTTP front."`
	Sweep SweepCmd `cmd:"" help:"Remove expired cache entries once and exit."`
	Send  SendCmd  `cmd:"" help:"Send one message to a running coordinator and print the reply."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("boosty-companion"),
		kong.Description("Background coordinator for the Boosty player companion."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	kctx.FatalIfErrorf(kctx.Run(&cli.Globals))
}

// newLogger builds the process logger. Text output goes through tint and is
// colored only when stderr is a terminal.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	switch format {
	case "text":
		noColor := true
		if f, ok := w.(*os.File); ok {
			noColor = !isatty.IsTerminal(f.Fd())
		}
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
			NoColor:    noColor,
		})), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
}

func (g *Globals) logger() (*slog.Logger, error) {
	return newLogger(os.Stderr, g.LogLevel, g.LogFormat)
}

// CredentialFlags locate the optional credentials template.
type CredentialFlags struct {
	Credentials        string `help:"Credentials template (JSON rendered with env, envDefault, file, json and op)." type:"path" env:"COMPANION_CREDENTIALS"`
	OnePasswordAccount string `help:"1Password account used by the op template function." env:"COMPANION_OP_ACCOUNT"`
}

// load resolves the credentials template, or returns empty credentials when
// none is configured.
func (f CredentialFlags) load(ctx context.Context, logger *slog.Logger) (*credentials.Credentials, error) {
	r := credentials.NewResolver(
		credentials.WithLogger(logger),
		opprovider.WithOnePassword(opprovider.WithAccount(f.OnePasswordAccount)),
	)
	creds, err := r.Load(ctx, f.Credentials)
	if err != nil {
		return nil, fmt.Errorf("resolving credentials: %w", err)
	}
	logger.Debug("credentials resolved", "path", f.Credentials, "auth", creds.AuthToken != "", "redis_auth", creds.Redis != nil)
	return creds, nil
}

// ServeCmd runs the coordinator until interrupted.
type ServeCmd struct {
	Storage     StorageFlags    `embed:""`
	Credentials CredentialFlags `embed:""`

	Address         string        `help:"Address to listen on." default:"127.0.0.1:8080" env:"COMPANION_ADDRESS"`
	ResponseTimeout time.Duration `help:"How long a message waits for its handler." default:"30s" env:"COMPANION_RESPONSE_TIMEOUT"`
	SweepInterval   time.Duration `help:"How often the cache governor sweeps expired entries." default:"60m" env:"COMPANION_SWEEP_INTERVAL"`

	ContentAPIURL string        `help:"Content API root." default:"https://api.boosty.to/v1/" env:"COMPANION_CONTENT_API_URL"`
	ContentTTL    time.Duration `help:"How long fetched videos stay cached." default:"5m" env:"COMPANION_CONTENT_TTL"`

	OptionsURL  string `help:"Options page URL, defaults to this server's /options." env:"COMPANION_OPTIONS_URL"`
	OpenBrowser bool   `help:"Open the options page in a browser on install." default:"true" negatable:"" env:"COMPANION_OPEN_BROWSER"`
	Locale      string `help:"Locale for release notifications." default:"en" env:"COMPANION_LOCALE,LANG"`

	Prometheus   bool   `help:"Serve Prometheus metrics on /metrics." default:"true" negatable:"" env:"COMPANION_PROMETHEUS"`
	OTLPEndpoint string `help:"OTLP gRPC endpoint for metrics export (e.g. localhost:4317)." env:"COMPANION_OTLP_ENDPOINT"`
}

// Run wires the stores, coordinator, governor and server.
func (c *ServeCmd) Run(g *Globals) error {
	logger, err := g.logger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	creds, err := c.Credentials.load(ctx, logger)
	if err != nil {
		return err
	}

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceVersion:   version,
		OTLPEndpoint:     c.OTLPEndpoint,
		EnablePrometheus: c.Prometheus,
	})
	if err != nil {
		return fmt.Errorf("initialising metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
	}()

	stores, closeStores, err := c.Storage.open(ctx, creds, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	state := options.NewSyncState(false)
	repo := options.NewRepository(stores, state, options.WithLogger(logger))

	api := contentapi.NewClient(contentapi.WithBaseURL(c.ContentAPIURL))
	videos := contentapi.NewService(api, stores.Local,
		contentapi.WithLogger(logger),
		contentapi.WithTTL(c.ContentTTL),
	)

	checker, err := release.NewChecker(stores.Local, version, release.LogNotifier{Logger: logger},
		release.WithLogger(logger),
		release.WithLocale(c.Locale),
	)
	if err != nil {
		return fmt.Errorf("creating release checker: %w", err)
	}

	coordOpts := []coordinator.Option{
		coordinator.WithLogger(logger),
		coordinator.WithReleaseChecker(checker),
	}
	if c.OpenBrowser {
		pageURL, err := optionsPageURL(c.OptionsURL, c.Address, creds.AuthToken)
		if err != nil {
			return err
		}
		coordOpts = append(coordOpts, coordinator.WithOpener(coordinator.NewBrowserOpener(pageURL, logger)))
	}

	coord := coordinator.New(repo, videos, coordOpts...)
	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("starting coordinator: %w", err)
	}

	gov := governor.New(stores, state, governor.Config{
		Interval: c.SweepInterval,
		Logger:   logger,
	})

	srv := server.New(server.Config{
		Address:         c.Address,
		AuthToken:       creds.AuthToken,
		ResponseTimeout: c.ResponseTimeout,
		Logger:          logger,
	}, coord, stores, gov)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("coordinator ready",
		"version", version,
		"address", srv.Address(),
		"local_backend", c.Storage.LocalBackend,
		"sync_backend", c.Storage.syncBackendName(),
		"auth", creds.AuthToken != "",
	)

	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// optionsPageURL returns the page opened after install. The token travels as
// a query parameter because a browser cannot add an Authorization header.
func optionsPageURL(explicit, address, token string) (string, error) {
	raw := explicit
	if raw == "" {
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			return "", fmt.Errorf("parsing address %q: %w", address, err)
		}
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "localhost"
		}
		raw = "http://" + net.JoinHostPort(host, port) + "/options"
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing options url: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// SweepCmd runs one governor pass against the configured stores.
type SweepCmd struct {
	Storage     StorageFlags    `embed:""`
	Credentials CredentialFlags `embed:""`
}

// Run sweeps once, reading the persisted sync flag first so the synced
// scope is only touched when it is in use.
func (c *SweepCmd) Run(g *Globals) error {
	logger, err := g.logger()
	if err != nil {
		return err
	}
	ctx := context.Background()

	creds, err := c.Credentials.load(ctx, logger)
	if err != nil {
		return err
	}

	stores, closeStores, err := c.Storage.open(ctx, creds, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	state := options.NewSyncState(false)
	if _, err := options.NewRepository(stores, state, options.WithLogger(logger)).LoadSync(ctx); err != nil {
		return fmt.Errorf("loading sync flag: %w", err)
	}

	result := governor.New(stores, state, governor.Config{Logger: logger}).RunOnce(ctx)
	for _, sr := range result.Scopes {
		logger.Info("swept scope",
			"scope", sr.Scope.String(),
			"scanned", sr.Scanned,
			"removed", sr.Removed,
			"malformed", sr.Malformed,
			"rewritten", sr.Rewritten,
			"errors", sr.Errors,
			"duration", sr.Duration,
		)
	}
	if n := result.Errors(); n > 0 {
		return fmt.Errorf("sweep finished with %d errors", n)
	}
	return nil
}

// SendCmd posts one message to a running coordinator.
type SendCmd struct {
	Server  string        `help:"Coordinator base URL." default:"http://127.0.0.1:8080" env:"COMPANION_SERVER"`
	Token   string        `help:"Bearer token for the coordinator." env:"COMPANION_TOKEN"`
	Timeout time.Duration `help:"How long to wait for a reply." default:"30s" env:"COMPANION_RESPONSE_TIMEOUT"`
	Target  []string      `help:"Message targets." default:"background" env:"COMPANION_TARGET"`
	ID      string        `help:"Optional message id echoed on the reply." env:"COMPANION_MESSAGE_ID"`

	Type string `arg:"" help:"Message type, e.g. requestTheme."`
	Data string `arg:"" optional:"" help:"JSON payload."`
}

// Run sends the message and prints the reply, if any, as indented JSON.
func (c *SendCmd) Run(g *Globals) error {
	logger, err := g.logger()
	if err != nil {
		return err
	}

	msg, err := c.message()
	if err != nil {
		return err
	}

	sender := client.NewHTTP(c.Server,
		[]client.HTTPOption{client.WithToken(c.Token)},
		client.WithTimeout(c.Timeout),
		client.WithLogger(logger),
	)
	reply, err := sender.Send(context.Background(), msg)
	if err != nil {
		return err
	}
	return printReply(os.Stdout, reply)
}

func (c *SendCmd) message() (*message.Message, error) {
	var data any
	if strings.TrimSpace(c.Data) != "" {
		if !json.Valid([]byte(c.Data)) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		data = json.RawMessage(c.Data)
	}

	targets := make([]message.Target, 0, len(c.Target))
	for _, t := range c.Target {
		targets = append(targets, message.Target(t))
	}

	msg, err := message.New(message.Type(c.Type), data, targets...)
	if err != nil {
		return nil, err
	}
	msg.ID = c.ID
	return msg, nil
}

func printReply(w io.Writer, reply *message.Message) error {
	if reply == nil {
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reply)
}
