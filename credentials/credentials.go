// Package credentials resolves secrets from a JSON template so they stay out
// of flags and process listings.
//
// A template is ordinary JSON with text/template actions that pull values
// from the environment, from files or from registered secret providers:
//
//	{
//	  "auth_token": {{ env "COMPANION_TOKEN" | json }},
//	  "redis": {"password": {{ op "op://family/redis/password" | json }}}
//	}
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/template"
)

// Templates and their rendered output are both capped at 1MB.
const sizeLimit = 1 << 20

var (
	ErrTooLarge = errors.New("credentials too large")
	ErrInvalid  = errors.New("invalid credentials")
)

// Credentials holds the secrets the companion needs at startup.
type Credentials struct {
	// AuthToken is the bearer token UI contexts present to the server.
	AuthToken string     `json:"auth_token,omitempty"`
	Redis     *RedisAuth `json:"redis,omitempty"`
}

// RedisAuth authenticates against the Redis server backing the synced scope.
type RedisAuth struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// RedisPassword returns the Redis password, or "" when none is configured.
func (c *Credentials) RedisPassword() string {
	if c == nil || c.Redis == nil {
		return ""
	}
	return c.Redis.Password
}

// RedisUsername returns the Redis ACL user, or "" when none is configured.
func (c *Credentials) RedisUsername() string {
	if c == nil || c.Redis == nil {
		return ""
	}
	return c.Redis.Username
}

// Validate rejects credentials the server or Redis client would misuse.
func (c *Credentials) Validate() error {
	if strings.ContainsAny(c.AuthToken, " \t\r\n") {
		return fmt.Errorf("%w: auth_token contains whitespace", ErrInvalid)
	}
	if c.Redis != nil && c.Redis.Username != "" && c.Redis.Password == "" {
		return fmt.Errorf("%w: redis username %q has no password", ErrInvalid, c.Redis.Username)
	}
	return nil
}

// SecretProvider resolves a secret reference to its value.
type SecretProvider func(ctx context.Context, ref string) (string, error)

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the logger for the resolver.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithProvider exposes p to templates as the function name.
func WithProvider(name string, p SecretProvider) ResolverOption {
	return func(r *Resolver) {
		r.providers[name] = p
	}
}

// Resolver renders credential templates.
type Resolver struct {
	providers map[string]SecretProvider
	logger    *slog.Logger
}

func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		providers: make(map[string]SecretProvider),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "credentials")
	return r
}

// Load resolves the template at path. An empty path yields empty
// credentials, which leaves the server unauthenticated and Redis anonymous.
func (r *Resolver) Load(ctx context.Context, path string) (*Credentials, error) {
	if path == "" {
		return &Credentials{}, nil
	}
	return r.ResolveFile(ctx, path)
}

// ResolveFile reads and resolves a credentials template file.
func (r *Resolver) ResolveFile(ctx context.Context, path string) (*Credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening credentials file: %w", err)
	}
	defer f.Close()

	return r.ResolveReader(ctx, f)
}

// ResolveReader resolves a credentials template from src.
func (r *Resolver) ResolveReader(ctx context.Context, src io.Reader) (*Credentials, error) {
	text, err := io.ReadAll(io.LimitReader(src, sizeLimit+1))
	if err != nil {
		return nil, fmt.Errorf("reading credentials template: %w", err)
	}
	if len(text) > sizeLimit {
		return nil, fmt.Errorf("%w: template exceeds %d bytes", ErrTooLarge, sizeLimit)
	}

	rendered, err := r.render(ctx, string(text))
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := json.Unmarshal(rendered, &creds); err != nil {
		return nil, fmt.Errorf("%w: rendered template is not JSON: %v", ErrInvalid, err)
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return &creds, nil
}

func (r *Resolver) render(ctx context.Context, text string) ([]byte, error) {
	run := &rendering{ctx: ctx, resolver: r, secrets: map[string]string{}}

	tmpl, err := template.New("credentials").
		Option("missingkey=error").
		Funcs(run.funcs()).
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials template: %w", err)
	}

	var out bytes.Buffer
	if err := tmpl.Execute(&out, nil); err != nil {
		return nil, fmt.Errorf("executing credentials template: %w", err)
	}
	if out.Len() > sizeLimit {
		return nil, fmt.Errorf("%w: rendered output exceeds %d bytes", ErrTooLarge, sizeLimit)
	}
	return out.Bytes(), nil
}

// rendering is the state of one template execution. Each provider reference
// is looked up at most once per rendering.
type rendering struct {
	ctx      context.Context
	resolver *Resolver
	secrets  map[string]string
}

func (run *rendering) funcs() template.FuncMap {
	fm := template.FuncMap{
		"env":        lookupEnv,
		"envDefault": envDefault,
		"file":       readSecretFile,
		"json":       quoteJSON,
	}
	for name, p := range run.resolver.providers {
		fm[name] = run.provider(name, p)
	}
	return fm
}

func (run *rendering) provider(name string, p SecretProvider) func(string) (string, error) {
	return func(ref string) (string, error) {
		key := name + "\x00" + ref
		if v, ok := run.secrets[key]; ok {
			return v, nil
		}
		v, err := p(run.ctx, ref)
		if err != nil {
			return "", fmt.Errorf("provider %q failed for ref %q: %w", name, ref, err)
		}
		run.resolver.logger.Debug("secret resolved", "provider", name, "ref", ref)
		run.secrets[key] = v
		return v, nil
	}
}

func lookupEnv(key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("environment variable %q is not set", key)
	}
	return v, nil
}

func envDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func readSecretFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading secret file %q: %w", path, err)
	}
	return strings.TrimSpace(string(b)), nil
}

// quoteJSON renders v as a JSON string literal, quotes included.
func quoteJSON(v string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
