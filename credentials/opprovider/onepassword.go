// Package opprovider resolves credential template references through the
// 1Password CLI.
package opprovider

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/wolfeidau/boosty-companion/credentials"
)

// FuncName is the template function the provider registers.
const FuncName = "op"

type config struct {
	binary  string
	account string
}

// Option configures the 1Password provider.
type Option func(*config)

// WithBinary runs the CLI from path instead of looking up "op" on PATH.
func WithBinary(path string) Option {
	return func(c *config) {
		if path != "" {
			c.binary = path
		}
	}
}

// WithAccount selects the 1Password account passed as --account.
func WithAccount(account string) Option {
	return func(c *config) {
		c.account = account
	}
}

// WithOnePassword registers an "op" template function that reads a secret
// reference such as op://vault/companion/redis-password with `op read`.
func WithOnePassword(opts ...Option) credentials.ResolverOption {
	cfg := config{binary: "op"}
	for _, opt := range opts {
		opt(&cfg)
	}

	return credentials.WithProvider(FuncName, func(ctx context.Context, ref string) (string, error) {
		args := []string{"read", "--no-newline"}
		if cfg.account != "" {
			args = append(args, "--account", cfg.account)
		}
		args = append(args, ref)

		cmd := exec.CommandContext(ctx, cfg.binary, args...)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("op read %q: %s: %w", ref, strings.TrimSpace(stderr.String()), err)
		}

		return strings.TrimSpace(stdout.String()), nil
	})
}
