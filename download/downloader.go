// Package download collapses concurrent fetches of the same uncached content
// into one upstream request whose result every waiter shares.
package download

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/singleflight"
)

// Fetch loads a value from upstream. Its context is detached from the caller
// that started it, so the fetch outlives any one waiter giving up.
type Fetch[T any] func(ctx context.Context) (T, error)

// Downloader joins callers asking for the same key while a fetch is in flight.
type Downloader[T any] struct {
	group  singleflight.Group
	logger *slog.Logger
}

// Option configures a Downloader.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger for the downloader.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func New[T any](opts ...Option) *Downloader[T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Downloader[T]{logger: o.logger.With("component", "download")}
}

// Do runs fetch for key unless one is already running, in which case it
// waits for that one. shared reports whether the result came from a fetch
// started by another caller. When ctx ends first Do returns ctx.Err() and
// leaves the fetch running for the remaining waiters.
func (d *Downloader[T]) Do(ctx context.Context, key string, fetch Fetch[T]) (v T, shared bool, err error) {
	done := d.group.DoChan(key, func() (any, error) {
		return fetch(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return v, false, ctx.Err()
	case res := <-done:
		if res.Shared {
			d.logger.Debug("joined in-flight fetch", "key", key)
		}
		if res.Err != nil {
			return v, res.Shared, res.Err
		}
		return res.Val.(T), res.Shared, nil
	}
}

// ForgetOnError lets the next Do for key start a fresh fetch after err.
// A caller's own cancellation or deadline does not count, since the fetch
// it abandoned may still succeed for others.
func (d *Downloader[T]) ForgetOnError(key string, err error) {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return
	}
	d.group.Forget(key)
}
