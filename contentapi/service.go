package contentapi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wolfeidau/boosty-companion/download"
	"github.com/wolfeidau/boosty-companion/store"
)

// DefaultTTL is how long fetched videos stay cached. Short, so edits to a
// post show up quickly.
const DefaultTTL = 5 * time.Minute

// Fetcher retrieves raw content blocks.
type Fetcher interface {
	Fetch(ctx context.Context, md Metadata, token string) ([]Block, error)
}

// Service answers video lookups from the cache, falling back to the API.
type Service struct {
	fetcher    Fetcher
	cache      *store.Store
	downloader *download.Downloader[[]VideoInfo]
	ttl        time.Duration
	logger     *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger for the service.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.ttl = ttl
	}
}

// NewService creates a service caching into cache, normally the local scope.
func NewService(fetcher Fetcher, cache *store.Store, opts ...ServiceOption) *Service {
	s := &Service{
		fetcher: fetcher,
		cache:   cache,
		ttl:     DefaultTTL,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "contentapi")
	s.downloader = download.New[[]VideoInfo](download.WithLogger(s.logger))
	return s
}

// Videos returns the videos of the post or dialog named by md. A cache hit
// makes no API call. On a miss, concurrent callers for the same key share
// one fetch, and the filtered result is cached for the TTL.
func (s *Service) Videos(ctx context.Context, md Metadata, token string) ([]VideoInfo, error) {
	if err := md.Validate(); err != nil {
		return nil, err
	}

	key := md.CacheKey()
	logger := s.logger.With("key", key)

	cached, ok, err := store.Lookup[[]VideoInfo](ctx, s.cache, key)
	if err != nil {
		return nil, err
	}
	if ok {
		logger.Debug("videos served from cache", "count", len(cached))
		return cached, nil
	}

	logger.Debug("cache empty, fetching from API")

	videos, shared, err := s.downloader.Do(ctx, key, func(ctx context.Context) ([]VideoInfo, error) {
		blocks, err := s.fetcher.Fetch(ctx, md, token)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", key, err)
		}

		videos := FilterVideos(blocks)
		if err := s.cache.WriteWithTimeout(ctx, key, videos, s.ttl); err != nil {
			return nil, err
		}
		return videos, nil
	})
	if err != nil {
		s.downloader.ForgetOnError(key, err)
		return nil, err
	}

	logger.Debug("videos fetched from API", "count", len(videos), "shared", shared)
	return videos, nil
}
