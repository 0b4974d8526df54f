// Package store provides the timed key/value cache used by the coordinator.
//
// A Store wraps one backend (one storage scope) and adds optional per-entry
// expiry. Reads treat expired and malformed records as absent but never
// delete them. The governor removes them later through Scan and
// RemoveUnchanged, which skips any key rewritten after it was scanned.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wolfeidau/boosty-companion/backend"
	"github.com/wolfeidau/boosty-companion/telemetry"
)

// DefaultTTL is the expiry used by WriteWithTimeout when no TTL is given.
const DefaultTTL = 10080 * time.Minute

// ErrNotFound is returned when an entry was never written, has expired, or
// could not be decoded.
var ErrNotFound = errors.New("store: not found")

// Store is a timed cache over a single storage scope.
// It is safe for concurrent use; operations are atomic per key and
// concurrent writes to one key are last-write-wins.
type Store struct {
	scope   Scope
	backend backend.Backend
	codec   *Codec
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithCodec sets the record codec. Without one, values are never compressed
// and compressed records read as malformed.
func WithCodec(codec *Codec) Option {
	return func(s *Store) {
		s.codec = codec
	}
}

// New creates a Store for scope on top of b.
func New(scope Scope, b backend.Backend, opts ...Option) *Store {
	s := &Store{
		scope:   scope,
		backend: b,
		codec:   &Codec{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("scope", scope.String())
	return s
}

// Scope returns the storage scope this store serves.
func (s *Store) Scope() Scope {
	return s.scope
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// Write upserts a permanent entry.
func (s *Store) Write(ctx context.Context, key string, value any) error {
	return s.put(ctx, key, value, nil)
}

// WriteWithTimeout upserts an entry that expires ttl from now.
// A non-positive ttl uses DefaultTTL.
func (s *Store) WriteWithTimeout(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	expiresAt := s.now().Add(ttl)
	return s.put(ctx, key, value, &expiresAt)
}

func (s *Store) put(ctx context.Context, key string, value any, expiresAt *time.Time) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	raw, err := s.codec.Encode(data, expiresAt)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	if err := s.backend.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("writing %s to %s: %w", key, s.scope, err)
	}

	if expiresAt != nil {
		s.logger.Debug("cache write", "key", key, "expires_at", *expiresAt, "expires_in", expiresAt.Sub(s.now()))
	} else {
		s.logger.Debug("cache write", "key", key)
	}
	return nil
}

// Read returns the live entry stored at key.
// Returns ErrNotFound if the key was never written, has expired, or holds a
// record that cannot be decoded. Reading never removes anything.
func (s *Store) Read(ctx context.Context, key string) (Entry, error) {
	raw, err := s.backend.Get(ctx, key)
	if errors.Is(err, backend.ErrNotFound) {
		telemetry.RecordCacheLookup(ctx, s.scope.String(), telemetry.LookupMiss)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s from %s: %w", key, s.scope, err)
	}

	entry, err := s.codec.Decode(raw)
	if err != nil {
		s.logger.Warn("ignoring malformed cache record", "key", key, "error", err)
		telemetry.RecordCacheLookup(ctx, s.scope.String(), telemetry.LookupMalformed)
		return nil, ErrNotFound
	}

	if Expired(entry, s.now()) {
		s.logger.Debug("cache entry expired", "key", key)
		telemetry.RecordCacheLookup(ctx, s.scope.String(), telemetry.LookupExpired)
		return nil, ErrNotFound
	}

	telemetry.RecordCacheLookup(ctx, s.scope.String(), telemetry.LookupHit)
	return entry, nil
}

// Remove deletes key. Removing an absent key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("removing %s from %s: %w", key, s.scope, err)
	}
	s.logger.Debug("cache removal", "key", key)
	return nil
}

// ReadAll returns every decodable entry in the scope, expired or not.
// Records that cannot be decoded are skipped.
func (s *Store) ReadAll(ctx context.Context) (map[string]Entry, error) {
	items, err := s.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.scope, err)
	}

	entries := make(map[string]Entry, len(items))
	for key, raw := range items {
		entry, err := s.codec.Decode(raw)
		if err != nil {
			s.logger.Debug("skipping malformed cache record", "key", key, "error", err)
			continue
		}
		entries[key] = entry
	}
	return entries, nil
}

// Listed is one record as the backend held it when the scope was scanned.
type Listed struct {
	Key string
	// Entry is nil when the record could not be decoded.
	Entry Entry
	// Err is the decode failure for malformed records.
	Err error

	raw   []byte
	timed bool
}

// Reclaimable reports whether the record is dead at now: a timed entry that
// has expired, or a malformed record that declared a timeout or is not a
// record object at all. Malformed records without a timeout are kept.
func (l Listed) Reclaimable(now time.Time) bool {
	if l.Entry != nil {
		return Expired(l.Entry, now)
	}
	return l.timed
}

// Scan lists every record in the scope, including ones that fail to decode.
func (s *Store) Scan(ctx context.Context) ([]Listed, error) {
	items, err := s.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.scope, err)
	}

	listed := make([]Listed, 0, len(items))
	for key, raw := range items {
		l := Listed{Key: key, raw: raw}
		l.Entry, l.Err = s.codec.Decode(raw)
		if l.Err != nil {
			l.Entry = nil
			l.timed = declaresTimeout(raw)
		}
		listed = append(listed, l)
	}
	return listed, nil
}

// RemoveUnchanged deletes l.Key only if it still holds the record Scan saw.
// removed is false when a writer replaced or removed the key in between.
func (s *Store) RemoveUnchanged(ctx context.Context, l Listed) (removed bool, err error) {
	removed, err = s.backend.DeleteIf(ctx, l.Key, l.raw)
	if err != nil {
		return false, fmt.Errorf("removing %s from %s: %w", l.Key, s.scope, err)
	}
	if removed {
		s.logger.Debug("cache removal", "key", l.Key)
	}
	return removed, nil
}

// Lookup reads key and decodes its value into T.
// ok is false when the entry is absent, expired, or does not decode as T.
func Lookup[T any](ctx context.Context, s *Store, key string) (value T, ok bool, err error) {
	entry, err := s.Read(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return value, false, nil
	}
	if err != nil {
		return value, false, err
	}

	if err := json.Unmarshal(entry.Value(), &value); err != nil {
		s.logger.Warn("ignoring cache value of unexpected shape", "key", key, "error", err)
		var zero T
		return zero, false, nil
	}
	return value, true, nil
}

// Stores holds one Store per scope.
type Stores struct {
	Local  *Store
	Synced *Store
}

// For returns the store serving scope.
func (s Stores) For(scope Scope) *Store {
	if scope == Synced {
		return s.Synced
	}
	return s.Local
}
