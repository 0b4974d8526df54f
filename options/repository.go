package options

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/wolfeidau/boosty-companion/store"
	"github.com/wolfeidau/boosty-companion/telemetry"
)

// Repository reads and writes user state in whichever scope the sync flag
// selects. Every method is a short sequence of independently atomic store
// calls; none is atomic as a whole.
type Repository struct {
	stores store.Stores
	state  *SyncState
	logger *slog.Logger
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithLogger sets the logger for the repository.
func WithLogger(logger *slog.Logger) RepositoryOption {
	return func(r *Repository) {
		r.logger = logger
	}
}

// NewRepository creates a repository over stores sharing the state cell.
func NewRepository(stores store.Stores, state *SyncState, opts ...RepositoryOption) *Repository {
	r := &Repository{
		stores: stores,
		state:  state,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "options")
	return r
}

// State returns the shared sync state cell.
func (r *Repository) State() *SyncState {
	return r.state
}

func (r *Repository) active() *store.Store {
	return r.stores.For(r.state.Scope())
}

// LoadSync reads the persisted sync flag from the local scope into the state
// cell. A missing flag means disabled.
func (r *Repository) LoadSync(ctx context.Context) (bool, error) {
	enabled, _, err := store.Lookup[bool](ctx, r.stores.Local, KeySync)
	if err != nil {
		return false, fmt.Errorf("loading sync flag: %w", err)
	}
	r.state.set(enabled)
	r.logger.Debug("sync flag loaded", "sync", enabled)
	return enabled, nil
}

// SetSync persists the sync flag to the local scope and updates the state
// cell. It returns the options as seen from the newly selected scope.
func (r *Repository) SetSync(ctx context.Context, enabled bool) (UserOptions, error) {
	if err := r.stores.Local.Write(ctx, KeySync, enabled); err != nil {
		return UserOptions{}, fmt.Errorf("saving sync flag: %w", err)
	}
	r.state.set(enabled)
	r.logger.Info("sync flag changed", "sync", enabled)
	return r.Options(ctx)
}

// Options returns the stored options from the active scope, or the
// defaults when none are stored. Sync always reflects the state cell.
func (r *Repository) Options(ctx context.Context) (UserOptions, error) {
	return r.optionsFrom(ctx, r.active())
}

func (r *Repository) optionsFrom(ctx context.Context, s *store.Store) (UserOptions, error) {
	prefs, ok, err := store.Lookup[Preferences](ctx, s, KeyOptions)
	if err != nil {
		return UserOptions{}, fmt.Errorf("reading options: %w", err)
	}
	if !ok {
		return Defaults(r.state.Enabled()), nil
	}
	return UserOptions{Preferences: prefs, Sync: r.state.Enabled()}, nil
}

// SaveOptions overwrites the options blob in the active scope. The Sync
// field is dropped; use SetSync to change it.
func (r *Repository) SaveOptions(ctx context.Context, o UserOptions) error {
	if err := o.Validate(); err != nil {
		return err
	}
	return r.saveOptionsTo(ctx, r.active(), o.Preferences)
}

func (r *Repository) saveOptionsTo(ctx context.Context, s *store.Store, prefs Preferences) error {
	if err := s.Write(ctx, KeyOptions, prefs); err != nil {
		return fmt.Errorf("saving options: %w", err)
	}
	return nil
}

// Theme returns the active theme, DefaultTheme when unset or unrecognised.
func (r *Repository) Theme(ctx context.Context) (Theme, error) {
	theme, _, err := r.themeFrom(ctx, r.active())
	return theme, err
}

func (r *Repository) themeFrom(ctx context.Context, s *store.Store) (Theme, bool, error) {
	theme, ok, err := store.Lookup[Theme](ctx, s, KeyTheme)
	if err != nil {
		return DefaultTheme, false, fmt.Errorf("reading theme: %w", err)
	}
	if !ok {
		return DefaultTheme, false, nil
	}
	if !theme.Valid() {
		r.logger.Warn("ignoring unknown theme", "theme", theme)
		return DefaultTheme, true, nil
	}
	return theme, true, nil
}

// SaveTheme writes theme to the active scope.
func (r *Repository) SaveTheme(ctx context.Context, theme Theme) error {
	if !theme.Valid() {
		return fmt.Errorf("%w: theme %q", ErrInvalid, theme)
	}
	return r.saveThemeTo(ctx, r.active(), theme)
}

func (r *Repository) saveThemeTo(ctx context.Context, s *store.Store, theme Theme) error {
	if err := s.Write(ctx, KeyTheme, theme); err != nil {
		return fmt.Errorf("saving theme: %w", err)
	}
	return nil
}

// ToggleTheme flips the active theme and returns the new one.
func (r *Repository) ToggleTheme(ctx context.Context) (Theme, error) {
	current, err := r.Theme(ctx)
	if err != nil {
		return DefaultTheme, err
	}
	next := current.Toggle()
	if err := r.SaveTheme(ctx, next); err != nil {
		return current, err
	}
	r.logger.Debug("theme toggled", "theme", next)
	return next, nil
}

// Timestamp returns the saved position for id, ClearedTimestamp if none.
func (r *Repository) Timestamp(ctx context.Context, id string) (float64, error) {
	ts, _, err := store.Lookup[float64](ctx, r.active(), TimestampKey(id))
	if err != nil {
		return ClearedTimestamp, fmt.Errorf("reading timestamp %s: %w", id, err)
	}
	return ts, nil
}

// SaveTimestamp stores a permanent position for id. Saving
// ClearedTimestamp removes the key.
func (r *Repository) SaveTimestamp(ctx context.Context, id string, seconds float64) error {
	return saveTimestampTo(ctx, r.active(), id, seconds)
}

func saveTimestampTo(ctx context.Context, s *store.Store, id string, seconds float64) error {
	key := TimestampKey(id)
	if seconds == ClearedTimestamp {
		if err := s.Remove(ctx, key); err != nil {
			return fmt.Errorf("clearing timestamp %s: %w", id, err)
		}
		return nil
	}
	if err := s.Write(ctx, key, seconds); err != nil {
		return fmt.Errorf("saving timestamp %s: %w", id, err)
	}
	return nil
}

// PlaybackRate returns the saved rate, DefaultPlaybackRate if none.
func (r *Repository) PlaybackRate(ctx context.Context) (float64, error) {
	rate, ok, err := store.Lookup[float64](ctx, r.active(), KeyPlaybackRate)
	if err != nil {
		return DefaultPlaybackRate, fmt.Errorf("reading playback rate: %w", err)
	}
	if !ok {
		return DefaultPlaybackRate, nil
	}
	return rate, nil
}

// SavePlaybackRate writes a permanent playback rate.
func (r *Repository) SavePlaybackRate(ctx context.Context, rate float64) error {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return fmt.Errorf("%w: playback rate %v", ErrInvalid, rate)
	}
	if err := r.active().Write(ctx, KeyPlaybackRate, rate); err != nil {
		return fmt.Errorf("saving playback rate: %w", err)
	}
	return nil
}

// SyncOptions copies user state toward the scope the sync flag selects:
// local to synced when enabled, synced to local otherwise.
func (r *Repository) SyncOptions(ctx context.Context) (UserOptions, error) {
	to := r.state.Scope()
	return r.Transition(ctx, to.Opposite(), to)
}

// Transition copies options, theme, and saved timestamps from one scope to
// the other. It overwrites per key and never merges; keys only present in
// the destination are left alone. Timestamps go through the same
// cleared-means-delete rule as SaveTimestamp.
func (r *Repository) Transition(ctx context.Context, from, to store.Scope) (UserOptions, error) {
	src, dst := r.stores.For(from), r.stores.For(to)
	logger := r.logger.With("from", from.String(), "to", to.String())

	result, copied, err := r.transition(ctx, src, dst, logger)
	if err != nil {
		telemetry.RecordSyncTransition(ctx, to.String(), "error", copied)
		return UserOptions{}, err
	}
	telemetry.RecordSyncTransition(ctx, to.String(), "success", copied)
	logger.Info("user state copied", "keys", copied)
	return result, nil
}

func (r *Repository) transition(ctx context.Context, src, dst *store.Store, logger *slog.Logger) (UserOptions, int, error) {
	theme, themeFound, err := r.themeFrom(ctx, src)
	if err != nil {
		return UserOptions{}, 0, err
	}
	prefs, optionsFound, err := store.Lookup[Preferences](ctx, src, KeyOptions)
	if err != nil {
		return UserOptions{}, 0, fmt.Errorf("reading options: %w", err)
	}
	timestamps, err := r.timestampsFrom(ctx, src)
	if err != nil {
		return UserOptions{}, 0, err
	}

	logger.Debug("collected user state",
		"options", optionsFound,
		"theme", theme,
		"timestamps", len(timestamps),
	)

	copied := 0
	if optionsFound {
		if err := r.saveOptionsTo(ctx, dst, prefs); err != nil {
			return UserOptions{}, copied, err
		}
		copied++
	}

	if themeFound {
		if err := r.saveThemeTo(ctx, dst, theme); err != nil {
			return UserOptions{}, copied, err
		}
		copied++
	}

	for _, ts := range timestamps {
		if err := saveTimestampTo(ctx, dst, ts.id, ts.seconds); err != nil {
			return UserOptions{}, copied, err
		}
		copied++
	}

	if !optionsFound {
		return Defaults(r.state.Enabled()), copied, nil
	}
	return UserOptions{Preferences: prefs, Sync: r.state.Enabled()}, copied, nil
}

type savedTimestamp struct {
	id      string
	seconds float64
}

// timestampsFrom collects every live timestamp in s, ordered by id.
func (r *Repository) timestampsFrom(ctx context.Context, s *store.Store) ([]savedTimestamp, error) {
	entries, err := s.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading timestamps: %w", err)
	}

	now := s.Now()
	var out []savedTimestamp
	for key, entry := range entries {
		id, ok := TimestampID(key)
		if !ok || store.Expired(entry, now) {
			continue
		}
		var seconds float64
		if err := json.Unmarshal(entry.Value(), &seconds); err != nil {
			r.logger.Warn("skipping timestamp of unexpected shape", "key", key, "error", err)
			continue
		}
		out = append(out, savedTimestamp{id: id, seconds: seconds})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out, nil
}
