// Package release detects installs and upgrades of the companion and
// announces them with localized release notes.
package release

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/text/language"

	"github.com/wolfeidau/boosty-companion/options"
	"github.com/wolfeidau/boosty-companion/store"
)

// KeyVersion is the local key holding the last version that ran.
const KeyVersion = options.KeyVersion

//go:embed notes.json
var embeddedNotes []byte

// Event is what Check found.
type Event int

const (
	// None means the stored version matches the running one.
	None Event = iota
	// Install means no version was stored.
	Install
	// Update means a different version ran last.
	Update
)

func (e Event) String() string {
	switch e {
	case Install:
		return "install"
	case Update:
		return "update"
	default:
		return "none"
	}
}

// Notification is a message for the user about an install or update.
type Notification struct {
	Event   Event
	Version string
	Title   string
	Message string
	Link    string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs n at info.
func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info(n.Title,
		"event", n.Event.String(),
		"version", n.Version,
		"message", n.Message,
		"link", n.Link,
	)
	return nil
}

type localized struct {
	Title   map[string]string   `json:"title"`
	Message map[string][]string `json:"message"`
	Link    string              `json:"link,omitempty"`
}

type catalog struct {
	Install  localized            `json:"install"`
	Versions map[string]localized `json:"versions"`
}

// Notes holds the install notice and per-version release notes.
type Notes struct {
	install  localized
	versions map[string]localized
}

// LoadNotes parses a notes document. Version keys must be semantic versions.
func LoadNotes(raw []byte) (*Notes, error) {
	var c catalog
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parsing release notes: %w", err)
	}

	n := &Notes{install: c.Install, versions: make(map[string]localized, len(c.Versions))}
	for key, notes := range c.Versions {
		v, err := semver.NewVersion(key)
		if err != nil {
			return nil, fmt.Errorf("release notes version %q: %w", key, err)
		}
		n.versions[v.String()] = notes
	}
	return n, nil
}

// DefaultNotes returns the notes shipped with the binary.
func DefaultNotes() *Notes {
	n, err := LoadNotes(embeddedNotes)
	if err != nil {
		panic(err)
	}
	return n
}

// forVersion returns the notes for v, if any.
func (n *Notes) forVersion(v *semver.Version) (localized, bool) {
	notes, ok := n.versions[v.String()]
	return notes, ok
}

var supported = []language.Tag{language.English, language.Russian}

var matcher = language.NewMatcher(supported)

// MatchLocale maps a locale such as "ru_RU.UTF-8" or "de" to a supported
// language, English when nothing matches.
func MatchLocale(locale string) string {
	if i := strings.IndexAny(locale, ".@"); i >= 0 {
		locale = locale[:i]
	}
	tag, _, _ := matcher.Match(language.Make(locale))
	base, _ := tag.Base()
	return base.String()
}

func (l localized) render(lang string) (title, message string) {
	title = l.Title[lang]
	if title == "" {
		title = l.Title["en"]
	}
	lines := l.Message[lang]
	if len(lines) == 0 {
		lines = l.Message["en"]
	}
	return title, strings.Join(lines, ", ")
}

// Checker compares the stored version with the running one.
type Checker struct {
	local    *store.Store
	current  *semver.Version
	notifier Notifier
	notes    *Notes
	lang     string
	logger   *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithLogger sets the logger for the checker.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) {
		c.logger = logger
	}
}

// WithLocale selects the notification language.
func WithLocale(locale string) Option {
	return func(c *Checker) {
		c.lang = MatchLocale(locale)
	}
}

// WithNotes replaces the embedded notes.
func WithNotes(notes *Notes) Option {
	return func(c *Checker) {
		c.notes = notes
	}
}

// NewChecker creates a checker for the running version.
func NewChecker(local *store.Store, version string, notifier Notifier, opts ...Option) (*Checker, error) {
	current, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("parsing version %q: %w", version, err)
	}

	c := &Checker{
		local:    local,
		current:  current,
		notifier: notifier,
		lang:     "en",
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notes == nil {
		c.notes = DefaultNotes()
	}
	c.logger = c.logger.With("component", "release")
	return c, nil
}

// Check detects an install or update, notifies once, and records the
// running version so the same version never notifies twice.
func (c *Checker) Check(ctx context.Context) (Event, error) {
	stored, ok, err := store.Lookup[string](ctx, c.local, KeyVersion)
	if err != nil {
		return None, fmt.Errorf("reading stored version: %w", err)
	}

	event := c.classify(stored, ok)
	if event == None {
		return None, nil
	}

	if err := c.notify(ctx, event); err != nil {
		c.logger.Warn("release notification failed", "event", event.String(), "error", err)
	}

	if err := c.local.Write(ctx, KeyVersion, c.current.String()); err != nil {
		return event, fmt.Errorf("saving version: %w", err)
	}
	return event, nil
}

func (c *Checker) classify(stored string, ok bool) Event {
	if !ok {
		return Install
	}
	previous, err := semver.NewVersion(stored)
	if err != nil {
		c.logger.Warn("stored version unreadable", "version", stored, "error", err)
		return Update
	}
	if previous.Equal(c.current) {
		return None
	}
	if previous.GreaterThan(c.current) {
		c.logger.Warn("running an older version than last time", "previous", previous.String(), "current", c.current.String())
	}
	return Update
}

func (c *Checker) notify(ctx context.Context, event Event) error {
	var notes localized
	switch event {
	case Install:
		notes = c.notes.install
	case Update:
		var ok bool
		notes, ok = c.notes.forVersion(c.current)
		if !ok {
			c.logger.Debug("no release notes for version", "version", c.current.String())
			return nil
		}
	}

	title, message := notes.render(c.lang)
	return c.notifier.Notify(ctx, Notification{
		Event:   event,
		Version: c.current.String(),
		Title:   title,
		Message: message,
		Link:    notes.Link,
	})
}
