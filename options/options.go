// Package options holds user preferences, the sync flag, and the rules for
// moving user state between the local and synced scopes.
package options

import (
	"errors"
	"fmt"
	"strings"
)

// Well-known keys.
const (
	KeyOptions      = "options"
	KeySync         = "sync"
	KeyTheme        = "theme"
	KeyPlaybackRate = "playbackRate"
	KeyVersion      = "version"

	timestampPrefix = "t:"
)

// ClearedTimestamp is the reserved position meaning "no saved position".
// Saving it removes the timestamp key instead of writing a zero.
const ClearedTimestamp = 0

// DefaultPlaybackRate is returned when no rate has been saved.
const DefaultPlaybackRate = 1.0

// ErrInvalid is returned for option values outside their enums.
var ErrInvalid = errors.New("options: invalid value")

// VideoQuality is a preferred playback resolution.
type VideoQuality string

const (
	Quality2160p VideoQuality = "2160p"
	Quality1440p VideoQuality = "1440p"
	Quality1080p VideoQuality = "1080p"
	Quality720p  VideoQuality = "720p"
	Quality480p  VideoQuality = "480p"
	Quality360p  VideoQuality = "360p"
	Quality240p  VideoQuality = "240p"
	Quality144p  VideoQuality = "144p"
)

// VideoQualities lists every quality, best first.
var VideoQualities = []VideoQuality{
	Quality2160p, Quality1440p, Quality1080p, Quality720p,
	Quality480p, Quality360p, Quality240p, Quality144p,
}

// Valid reports whether q is a known quality.
func (q VideoQuality) Valid() bool {
	for _, v := range VideoQualities {
		if q == v {
			return true
		}
	}
	return false
}

// Theme is the UI colour scheme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"

	DefaultTheme = ThemeLight
)

// Valid reports whether t is a known theme.
func (t Theme) Valid() bool {
	return t == ThemeLight || t == ThemeDark
}

// Toggle returns the other theme. Unknown themes toggle to dark, matching
// how they read as light.
func (t Theme) Toggle() Theme {
	if t == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

// Preferences is the persisted part of UserOptions.
type Preferences struct {
	VideoQuality      VideoQuality `json:"videoQuality"`
	FullLayout        bool         `json:"fullLayout"`
	ForceVideoQuality bool         `json:"forceVideoQuality"`
	SaveLastTimestamp bool         `json:"saveLastTimestamp"`
	TheaterMode       bool         `json:"theaterMode"`
	DarkTheme         bool         `json:"darkTheme"`
}

// UserOptions is what UI contexts see. Sync mirrors the standalone sync
// key and is never stored inside the options blob.
type UserOptions struct {
	Preferences
	Sync bool `json:"sync"`
}

// Validate checks enum fields.
func (o UserOptions) Validate() error {
	if !o.VideoQuality.Valid() {
		return fmt.Errorf("%w: video quality %q", ErrInvalid, o.VideoQuality)
	}
	return nil
}

// Defaults returns the initial options tagged with the given sync flag.
func Defaults(sync bool) UserOptions {
	return UserOptions{
		Preferences: Preferences{VideoQuality: Quality1080p},
		Sync:        sync,
	}
}

// TimestampKey returns the storage key for a content id's saved position.
func TimestampKey(id string) string {
	return timestampPrefix + id
}

// TimestampID returns the content id for a timestamp key.
func TimestampID(key string) (string, bool) {
	if !strings.HasPrefix(key, timestampPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, timestampPrefix), true
}
