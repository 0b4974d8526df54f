package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Scope selects which backing store an operation targets.
type Scope int

const (
	// Local is the device-local scope: large capacity, never leaves the device.
	Local Scope = iota
	// Synced is the cross-device scope: small, reserved for user state.
	Synced
)

func (s Scope) String() string {
	switch s {
	case Local:
		return "local"
	case Synced:
		return "sync"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// Opposite returns the other scope.
func (s Scope) Opposite() Scope {
	if s == Local {
		return Synced
	}
	return Local
}

// Entry is a stored value. It is either Permanent or Timed; no other
// implementations exist.
type Entry interface {
	// Value returns the JSON-encoded value.
	Value() json.RawMessage
	sealed()
}

// Permanent is an entry without an expiry.
type Permanent struct {
	Data json.RawMessage
}

// Timed is an entry that is logically absent once ExpiresAt is reached.
type Timed struct {
	Data      json.RawMessage
	ExpiresAt time.Time
}

func (p Permanent) Value() json.RawMessage { return p.Data }
func (Permanent) sealed()                  {}

func (t Timed) Value() json.RawMessage { return t.Data }
func (Timed) sealed()                  {}

// Expired reports whether e is logically absent at now.
// Permanent entries never expire; timed entries expire when now >= ExpiresAt.
func Expired(e Entry, now time.Time) bool {
	switch e := e.(type) {
	case Permanent:
		return false
	case Timed:
		return !now.Before(e.ExpiresAt)
	default:
		panic(fmt.Sprintf("store: unknown entry type %T", e))
	}
}
