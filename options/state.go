package options

import (
	"sync/atomic"

	"github.com/wolfeidau/boosty-companion/store"
)

// SyncState is the process-wide sync flag. It is loaded once at startup,
// changed only by Repository.SetSync, and read by every handler to pick a
// scope. The zero value is disabled.
type SyncState struct {
	enabled atomic.Bool
}

// NewSyncState returns a state cell holding enabled.
func NewSyncState(enabled bool) *SyncState {
	s := &SyncState{}
	s.enabled.Store(enabled)
	return s
}

// Enabled reports whether the synced scope is active.
func (s *SyncState) Enabled() bool {
	return s.enabled.Load()
}

// Scope returns the scope user state currently lives in.
func (s *SyncState) Scope() store.Scope {
	if s.Enabled() {
		return store.Synced
	}
	return store.Local
}

func (s *SyncState) set(enabled bool) {
	s.enabled.Store(enabled)
}
