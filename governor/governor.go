// Package governor periodically removes dead records from the cache scopes:
// timed entries past their expiry and malformed records that declared a
// timeout.
//
// Reads already treat such records as absent, so the governor only reclaims
// space. It takes no global lock. Each removal is conditional on the key
// still holding the bytes the sweep listed, so an entry a handler rewrites
// mid-sweep is left alone.
package governor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wolfeidau/boosty-companion/store"
	"github.com/wolfeidau/boosty-companion/telemetry"
)

// DefaultInterval is the time between sweeps.
const DefaultInterval = 60 * time.Minute

// SyncReporter reports whether the synced scope is currently in use.
type SyncReporter interface {
	Enabled() bool
}

// Config holds governor configuration.
type Config struct {
	// Interval is how often to sweep. Default is 60 minutes.
	Interval time.Duration

	// Logger for sweep events.
	Logger *slog.Logger
}

// Governor sweeps expired entries on a fixed interval.
type Governor struct {
	config Config
	stores store.Stores
	sync   SyncReporter
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	last    *Result
}

// New creates a governor over stores. The synced scope is swept only on
// ticks where sync reports enabled.
func New(stores store.Stores, sync SyncReporter, cfg Config) *Governor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Governor{
		config: cfg,
		stores: stores,
		sync:   sync,
		logger: cfg.Logger.With("component", "governor"),
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins background sweeps. The first sweep runs immediately.
func (g *Governor) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.stopped || g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = true
	g.mu.Unlock()

	go g.run(ctx)
	return nil
}

// Stop stops background sweeps and waits for an in-flight sweep to finish.
func (g *Governor) Stop() {
	g.mu.Lock()
	if !g.running || g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	g.mu.Unlock()

	close(g.stopCh)
	<-g.doneCh
}

func (g *Governor) run(ctx context.Context) {
	defer close(g.doneCh)

	ticker := time.NewTicker(g.config.Interval)
	defer ticker.Stop()

	g.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.RunOnce(ctx)
		}
	}
}

// ScopeResult contains the outcome of sweeping one scope.
type ScopeResult struct {
	Scope   store.Scope
	Scanned int
	Removed int
	// Malformed counts removed records that could not be decoded.
	Malformed int
	// Rewritten counts dead records a writer replaced before removal.
	Rewritten int
	Errors    int
	Duration  time.Duration
}

// Result contains the results of one governor run.
type Result struct {
	StartedAt time.Time
	Scopes    []ScopeResult
}

// Removed returns the total number of entries removed across scopes.
func (r *Result) Removed() int {
	n := 0
	for _, s := range r.Scopes {
		n += s.Removed
	}
	return n
}

// Errors returns the total number of failures across scopes.
func (r *Result) Errors() int {
	n := 0
	for _, s := range r.Scopes {
		n += s.Errors
	}
	return n
}

// RunOnce performs a single sweep. The sync flag is read here, once per
// run, to decide whether the synced scope takes part.
func (g *Governor) RunOnce(ctx context.Context) *Result {
	result := &Result{StartedAt: g.now()}

	scopes := []store.Scope{store.Local}
	if g.sync != nil && g.sync.Enabled() {
		scopes = append(scopes, store.Synced)
	}

	for _, scope := range scopes {
		s := g.stores.For(scope)
		if s == nil {
			continue
		}
		result.Scopes = append(result.Scopes, g.sweep(ctx, s))
	}

	g.mu.Lock()
	g.last = result
	g.mu.Unlock()

	return result
}

// Last returns the result of the most recent run, or nil.
func (g *Governor) Last() *Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

func (g *Governor) sweep(ctx context.Context, s *store.Store) ScopeResult {
	start := g.now()
	result := ScopeResult{Scope: s.Scope()}
	logger := g.logger.With("scope", s.Scope().String())

	logger.Debug("starting sweep")

	listed, err := s.Scan(ctx)
	if err != nil {
		logger.Error("failed to list entries", "error", err)
		result.Errors++
		result.Duration = g.now().Sub(start)
		return result
	}
	result.Scanned = len(listed)

	// Expiry is judged by the store's own clock so reads and sweeps agree.
	now := s.Now()
	for _, l := range listed {
		if !l.Reclaimable(now) {
			continue
		}
		removed, err := s.RemoveUnchanged(ctx, l)
		switch {
		case err != nil:
			logger.Warn("failed to remove dead entry", "key", l.Key, "error", err)
			result.Errors++
		case !removed:
			result.Rewritten++
			logger.Debug("entry changed during sweep, kept", "key", l.Key)
		default:
			result.Removed++
			if l.Err != nil {
				result.Malformed++
				logger.Debug("removed malformed entry", "key", l.Key, "error", l.Err)
			} else {
				logger.Debug("removed expired entry", "key", l.Key)
			}
		}
	}

	result.Duration = g.now().Sub(start)
	telemetry.RecordSweep(ctx, s.Scope().String(), result.Removed, result.Duration)

	if result.Removed > 0 {
		logger.Info("sweep complete",
			"scanned", result.Scanned,
			"removed", result.Removed,
			"malformed", result.Malformed,
			"rewritten", result.Rewritten,
			"errors", result.Errors,
			"duration", result.Duration,
		)
	} else {
		logger.Debug("sweep complete, nothing to remove", "scanned", result.Scanned)
	}

	return result
}
