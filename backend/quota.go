package backend

import (
	"context"
	"fmt"
)

// DefaultSyncItemQuota is the per-item byte limit applied to the synced scope.
// Browser sync storage enforces the same order of magnitude.
const DefaultSyncItemQuota = 8 * 1024

// Quota wraps a Backend and rejects values larger than a per-item limit.
type Quota struct {
	Backend
	maxItemBytes int
}

// NewQuota wraps b so that Set fails with ErrQuotaExceeded for values over maxItemBytes.
// A non-positive limit uses DefaultSyncItemQuota.
func NewQuota(b Backend, maxItemBytes int) *Quota {
	if maxItemBytes <= 0 {
		maxItemBytes = DefaultSyncItemQuota
	}
	return &Quota{Backend: b, maxItemBytes: maxItemBytes}
}

func (q *Quota) Set(ctx context.Context, key string, value []byte) error {
	if len(value) > q.maxItemBytes {
		return fmt.Errorf("%s is %d bytes, limit %d: %w", key, len(value), q.maxItemBytes, ErrQuotaExceeded)
	}
	return q.Backend.Set(ctx, key, value)
}

var _ Backend = (*Quota)(nil)
