package backend

import (
	"context"
	"errors"
	"time"

	"github.com/wolfeidau/boosty-companion/telemetry"
)

// InstrumentedBackend records latency, bytes moved and outcome for every
// operation on the wrapped backend, labelled with the backend's name.
type InstrumentedBackend struct {
	inner Backend
	label string
}

func NewInstrumentedBackend(b Backend, label string) *InstrumentedBackend {
	return &InstrumentedBackend{inner: b, label: label}
}

func (ib *InstrumentedBackend) Get(ctx context.Context, key string) ([]byte, error) {
	began := time.Now()
	val, err := ib.inner.Get(ctx, key)
	return val, ib.record(ctx, "get", began, len(val), err)
}

func (ib *InstrumentedBackend) List(ctx context.Context) (map[string][]byte, error) {
	began := time.Now()
	items, err := ib.inner.List(ctx)
	size := 0
	for _, v := range items {
		size += len(v)
	}
	return items, ib.record(ctx, "list", began, size, err)
}

func (ib *InstrumentedBackend) Set(ctx context.Context, key string, value []byte) error {
	began := time.Now()
	return ib.record(ctx, "set", began, len(value), ib.inner.Set(ctx, key, value))
}

func (ib *InstrumentedBackend) Delete(ctx context.Context, key string) error {
	began := time.Now()
	return ib.record(ctx, "delete", began, 0, ib.inner.Delete(ctx, key))
}

func (ib *InstrumentedBackend) DeleteIf(ctx context.Context, key string, expected []byte) (bool, error) {
	began := time.Now()
	deleted, err := ib.inner.DeleteIf(ctx, key, expected)
	return deleted, ib.record(ctx, "delete_if", began, 0, err)
}

func (ib *InstrumentedBackend) Close() error {
	return ib.inner.Close()
}

// record reports one finished operation and hands err back unchanged.
func (ib *InstrumentedBackend) record(ctx context.Context, op string, began time.Time, size int, err error) error {
	telemetry.RecordBackendOp(ctx, ib.label, op, opOutcome(err), time.Since(began), int64(size))
	return err
}

// opOutcome maps a backend error to the metric outcome label.
func opOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	}
	return "error"
}

var _ Backend = (*InstrumentedBackend)(nil)
