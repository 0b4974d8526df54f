package backend

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBolt(t *testing.T) *Bolt {
	t.Helper()
	b, err := OpenBolt(filepath.Join(t.TempDir(), "local.db"), WithNoSync(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "local.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func backends() map[string]func(t *testing.T) Backend {
	return map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend { return NewMemory() },
		"bolt":   func(t *testing.T) Backend { return newTestBolt(t) },
		"sqlite": func(t *testing.T) Backend { return newTestSQLite(t) },
		"redis":  func(t *testing.T) Backend { return newTestRedis(t) },
	}
}

func TestBackendContract(t *testing.T) {
	ctx := context.Background()

	for name, newBackend := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Run("Set and Get round-trip", func(t *testing.T) {
				b := newBackend(t)

				require.NoError(t, b.Set(ctx, "options", []byte(`{"data":{"theaterMode":true}}`)))

				got, err := b.Get(ctx, "options")
				require.NoError(t, err)
				assert.Equal(t, `{"data":{"theaterMode":true}}`, string(got))
			})

			t.Run("Get returns ErrNotFound for missing key", func(t *testing.T) {
				b := newBackend(t)

				_, err := b.Get(ctx, "missing")
				require.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("Set overwrites", func(t *testing.T) {
				b := newBackend(t)

				require.NoError(t, b.Set(ctx, "theme", []byte("light")))
				require.NoError(t, b.Set(ctx, "theme", []byte("dark")))

				got, err := b.Get(ctx, "theme")
				require.NoError(t, err)
				assert.Equal(t, "dark", string(got))
			})

			t.Run("Delete is idempotent", func(t *testing.T) {
				b := newBackend(t)

				require.NoError(t, b.Set(ctx, "t:1", []byte("5")))
				require.NoError(t, b.Delete(ctx, "t:1"))
				require.NoError(t, b.Delete(ctx, "t:1"))
				require.NoError(t, b.Delete(ctx, "never-written"))

				_, err := b.Get(ctx, "t:1")
				require.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("DeleteIf only removes the expected value", func(t *testing.T) {
				b := newBackend(t)

				require.NoError(t, b.Set(ctx, "p:1", []byte(`{"data":[1],"timeout":1}`)))

				deleted, err := b.DeleteIf(ctx, "p:1", []byte(`{"data":[2],"timeout":9}`))
				require.NoError(t, err)
				assert.False(t, deleted)
				_, err = b.Get(ctx, "p:1")
				require.NoError(t, err, "a changed value survives")

				deleted, err = b.DeleteIf(ctx, "p:1", []byte(`{"data":[1],"timeout":1}`))
				require.NoError(t, err)
				assert.True(t, deleted)
				_, err = b.Get(ctx, "p:1")
				require.ErrorIs(t, err, ErrNotFound)

				deleted, err = b.DeleteIf(ctx, "p:1", []byte(`{"data":[1],"timeout":1}`))
				require.NoError(t, err)
				assert.False(t, deleted, "absent key")
			})

			t.Run("List returns every key", func(t *testing.T) {
				b := newBackend(t)

				require.NoError(t, b.Set(ctx, "t:1", []byte("1")))
				require.NoError(t, b.Set(ctx, "t:2", []byte("2")))
				require.NoError(t, b.Set(ctx, "p:9", []byte("[]")))

				items, err := b.List(ctx)
				require.NoError(t, err)
				assert.Len(t, items, 3)
				assert.Equal(t, "2", string(items["t:2"]))
			})

			t.Run("returned slices are not aliased", func(t *testing.T) {
				b := newBackend(t)

				value := []byte("abc")
				require.NoError(t, b.Set(ctx, "k", value))
				value[0] = 'z'

				got, err := b.Get(ctx, "k")
				require.NoError(t, err)
				got[1] = 'z'

				again, err := b.Get(ctx, "k")
				require.NoError(t, err)
				assert.Equal(t, "abc", string(again))
			})

			t.Run("concurrent writes to one key leave one value", func(t *testing.T) {
				b := newBackend(t)

				var wg sync.WaitGroup
				for i := 0; i < 20; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						_ = b.Set(ctx, "playbackRate", []byte(fmt.Sprintf("%d", i)))
					}(i)
				}
				wg.Wait()

				got, err := b.Get(ctx, "playbackRate")
				require.NoError(t, err)
				assert.Regexp(t, `^\d+$`, string(got))
			})
		})
	}
}

func TestBoltPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")

	b, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, b.Set(ctx, "sync", []byte(`{"data":true}`)))
	require.NoError(t, b.Close())

	b, err = OpenBolt(path)
	require.NoError(t, err)
	defer b.Close()

	got, err := b.Get(ctx, "sync")
	require.NoError(t, err)
	assert.Equal(t, `{"data":true}`, string(got))
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite("  ")
	require.Error(t, err)
}

func TestMemoryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMemory()
	require.ErrorIs(t, m.Set(ctx, "k", []byte("v")), context.Canceled)
	_, err := m.Get(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)
}
