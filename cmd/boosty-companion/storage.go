package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wolfeidau/boosty-companion/backend"
	"github.com/wolfeidau/boosty-companion/credentials"
	"github.com/wolfeidau/boosty-companion/store"
)

// StorageFlags select the backends behind the local and synced scopes.
type StorageFlags struct {
	LocalBackend string `help:"Backend for the device-local scope (${enum})." enum:"bolt,sqlite,memory" default:"bolt" env:"COMPANION_LOCAL_BACKEND"`
	LocalPath    string `help:"Database file for the bolt or sqlite local backend." default:"./companion.db" type:"path" env:"COMPANION_LOCAL_PATH"`

	RedisAddr   string `help:"Redis address for the synced scope. Empty keeps synced data in memory." env:"COMPANION_REDIS_ADDR"`
	RedisDB     int    `help:"Redis database number." default:"0" env:"COMPANION_REDIS_DB"`
	RedisPrefix string `help:"Key prefix for synced entries in Redis." default:"companion:sync:" env:"COMPANION_REDIS_PREFIX"`

	SyncItemQuota int `help:"Largest encoded value, in bytes, the synced scope accepts." default:"8192" env:"COMPANION_SYNC_ITEM_QUOTA"`
}

func (f StorageFlags) syncBackendName() string {
	if f.RedisAddr == "" {
		return "memory"
	}
	return "redis"
}

// open builds both scope stores over instrumented backends sharing one codec.
// The returned func closes everything opened.
func (f StorageFlags) open(ctx context.Context, creds *credentials.Credentials, logger *slog.Logger) (store.Stores, func(), error) {
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("closing storage failed", "error", err)
			}
		}
	}

	local, err := f.openLocal(logger)
	if err != nil {
		return store.Stores{}, nil, err
	}
	closers = append(closers, local.Close)

	synced, err := f.openSynced(ctx, creds)
	if err != nil {
		closeAll()
		return store.Stores{}, nil, err
	}
	closers = append(closers, synced.Close)

	codec, err := store.NewCodec()
	if err != nil {
		closeAll()
		return store.Stores{}, nil, fmt.Errorf("creating codec: %w", err)
	}
	closers = append(closers, func() error { codec.Close(); return nil })

	stores := store.Stores{
		Local: store.New(store.Local,
			backend.NewInstrumentedBackend(local, f.LocalBackend),
			store.WithCodec(codec), store.WithLogger(logger)),
		Synced: store.New(store.Synced,
			backend.NewInstrumentedBackend(backend.NewQuota(synced, f.SyncItemQuota), f.syncBackendName()),
			store.WithCodec(codec), store.WithLogger(logger)),
	}
	return stores, closeAll, nil
}

func (f StorageFlags) openLocal(logger *slog.Logger) (backend.Backend, error) {
	switch f.LocalBackend {
	case "bolt":
		b, err := backend.OpenBolt(f.LocalPath, backend.WithBoltLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("opening bolt store: %w", err)
		}
		return b, nil
	case "sqlite":
		b, err := backend.OpenSQLite(f.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return b, nil
	case "memory":
		return backend.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown local backend %q", f.LocalBackend)
	}
}

func (f StorageFlags) openSynced(ctx context.Context, creds *credentials.Credentials) (backend.Backend, error) {
	if f.RedisAddr == "" {
		return backend.NewMemory(), nil
	}
	r, err := backend.NewRedis(ctx, backend.RedisConfig{
		Addr:      f.RedisAddr,
		Username:  creds.RedisUsername(),
		Password:  creds.RedisPassword(),
		DB:        f.RedisDB,
		KeyPrefix: f.RedisPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("opening synced store: %w", err)
	}
	return r, nil
}
