package backend

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

var bucketEntries = []byte("entries")

// Bolt implements Backend using a bbolt database file.
// It is the default backend for the device-local scope.
type Bolt struct {
	db     *bbolt.DB
	logger *slog.Logger
	noSync bool
}

// BoltOption configures a Bolt backend.
type BoltOption func(*Bolt)

// WithBoltLogger sets the logger for the backend.
func WithBoltLogger(logger *slog.Logger) BoltOption {
	return func(b *Bolt) {
		b.logger = logger
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This risks data loss on crash. Use only for tests.
func WithNoSync(noSync bool) BoltOption {
	return func(b *Bolt) {
		b.noSync = noSync
	}
}

// OpenBolt opens (or creates) the database at path.
func OpenBolt(path string, opts ...BoltOption) (*Bolt, error) {
	b := &Bolt{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  b.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketEntries); err != nil {
			return fmt.Errorf("creating bucket %s: %w", bucketEntries, err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	b.db = db

	b.logger.Debug("opened bolt backend", "path", path, "noSync", b.noSync)
	return b, nil
}

func (b *Bolt) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketEntries).Get([]byte(key))
		if val == nil {
			return ErrNotFound
		}
		// bbolt memory is only valid for the life of the transaction.
		data = cloneBytes(val)
		return nil
	})
	return data, err
}

func (b *Bolt) List(ctx context.Context) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string][]byte)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
			out[string(k)] = cloneBytes(v)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	return out, nil
}

func (b *Bolt) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketEntries).Put([]byte(key), value); err != nil {
			return fmt.Errorf("putting %s: %w", key, err)
		}
		return nil
	})
}

func (b *Bolt) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).Delete([]byte(key))
	})
}

func (b *Bolt) DeleteIf(ctx context.Context, key string, expected []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	deleted := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntries)
		val := bucket.Get([]byte(key))
		if val == nil || !bytes.Equal(val, expected) {
			return nil
		}
		if err := bucket.Delete([]byte(key)); err != nil {
			return fmt.Errorf("deleting %s: %w", key, err)
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// Close closes the database and releases resources.
func (b *Bolt) Close() error {
	if b.db == nil {
		return nil
	}
	b.logger.Debug("closing bolt backend")
	return b.db.Close()
}

var _ Backend = (*Bolt)(nil)
