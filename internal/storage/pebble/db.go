package pebblestore

import (
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// FsyncMode defines durability behavior for bucket writes.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways syncs the WAL on every write.
	FsyncModeAlways
	// FsyncModeInterval lets Pebble coalesce WAL syncs within FsyncInterval.
	FsyncModeInterval
	// FsyncModeNever leaves syncing to Pebble.
	FsyncModeNever
)

// ParseFsyncMode maps always|interval|never to a FsyncMode.
func ParseFsyncMode(s string) (FsyncMode, error) {
	switch s {
	case "", "always":
		return FsyncModeAlways, nil
	case "interval":
		return FsyncModeInterval, nil
	case "never":
		return FsyncModeNever, nil
	default:
		return FsyncModeUnspecified, fmt.Errorf("invalid fsync mode %q; use always|interval|never", s)
	}
}

// keyPrefix namespaces bucket keys inside the Pebble keyspace.
const keyPrefix = "bucket/"

type Options struct {
	// DataDir is the Pebble database directory.
	DataDir string
	Fsync   FsyncMode
	// FsyncInterval controls group-commit when Fsync=FsyncModeInterval.
	FsyncInterval time.Duration
	// PebbleOptions allows advanced tuning. If nil, defaults are used.
	PebbleOptions *pebble.Options
}

// DB stores ledger buckets in Pebble.
type DB struct {
	inner     *pebble.DB
	writeOpts *pebble.WriteOptions
}

// Open creates or opens a Pebble database with the provided options.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}

	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}

	switch opts.Fsync {
	case FsyncModeInterval:
		if opts.FsyncInterval <= 0 {
			opts.FsyncInterval = 5 * time.Millisecond
		}
		interval := opts.FsyncInterval
		po.WALMinSyncInterval = func() time.Duration { return interval }
	case FsyncModeNever, FsyncModeAlways:
	default:
		opts.Fsync = FsyncModeAlways
	}

	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store: %w", err)
	}

	writeOpts := pebble.NoSync
	if opts.Fsync != FsyncModeNever {
		writeOpts = pebble.Sync
	}
	return &DB{inner: inner, writeOpts: writeOpts}, nil
}

// Close closes the Pebble database.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

func bucketKey(key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("bucket key cannot be empty")
	}
	return []byte(keyPrefix + key), nil
}

// Get copies the value stored for key.
func (db *DB) Get(key string) (string, bool, error) {
	k, err := bucketKey(key)
	if err != nil {
		return "", false, err
	}
	val, closer, err := db.inner.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read bucket %s: %w", key, err)
	}
	defer closer.Close()
	return string(val), true, nil
}

// Set writes value for key respecting the fsync policy.
func (db *DB) Set(key, value string) error {
	k, err := bucketKey(key)
	if err != nil {
		return err
	}
	if err := db.inner.Set(k, []byte(value), db.writeOpts); err != nil {
		return fmt.Errorf("failed to write bucket %s: %w", key, err)
	}
	return nil
}

// Delete removes key respecting the fsync policy.
func (db *DB) Delete(key string) error {
	k, err := bucketKey(key)
	if err != nil {
		return err
	}
	if err := db.inner.Delete(k, db.writeOpts); err != nil {
		return fmt.Errorf("failed to delete bucket %s: %w", key, err)
	}
	return nil
}

// Keys lists stored bucket keys in key order.
func (db *DB) Keys() ([]string, error) {
	iter, err := db.inner.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte("bucket0"), // '0' follows '/'
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	defer iter.Close()

	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Key()[len(keyPrefix):]))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	return keys, nil
}
