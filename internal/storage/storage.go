// Package storage opens the persistent store backing the ledger.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vincentbai/browsetrace-tracker/internal/database"
	"github.com/vincentbai/browsetrace-tracker/internal/ledger"
	pebblestore "github.com/vincentbai/browsetrace-tracker/internal/storage/pebble"
)

const (
	DriverSQLite = "sqlite"
	DriverPebble = "pebble"
	DriverMemory = "memory"
)

// Backend is a ledger store that can be closed and enumerated.
type Backend interface {
	ledger.Store
	io.Closer
	Keys() ([]string, error)
}

type Options struct {
	Driver string
	// Dir is the application data directory. The sqlite driver keeps
	// ledger.db in it; the pebble driver keeps a ledger/ directory.
	Dir   string
	Fsync pebblestore.FsyncMode
}

// Open returns the backend selected by opts.Driver.
func Open(opts Options) (Backend, error) {
	switch opts.Driver {
	case DriverMemory:
		return &memoryBackend{MemoryStore: ledger.NewMemoryStore()}, nil
	case DriverSQLite, "":
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create application directory: %w", err)
		}
		db, err := database.NewDatabase(filepath.Join(opts.Dir, "ledger.db"))
		if err != nil {
			return nil, err
		}
		return db, nil
	case DriverPebble:
		db, err := pebblestore.Open(pebblestore.Options{
			DataDir: filepath.Join(opts.Dir, "ledger"),
			Fsync:   opts.Fsync,
		})
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", opts.Driver)
	}
}

type memoryBackend struct {
	*ledger.MemoryStore
}

func (m *memoryBackend) Close() error { return nil }

func (m *memoryBackend) Keys() ([]string, error) {
	return m.MemoryStore.Keys(), nil
}
