// Package pebblestore is a ledger store backed by Pebble, with an fsync
// policy for bucket writes.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./ledger",
//	    Fsync:   pebblestore.FsyncModeAlways,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	l := ledger.New(db, logger)
package pebblestore
