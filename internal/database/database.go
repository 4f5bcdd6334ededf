package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite
)

// Database is a SQLite-backed ledger store: one row per bucket key.
type Database struct {
	db *sql.DB
}

func NewDatabase(databasePath string) (*Database, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS buckets(
	  bucket_key  TEXT    PRIMARY KEY,
	  payload     TEXT    NOT NULL,
	  updated_utc INTEGER NOT NULL
	);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("bucket key cannot be empty")
	}
	return nil
}

func (d *Database) Get(key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	var value string
	err := d.db.QueryRow(`SELECT payload FROM buckets WHERE bucket_key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read bucket %s: %w", key, err)
	}
	return value, true, nil
}

func (d *Database) Set(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	_, err := d.db.Exec(`
	INSERT INTO buckets(bucket_key, payload, updated_utc) VALUES(?, ?, ?)
	ON CONFLICT(bucket_key) DO UPDATE SET payload = excluded.payload, updated_utc = excluded.updated_utc`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write bucket %s: %w", key, err)
	}
	return nil
}

func (d *Database) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if _, err := d.db.Exec(`DELETE FROM buckets WHERE bucket_key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete bucket %s: %w", key, err)
	}
	return nil
}

// Keys lists the stored bucket keys in key order.
func (d *Database) Keys() ([]string, error) {
	rows, err := d.db.Query(`SELECT bucket_key FROM buckets ORDER BY bucket_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan bucket key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	return keys, nil
}
