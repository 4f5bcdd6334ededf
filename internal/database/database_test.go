package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vincentbai/browsetrace-tracker/internal/ledger"
	"github.com/vincentbai/browsetrace-tracker/internal/models"
)

func setupTestDB(t *testing.T) (*Database, func()) {
	t.Helper()

	// Create temporary directory for test database
	tmpDir, err := os.MkdirTemp("", "browsetrace-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := NewDatabase(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create test database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}

	return db, cleanup
}

func TestNewDatabase(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if db == nil {
		t.Fatal("Expected non-nil database")
	}
	if db.db == nil {
		t.Fatal("Expected non-nil sql.DB")
	}
}

func TestGetMissingKey(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	value, ok, err := db.Get("tracker")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok || value != "" {
		t.Errorf("Expected missing key, got %q ok=%v", value, ok)
	}
}

func TestSetGetDelete(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if err := db.Set("tracker", `[{"event":"click"}]`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := db.Set("tracker", `[{"event":"click"},{"event":"dblclick"}]`); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}

	value, ok, err := db.Get("tracker")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if value != `[{"event":"click"},{"event":"dblclick"}]` {
		t.Errorf("Unexpected value: %s", value)
	}

	var count int
	if err := db.db.QueryRow("SELECT COUNT(*) FROM buckets").Scan(&count); err != nil {
		t.Fatalf("Failed to query count: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 row after overwrite, got %d", count)
	}

	if err := db.Delete("tracker"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := db.Get("tracker"); ok {
		t.Error("Expected key to be gone after delete")
	}
	if err := db.Delete("tracker"); err != nil {
		t.Errorf("Delete of missing key should succeed: %v", err)
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	tests := []struct {
		name string
		call func() error
	}{
		{"get", func() error { _, _, err := db.Get(""); return err }},
		{"set", func() error { return db.Set("", "x") }},
		{"delete", func() error { return db.Delete("") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); err == nil {
				t.Error("Expected error for empty key")
			}
		})
	}
}

func TestKeys(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_ = db.Set("timing", "{}")
	_ = db.Set("performance", "{}")
	_ = db.Set("tracker", "[]")

	keys, err := db.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	want := []string{"performance", "timing", "tracker"}
	if len(keys) != len(want) {
		t.Fatalf("Expected %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "events.db")

	db, err := NewDatabase(dbPath)
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	l := ledger.New(db, nil)
	if err := l.Append(models.TrackerKey, models.EventRecord{Event: "click", TargetKey: "btn1"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	db.Close()

	reopened, err := NewDatabase(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	payload, err := ledger.New(reopened, nil).Drain(models.TrackerKey)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if want := `[{"event":"click","targetKey":"btn1"}]`; string(payload) != want {
		t.Errorf("drained = %s, want %s", payload, want)
	}
}

func TestDatabaseClose(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	err := db.Close()
	if err != nil {
		t.Errorf("Failed to close database: %v", err)
	}
}
