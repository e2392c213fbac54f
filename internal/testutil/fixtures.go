package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// LegacyUnit describes a unit as a version 1 store held it.
type LegacyUnit struct {
	ID         string
	Name       string
	Thresholds string
	LightStart string
	LightEnd   string
}

// legacySchema is the version 1 layout: no device_schedules table, one light
// window on unit_settings.
const legacySchema = `
CREATE TABLE units (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE TABLE unit_settings (
    unit_id TEXT PRIMARY KEY,
    thresholds TEXT NOT NULL DEFAULT '{}',
    light_start_time TEXT,
    light_end_time TEXT,
    dimensions TEXT,
    camera_enabled INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL,
    FOREIGN KEY (unit_id) REFERENCES units(id) ON DELETE CASCADE
);
PRAGMA user_version = 1;
`

// SeedLegacyStore writes a version 1 store at path holding units.
func SeedLegacyStore(t *testing.T, path string, units ...LegacyUnit) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create store directory: %v", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open legacy store: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(legacySchema); err != nil {
		t.Fatalf("create legacy schema: %v", err)
	}
	for _, u := range units {
		if _, err := db.Exec(`INSERT INTO units (id, name, created_at) VALUES (?, ?, '2024-01-01T00:00:00.000000000Z')`, u.ID, u.Name); err != nil {
			t.Fatalf("insert legacy unit: %v", err)
		}
		if _, err := db.Exec(`
			INSERT INTO unit_settings (unit_id, thresholds, light_start_time, light_end_time, updated_at)
			VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), '2024-01-01T00:00:00.000000000Z')
		`, u.ID, u.Thresholds, u.LightStart, u.LightEnd); err != nil {
			t.Fatalf("insert legacy settings: %v", err)
		}
	}
}

// WriteCorruptStore writes bytes that are not a SQLite database to path and
// to its -wal and -shm sidecars. It returns the contents written per file
// name so tests can check they were preserved.
func WriteCorruptStore(t *testing.T, path string) map[string][]byte {
	t.Helper()
	files := map[string][]byte{
		path:          []byte("this file was a database once\x00\x13\x37"),
		path + "-wal": []byte("torn write-ahead log"),
		path + "-shm": []byte("stale shared memory"),
	}
	out := make(map[string][]byte, len(files))
	for p, data := range files {
		if err := os.WriteFile(p, data, 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
		out[filepath.Base(p)] = data
	}
	return out
}
