package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// createTestStore opens a fresh store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), path, DefaultOptions())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestUnit inserts a unit with empty thresholds.
func createTestUnit(t *testing.T, s *Store, id string) Unit {
	t.Helper()
	u := Unit{ID: id, Name: "unit " + id, CreatedAt: testTime}
	if err := s.CreateUnit(context.Background(), u, `{}`); err != nil {
		t.Fatalf("CreateUnit(%s) failed: %v", id, err)
	}
	return u
}

// writeGarbage writes data to path, replacing whatever is there.
func writeGarbage(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

var testTime = time.Date(2025, 3, 14, 22, 30, 0, 0, time.UTC)
