package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedLegacyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy", "grow.db")
	SeedLegacyStore(t, path, LegacyUnit{ID: "u1", Name: "tent", Thresholds: `{}`, LightStart: "08:00"})

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var version int
	require.NoError(t, db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, 1, version)

	var start, end sql.NullString
	require.NoError(t, db.QueryRow(`SELECT light_start_time, light_end_time FROM unit_settings WHERE unit_id = 'u1'`).Scan(&start, &end))
	assert.Equal(t, "08:00", start.String)
	assert.False(t, end.Valid, "empty legacy value is stored as NULL")
}

func TestWriteCorruptStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.db")
	files := WriteCorruptStore(t, path)

	require.Len(t, files, 3)
	for name, want := range files {
		got, err := os.ReadFile(filepath.Join(filepath.Dir(path), name))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
