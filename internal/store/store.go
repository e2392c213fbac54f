package store

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - units + unit_settings with the single light window columns
// 2 - device_schedules table
const currentSchemaVersion = 2

// sqliteMagic is the 16-byte header every SQLite 3 database file starts with.
var sqliteMagic = []byte("SQLite format 3\x00")

// Integrity probe modes.
const (
	IntegrityFull  = "full"
	IntegrityQuick = "quick"
)

// Options configures how a store file is opened.
type Options struct {
	// BusyTimeout is how long a connection waits on a locked database.
	BusyTimeout time.Duration

	// MaxOpenConns bounds the connection pool. Writes are serialized by the
	// Guard, so extra connections only serve concurrent readers.
	MaxOpenConns int

	// IntegrityCheck selects the probe run on open: IntegrityFull or IntegrityQuick.
	IntegrityCheck string
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		BusyTimeout:    5 * time.Second,
		MaxOpenConns:   4,
		IntegrityCheck: IntegrityFull,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = d.BusyTimeout
	}
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = d.MaxOpenConns
	}
	if o.IntegrityCheck == "" {
		o.IntegrityCheck = d.IntegrityCheck
	}
	return o
}

// Store is a live, integrity-checked connection to one store file.
//
// A Store is only ever returned after the header check, the integrity probe
// and schema verification have passed. It is not safe to use a Store after
// Close; callers normally reach it through a Guard.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the store at path and verifies it before handing
// it out.
//
// The sequence is:
//   - header check of an existing, non-empty file
//   - connection with WAL, NORMAL sync, busy timeout and foreign keys
//   - integrity probe (integrity_check or quick_check)
//   - schema creation, migration and verification via user_version
//
// Open never retries. Any failure closes the connection and returns the raw
// error so Classify can decide what it means.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	if err := checkHeader(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn(path, opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxOpenConns)

	s := &Store{db: db, path: path}

	if err := s.CheckIntegrity(ctx, opts.IntegrityCheck); err != nil {
		db.Close()
		return nil, err
	}

	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// NewFromDB wraps an already-open database without any checks.
// Used by tests that inject driver behaviour.
func NewFromDB(db *sql.DB, path string) *Store {
	return &Store{db: db, path: path}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the file path the store was opened from.
func (s *Store) Path() string {
	return s.path
}

// CheckIntegrity runs the structural probe for the given mode. A result other
// than a single "ok" row is reported as an *IntegrityError.
func (s *Store) CheckIntegrity(ctx context.Context, mode string) error {
	pragma := "PRAGMA integrity_check"
	if mode == IntegrityQuick {
		pragma = "PRAGMA quick_check"
	}

	rows, err := s.db.QueryContext(ctx, pragma)
	if err != nil {
		return fmt.Errorf("integrity probe: %w", err)
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return fmt.Errorf("integrity probe: %w", err)
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("integrity probe: %w", err)
	}

	if len(problems) > 0 {
		return &IntegrityError{Path: s.path, Problems: problems}
	}
	return nil
}

// dsn builds the mattn/go-sqlite3 connection string. Per-connection settings
// go in the DSN so every pooled connection gets them.
func dsn(path string, opts Options) string {
	params := []string{
		fmt.Sprintf("_busy_timeout=%d", opts.BusyTimeout.Milliseconds()),
		"_foreign_keys=on",
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
	}
	return path + "?" + strings.Join(params, "&")
}

// checkHeader rejects an existing non-empty file that does not start with the
// SQLite magic. A missing or empty file is fine: SQLite initializes it.
func checkHeader(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read database header: %w", err)
	}
	defer f.Close()

	header := make([]byte, len(sqliteMagic))
	n, err := io.ReadFull(f, header)
	if n == 0 && (err == io.EOF || err == nil) {
		return nil
	}
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("read database header: %w", err)
	}
	if !bytes.Equal(header[:n], sqliteMagic) || n < len(sqliteMagic) {
		return &HeaderError{Path: path, Header: header[:n]}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// A store written by a newer version, or one whose recorded version does not
// match its actual tables, is rejected with *SchemaVersionError.
func applySchema(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion || version < 0 {
		return &SchemaVersionError{
			Found:     version,
			Supported: currentSchemaVersion,
			Reason:    "unsupported schema version",
		}
	}

	// Version 0 with existing tables means a store from before versioning;
	// it is migrated the same way as a version 1 store.
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if version < 2 {
		if err := migrateToV2(ctx, db); err != nil {
			return err
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return verifySchema(ctx, db, version)
}

// migrateToV2 adds the per-device schedule table. Stores created before v2
// only carry light_start_time/light_end_time on unit_settings.
func migrateToV2(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS device_schedules (
			unit_id TEXT NOT NULL,
			device_type TEXT NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (unit_id, device_type),
			FOREIGN KEY (unit_id) REFERENCES units(id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// requiredColumns lists the columns the current code reads from each table.
var requiredColumns = map[string][]string{
	"units":            {"id", "name", "created_at"},
	"unit_settings":    {"unit_id", "thresholds", "light_start_time", "light_end_time", "dimensions", "camera_enabled", "updated_at"},
	"device_schedules": {"unit_id", "device_type", "start_time", "end_time", "enabled", "updated_at"},
}

// verifySchema checks that every required column exists. CREATE TABLE IF NOT
// EXISTS silently keeps an old table, so a table with the right name but the
// wrong shape is only caught here.
func verifySchema(ctx context.Context, db *sql.DB, foundVersion int) error {
	for table, cols := range requiredColumns {
		have, err := tableColumns(ctx, db, table)
		if err != nil {
			return err
		}
		for _, col := range cols {
			if !have[col] {
				return &SchemaVersionError{
					Found:     foundVersion,
					Supported: currentSchemaVersion,
					Reason:    fmt.Sprintf("table %s is missing column %s", table, col),
				}
			}
		}
	}
	return nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("inspect table %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("inspect table %s: %w", table, err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("inspect table %s: %w", table, err)
	}
	return cols, nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
