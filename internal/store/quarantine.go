package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// QuarantineDirName is the directory, next to the store file, that holds
// quarantined stores and their records.
const QuarantineDirName = "corrupt"

// quarantineTimeFormat is ISO 8601 basic format in UTC. It has no colons so
// the directory name is portable.
const quarantineTimeFormat = "20060102T150405.000000000Z"

// sidecarSuffixes are moved before the main file, in this order.
var sidecarSuffixes = []string{"-wal", "-shm", "-journal"}

// QuarantineRecord describes one recovery action. It is written once and
// never modified or removed by this package.
type QuarantineRecord struct {
	ID                  string    `yaml:"id" json:"id"`
	Timestamp           time.Time `yaml:"timestamp" json:"timestamp"`
	OriginalPath        string    `yaml:"original_path" json:"original_path"`
	QuarantineDirectory string    `yaml:"quarantine_directory" json:"quarantine_directory"`
	RelocatedFiles      []string  `yaml:"relocated_files" json:"relocated_files"`
	Evidence            Evidence  `yaml:"evidence" json:"evidence"`
}

// QuarantineRoot returns the quarantine directory for a store path.
func QuarantineRoot(path string) string {
	return filepath.Join(filepath.Dir(path), QuarantineDirName)
}

// Quarantine moves the store file at path and any sidecar files into a new
// timestamped directory under QuarantineRoot(path), then writes the record.
//
// Files are renamed, never copied. Sidecars go first and the main file last,
// so an interruption leaves either the corrupt main file in place (and it is
// detected again on the next open) or no main file at all (and the next open
// creates a fresh store). Missing files are skipped.
func Quarantine(path string, ev Evidence, now time.Time) (QuarantineRecord, error) {
	if !ev.Kind.IsCorruption() {
		return QuarantineRecord{}, fmt.Errorf("refusing to quarantine %s for %s", path, ev.Kind)
	}

	root := QuarantineRoot(path)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return QuarantineRecord{}, fmt.Errorf("create quarantine root: %w", err)
	}

	dir, err := makeQuarantineDir(root, filepath.Base(path), now)
	if err != nil {
		return QuarantineRecord{}, err
	}

	rec := QuarantineRecord{
		ID:                  newRecordID(),
		Timestamp:           now.UTC(),
		OriginalPath:        path,
		QuarantineDirectory: dir,
		RelocatedFiles:      []string{},
		Evidence:            ev,
	}

	sources := make([]string, 0, len(sidecarSuffixes)+1)
	for _, suffix := range sidecarSuffixes {
		sources = append(sources, path+suffix)
	}
	sources = append(sources, path)

	for _, src := range sources {
		if _, err := os.Lstat(src); errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return rec, fmt.Errorf("stat %s: %w", src, err)
		}
		dst := filepath.Join(dir, filepath.Base(src))
		if err := os.Rename(src, dst); err != nil {
			return rec, fmt.Errorf("move %s to quarantine: %w", src, err)
		}
		rec.RelocatedFiles = append(rec.RelocatedFiles, filepath.Base(src))
	}

	if err := writeRecord(recordPath(dir), rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// QuarantineAndRecreate quarantines the corrupt store at path and opens a
// fresh one in its place. Every failure is a RecoveryFailed error.
func QuarantineAndRecreate(ctx context.Context, path string, ev Evidence, opts Options, now time.Time) (*Store, QuarantineRecord, error) {
	return quarantineAndRecreate(ctx, path, ev, now, nil, func(ctx context.Context, path string) (*Store, error) {
		return Open(ctx, path, opts)
	})
}

// Opener opens a store file. Open satisfies it once bound to Options.
type Opener func(ctx context.Context, path string) (*Store, error)

// quarantineAndRecreate moves the files aside, then calls retire (if set) to
// release a still-open handle on them, then opens the replacement.
//
// retire must run after the rename. SQLite skips the close-time WAL
// checkpoint and sidecar cleanup for a file that no longer sits at its
// original path, so the relocated main file, -wal and -shm keep the bytes
// they had when corruption was seen.
func quarantineAndRecreate(ctx context.Context, path string, ev Evidence, now time.Time, retire func(), open Opener) (*Store, QuarantineRecord, error) {
	rec, err := Quarantine(path, ev, now)
	if retire != nil {
		retire()
	}
	if err != nil {
		return nil, rec, newStorageError(ErrCodeRecoveryFailed, ev, err)
	}

	st, err := open(ctx, path)
	if err != nil {
		return nil, rec, newStorageError(ErrCodeRecoveryFailed, ev, fmt.Errorf("reopen after quarantine: %w", err))
	}
	return st, rec, nil
}

// ListQuarantineRecords reads every record under root, oldest first.
// A missing root means nothing has been quarantined.
func ListQuarantineRecords(root string) ([]QuarantineRecord, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return []QuarantineRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read quarantine root: %w", err)
	}

	records := []QuarantineRecord{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(root, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read record %s: %w", entry.Name(), err)
		}
		var rec QuarantineRecord
		if err := yaml.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("parse record %s: %w", entry.Name(), err)
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}

// makeQuarantineDir creates <root>/<base>-<timestamp>, adding a numeric
// suffix if a directory for the same instant already exists.
func makeQuarantineDir(root, base string, now time.Time) (string, error) {
	name := fmt.Sprintf("%s-%s", base, now.UTC().Format(quarantineTimeFormat))
	dir := filepath.Join(root, name)
	for i := 1; ; i++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrExist) || i > 100 {
			return "", fmt.Errorf("create quarantine directory: %w", err)
		}
		dir = filepath.Join(root, fmt.Sprintf("%s-%d", name, i))
	}
}

// recordPath places the record beside the quarantine directory so the
// directory itself holds only the relocated files.
func recordPath(dir string) string {
	return dir + ".yaml"
}

// writeRecord writes the record to a temp file and renames it into place.
func writeRecord(path string, rec QuarantineRecord) error {
	data, err := yaml.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("marshal quarantine record: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write quarantine record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write quarantine record: %w", err)
	}
	return nil
}

// newRecordID generates a UUIDv7, falling back to v4.
func newRecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
