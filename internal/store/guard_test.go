package store

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time { return testTime }

func TestGuard_OpenRecoversCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grow.db")
	writeGarbage(t, path, []byte("garbage garbage garbage garbage"))

	g := NewGuard(path, WithClock(fixedNow))
	t.Cleanup(func() { g.Close() })

	require.NoError(t, g.Open(context.Background()))

	records := g.Records()
	require.Len(t, records, 1)
	assert.Equal(t, KindMalformedHeader, records[0].Evidence.Kind)

	err := g.View(context.Background(), func(s *Store) error {
		_, err := s.ListUnits(context.Background())
		return err
	})
	assert.NoError(t, err)
}

func TestGuard_LazyOpenOnFirstOperation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.db")
	g := NewGuard(path)
	t.Cleanup(func() { g.Close() })

	err := g.Update(context.Background(), func(s *Store) error {
		return s.CreateUnit(context.Background(), Unit{ID: "u1", Name: "tent", CreatedAt: testTime}, `{}`)
	})
	require.NoError(t, err)

	var units []Unit
	err = g.View(context.Background(), func(s *Store) error {
		var err error
		units, err = s.ListUnits(context.Background())
		return err
	})
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "tent", units[0].Name)
	assert.Empty(t, g.Records())
}

func TestGuard_TransientLockIsNotQuarantined(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grow.db")
	writeGarbage(t, path, []byte("pretend this is a healthy store"))

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectQuery("FROM units").WillReturnError(errors.New("database is locked"))
	mock.ExpectClose()

	g := NewGuard(path, WithOpener(func(ctx context.Context, path string) (*Store, error) {
		return NewFromDB(db, path), nil
	}))

	err = g.View(context.Background(), func(s *Store) error {
		_, err := s.ListUnits(context.Background())
		return err
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, IsRecoveryFailed(err))
	assert.Empty(t, g.Records())

	_, statErr := os.Stat(QuarantineRoot(path))
	assert.True(t, os.IsNotExist(statErr), "nothing may be quarantined")
	got, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "pretend this is a healthy store", string(got))

	require.NoError(t, g.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGuard_TransientOpenFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.db")
	g := NewGuard(path, WithOpener(func(ctx context.Context, path string) (*Store, error) {
		return nil, sqlite3.Error{Code: sqlite3.ErrBusy}
	}))

	err := g.Open(context.Background())
	assert.True(t, IsTransient(err))
	assert.Empty(t, g.Records())
}

func TestGuard_UnknownOpenFailureIsUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.db")
	g := NewGuard(path, WithOpener(func(ctx context.Context, path string) (*Store, error) {
		return nil, os.ErrPermission
	}))

	err := g.Open(context.Background())
	assert.True(t, IsStorageUnavailable(err))
	assert.ErrorIs(t, err, os.ErrPermission)

	_, statErr := os.Stat(QuarantineRoot(path))
	assert.True(t, os.IsNotExist(statErr))

	// Not sticky: a later attempt tries again.
	err = g.Open(context.Background())
	assert.True(t, IsStorageUnavailable(err))
}

func TestGuard_RecoveryFailureIsSticky(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.db")
	var calls atomic.Int32
	g := NewGuard(path, WithClock(fixedNow), WithOpener(func(ctx context.Context, path string) (*Store, error) {
		calls.Add(1)
		return nil, &HeaderError{Path: path, Header: []byte("junk")}
	}))

	err := g.Open(context.Background())
	require.Error(t, err)
	assert.True(t, IsRecoveryFailed(err))
	assert.Equal(t, int32(2), calls.Load(), "open, then reopen after quarantine")

	err = g.View(context.Background(), func(*Store) error {
		t.Fatal("operation must not run on a failed guard")
		return nil
	})
	assert.True(t, IsRecoveryFailed(err))
	assert.Equal(t, int32(2), calls.Load(), "failed guard does not try again")
}

func TestGuard_OperationCorruptionRecoversAndRetriesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.db")
	g := NewGuard(path, WithClock(fixedNow))
	t.Cleanup(func() { g.Close() })
	require.NoError(t, g.Open(context.Background()))

	var attempts int
	err := g.Update(context.Background(), func(s *Store) error {
		attempts++
		if attempts == 1 {
			return &IntegrityError{Path: s.Path(), Problems: []string{"page 7 is never used"}}
		}
		return s.CreateUnit(context.Background(), Unit{ID: "u1", Name: "tent", CreatedAt: testTime}, `{}`)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	records := g.Records()
	require.Len(t, records, 1)
	assert.Equal(t, KindDiskImageMalformed, records[0].Evidence.Kind)
	assert.Contains(t, records[0].RelocatedFiles, "grow.db")
}

func TestGuard_PersistentCorruptionIsRecoveryFailed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.db")
	g := NewGuard(path, WithClock(fixedNow))
	t.Cleanup(func() { g.Close() })

	var attempts int
	err := g.View(context.Background(), func(s *Store) error {
		attempts++
		return errors.New("database disk image is malformed")
	})
	require.Error(t, err)
	assert.True(t, IsRecoveryFailed(err))
	assert.Equal(t, 2, attempts, "retried exactly once")
	assert.Len(t, g.Records(), 1)
}

func TestGuard_OtherErrorsPassThrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.db")
	g := NewGuard(path)
	t.Cleanup(func() { g.Close() })

	err := g.View(context.Background(), func(s *Store) error {
		_, err := s.GetUnit(context.Background(), "missing")
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, g.Records())
}

func TestGuard_ConcurrentReadersRecoverOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.db")
	g := NewGuard(path, WithClock(fixedNow))
	t.Cleanup(func() { g.Close() })
	require.NoError(t, g.Open(context.Background()))

	var first *Store
	require.NoError(t, g.View(context.Background(), func(s *Store) error {
		first = s
		return nil
	}))

	// Every reader that sees the first store reports corruption. Readers that
	// lose the race must reuse the replacement instead of recovering again.
	var start sync.WaitGroup
	start.Add(1)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start.Wait()
			errs <- g.View(context.Background(), func(s *Store) error {
				if s == first {
					return &IntegrityError{Path: path, Problems: []string{"bad"}}
				}
				return nil
			})
		}()
	}
	start.Done()
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, g.Records(), 1)
}

func TestGuard_Probe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.db")
	g := NewGuard(path, WithOptions(Options{IntegrityCheck: IntegrityQuick}))
	t.Cleanup(func() { g.Close() })

	require.NoError(t, g.Probe(context.Background()))
	assert.Empty(t, g.Records())
}

func TestGuard_CloseThenReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.db")
	g := NewGuard(path)

	require.NoError(t, g.Open(context.Background()))
	require.NoError(t, g.Close())
	require.NoError(t, g.Close())

	require.NoError(t, g.View(context.Background(), func(s *Store) error {
		return s.CheckIntegrity(context.Background(), IntegrityQuick)
	}))
	require.NoError(t, g.Close())
}

func TestGuard_MinFreeBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.db")
	g := NewGuard(path, WithMinFreeBytes(math.MaxUint64))

	err := g.Open(context.Background())
	assert.True(t, IsStorageUnavailable(err))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "store must not be created")
}

func TestGuard_ConcurrentPersistentCorruptionFailsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.db")
	g := NewGuard(path, WithClock(fixedNow))
	t.Cleanup(func() { g.Close() })
	require.NoError(t, g.Open(context.Background()))

	var start sync.WaitGroup
	start.Add(1)
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start.Wait()
			errs <- g.View(context.Background(), func(*Store) error {
				return errors.New("database disk image is malformed")
			})
		}()
	}
	start.Done()
	wg.Wait()
	close(errs)

	var first error
	for err := range errs {
		require.True(t, IsRecoveryFailed(err), "got %v", err)
		if first == nil {
			first = err
		}
		assert.Equal(t, first, err, "every caller sees the sticky error")
	}

	err := g.Update(context.Background(), func(*Store) error {
		t.Fatal("operation must not run on a failed guard")
		return nil
	})
	assert.Equal(t, first, err)
}

func TestGuard_RuntimeRecoveryKeepsWALEvidence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grow.db")
	g := NewGuard(path, WithClock(fixedNow))
	t.Cleanup(func() { g.Close() })

	require.NoError(t, g.Update(context.Background(), func(s *Store) error {
		return s.CreateUnit(context.Background(), Unit{ID: "u1", Name: "tent", CreatedAt: testTime}, `{}`)
	}))

	var mainBefore, walBefore []byte
	var attempts int
	err := g.Update(context.Background(), func(s *Store) error {
		attempts++
		if attempts > 1 {
			return nil
		}
		var err error
		mainBefore, err = os.ReadFile(path)
		if err != nil {
			t.Fatalf("read main file: %v", err)
		}
		walBefore, err = os.ReadFile(path + "-wal")
		if err != nil {
			t.Fatalf("read wal: %v", err)
		}
		return &IntegrityError{Path: path, Problems: []string{"row 3 missing from index"}}
	})
	require.NoError(t, err)
	require.NotEmpty(t, walBefore, "committed write must still sit in the wal")

	records := g.Records()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Contains(t, rec.RelocatedFiles, "grow.db")
	assert.Contains(t, rec.RelocatedFiles, "grow.db-wal")
	assert.Contains(t, rec.RelocatedFiles, "grow.db-shm")

	mainAfter, err := os.ReadFile(filepath.Join(rec.QuarantineDirectory, "grow.db"))
	require.NoError(t, err)
	walAfter, err := os.ReadFile(filepath.Join(rec.QuarantineDirectory, "grow.db-wal"))
	require.NoError(t, err)
	assert.Equal(t, mainBefore, mainAfter, "closing the old store must not checkpoint into the quarantined file")
	assert.Equal(t, walBefore, walAfter)

	// The replacement store is empty and usable.
	err = g.View(context.Background(), func(s *Store) error {
		units, err := s.ListUnits(context.Background())
		if err != nil {
			return err
		}
		assert.Empty(t, units)
		return nil
	})
	require.NoError(t, err)
}

func TestGuard_RecoverAfterCloseKeepsHealthyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.db")
	g := NewGuard(path, WithClock(fixedNow))
	t.Cleanup(func() { g.Close() })

	require.NoError(t, g.Update(context.Background(), func(s *Store) error {
		return s.CreateUnit(context.Background(), Unit{ID: "u1", Name: "tent", CreatedAt: testTime}, `{}`)
	}))
	g.mu.RLock()
	gen := g.gen
	g.mu.RUnlock()

	// A caller that saw corruption on gen only reaches recover after the
	// Guard was closed underneath it.
	require.NoError(t, g.Close())
	err := g.recover(context.Background(), gen, Evidence{Kind: KindDiskImageMalformed, Path: path})
	require.NoError(t, err)
	assert.Empty(t, g.Records(), "a closed store is not quarantined")

	_, statErr := os.Stat(QuarantineRoot(path))
	assert.True(t, os.IsNotExist(statErr))

	err = g.View(context.Background(), func(s *Store) error {
		_, err := s.GetUnit(context.Background(), "u1")
		return err
	})
	assert.NoError(t, err)
}
