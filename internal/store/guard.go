package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/zap"
)

// Guard owns the single live Store for one path and mediates every access.
//
// Reads share the lock; writes, opening and recovery hold it exclusively.
// When an operation fails with a corruption kind, the Guard quarantines the
// file, opens a fresh store and runs the operation once more. After a
// RecoveryFailed error the Guard refuses all further work until a new Guard
// is created.
type Guard struct {
	mu    sync.RWMutex
	path  string
	opts  Options
	open  Opener
	now   func() time.Time
	log   *zap.Logger
	store *Store

	// gen increases every time a new Store is installed. A goroutine that saw
	// corruption on generation n only recovers if the Guard is still on n.
	gen uint64

	failed  error
	records []QuarantineRecord

	minFreeBytes uint64
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithOptions sets the options passed to Open.
func WithOptions(opts Options) GuardOption {
	return func(g *Guard) { g.opts = opts }
}

// WithOpener replaces Open. Tests use it to inject a prepared Store.
func WithOpener(open Opener) GuardOption {
	return func(g *Guard) { g.open = open }
}

// WithClock sets the time source used to name quarantine directories.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) GuardOption {
	return func(g *Guard) { g.log = log }
}

// WithMinFreeBytes makes opening fail with StorageUnavailable when the
// filesystem holding the store has less free space. Zero disables the check.
func WithMinFreeBytes(n uint64) GuardOption {
	return func(g *Guard) { g.minFreeBytes = n }
}

// NewGuard creates a Guard for path. Nothing is opened until Open or the
// first operation.
func NewGuard(path string, options ...GuardOption) *Guard {
	g := &Guard{
		path: path,
		opts: DefaultOptions(),
		now:  time.Now,
		log:  zap.NewNop(),
	}
	for _, opt := range options {
		opt(g)
	}
	if g.open == nil {
		opts := g.opts
		g.open = func(ctx context.Context, path string) (*Store, error) {
			return Open(ctx, path, opts)
		}
	}
	return g
}

// Path returns the store path the Guard manages.
func (g *Guard) Path() string {
	return g.path
}

// Open opens the store if it is not open yet, recovering from corruption on
// the way. It is safe to call more than once.
func (g *Guard) Open(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.store != nil {
		return nil
	}
	return g.openLocked(ctx)
}

// Close releases the Store. A later operation opens it again.
func (g *Guard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.store == nil {
		return nil
	}
	err := g.store.Close()
	g.store = nil
	return err
}

// Records returns the quarantine records created by this Guard.
func (g *Guard) Records() []QuarantineRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]QuarantineRecord, len(g.records))
	copy(out, g.records)
	return out
}

// View runs fn with shared access to the Store.
func (g *Guard) View(ctx context.Context, fn func(*Store) error) error {
	return g.do(ctx, false, fn)
}

// Update runs fn with exclusive access to the Store. fn should perform a
// single mutation, ideally in one transaction.
func (g *Guard) Update(ctx context.Context, fn func(*Store) error) error {
	return g.do(ctx, true, fn)
}

// Probe runs the integrity check against the live Store. Corruption found by
// the probe is recovered like any other.
func (g *Guard) Probe(ctx context.Context) error {
	mode := g.opts.withDefaults().IntegrityCheck
	return g.View(ctx, func(s *Store) error {
		return s.CheckIntegrity(ctx, mode)
	})
}

func (g *Guard) do(ctx context.Context, write bool, fn func(*Store) error) error {
	for attempt := 0; ; attempt++ {
		st, gen, release, err := g.acquire(ctx, write)
		if err != nil {
			return err
		}
		opErr := fn(st)
		release()
		if opErr == nil {
			return nil
		}

		ev := Classify(opErr, g.path)
		switch {
		case ev.Kind.IsCorruption() && attempt == 0:
			if err := g.recover(ctx, gen, ev); err != nil {
				return err
			}
			continue
		case ev.Kind.IsCorruption():
			// The fresh store is corrupt too; do not loop.
			return g.markFailed(newStorageError(ErrCodeRecoveryFailed, ev, opErr))
		case ev.Kind.IsTransient():
			return newStorageError(ErrCodeTransient, ev, opErr)
		default:
			return opErr
		}
	}
}

// acquire returns the live Store with the lock held, opening it first if
// needed. release must be called exactly once.
func (g *Guard) acquire(ctx context.Context, write bool) (*Store, uint64, func(), error) {
	for {
		if write {
			g.mu.Lock()
		} else {
			g.mu.RLock()
		}

		if g.failed != nil {
			err := g.failed
			g.unlock(write)
			return nil, 0, nil, err
		}
		if g.store != nil {
			return g.store, g.gen, func() { g.unlock(write) }, nil
		}

		if write {
			err := g.openLocked(ctx)
			if err != nil {
				g.mu.Unlock()
				return nil, 0, nil, err
			}
			return g.store, g.gen, func() { g.mu.Unlock() }, nil
		}

		g.mu.RUnlock()
		if err := g.Open(ctx); err != nil {
			return nil, 0, nil, err
		}
	}
}

func (g *Guard) unlock(write bool) {
	if write {
		g.mu.Unlock()
	} else {
		g.mu.RUnlock()
	}
}

// recover quarantines and recreates the store under the exclusive lock,
// unless generation gen is no longer the live one. That covers both another
// goroutine having recovered already and the Guard having been closed in
// between; a closed Guard reopens lazily on the retry.
func (g *Guard) recover(ctx context.Context, gen uint64, ev Evidence) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failed != nil {
		return g.failed
	}
	if g.gen != gen || g.store == nil {
		return nil
	}
	return g.recreateLocked(ctx, ev)
}

// openLocked opens the store and routes failures through Classify.
// The caller must hold g.mu exclusively.
func (g *Guard) openLocked(ctx context.Context) error {
	if g.failed != nil {
		return g.failed
	}
	if err := g.checkFreeSpace(); err != nil {
		return err
	}

	st, err := g.open(ctx, g.path)
	if err == nil {
		g.install(st)
		g.log.Debug("store opened", zap.String("path", g.path))
		return nil
	}

	ev := Classify(err, g.path)
	switch {
	case ev.Kind.IsCorruption():
		return g.recreateLocked(ctx, ev)
	case ev.Kind.IsTransient():
		return newStorageError(ErrCodeTransient, ev, err)
	default:
		g.log.Error("store unavailable",
			zap.String("path", g.path),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))
		return newStorageError(ErrCodeStorageUnavailable, ev, err)
	}
}

// recreateLocked runs quarantine and recreate. The caller must hold g.mu
// exclusively. A live Store is closed only after its files have moved.
func (g *Guard) recreateLocked(ctx context.Context, ev Evidence) error {
	g.log.Warn("store corruption detected, quarantining",
		zap.String("path", g.path),
		zap.String("kind", string(ev.Kind)),
		zap.String("message", ev.Message))

	var retire func()
	if old := g.store; old != nil {
		g.store = nil
		retire = func() {
			if err := old.Close(); err != nil {
				g.log.Warn("closing corrupt store", zap.String("path", g.path), zap.Error(err))
			}
		}
	}

	st, rec, err := quarantineAndRecreate(ctx, g.path, ev, g.now(), retire, g.open)
	if err != nil {
		g.log.Error("store recovery failed", zap.String("path", g.path), zap.Error(err))
		return g.fail(err)
	}

	g.records = append(g.records, rec)
	g.install(st)
	g.log.Warn("store recreated",
		zap.String("path", g.path),
		zap.String("quarantine_directory", rec.QuarantineDirectory),
		zap.Strings("relocated_files", rec.RelocatedFiles))
	return nil
}

func (g *Guard) install(st *Store) {
	g.store = st
	g.gen++
}

// markFailed makes err sticky from outside the lock. If the Guard already
// failed, the first error wins.
func (g *Guard) markFailed(err error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failed != nil {
		return g.failed
	}
	return g.fail(err)
}

// fail makes err sticky. The caller must hold g.mu exclusively.
func (g *Guard) fail(err error) error {
	var se *StorageError
	if !errors.As(err, &se) {
		err = &StorageError{Code: ErrCodeRecoveryFailed, Path: g.path, Err: err}
	}
	g.failed = err
	return err
}

func (g *Guard) checkFreeSpace() error {
	if g.minFreeBytes == 0 {
		return nil
	}
	usage, err := disk.Usage(filepath.Dir(g.path))
	if err != nil {
		// Not being able to measure is not a reason to refuse service.
		g.log.Warn("free space check failed", zap.String("path", g.path), zap.Error(err))
		return nil
	}
	if usage.Free < g.minFreeBytes {
		return &StorageError{
			Code: ErrCodeStorageUnavailable,
			Path: g.path,
			Err:  fmt.Errorf("only %d bytes free, need %d", usage.Free, g.minFreeBytes),
		}
	}
	return nil
}
