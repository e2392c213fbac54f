package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"

	"github.com/roach88/growkeeper/internal/schedule"
	"github.com/roach88/growkeeper/internal/store"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"not found", fmt.Errorf("unit u1: %w", store.ErrNotFound), ErrUnitNotFound},
		{"recovery failed", &store.StorageError{Code: store.ErrCodeRecoveryFailed}, ErrRecoveryFailed},
		{"unavailable", &store.StorageError{Code: store.ErrCodeStorageUnavailable}, ErrStorageUnavailable},
		{"transient leaks as unavailable", &store.StorageError{Code: store.ErrCodeTransient}, ErrStorageUnavailable},
		{"driver error", errors.New("near \"SELEC\": syntax error"), ErrStorageUnavailable},
		{"canceled", context.Canceled, ErrStorageUnavailable},
		{"schedule time passes through", fmt.Errorf("start: %w", schedule.ErrInvalidScheduleTime), schedule.ErrInvalidScheduleTime},
		{"device type passes through", schedule.ErrInvalidDeviceType, schedule.ErrInvalidDeviceType},
		{"invalid settings passes through", ErrInvalidSettings, ErrInvalidSettings},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translate(tt.err)
			assert.ErrorIs(t, got, tt.want)

			var se *store.StorageError
			assert.False(t, errors.As(got, &se), "storage errors must not cross the boundary")
		})
	}
	assert.NoError(t, translate(nil))
}

func TestService_UnavailableStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.db")
	f := newFixture(t, path, store.WithOpener(func(ctx context.Context, path string) (*store.Store, error) {
		return nil, os.ErrPermission
	}))

	_, err := f.svc.ListUnits(context.Background())
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.False(t, store.IsStorageUnavailable(err))
}

func TestService_TransientExhaustionIsUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.db")
	calls := 0
	f := newFixture(t, path, store.WithOpener(func(ctx context.Context, path string) (*store.Store, error) {
		calls++
		return nil, sqlite3.Error{Code: sqlite3.ErrBusy}
	}))

	_, err := f.svc.GetUnitSettings(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Equal(t, fastRetry.Attempts, calls)
	assert.Empty(t, f.guard.Records())
}

func TestService_RecoveryFailed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.db")
	f := newFixture(t, path, store.WithOpener(func(ctx context.Context, path string) (*store.Store, error) {
		return nil, &store.HeaderError{Path: path, Header: []byte("junk")}
	}))

	_, err := f.svc.CreateUnit(context.Background(), "tent")
	assert.ErrorIs(t, err, ErrRecoveryFailed)

	_, err = f.svc.ListUnits(context.Background())
	assert.ErrorIs(t, err, ErrRecoveryFailed, "the guard stays failed")
}
