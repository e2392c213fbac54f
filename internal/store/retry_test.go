package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = RetryPolicy{Attempts: 4, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}

func transientErr() error {
	return newStorageError(ErrCodeTransient, Evidence{Kind: KindTransientLock, Path: "grow.db"}, errors.New("database is locked"))
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy, func(context.Context) error {
		calls++
		if calls < 3 {
			return transientErr()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustionIsStorageUnavailable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy, func(context.Context) error {
		calls++
		return transientErr()
	})
	require.Error(t, err)
	assert.True(t, IsStorageUnavailable(err))
	assert.False(t, IsTransient(err))
	assert.Equal(t, fastPolicy.Attempts, calls)

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "grow.db", se.Path)
}

func TestRetry_NonTransientReturnsImmediately(t *testing.T) {
	want := errors.New("boom")
	calls := 0
	err := Retry(context.Background(), fastPolicy, func(context.Context) error {
		calls++
		return want
	})
	assert.ErrorIs(t, err, want)
	assert.Equal(t, 1, calls)
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{Attempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour}

	calls := 0
	err := Retry(ctx, policy, func(context.Context) error {
		calls++
		cancel()
		return transientErr()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoff_Bounds(t *testing.T) {
	p := RetryPolicy{Attempts: 10, BaseDelay: 10 * time.Millisecond, MaxDelay: 80 * time.Millisecond}
	for attempt := 1; attempt < 10; attempt++ {
		d := backoff(p, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, p.MaxDelay)
	}
}
