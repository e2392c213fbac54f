package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/growkeeper/internal/schedule"
	"github.com/roach88/growkeeper/internal/store"
)

// Errors returned by Service. Nothing else crosses the service boundary;
// callers can rely on errors.Is against exactly these six values.
var (
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrRecoveryFailed     = errors.New("storage recovery failed")
	ErrUnitNotFound       = errors.New("unit not found")
	ErrInvalidSettings    = errors.New("invalid settings")
)

var domainErrors = []error{
	ErrStorageUnavailable,
	ErrRecoveryFailed,
	ErrUnitNotFound,
	ErrInvalidSettings,
	schedule.ErrInvalidScheduleTime,
	schedule.ErrInvalidDeviceType,
}

// translate maps any error to one of the domain errors. The original text is
// kept for logs, but the storage error itself is not reachable by Unwrap.
func translate(err error) error {
	if err == nil {
		return nil
	}
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return err
		}
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrUnitNotFound, err)
	case store.IsRecoveryFailed(err):
		return fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
