package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a unit or its settings row does not exist.
var ErrNotFound = errors.New("not found")

// StorageError is a failure of the storage layer itself, as opposed to a
// failure of the data it holds.
//
// Only ErrCodeStorageUnavailable and ErrCodeRecoveryFailed are meant to leave
// the storage layer. ErrCodeCorruptionDetected is resolved by quarantine
// before an operation returns, and ErrCodeTransient is consumed by Retry.
type StorageError struct {
	// Code identifies the error category.
	Code StorageErrorCode

	// Path is the store file the error concerns.
	Path string

	// Evidence is the classification that led to this error, if any.
	Evidence *Evidence

	// Err is the underlying cause.
	Err error
}

// StorageErrorCode categorizes storage errors.
type StorageErrorCode string

const (
	// ErrCodeStorageUnavailable indicates the store cannot be used and is not
	// believed to be corrupt (permissions, disk full, unknown driver errors).
	ErrCodeStorageUnavailable StorageErrorCode = "STORAGE_UNAVAILABLE"

	// ErrCodeCorruptionDetected indicates confirmed structural corruption.
	ErrCodeCorruptionDetected StorageErrorCode = "CORRUPTION_DETECTED"

	// ErrCodeRecoveryFailed indicates quarantine or recreation could not complete.
	ErrCodeRecoveryFailed StorageErrorCode = "RECOVERY_FAILED"

	// ErrCodeTransient indicates lock contention or a busy device; retry later.
	ErrCodeTransient StorageErrorCode = "TRANSIENT"
)

// Error implements the error interface.
func (e *StorageError) Error() string {
	msg := string(e.Code)
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path=%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *StorageError) Unwrap() error {
	return e.Err
}

func asStorageError(err error, target **StorageError) bool {
	return errors.As(err, target)
}

func hasCode(err error, code StorageErrorCode) bool {
	var se *StorageError
	if asStorageError(err, &se) {
		return se.Code == code
	}
	return false
}

// IsStorageUnavailable reports whether err is a StorageUnavailable error.
func IsStorageUnavailable(err error) bool { return hasCode(err, ErrCodeStorageUnavailable) }

// IsRecoveryFailed reports whether err is a RecoveryFailed error.
func IsRecoveryFailed(err error) bool { return hasCode(err, ErrCodeRecoveryFailed) }

// IsTransient reports whether err is a transient storage error.
func IsTransient(err error) bool { return hasCode(err, ErrCodeTransient) }

// IsCorruption reports whether err is a CorruptionDetected error.
func IsCorruption(err error) bool { return hasCode(err, ErrCodeCorruptionDetected) }

func newStorageError(code StorageErrorCode, ev Evidence, err error) *StorageError {
	return &StorageError{Code: code, Path: ev.Path, Evidence: &ev, Err: err}
}

// HeaderError reports a store file that does not start with the SQLite magic.
type HeaderError struct {
	Path   string
	Header []byte
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("malformed database header in %s: %q", e.Path, e.Header)
}

// IntegrityError reports problems found by the integrity probe.
type IntegrityError struct {
	Path     string
	Problems []string
}

func (e *IntegrityError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("integrity check failed for %s: %s", e.Path, e.Problems[0])
	}
	return fmt.Sprintf("integrity check failed for %s: %d problems, first: %s", e.Path, len(e.Problems), e.Problems[0])
}

// SchemaVersionError reports a store whose schema cannot be brought to the
// current version.
type SchemaVersionError struct {
	Found     int
	Supported int
	Reason    string
}

func (e *SchemaVersionError) Error() string {
	return fmt.Sprintf("schema mismatch: %s (found version %d, supported %d)", e.Reason, e.Found, e.Supported)
}
