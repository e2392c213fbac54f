package store

import (
	"context"
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// Kind is the classification of a failed store operation.
type Kind string

const (
	KindMalformedHeader    Kind = "malformed-header"
	KindDiskImageMalformed Kind = "disk-image-malformed"
	KindSchemaMismatch     Kind = "schema-mismatch-unrecoverable"
	KindTransientLock      Kind = "transient-lock"
	KindTransientIO        Kind = "transient-io"
	KindUnknown            Kind = "unknown"
)

// IsCorruption reports whether the kind confirms structural corruption and
// therefore warrants quarantine.
func (k Kind) IsCorruption() bool {
	switch k {
	case KindMalformedHeader, KindDiskImageMalformed, KindSchemaMismatch:
		return true
	}
	return false
}

// IsTransient reports whether the kind is worth retrying with backoff.
func (k Kind) IsTransient() bool {
	return k == KindTransientLock || k == KindTransientIO
}

// Evidence is the outcome of classifying one failure.
type Evidence struct {
	Kind    Kind   `yaml:"kind" json:"kind"`
	Path    string `yaml:"originating_path" json:"originating_path"`
	Message string `yaml:"raw_message" json:"raw_message"`
}

// signature maps a fragment of a driver error message to a kind.
type signature struct {
	fragment string
	kind     Kind
}

// signatures is checked in order against the lower-cased error text. It
// catches errors that lost their sqlite3.Error type on the way up, e.g. ones
// flattened into strings by another layer.
var signatures = []signature{
	{"file is not a database", KindMalformedHeader},
	{"file is encrypted or is not a database", KindMalformedHeader},
	{"malformed database header", KindMalformedHeader},
	{"database disk image is malformed", KindDiskImageMalformed},
	{"malformed database schema", KindDiskImageMalformed},
	{"integrity check failed", KindDiskImageMalformed},
	{"schema mismatch", KindSchemaMismatch},
	{"database is locked", KindTransientLock},
	{"database table is locked", KindTransientLock},
	{"sqlite_busy", KindTransientLock},
	{"disk i/o error", KindTransientIO},
}

// Classify decides what a store failure means. It performs no I/O.
//
// Anything it does not recognize is KindUnknown, which is never treated as
// corruption: failing loudly is preferred over quarantining a healthy file.
func Classify(err error, path string) Evidence {
	ev := Evidence{Kind: KindUnknown, Path: path}
	if err == nil {
		return ev
	}
	ev.Message = err.Error()

	// Cancellation says nothing about the file.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ev
	}

	var headerErr *HeaderError
	if errors.As(err, &headerErr) {
		ev.Kind = KindMalformedHeader
		return ev
	}
	var integrityErr *IntegrityError
	if errors.As(err, &integrityErr) {
		ev.Kind = KindDiskImageMalformed
		return ev
	}
	var schemaErr *SchemaVersionError
	if errors.As(err, &schemaErr) {
		ev.Kind = KindSchemaMismatch
		return ev
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if kind, ok := kindForCode(sqliteErr.Code); ok {
			ev.Kind = kind
			return ev
		}
	}

	msg := strings.ToLower(ev.Message)
	for _, sig := range signatures {
		if strings.Contains(msg, sig.fragment) {
			ev.Kind = sig.kind
			return ev
		}
	}
	return ev
}

func kindForCode(code sqlite3.ErrNo) (Kind, bool) {
	switch code {
	case sqlite3.ErrNotADB:
		return KindMalformedHeader, true
	case sqlite3.ErrCorrupt:
		return KindDiskImageMalformed, true
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return KindTransientLock, true
	case sqlite3.ErrIoErr:
		return KindTransientIO, true
	}
	return "", false
}
