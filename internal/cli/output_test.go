package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/growkeeper/internal/schedule"
	"github.com/roach88/growkeeper/internal/settings"
	"github.com/roach88/growkeeper/internal/store"
)

func TestExitError(t *testing.T) {
	cause := errors.New("boom")
	err := WrapExitError(ExitCommandError, "open store", cause)

	assert.Equal(t, "open store: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, ExitFailure, GetExitCode(cause))
	assert.Equal(t, "plain", NewExitError(ExitFailure, "plain").Error())
}

func TestFormatterSuccessText(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, f.Success("ignored", func(w io.Writer) { fmt.Fprint(w, "rendered\n") }))
	require.NoError(t, f.Success("plain", nil))
	assert.Equal(t, "rendered\nplain\n", buf.String())
}

func TestFormatterSuccessJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, f.Success(map[string]int{"n": 1}, func(io.Writer) { t.Fatal("text renderer used in JSON mode") }))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"n": float64(1)}, resp.Data)
}

func TestFormatterError(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}
	require.NoError(t, f.Error(ErrCodeNotFound, "no such unit", "u1"))
	assert.Equal(t, "Error [E002]: no such unit\nDetails: u1\n", buf.String())

	buf.Reset()
	f.Format = "json"
	require.NoError(t, f.Error(ErrCodeNotFound, "no such unit", nil))
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestVerboseLogUsesErrWriter(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: true}
	f.VerboseLog("opening %s", "grow.db")
	assert.Empty(t, out.String())
	assert.Equal(t, "opening grow.db\n", diag.String())

	f.Verbose = false
	f.VerboseLog("hidden")
	assert.Equal(t, "opening grow.db\n", diag.String())
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
		exit int
	}{
		{"unit not found", fmt.Errorf("%w: u1", settings.ErrUnitNotFound), ErrCodeNotFound, ExitCommandError},
		{"invalid settings", settings.ErrInvalidSettings, ErrCodeInvalidInput, ExitCommandError},
		{"invalid time", schedule.ErrInvalidScheduleTime, ErrCodeInvalidInput, ExitCommandError},
		{"invalid device", schedule.ErrInvalidDeviceType, ErrCodeInvalidInput, ExitCommandError},
		{"service unavailable", settings.ErrStorageUnavailable, ErrCodeStorageUnavailable, ExitFailure},
		{"service recovery failed", settings.ErrRecoveryFailed, ErrCodeRecoveryFailed, ExitFailure},
		{"store unavailable", &store.StorageError{Code: store.ErrCodeStorageUnavailable}, ErrCodeStorageUnavailable, ExitFailure},
		{"store transient", &store.StorageError{Code: store.ErrCodeTransient}, ErrCodeStorageUnavailable, ExitFailure},
		{"store recovery failed", &store.StorageError{Code: store.ErrCodeRecoveryFailed}, ErrCodeRecoveryFailed, ExitFailure},
		{"exit error", NewExitError(ExitCommandError, "bad flag"), ErrCodeGeneric, ExitCommandError},
		{"other", errors.New("boom"), ErrCodeGeneric, ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, exit := classifyError(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.exit, exit)
		})
	}
}
