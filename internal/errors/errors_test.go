// Package errors tests for error code definitions and error handling.
package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestErrorCodeValues verifies all error codes have non-empty, unique values.
func TestErrorCodeValues(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound, ErrPermission, ErrValidation, ErrConfig,
		ErrDatabase, ErrMigration,
		ErrQueueStorage, ErrDeliveryFailed, ErrOffline,
		ErrTxConflict, ErrTxAborted, ErrUnknownKind,
		ErrRemoteUnauthorized, ErrRemoteRejected, ErrRemoteUnavailable,
		ErrCryptoFailed,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		assert.NotEmpty(t, code)
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrDatabase, Message: "write failed", Err: stderrors.New("disk full")},
			want:     "[DATABASE_ERROR] write failed: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.appError.Error())
		})
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(ErrQueueStorage, "persist queue", base)

	assert.True(t, stderrors.Is(err, base))
	assert.Equal(t, base, err.Unwrap())
}

func TestIs_walksChain(t *testing.T) {
	inner := New(ErrPermission, "denied")
	outer := Wrap(ErrTxAborted, "transaction failed", inner)
	wrapped := fmt.Errorf("record event: %w", outer)

	assert.True(t, Is(wrapped, ErrTxAborted))
	assert.True(t, Is(wrapped, ErrPermission))
	assert.False(t, Is(wrapped, ErrNotFound))
	assert.False(t, Is(stderrors.New("plain"), ErrInternal))
	assert.False(t, Is(nil, ErrInternal))
}

func TestCode(t *testing.T) {
	err := fmt.Errorf("ctx: %w", Newf(ErrUnknownKind, "kind %q", "dancing"))
	require.Equal(t, ErrUnknownKind, Code(err))
	assert.Equal(t, ErrInternal, Code(stderrors.New("plain")))
	assert.Contains(t, err.Error(), `kind "dancing"`)
}
