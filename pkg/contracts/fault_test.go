package contracts_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veriledger/veriledger/pkg/contracts"
)

// TestFault_ErrorsAs verifies that Faults survive fmt.Errorf wrapping so
// callers can classify at any depth.
func TestFault_ErrorsAs(t *testing.T) {
	inner := contracts.NewFault(contracts.PreconditionFailed, "expected version 3, found 4")
	wrapped := fmt.Errorf("append failed: %w", inner)

	kind, ok := contracts.KindOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, contracts.PreconditionFailed, kind)
	assert.True(t, contracts.IsKind(wrapped, contracts.PreconditionFailed))
	assert.False(t, contracts.IsKind(wrapped, contracts.BadRequest))
}

// TestFault_UnwrapChain verifies that a wrapped cause stays reachable via
// errors.Is.
func TestFault_UnwrapChain(t *testing.T) {
	cause := errors.New("connection reset")
	f := contracts.WrapFault(contracts.StorageError, "insert failed", cause)

	assert.True(t, errors.Is(f, cause))
	assert.Equal(t, "StorageError: insert failed", f.Error())
}

func TestFault_KindOfPlainError(t *testing.T) {
	_, ok := contracts.KindOf(errors.New("plain"))
	assert.False(t, ok)
}

// TestKind_HTTPStatus pins the taxonomy-to-status mapping: 400 malformed,
// 403 RBAC, 404 unknown type, 409 precondition/idempotency, 5xx internal.
func TestKind_HTTPStatus(t *testing.T) {
	cases := map[contracts.Kind]int{
		contracts.BadRequest:              http.StatusBadRequest,
		contracts.EvidencePolicyViolation: http.StatusBadRequest,
		contracts.PermissionDenied:        http.StatusForbidden,
		contracts.UnknownEventType:        http.StatusNotFound,
		contracts.PreconditionFailed:      http.StatusConflict,
		contracts.IdempotencyMismatch:     http.StatusConflict,
		contracts.ConcurrencyConflict:     http.StatusConflict,
		contracts.Timeout:                 http.StatusServiceUnavailable,
		contracts.SignatureError:          http.StatusInternalServerError,
		contracts.KeyFormatError:          http.StatusInternalServerError,
		contracts.EncodingError:           http.StatusInternalServerError,
		contracts.StorageError:            http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.HTTPStatus(), "kind %s", kind)
	}
}

func TestKind_Retryable(t *testing.T) {
	assert.True(t, contracts.Timeout.Retryable())
	assert.True(t, contracts.StorageError.Retryable())
	assert.False(t, contracts.PreconditionFailed.Retryable())
	assert.False(t, contracts.SignatureError.Retryable())
}
