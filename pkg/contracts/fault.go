package contracts

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind names a failure class in the ledger's error taxonomy. The string
// value is the wire name carried in problem responses.
type Kind string

const (
	BadRequest              Kind = "BadRequest"
	UnknownEventType        Kind = "UnknownEventType"
	PermissionDenied        Kind = "PermissionDenied"
	EvidencePolicyViolation Kind = "EvidencePolicyViolation"
	PreconditionFailed      Kind = "PreconditionFailed"
	IdempotencyMismatch     Kind = "IdempotencyMismatch"
	ConcurrencyConflict     Kind = "ConcurrencyConflict"
	Timeout                 Kind = "Timeout"
	SignatureError          Kind = "SignatureError"
	KeyFormatError          Kind = "KeyFormatError"
	EncodingError           Kind = "EncodingError"
	StorageError            Kind = "StorageError"
)

// Fault is a classified ledger error. Components return Faults at their
// boundaries; the API edge maps Kind onto a transport status.
type Fault struct {
	Kind   Kind
	Detail string
	Err    error
}

func (f *Fault) Error() string {
	if f.Detail == "" {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

func (f *Fault) Unwrap() error { return f.Err }

// NewFault builds a Fault with a fixed detail string.
func NewFault(kind Kind, detail string) *Fault {
	return &Fault{Kind: kind, Detail: detail}
}

// Faultf builds a Fault with a formatted detail string.
func Faultf(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WrapFault classifies an underlying error while preserving it for
// errors.Is/As chains.
func WrapFault(kind Kind, detail string, err error) *Fault {
	return &Fault{Kind: kind, Detail: detail, Err: err}
}

// KindOf returns the taxonomy kind carried by err, or ok=false when err is
// not a Fault.
func KindOf(err error) (Kind, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// HTTPStatus maps the kind onto the status code the API edge responds with.
func (k Kind) HTTPStatus() int {
	switch k {
	case BadRequest, EvidencePolicyViolation:
		return http.StatusBadRequest
	case PermissionDenied:
		return http.StatusForbidden
	case UnknownEventType:
		return http.StatusNotFound
	case PreconditionFailed, IdempotencyMismatch, ConcurrencyConflict:
		return http.StatusConflict
	case Timeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a client may safely retry the same request with
// the same idempotency key.
func (k Kind) Retryable() bool {
	switch k {
	case Timeout, StorageError:
		return true
	default:
		return false
	}
}
