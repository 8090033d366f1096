// Package api serves the ledger over HTTP: the append endpoint, chain reads,
// the evidence vault surface, and health probes. All failures leave as
// RFC 7807 problem responses carrying the fault taxonomy name.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/veriledger/veriledger/pkg/contracts"
	"github.com/veriledger/veriledger/pkg/evidence"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs). Fault
// responses additionally carry the taxonomy name in "error".
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Kind     string `json:"error,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

// WriteProblem writes an RFC 7807 response enriched with request context
// (trace_id from X-Request-ID, instance from the request path).
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, kind, detail string) {
	problem := &ProblemDetail{
		Type:     fmt.Sprintf("https://veriledger.io/errors/%d", status),
		Title:    http.StatusText(status),
		Status:   status,
		Kind:     kind,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get("X-Request-ID"),
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// internalDetail is what 5xx clients see. The cause is logged, never sent.
const internalDetail = "an unexpected error occurred; please try again later"

// WriteFault maps a domain error onto its HTTP form. Fault details authored
// by the ledger pass through on 4xx; anything 5xx is sanitized and logged.
func WriteFault(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if errors.Is(err, evidence.ErrNotFound) {
		WriteProblem(w, r, http.StatusNotFound, "", "evidence blob not found")
		return
	}

	var fault *contracts.Fault
	if !errors.As(err, &fault) {
		logger.ErrorContext(r.Context(), "unclassified error reached the api edge",
			"error", err, "path", r.URL.Path)
		WriteProblem(w, r, http.StatusInternalServerError, "", internalDetail)
		return
	}

	status := fault.Kind.HTTPStatus()
	detail := fault.Detail
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			"error", err, "kind", string(fault.Kind), "path", r.URL.Path)
		detail = internalDetail
		if fault.Kind.Retryable() {
			detail = "the ledger is temporarily unavailable; retry with the same idempotency key"
		}
	}
	WriteProblem(w, r, status, string(fault.Kind), detail)
}

// WriteTooManyRequests writes a 429 with a Retry-After hint.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteProblem(w, r, http.StatusTooManyRequests, "", "rate limit exceeded; retry after the indicated interval")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
